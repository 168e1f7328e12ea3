package entity

import (
	"time"

	"github.com/guregu/null/v5"
)

// AuditRecord is one append-only repair or reject entry in the shared
// refresh_audit table. Every builder and the EMA refresher write the same
// schema so repairs are traceable regardless of variant.
type AuditRecord struct {
	RunID       string      `db:"run_id"`
	Source      string      `db:"source"` // builder / refresher name
	Kind        string      `db:"kind"`   // constant.AuditKindRepair | AuditKindReject
	EntityID    int64       `db:"entity_id"`
	TimeframeID null.String `db:"timeframe_id"`
	Period      null.Int    `db:"period"`
	Day         time.Time   `db:"day"`
	Reason      string      `db:"reason"`
	Detail      null.String `db:"detail"` // jsonb payload
	CreatedAt   time.Time   `db:"created_at"`
}

func (AuditRecord) TableName() string {
	return "refresh_audit"
}
