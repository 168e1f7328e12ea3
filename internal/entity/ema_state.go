package entity

import (
	"time"

	"github.com/guregu/null/v5"
)

// EMAState is the watermark row per (entity, timeframe, period). Same shape
// as BarState keyed one level deeper; SourceMinDay/SourceMaxDay track the
// consumed bar table so an upstream backfill rebuild is detectable.
type EMAState struct {
	EntityID        int64     `db:"entity_id"`
	TimeframeID     string    `db:"timeframe_id"`
	Period          int       `db:"period"`
	SourceMinDay    time.Time `db:"source_min_day"`
	SourceMaxDay    time.Time `db:"source_max_day"`
	LastSnapshotDay null.Time `db:"last_snapshot_day"`
	LastRunAt       time.Time `db:"last_run_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}
