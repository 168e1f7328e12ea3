package entity

import (
	"time"

	"github.com/guregu/null/v5"
)

// EMAValue is one persisted EMA row per (entity, timeframe, period,
// snapshot day). Value/Diff1/Diff2 track every snapshot including forming
// bars; the Closed variants advance only at snapshots where the source bar
// closed, and carry the last closed values in between (null before the
// first close).
type EMAValue struct {
	EntityID    int64     `db:"entity_id"`
	TimeframeID string    `db:"timeframe_id"`
	Period      int       `db:"period"`
	SnapshotDay time.Time `db:"snapshot_day"`

	Value float64 `db:"value"`
	Diff1 float64 `db:"diff1"`
	Diff2 float64 `db:"diff2"`

	ClosedValue null.Float `db:"closed_value"`
	ClosedDiff1 null.Float `db:"closed_diff1"`
	ClosedDiff2 null.Float `db:"closed_diff2"`

	IsPartialEnd bool `db:"is_partial_end"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
