package entity

import (
	"time"

	"github.com/guregu/null/v5"
)

// BarState is the watermark row per (entity, timeframe). It is written only
// after a successful run, so a crashed run simply repeats work on retry.
type BarState struct {
	EntityID      int64     `db:"entity_id"`
	TimeframeID   string    `db:"timeframe_id"`
	DailyMinSeen  time.Time `db:"daily_min_seen"`
	DailyMaxSeen  time.Time `db:"daily_max_seen"`
	LastBarSeq    null.Int  `db:"last_bar_seq"`
	LastTimeClose null.Time `db:"last_time_close"`
	LastRunAt     time.Time `db:"last_run_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}
