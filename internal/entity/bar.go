package entity

import (
	"time"

	"github.com/guregu/null/v5"
	"github.com/shopspring/decimal"
)

// Bar is one persisted snapshot of an aggregated bar: the bar-so-far as of
// SnapshotDay. A forming bar accumulates one snapshot row per contributing
// day; rows for closed bars are never mutated outside a backfill rebuild.
type Bar struct {
	EntityID    int64           `db:"entity_id"`
	TimeframeID string          `db:"timeframe_id"`
	BarSeq      int64           `db:"bar_seq"`
	SnapshotDay time.Time       `db:"snapshot_day"`
	Open        decimal.Decimal `db:"open"`
	High        decimal.Decimal `db:"high"`
	Low         decimal.Decimal `db:"low"`
	Close       decimal.Decimal `db:"close"`
	Volume      decimal.Decimal `db:"volume"`
	MarketCap   decimal.Decimal `db:"market_cap"`
	TimeOpen    time.Time       `db:"time_open"`
	TimeClose   time.Time       `db:"time_close"`
	TimeHigh    null.Time       `db:"time_high"`
	TimeLow     null.Time       `db:"time_low"`

	IsPartialStart bool `db:"is_partial_start"`
	IsPartialEnd   bool `db:"is_partial_end"`
	IsMissingDays  bool `db:"is_missing_days"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
