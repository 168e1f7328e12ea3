package entity

import (
	"time"

	"github.com/guregu/null/v5"
	"github.com/shopspring/decimal"
)

// DailyPrice is one raw ingested row per (entity, UTC day). The table is
// owned by the upstream ingestion process; this service only reads it.
type DailyPrice struct {
	EntityID  int64           `db:"entity_id"`
	Day       time.Time       `db:"day"`
	Open      decimal.Decimal `db:"open"`
	High      decimal.Decimal `db:"high"`
	Low       decimal.Decimal `db:"low"`
	Close     decimal.Decimal `db:"close"`
	Volume    decimal.Decimal `db:"volume"`
	MarketCap decimal.Decimal `db:"market_cap"`
	TimeHigh  null.Time       `db:"time_high"`
	TimeLow   null.Time       `db:"time_low"`
}

func (DailyPrice) TableName() string {
	return "daily_prices"
}
