package bars

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/entity"
)

func price(entityID int64, d time.Time, open, high, low, close, volume float64) entity.DailyPrice {
	return entity.DailyPrice{
		EntityID:  entityID,
		Day:       d,
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(volume),
		MarketCap: decimal.NewFromFloat(close * 1000),
	}
}

func TestAssertOneRowPerDay(t *testing.T) {
	rows := []entity.DailyPrice{
		price(1, day(2024, 1, 1), 10, 11, 9, 10, 100),
		price(1, day(2024, 1, 2), 10, 11, 9, 10, 100),
	}
	if err := AssertOneRowPerDay(rows); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows = append(rows, price(1, day(2024, 1, 2), 10, 11, 9, 10, 100))
	err := AssertOneRowPerDay(rows)
	if err == nil {
		t.Fatal("expected duplicate-day error")
	}
	die, ok := err.(*DataIntegrityError)
	if !ok {
		t.Fatalf("expected *DataIntegrityError, got %T", err)
	}
	if !die.Day.Equal(day(2024, 1, 2)) {
		t.Errorf("error day = %s, want 2024-01-02", die.Day.Format("2006-01-02"))
	}
}

func TestValidateRow(t *testing.T) {
	if got := validateRow(price(1, day(2024, 1, 1), 10, 11, 9, 10, 0)); got != "" {
		t.Errorf("valid row rejected: %s", got)
	}
	if got := validateRow(price(1, day(2024, 1, 1), 10, 11, 0, 10, 0)); got != constant.ReasonNonPositivePrice {
		t.Errorf("reason = %q, want %q", got, constant.ReasonNonPositivePrice)
	}
	if got := validateRow(price(1, day(2024, 1, 1), -1, 11, 9, 10, 0)); got != constant.ReasonNonPositivePrice {
		t.Errorf("reason = %q, want %q", got, constant.ReasonNonPositivePrice)
	}
}

func TestRepairRowOHLC(t *testing.T) {
	row := price(1, day(2024, 1, 1), 10, 9, 11, 12, 0) // high below open, low above open
	clamped := repairRowOHLC(&row)
	if len(clamped) != 2 {
		t.Fatalf("clamped fields = %v, want high and low", clamped)
	}
	if !row.High.Equal(decimal.NewFromInt(12)) {
		t.Errorf("high = %s, want 12 (max of open/close)", row.High)
	}
	if !row.Low.Equal(decimal.NewFromInt(10)) {
		t.Errorf("low = %s, want 10 (min of open/close)", row.Low)
	}
	if row.High.LessThan(row.Low) {
		t.Errorf("high %s below low %s after repair", row.High, row.Low)
	}

	sane := price(1, day(2024, 1, 1), 10, 12, 9, 11, 0)
	if got := repairRowOHLC(&sane); len(got) != 0 {
		t.Errorf("sane row clamped: %v", got)
	}
}

func TestBarAgg_Aggregation(t *testing.T) {
	start, end := day(2024, 1, 1), day(2024, 1, 3)
	agg := newBarAgg(1, start, end, start, false)

	agg.apply(price(1, day(2024, 1, 1), 10, 12, 9, 11, 100))
	agg.apply(price(1, day(2024, 1, 2), 11, 15, 10, 14, 200))
	agg.apply(price(1, day(2024, 1, 3), 14, 14, 8, 13, 50))

	now := time.Now().UTC()
	bar := agg.snapshot(7, "3d", now)

	if !bar.Open.Equal(decimal.NewFromInt(10)) {
		t.Errorf("open = %s, want 10", bar.Open)
	}
	if !bar.High.Equal(decimal.NewFromInt(15)) {
		t.Errorf("high = %s, want 15", bar.High)
	}
	if !bar.Low.Equal(decimal.NewFromInt(8)) {
		t.Errorf("low = %s, want 8", bar.Low)
	}
	if !bar.Close.Equal(decimal.NewFromInt(13)) {
		t.Errorf("close = %s, want 13", bar.Close)
	}
	if !bar.Volume.Equal(decimal.NewFromInt(350)) {
		t.Errorf("volume = %s, want 350", bar.Volume)
	}
	if bar.IsPartialEnd {
		t.Error("bar reached its window end but is flagged forming")
	}
	if bar.IsMissingDays {
		t.Error("contiguous bar flagged missing days")
	}
	if !bar.TimeHigh.Valid || !bar.TimeHigh.Time.Equal(day(2024, 1, 2)) {
		t.Errorf("time_high = %v, want 2024-01-02 fallback", bar.TimeHigh)
	}
	if !bar.TimeLow.Valid || !bar.TimeLow.Time.Equal(day(2024, 1, 3)) {
		t.Errorf("time_low = %v, want 2024-01-03 fallback", bar.TimeLow)
	}
}

func TestBarAgg_ExtremaTiesKeepEarliest(t *testing.T) {
	start, end := day(2024, 1, 1), day(2024, 1, 2)
	agg := newBarAgg(1, start, end, start, false)

	agg.apply(price(1, day(2024, 1, 1), 10, 15, 9, 11, 0))
	agg.apply(price(1, day(2024, 1, 2), 11, 15, 9, 12, 0))

	bar := agg.snapshot(1, "2d", time.Now().UTC())
	if !bar.TimeHigh.Time.Equal(day(2024, 1, 1)) {
		t.Errorf("tied high kept %s, want first occurrence 2024-01-01", bar.TimeHigh.Time.Format("2006-01-02"))
	}
	if !bar.TimeLow.Time.Equal(day(2024, 1, 1)) {
		t.Errorf("tied low kept %s, want first occurrence 2024-01-01", bar.TimeLow.Time.Format("2006-01-02"))
	}
}

func TestBarAgg_MissingDayDetected(t *testing.T) {
	start, end := day(2024, 1, 1), day(2024, 1, 3)
	agg := newBarAgg(1, start, end, start, false)

	agg.apply(price(1, day(2024, 1, 1), 10, 12, 9, 11, 0))
	agg.apply(price(1, day(2024, 1, 3), 11, 13, 10, 12, 0))

	bar := agg.snapshot(1, "3d", time.Now().UTC())
	if !bar.IsMissingDays {
		t.Error("gap on 2024-01-02 not flagged")
	}
}

// Continuing a persisted forming bar must reproduce exactly what a rebuild
// over the same days would have produced.
func TestAggFromBar_ContinuationMatchesFullPass(t *testing.T) {
	start, end := day(2024, 1, 1), day(2024, 1, 5)
	rows := []entity.DailyPrice{
		price(1, day(2024, 1, 1), 10, 12, 9, 11, 100),
		price(1, day(2024, 1, 2), 11, 16, 10, 15, 100),
		price(1, day(2024, 1, 3), 15, 15, 7, 9, 100),
		price(1, day(2024, 1, 4), 9, 10, 8, 10, 100),
	}

	full := newBarAgg(3, start, end, start, false)
	for _, row := range rows {
		full.apply(row)
	}

	now := time.Now().UTC()

	partial := newBarAgg(3, start, end, start, false)
	for _, row := range rows[:2] {
		partial.apply(row)
	}
	persisted := partial.snapshot(1, "5d", now)

	resumed := aggFromBar(&persisted, start, end, start, false)
	for _, row := range rows[2:] {
		resumed.apply(row)
	}

	want := full.snapshot(1, "5d", now)
	got := resumed.snapshot(1, "5d", now)

	if !got.Open.Equal(want.Open) || !got.High.Equal(want.High) ||
		!got.Low.Equal(want.Low) || !got.Close.Equal(want.Close) ||
		!got.Volume.Equal(want.Volume) {
		t.Errorf("resumed snapshot diverged: got O=%s H=%s L=%s C=%s V=%s, want O=%s H=%s L=%s C=%s V=%s",
			got.Open, got.High, got.Low, got.Close, got.Volume,
			want.Open, want.High, want.Low, want.Close, want.Volume)
	}
	if got.BarSeq != want.BarSeq {
		t.Errorf("bar_seq = %d, want %d", got.BarSeq, want.BarSeq)
	}
	if got.IsPartialEnd != want.IsPartialEnd || got.IsMissingDays != want.IsMissingDays {
		t.Errorf("flags diverged: got (%v,%v), want (%v,%v)",
			got.IsPartialEnd, got.IsMissingDays, want.IsPartialEnd, want.IsMissingDays)
	}
	if !got.TimeHigh.Time.Equal(want.TimeHigh.Time) || !got.TimeLow.Time.Equal(want.TimeLow.Time) {
		t.Errorf("extrema times diverged: got (%v,%v), want (%v,%v)",
			got.TimeHigh.Time, got.TimeLow.Time, want.TimeHigh.Time, want.TimeLow.Time)
	}
}

func TestBarAgg_PartialStart(t *testing.T) {
	windowStart, windowEnd := day(2023, 12, 31), day(2024, 1, 6)
	firstDay := day(2024, 1, 3)

	allowed := newBarAgg(1, windowStart, windowEnd, firstDay, true)
	allowed.apply(price(1, day(2024, 1, 3), 10, 11, 9, 10, 0))
	bar := allowed.snapshot(1, "1w", time.Now().UTC())
	if !bar.IsPartialStart {
		t.Error("partial start not flagged when allowed")
	}
	if !bar.TimeOpen.Equal(firstDay) {
		t.Errorf("time_open = %s, want clamped to first day", bar.TimeOpen.Format("2006-01-02"))
	}
	if bar.IsMissingDays {
		t.Error("partial start counted as missing days")
	}

	denied := newBarAgg(1, windowStart, windowEnd, firstDay, false)
	denied.apply(price(1, day(2024, 1, 3), 10, 11, 9, 10, 0))
	if denied.snapshot(1, "1w", time.Now().UTC()).IsPartialStart {
		t.Error("partial start flagged when not allowed")
	}
}
