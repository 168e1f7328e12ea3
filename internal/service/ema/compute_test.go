package ema

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/entity"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func bar(d time.Time, close float64, closed bool) entity.Bar {
	return entity.Bar{
		EntityID:     1,
		TimeframeID:  "1d",
		SnapshotDay:  d,
		Close:        decimal.NewFromFloat(close),
		IsPartialEnd: !closed,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAlpha(t *testing.T) {
	if got := Alpha(9); !almostEqual(got, 0.2) {
		t.Errorf("Alpha(9) = %v, want 0.2", got)
	}
	if got := Alpha(1); !almostEqual(got, 1.0) {
		t.Errorf("Alpha(1) = %v, want 1", got)
	}
}

func TestStep_SeedsWithFirstValue(t *testing.T) {
	carry, row := step(seriesCarry{}, 42.0, true, Alpha(9))

	if !carry.Seeded {
		t.Fatal("carry not seeded")
	}
	if !almostEqual(row.Value, 42.0) {
		t.Errorf("seed value = %v, want 42", row.Value)
	}
	if !almostEqual(row.Diff1, 0) || !almostEqual(row.Diff2, 0) {
		t.Errorf("seed diffs = (%v,%v), want zeros", row.Diff1, row.Diff2)
	}
	if !row.ClosedValue.Valid || !almostEqual(row.ClosedValue.Float64, 42.0) {
		t.Errorf("closed seed = %v, want 42", row.ClosedValue)
	}
}

func TestStep_Recurrence(t *testing.T) {
	alpha := Alpha(9)
	carry, _ := step(seriesCarry{}, 10.0, true, alpha)
	carry, row := step(carry, 20.0, true, alpha)

	want := alpha*20.0 + (1-alpha)*10.0
	if !almostEqual(row.Value, want) {
		t.Errorf("value = %v, want %v", row.Value, want)
	}
	if !almostEqual(row.Diff1, want-10.0) {
		t.Errorf("diff1 = %v, want %v", row.Diff1, want-10.0)
	}

	_, row = step(carry, 20.0, true, alpha)
	next := alpha*20.0 + (1-alpha)*want
	if !almostEqual(row.Value, next) {
		t.Errorf("third value = %v, want %v", row.Value, next)
	}
	if !almostEqual(row.Diff2, (next-want)-(want-10.0)) {
		t.Errorf("diff2 = %v, want %v", row.Diff2, (next-want)-(want-10.0))
	}
}

func TestStep_ClosedVariantOnlyAdvancesAtCloses(t *testing.T) {
	alpha := Alpha(9)

	carry, row := step(seriesCarry{}, 10.0, false, alpha)
	if row.ClosedValue.Valid {
		t.Error("closed value set before any bar closed")
	}
	if !row.IsPartialEnd {
		t.Error("forming snapshot not flagged")
	}

	carry, row = step(carry, 12.0, true, alpha)
	if !row.ClosedValue.Valid || !almostEqual(row.ClosedValue.Float64, 12.0) {
		t.Errorf("closed variant seeded with %v, want 12", row.ClosedValue)
	}

	// Next snapshot is forming: the closed trio is carried unchanged.
	_, row = step(carry, 99.0, false, alpha)
	if !almostEqual(row.ClosedValue.Float64, 12.0) {
		t.Errorf("closed value moved on a forming snapshot: %v", row.ClosedValue.Float64)
	}
	if !almostEqual(row.Value, alpha*99.0+(1-alpha)*carry.Value) {
		t.Errorf("live value did not advance on forming snapshot")
	}
}

// One full pass and an arbitrary split with resume-from-last-row must be
// indistinguishable.
func TestComputeSeries_SplitEquivalence(t *testing.T) {
	closes := []float64{10, 11, 9, 14, 13, 13.5, 12, 16, 15, 14}
	var barRows []entity.Bar
	for i, c := range closes {
		closed := i%3 != 2 // mix of closed and forming snapshots
		barRows = append(barRows, bar(day(2024, 1, 1+i), c, closed))
	}

	now := time.Now().UTC()
	period := 5

	_, full := computeSeries(seriesCarry{}, barRows, 1, "1d", period, now)

	for split := 1; split < len(barRows); split++ {
		_, head := computeSeries(seriesCarry{}, barRows[:split], 1, "1d", period, now)
		lastRow := head[len(head)-1]
		_, tail := computeSeries(carryFromRow(&lastRow), barRows[split:], 1, "1d", period, now)

		combined := append(append([]entity.EMAValue{}, head...), tail...)
		if len(combined) != len(full) {
			t.Fatalf("split %d: rows = %d, want %d", split, len(combined), len(full))
		}
		for i := range combined {
			got, want := combined[i], full[i]
			if !almostEqual(got.Value, want.Value) ||
				!almostEqual(got.Diff1, want.Diff1) ||
				!almostEqual(got.Diff2, want.Diff2) {
				t.Errorf("split %d row %d live = (%v,%v,%v), want (%v,%v,%v)",
					split, i, got.Value, got.Diff1, got.Diff2, want.Value, want.Diff1, want.Diff2)
			}
			if got.ClosedValue.Valid != want.ClosedValue.Valid {
				t.Errorf("split %d row %d closed validity = %v, want %v",
					split, i, got.ClosedValue.Valid, want.ClosedValue.Valid)
				continue
			}
			if got.ClosedValue.Valid &&
				(!almostEqual(got.ClosedValue.Float64, want.ClosedValue.Float64) ||
					!almostEqual(got.ClosedDiff1.Float64, want.ClosedDiff1.Float64) ||
					!almostEqual(got.ClosedDiff2.Float64, want.ClosedDiff2.Float64)) {
				t.Errorf("split %d row %d closed trio diverged", split, i)
			}
		}
	}
}

func TestComputeSeries_RowKeys(t *testing.T) {
	barRows := []entity.Bar{
		bar(day(2024, 3, 1), 10, true),
		bar(day(2024, 3, 2), 11, false),
	}
	now := time.Now().UTC()

	_, rows := computeSeries(seriesCarry{}, barRows, 7, "1w-us", 21, now)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	for i, row := range rows {
		if row.EntityID != 7 || row.TimeframeID != "1w-us" || row.Period != 21 {
			t.Errorf("row %d key = (%d,%s,%d)", i, row.EntityID, row.TimeframeID, row.Period)
		}
		if !row.SnapshotDay.Equal(barRows[i].SnapshotDay) {
			t.Errorf("row %d day = %s, want %s", i, row.SnapshotDay, barRows[i].SnapshotDay)
		}
	}
	if rows[0].IsPartialEnd || !rows[1].IsPartialEnd {
		t.Error("is_partial_end does not follow the source bars")
	}
}

func TestValidate(t *testing.T) {
	if got := validate(100, 1000); got != "" {
		t.Errorf("plausible value rejected: %s", got)
	}
	if got := validate(math.NaN(), 1000); got != constant.ReasonEMANotFinite {
		t.Errorf("NaN reason = %q", got)
	}
	if got := validate(math.Inf(1), 1000); got != constant.ReasonEMANotFinite {
		t.Errorf("Inf reason = %q", got)
	}
	if got := validate(20000, 1000); got != constant.ReasonEMAOutOfBounds {
		t.Errorf("out-of-bounds reason = %q", got)
	}
	if got := validate(-20000, 1000); got != constant.ReasonEMAOutOfBounds {
		t.Errorf("negative out-of-bounds reason = %q", got)
	}
	// Zero bound disables the range check but not the finiteness check.
	if got := validate(1e18, 0); got != "" {
		t.Errorf("unbounded value rejected: %s", got)
	}
}

func TestPriceBound(t *testing.T) {
	barRows := []entity.Bar{
		bar(day(2024, 1, 1), 50, true),
		bar(day(2024, 1, 2), 120, true),
	}
	if got := priceBound(seriesCarry{}, barRows); !almostEqual(got, 1200) {
		t.Errorf("bound = %v, want 1200", got)
	}

	carry := seriesCarry{Seeded: true, Value: 300}
	if got := priceBound(carry, barRows); !almostEqual(got, 3000) {
		t.Errorf("bound with carry = %v, want 3000", got)
	}
}
