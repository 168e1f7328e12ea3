package ema

import (
	"math"
	"time"

	"github.com/guregu/null/v5"

	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/entity"
)

// Alpha is the smoothing factor for one EMA period.
func Alpha(period int) float64 {
	return 2.0 / float64(period+1)
}

// seriesCarry is everything the recurrence needs to continue a series. An
// incremental run reconstructs it from the newest persisted EMA row, so a
// split computation reproduces the one-pass values exactly.
type seriesCarry struct {
	Seeded bool
	Value  float64
	Diff1  float64

	// Closed-variant trio, advanced only at snapshots where the source bar
	// closed. Rows between closes carry it unchanged.
	ClosedSeeded bool
	ClosedValue  float64
	ClosedDiff1  float64
	ClosedDiff2  float64
}

// carryFromRow rebuilds the resume carry from the newest persisted row.
func carryFromRow(row *entity.EMAValue) seriesCarry {
	if row == nil {
		return seriesCarry{}
	}

	carry := seriesCarry{
		Seeded: true,
		Value:  row.Value,
		Diff1:  row.Diff1,
	}
	if row.ClosedValue.Valid {
		carry.ClosedSeeded = true
		carry.ClosedValue = row.ClosedValue.Float64
		carry.ClosedDiff1 = row.ClosedDiff1.Float64
		carry.ClosedDiff2 = row.ClosedDiff2.Float64
	}
	return carry
}

// step advances the series by one bar snapshot. The live value updates on
// every snapshot; the closed variant only when the source bar is closed,
// giving consumers a continuously-updated estimate alongside a stable
// closed-bar series. Seeding uses the first available value; differences
// are zero on the seed step.
func step(carry seriesCarry, closePrice float64, barClosed bool, alpha float64) (seriesCarry, entity.EMAValue) {
	var row entity.EMAValue

	if !carry.Seeded {
		carry.Seeded = true
		carry.Value = closePrice
		carry.Diff1 = 0
		row.Diff2 = 0
	} else {
		next := alpha*closePrice + (1-alpha)*carry.Value
		diff1 := next - carry.Value
		row.Diff2 = diff1 - carry.Diff1
		carry.Value = next
		carry.Diff1 = diff1
	}
	row.Value = carry.Value
	row.Diff1 = carry.Diff1

	if barClosed {
		if !carry.ClosedSeeded {
			carry.ClosedSeeded = true
			carry.ClosedValue = closePrice
			carry.ClosedDiff1 = 0
			carry.ClosedDiff2 = 0
		} else {
			next := alpha*closePrice + (1-alpha)*carry.ClosedValue
			diff1 := next - carry.ClosedValue
			carry.ClosedDiff2 = diff1 - carry.ClosedDiff1
			carry.ClosedValue = next
			carry.ClosedDiff1 = diff1
		}
	}

	if carry.ClosedSeeded {
		row.ClosedValue = null.FloatFrom(carry.ClosedValue)
		row.ClosedDiff1 = null.FloatFrom(carry.ClosedDiff1)
		row.ClosedDiff2 = null.FloatFrom(carry.ClosedDiff2)
	}

	row.IsPartialEnd = !barClosed
	return carry, row
}

// computeSeries folds bar snapshots (ascending by snapshot day) into EMA
// rows, continuing from carry.
func computeSeries(carry seriesCarry, bars []entity.Bar, entityID int64, timeframeID string, period int, now time.Time) (seriesCarry, []entity.EMAValue) {
	alpha := Alpha(period)
	out := make([]entity.EMAValue, 0, len(bars))

	for _, bar := range bars {
		closePrice, _ := bar.Close.Float64()

		var row entity.EMAValue
		carry, row = step(carry, closePrice, !bar.IsPartialEnd, alpha)

		row.EntityID = entityID
		row.TimeframeID = timeframeID
		row.Period = period
		row.SnapshotDay = DayOf(bar.SnapshotDay)
		row.CreatedAt = now
		row.UpdatedAt = now

		out = append(out, row)
	}

	return carry, out
}

// DayOf truncates to the UTC day.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// validate checks one computed value against the finiteness and bounds
// rule: the EMA of a price series can never leave a generous multiple of
// the observed price range.
func validate(value float64, priceBound float64) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return constant.ReasonEMANotFinite
	}
	if priceBound > 0 && math.Abs(value) > priceBound {
		return constant.ReasonEMAOutOfBounds
	}
	return ""
}
