package bars

import (
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v5"
	"github.com/shopspring/decimal"

	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/entity"
)

// DataIntegrityError reports a violated input precondition. It is fatal for
// the affected entity's run; other entities keep processing.
type DataIntegrityError struct {
	EntityID int64
	Day      time.Time
	Message  string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("entity %d: %s (day %s)", e.EntityID, e.Message, e.Day.Format("2006-01-02"))
}

// auditNote is one repair/reject observation collected while building. The
// builder stamps run id and source before persisting.
type auditNote struct {
	Kind   string
	Reason string
	Day    time.Time
	Detail string
}

// AssertOneRowPerDay enforces the "one row per local calendar day" input
// invariant. Rows must already be sorted by day; duplicates are never
// silently dropped.
func AssertOneRowPerDay(rows []entity.DailyPrice) error {
	for i := 1; i < len(rows); i++ {
		if rows[i].Day.Equal(rows[i-1].Day) {
			return &DataIntegrityError{
				EntityID: rows[i].EntityID,
				Day:      rows[i].Day,
				Message:  "more than one raw row for local day",
			}
		}
	}
	return nil
}

// validateRow checks a raw row for unrepairable problems. It returns the
// reject reason, or "" when the row is usable.
func validateRow(row entity.DailyPrice) string {
	zero := decimal.Zero
	if row.Open.LessThanOrEqual(zero) || row.High.LessThanOrEqual(zero) ||
		row.Low.LessThanOrEqual(zero) || row.Close.LessThanOrEqual(zero) {
		return constant.ReasonNonPositivePrice
	}
	return ""
}

// repairRowOHLC clamps a raw row so the OHLC invariants hold before it is
// aggregated: high >= max(open, close), low <= min(open, close). High >= low
// follows because both clamps include the open. Max/min aggregation of
// repaired rows preserves the invariants at the bar level, so a persisted
// snapshot always equals the aggregate it was emitted from and can safely
// reseed a continuation. Returns the clamped field names, empty when
// nothing was touched. This is a repair, not a rejection; callers audit
// what was clamped.
func repairRowOHLC(row *entity.DailyPrice) []string {
	var clamped []string

	maxOC := row.Open
	if row.Close.GreaterThan(maxOC) {
		maxOC = row.Close
	}
	minOC := row.Open
	if row.Close.LessThan(minOC) {
		minOC = row.Close
	}

	if row.High.LessThan(maxOC) {
		row.High = maxOC
		clamped = append(clamped, "high")
	}
	if row.Low.GreaterThan(minOC) {
		row.Low = minOC
		clamped = append(clamped, "low")
	}

	return clamped
}

// barAgg accumulates one bar's aggregates day by day. The same apply step
// serves full builds and the O(1) carry-forward shortcut, so the two paths
// cannot drift apart.
type barAgg struct {
	seq         int64
	windowStart time.Time
	windowEnd   time.Time
	effStart    time.Time // windowStart clamped to the entity's first raw day

	open      decimal.Decimal
	high      decimal.Decimal
	low       decimal.Decimal
	close     decimal.Decimal
	volume    decimal.Decimal
	marketCap decimal.Decimal
	timeHigh  null.Time
	timeLow   null.Time

	partialStart   bool
	contributed    int
	missingSticky  bool
	lastDay        time.Time
	started        bool
}

func newBarAgg(seq int64, windowStart, windowEnd, firstDay time.Time, allowPartialStart bool) *barAgg {
	effStart := windowStart
	partial := false
	if windowStart.Before(firstDay) {
		effStart = firstDay
		partial = allowPartialStart
	}

	return &barAgg{
		seq:          seq,
		windowStart:  windowStart,
		windowEnd:    windowEnd,
		effStart:     effStart,
		partialStart: partial,
	}
}

// aggFromBar reconstructs an aggregate from a persisted snapshot so an
// incremental run can continue the bar without reloading its history. Valid
// only when the next applied day is the snapshot day + 1.
func aggFromBar(last *entity.Bar, windowStart, windowEnd, firstDay time.Time, allowPartialStart bool) *barAgg {
	agg := newBarAgg(last.BarSeq, windowStart, windowEnd, firstDay, allowPartialStart)
	agg.started = true
	agg.open = last.Open
	agg.high = last.High
	agg.low = last.Low
	agg.close = last.Close
	agg.volume = last.Volume
	agg.marketCap = last.MarketCap
	agg.timeHigh = last.TimeHigh
	agg.timeLow = last.TimeLow
	agg.partialStart = last.IsPartialStart
	agg.lastDay = DayUTC(last.SnapshotDay)
	agg.missingSticky = last.IsMissingDays
	agg.contributed = daysBetween(agg.effStart, agg.lastDay) + 1
	return agg
}

// apply folds one raw day into the bar. Ties on the running high/low keep
// the earliest occurrence timestamp because days are applied in order.
func (a *barAgg) apply(row entity.DailyPrice) {
	day := DayUTC(row.Day)

	rowTimeHigh := row.TimeHigh
	if !rowTimeHigh.Valid {
		rowTimeHigh = null.TimeFrom(day)
	}
	rowTimeLow := row.TimeLow
	if !rowTimeLow.Valid {
		rowTimeLow = null.TimeFrom(day)
	}

	if !a.started {
		a.started = true
		a.open = row.Open
		a.high = row.High
		a.low = row.Low
		a.timeHigh = rowTimeHigh
		a.timeLow = rowTimeLow
		a.volume = decimal.Zero
	} else {
		if row.High.GreaterThan(a.high) {
			a.high = row.High
			a.timeHigh = rowTimeHigh
		}
		if row.Low.LessThan(a.low) {
			a.low = row.Low
			a.timeLow = rowTimeLow
		}
	}

	a.close = row.Close
	a.volume = a.volume.Add(row.Volume)
	a.marketCap = row.MarketCap
	a.lastDay = day
	a.contributed++
}

// snapshot materializes the bar-so-far as of the last applied day.
func (a *barAgg) snapshot(entityID int64, timeframeID string, now time.Time) entity.Bar {
	closed := a.lastDay.Equal(a.windowEnd)

	timeClose := dayEndTime(a.lastDay)
	if closed {
		timeClose = dayEndTime(a.windowEnd)
	}

	expected := daysBetween(a.effStart, a.lastDay) + 1
	missing := a.missingSticky || a.contributed < expected

	bar := entity.Bar{
		EntityID:       entityID,
		TimeframeID:    timeframeID,
		BarSeq:         a.seq,
		SnapshotDay:    a.lastDay,
		Open:           a.open,
		High:           a.high,
		Low:            a.low,
		Close:          a.close,
		Volume:         a.volume,
		MarketCap:      a.marketCap,
		TimeOpen:       a.effStart,
		TimeClose:      timeClose,
		TimeHigh:       a.timeHigh,
		TimeLow:        a.timeLow,
		IsPartialStart: a.partialStart,
		IsPartialEnd:   !closed,
		IsMissingDays:  missing,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	return bar
}

// closedSnapshot materializes the bar as closed at its window end even when
// the final days of the window have no raw rows. Closed-only policies use
// it once the calendar period has fully elapsed.
func (a *barAgg) closedSnapshot(entityID int64, timeframeID string, now time.Time) entity.Bar {
	bar := a.snapshot(entityID, timeframeID, now)
	bar.IsPartialEnd = false
	bar.TimeClose = dayEndTime(a.windowEnd)
	if a.lastDay.Before(a.windowEnd) {
		bar.IsMissingDays = true
	}
	return bar
}

func clampDetail(fields []string) string {
	return fmt.Sprintf(`{"clamped":["%s"]}`, strings.Join(fields, `","`))
}
