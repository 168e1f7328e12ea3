package bars

import (
	"time"

	"github.com/quantdesk/bar-service/internal/constant"
	"github.com/quantdesk/bar-service/internal/entity"
)

// BarPolicy owns the timeframe semantics of one alignment family. All the
// surrounding mechanics (scenario selection, aggregation, validation,
// state) are shared by the builder template.
type BarPolicy interface {
	Family() constant.BarFamily
	// Name identifies the policy in logs and audit records.
	Name() string
	// Window returns the inclusive day window of the bar containing day.
	// firstDay is the entity's earliest raw day: fixed-length windows are
	// counted from it and full-period grouping starts at the first complete
	// boundary at or after it.
	Window(day, firstDay time.Time, tf entity.Timeframe) (start, end time.Time)
	// EmitsForming reports whether per-day snapshots of a still-forming bar
	// are written. Closed-only policies emit one snapshot per bar, at close.
	EmitsForming() bool
	// AllowsPartialStart reports whether a leading bar covering less than
	// its full window is included (flagged) rather than excluded.
	AllowsPartialStart() bool
	// CatalogFilter narrows the timeframe catalog query for this policy.
	CatalogFilter() entity.TimeframeFilter
	// Accepts refines the catalog filter for criteria the query cannot
	// express.
	Accepts(tf entity.Timeframe) bool
}

// PolicyFor returns the policy owning one bar family.
func PolicyFor(family constant.BarFamily) BarPolicy {
	switch family {
	case constant.BarFamilyDaily:
		return dailyPolicy{}
	case constant.BarFamilyFixed:
		return fixedLengthPolicy{}
	case constant.BarFamilyCalendarUS:
		return calendarPolicy{family: family, conv: entity.WeekConventionUS, anchored: false}
	case constant.BarFamilyCalendarISO:
		return calendarPolicy{family: family, conv: entity.WeekConventionISO, anchored: false}
	case constant.BarFamilyAnchoredUS:
		return calendarPolicy{family: family, conv: entity.WeekConventionUS, anchored: true}
	case constant.BarFamilyAnchoredISO:
		return calendarPolicy{family: family, conv: entity.WeekConventionISO, anchored: true}
	default:
		return nil
	}
}

// dailyPolicy builds the canonical 1-day bars: one bar per raw day, always
// complete. It is the only policy that rejects unrepairable rows instead of
// repairing them (the builder consults Family() for that).
type dailyPolicy struct{}

func (dailyPolicy) Family() constant.BarFamily { return constant.BarFamilyDaily }
func (dailyPolicy) Name() string               { return "bars.daily" }

func (dailyPolicy) Window(day, _ time.Time, _ entity.Timeframe) (time.Time, time.Time) {
	day = DayUTC(day)
	return day, day
}

func (dailyPolicy) EmitsForming() bool       { return false }
func (dailyPolicy) AllowsPartialStart() bool { return false }

func (dailyPolicy) CatalogFilter() entity.TimeframeFilter {
	return entity.TimeframeFilter{Alignment: entity.AlignmentFixedLength}
}

func (dailyPolicy) Accepts(tf entity.Timeframe) bool {
	return tf.NominalDays == 1
}

// fixedLengthPolicy groups N consecutive raw days counted from the first
// day of available data. Only the trailing, still-forming bar may be
// partial.
type fixedLengthPolicy struct{}

func (fixedLengthPolicy) Family() constant.BarFamily { return constant.BarFamilyFixed }
func (fixedLengthPolicy) Name() string               { return "bars.fixed" }

func (fixedLengthPolicy) Window(day, firstDay time.Time, tf entity.Timeframe) (time.Time, time.Time) {
	day = DayUTC(day)
	firstDay = DayUTC(firstDay)

	n := tf.NominalDays
	if n < 1 {
		n = 1
	}

	k := floorDiv(daysBetween(firstDay, day), n)
	start := addDays(firstDay, k*n)
	return start, addDays(start, n-1)
}

func (fixedLengthPolicy) EmitsForming() bool       { return true }
func (fixedLengthPolicy) AllowsPartialStart() bool { return false }

func (fixedLengthPolicy) CatalogFilter() entity.TimeframeFilter {
	return entity.TimeframeFilter{Alignment: entity.AlignmentFixedLength}
}

func (fixedLengthPolicy) Accepts(tf entity.Timeframe) bool {
	return tf.NominalDays > 1
}

// calendarPolicy covers the four calendar families. Full-period variants
// emit only complete periods; anchored variants compute windows against the
// fixed epoch anchor and include flagged partial bars at both ends.
type calendarPolicy struct {
	family   constant.BarFamily
	conv     entity.WeekConvention
	anchored bool
}

func (p calendarPolicy) Family() constant.BarFamily { return p.family }

func (p calendarPolicy) Name() string {
	return "bars." + string(p.family)
}

func (p calendarPolicy) Window(day, firstDay time.Time, tf entity.Timeframe) (time.Time, time.Time) {
	day = DayUTC(day)
	firstDay = DayUTC(firstDay)

	count := tf.PeriodCount
	if count < 1 {
		count = 1
	}

	index := periodIndex(day, tf.PeriodUnit, p.conv)

	var groupStart int
	if p.anchored {
		groupStart = floorDiv(index, count) * count
	} else {
		base := periodIndex(firstDay, tf.PeriodUnit, p.conv)
		if periodStart(base, tf.PeriodUnit, p.conv).Before(firstDay) {
			base++ // first complete boundary at or after the first day
		}
		groupStart = base + floorDiv(index-base, count)*count
	}

	start := periodStart(groupStart, tf.PeriodUnit, p.conv)
	end := periodEnd(groupStart+count-1, tf.PeriodUnit, p.conv)
	return start, end
}

func (p calendarPolicy) EmitsForming() bool       { return p.anchored }
func (p calendarPolicy) AllowsPartialStart() bool { return p.anchored }

func (p calendarPolicy) CatalogFilter() entity.TimeframeFilter {
	return entity.TimeframeFilter{
		Alignment:      entity.AlignmentCalendar,
		WeekConvention: p.conv,
	}
}

func (p calendarPolicy) Accepts(tf entity.Timeframe) bool {
	if p.anchored {
		return tf.AllowPartialStart || tf.AllowPartialEnd
	}
	return !tf.AllowPartialStart && !tf.AllowPartialEnd
}
