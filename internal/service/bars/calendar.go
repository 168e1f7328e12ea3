package bars

import (
	"time"

	"github.com/quantdesk/bar-service/internal/entity"
)

// Fixed epoch reference anchors. Anchored N-period groupings are computed
// against these so bar boundaries are stable and repeatable across entities.
var (
	epochDay       = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	epochSundayUS  = time.Date(1970, 1, 4, 0, 0, 0, 0, time.UTC) // a Sunday
	epochMondayISO = time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC) // a Monday
)

// DayUTC truncates t to UTC midnight.
func DayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func addDays(day time.Time, n int) time.Time {
	return day.AddDate(0, 0, n)
}

// daysBetween returns b-a in whole days. Both arguments must be UTC
// midnights; AddDate is avoided here because the result feeds index math.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}

// floorDiv is integer division rounding toward negative infinity, so
// period indices behave for days before the epoch anchors.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func weekAnchor(conv entity.WeekConvention) time.Time {
	if conv == entity.WeekConventionISO {
		return epochMondayISO
	}
	return epochSundayUS
}

// periodIndex maps a day to the absolute index of its containing calendar
// period since the epoch anchor, under the given week convention.
func periodIndex(day time.Time, unit entity.PeriodUnit, conv entity.WeekConvention) int {
	switch unit {
	case entity.PeriodUnitWeek:
		return floorDiv(daysBetween(weekAnchor(conv), day), 7)
	case entity.PeriodUnitMonth:
		return (day.Year()-1970)*12 + int(day.Month()) - 1
	case entity.PeriodUnitYear:
		return day.Year() - 1970
	default:
		return daysBetween(epochDay, day)
	}
}

// periodStart is the first day of the period with the given absolute index.
func periodStart(index int, unit entity.PeriodUnit, conv entity.WeekConvention) time.Time {
	switch unit {
	case entity.PeriodUnitWeek:
		return addDays(weekAnchor(conv), index*7)
	case entity.PeriodUnitMonth:
		year := 1970 + floorDiv(index, 12)
		month := index - (year-1970)*12
		return time.Date(year, time.Month(month+1), 1, 0, 0, 0, 0, time.UTC)
	case entity.PeriodUnitYear:
		return time.Date(1970+index, 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return addDays(epochDay, index)
	}
}

// periodEnd is the last day of the period with the given absolute index.
func periodEnd(index int, unit entity.PeriodUnit, conv entity.WeekConvention) time.Time {
	return addDays(periodStart(index+1, unit, conv), -1)
}

// weekStart returns the first day of the week containing day under the
// given convention.
func weekStart(day time.Time, conv entity.WeekConvention) time.Time {
	return periodStart(periodIndex(day, entity.PeriodUnitWeek, conv), entity.PeriodUnitWeek, conv)
}

// dayEndTime is the close-time boundary for a day: one second before the
// next midnight, matching the exchange kline convention.
func dayEndTime(day time.Time) time.Time {
	return addDays(day, 1).Add(-time.Second)
}
