package bars

import (
	"testing"
	"time"

	"github.com/quantdesk/bar-service/internal/entity"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFloorDiv(t *testing.T) {
	cases := []struct {
		a, b, want int
	}{
		{7, 2, 3},
		{6, 2, 3},
		{0, 7, 0},
		{-1, 7, -1},
		{-7, 7, -1},
		{-8, 7, -2},
	}
	for _, c := range cases {
		if got := floorDiv(c.a, c.b); got != c.want {
			t.Errorf("floorDiv(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestDaysBetween(t *testing.T) {
	if got := daysBetween(day(2024, 1, 1), day(2024, 1, 10)); got != 9 {
		t.Errorf("daysBetween = %d, want 9", got)
	}
	if got := daysBetween(day(2024, 1, 10), day(2024, 1, 1)); got != -9 {
		t.Errorf("daysBetween reversed = %d, want -9", got)
	}
}

func TestWeekStart_Conventions(t *testing.T) {
	// 2024-01-03 is a Wednesday.
	wed := day(2024, 1, 3)

	if got := weekStart(wed, entity.WeekConventionUS); !got.Equal(day(2023, 12, 31)) {
		t.Errorf("US week start = %s, want 2023-12-31", got.Format("2006-01-02"))
	}
	if got := weekStart(wed, entity.WeekConventionISO); !got.Equal(day(2024, 1, 1)) {
		t.Errorf("ISO week start = %s, want 2024-01-01", got.Format("2006-01-02"))
	}

	// A Sunday is its own US week start but belongs to the previous ISO week.
	sun := day(2024, 1, 7)
	if got := weekStart(sun, entity.WeekConventionUS); !got.Equal(sun) {
		t.Errorf("US week start of Sunday = %s, want itself", got.Format("2006-01-02"))
	}
	if got := weekStart(sun, entity.WeekConventionISO); !got.Equal(day(2024, 1, 1)) {
		t.Errorf("ISO week start of Sunday = %s, want 2024-01-01", got.Format("2006-01-02"))
	}
}

func TestWeekStart_BeforeEpoch(t *testing.T) {
	// 1969-12-31 is a Wednesday; its US week starts Sunday 1969-12-28.
	if got := weekStart(day(1969, 12, 31), entity.WeekConventionUS); !got.Equal(day(1969, 12, 28)) {
		t.Errorf("pre-epoch US week start = %s, want 1969-12-28", got.Format("2006-01-02"))
	}
}

func TestPeriodStartEnd_Month(t *testing.T) {
	idx := periodIndex(day(2024, 2, 15), entity.PeriodUnitMonth, entity.WeekConventionUS)
	if got := periodStart(idx, entity.PeriodUnitMonth, entity.WeekConventionUS); !got.Equal(day(2024, 2, 1)) {
		t.Errorf("month start = %s, want 2024-02-01", got.Format("2006-01-02"))
	}
	if got := periodEnd(idx, entity.PeriodUnitMonth, entity.WeekConventionUS); !got.Equal(day(2024, 2, 29)) {
		t.Errorf("month end = %s, want 2024-02-29", got.Format("2006-01-02"))
	}
}

func TestPeriodStartEnd_Year(t *testing.T) {
	idx := periodIndex(day(2023, 6, 1), entity.PeriodUnitYear, entity.WeekConventionUS)
	if got := periodStart(idx, entity.PeriodUnitYear, entity.WeekConventionUS); !got.Equal(day(2023, 1, 1)) {
		t.Errorf("year start = %s, want 2023-01-01", got.Format("2006-01-02"))
	}
	if got := periodEnd(idx, entity.PeriodUnitYear, entity.WeekConventionUS); !got.Equal(day(2023, 12, 31)) {
		t.Errorf("year end = %s, want 2023-12-31", got.Format("2006-01-02"))
	}
}

func TestDayEndTime(t *testing.T) {
	got := dayEndTime(day(2024, 1, 3))
	want := time.Date(2024, 1, 3, 23, 59, 59, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("dayEndTime = %s, want %s", got, want)
	}
}
