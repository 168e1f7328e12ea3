package entity

type Alignment string

const (
	AlignmentFixedLength Alignment = "fixed_length"
	AlignmentCalendar    Alignment = "calendar"
)

type WeekConvention string

const (
	WeekConventionUS  WeekConvention = "US"  // weeks start Sunday
	WeekConventionISO WeekConvention = "ISO" // weeks start Monday
)

type PeriodUnit string

const (
	PeriodUnitDay   PeriodUnit = "day"
	PeriodUnitWeek  PeriodUnit = "week"
	PeriodUnitMonth PeriodUnit = "month"
	PeriodUnitYear  PeriodUnit = "year"
)

// Timeframe is one catalog row describing a supported timeframe. The
// catalog is read-only reference data; its lifecycle is owned externally.
type Timeframe struct {
	ID                string         `db:"id"`
	Alignment         Alignment      `db:"alignment"`
	WeekConvention    WeekConvention `db:"week_convention"` // empty unless calendar-aligned
	PeriodUnit        PeriodUnit     `db:"period_unit"`
	PeriodCount       int            `db:"period_count"`
	NominalDays       int            `db:"nominal_days"`
	AllowPartialStart bool           `db:"allow_partial_start"`
	AllowPartialEnd   bool           `db:"allow_partial_end"`
	IsCanonical       bool           `db:"is_canonical"`
}

func (Timeframe) TableName() string {
	return "timeframes"
}

// TimeframeFilter narrows a catalog query. Zero values mean "any".
type TimeframeFilter struct {
	IDs            []string
	Alignment      Alignment
	WeekConvention WeekConvention
	CanonicalOnly  bool
}
