package constant

// BarFamily identifies one bar alignment family and the table pair that
// backs it. Table names are resolved through the maps below instead of
// string comparisons at call sites.
type BarFamily string

const (
	BarFamilyDaily       BarFamily = "daily"
	BarFamilyFixed       BarFamily = "fixed"
	BarFamilyCalendarUS  BarFamily = "calendar_us"
	BarFamilyCalendarISO BarFamily = "calendar_iso"
	BarFamilyAnchoredUS  BarFamily = "anchored_us"
	BarFamilyAnchoredISO BarFamily = "anchored_iso"
)

var barTableByFamily = map[BarFamily]string{
	BarFamilyDaily:       "bars_daily",
	BarFamilyFixed:       "bars_fixed",
	BarFamilyCalendarUS:  "bars_calendar_us",
	BarFamilyCalendarISO: "bars_calendar_iso",
	BarFamilyAnchoredUS:  "bars_anchored_us",
	BarFamilyAnchoredISO: "bars_anchored_iso",
}

var barStateTableByFamily = map[BarFamily]string{
	BarFamilyDaily:       "bar_state_daily",
	BarFamilyFixed:       "bar_state_fixed",
	BarFamilyCalendarUS:  "bar_state_calendar_us",
	BarFamilyCalendarISO: "bar_state_calendar_iso",
	BarFamilyAnchoredUS:  "bar_state_anchored_us",
	BarFamilyAnchoredISO: "bar_state_anchored_iso",
}

func (f BarFamily) BarTable() string {
	return barTableByFamily[f]
}

func (f BarFamily) StateTable() string {
	return barStateTableByFamily[f]
}

func (f BarFamily) Valid() bool {
	_, ok := barTableByFamily[f]
	return ok
}

// EMAFamily identifies one EMA pipeline and the bar family it reads from.
type EMAFamily string

const (
	EMAFamilyDaily    EMAFamily = "daily"
	EMAFamilyFixed    EMAFamily = "fixed"
	EMAFamilyCalendar EMAFamily = "calendar"
	EMAFamilyAnchored EMAFamily = "anchored"
)

var emaTableByFamily = map[EMAFamily]string{
	EMAFamilyDaily:    "ema_daily",
	EMAFamilyFixed:    "ema_fixed",
	EMAFamilyCalendar: "ema_calendar_us",
	EMAFamilyAnchored: "ema_anchored_us",
}

var emaStateTableByFamily = map[EMAFamily]string{
	EMAFamilyDaily:    "ema_state_daily",
	EMAFamilyFixed:    "ema_state_fixed",
	EMAFamilyCalendar: "ema_state_calendar_us",
	EMAFamilyAnchored: "ema_state_anchored_us",
}

// emaSourceByFamily maps each EMA family to the bar family it consumes.
// The 1-day special case (a fixed-length timeframe of one day reads the
// canonical daily table) is handled by the refresher, not here.
var emaSourceByFamily = map[EMAFamily]BarFamily{
	EMAFamilyDaily:    BarFamilyDaily,
	EMAFamilyFixed:    BarFamilyFixed,
	EMAFamilyCalendar: BarFamilyCalendarUS,
	EMAFamilyAnchored: BarFamilyAnchoredUS,
}

func (f EMAFamily) EMATable() string {
	return emaTableByFamily[f]
}

func (f EMAFamily) StateTable() string {
	return emaStateTableByFamily[f]
}

func (f EMAFamily) SourceBarFamily() BarFamily {
	return emaSourceByFamily[f]
}

func (f EMAFamily) Valid() bool {
	_, ok := emaTableByFamily[f]
	return ok
}

// DefaultEMAPeriods is the fixed period set computed when the config does
// not override it.
var DefaultEMAPeriods = []int{9, 12, 21, 26, 50, 100, 200}
