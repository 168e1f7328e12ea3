package constant

// Audit record kinds.
const (
	AuditKindRepair = "repair"
	AuditKindReject = "reject"
)

// Audit reason codes shared by every builder and the EMA refresher.
const (
	ReasonDuplicateDay       = "duplicate_day"
	ReasonNonPositivePrice   = "non_positive_price"
	ReasonOHLCClamped        = "ohlc_clamped"
	ReasonMissingExtremaTime = "missing_extrema_time"
	ReasonEMANotFinite       = "ema_not_finite"
	ReasonEMAOutOfBounds     = "ema_out_of_bounds"
)
