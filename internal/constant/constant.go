package constant

const (
	ProductionEnvironment = "production"
)

const (
	RefreshStreamName        = "refresh"
	RefreshStreamSubjectAll  = "refresh.*"
	RefreshStreamSubjectBars = "refresh.bars"
	RefreshStreamSubjectEMA  = "refresh.ema"
)
