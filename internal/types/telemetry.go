package types

// Telemetry metric names. All components MUST use these constants.
const (
	// Metric Names
	MetricDispatchOutcome = "DispatchOutcome"
	MetricSendLatency     = "SendLatency"
	MetricPublishLag      = "PublishLag"
	MetricMatchedUsers    = "MatchedUsers"
	MetricSweepReclaimed  = "SweepReclaimed"

	// Dimension Keys
	DimResult  = "Result"
	DimTrigger = "Trigger"

	// Metric Namespace
	MetricNamespace = "AdAlerts"
)
