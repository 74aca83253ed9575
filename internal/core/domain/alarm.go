package domain

// =============================================================================
// Alarm Rule
// =============================================================================

// AlarmStatistic selects how samples within a period are aggregated.
type AlarmStatistic string

const (
	StatisticAverage AlarmStatistic = "Average"
	StatisticMaximum AlarmStatistic = "Maximum"
)

// AlarmComparison selects how the statistic is compared to the threshold.
type AlarmComparison string

const (
	ComparisonGreaterThan AlarmComparison = "GreaterThanThreshold"
)

// AlarmRule declares one threshold alarm. Declarative: creating the same
// rule twice results in one alarm with the later parameters in effect.
type AlarmRule struct {
	Name              string            `yaml:"name" json:"name"`
	MetricName        string            `yaml:"metric" json:"metric"`
	Namespace         string            `yaml:"namespace" json:"namespace"`
	Statistic         AlarmStatistic    `yaml:"statistic" json:"statistic"`
	PeriodSeconds     int32             `yaml:"period" json:"period"`
	Threshold         float64           `yaml:"threshold" json:"threshold"`
	Comparison        AlarmComparison   `yaml:"comparison" json:"comparison"`
	EvaluationPeriods int32             `yaml:"evaluation_periods" json:"evaluation_periods"`
	Dimensions        map[string]string `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`
	Description       string            `yaml:"description,omitempty" json:"description,omitempty"`

	// TopicARN is the notification target for the alarm action.
	TopicARN string `yaml:"-" json:"topic_arn,omitempty"`
}
