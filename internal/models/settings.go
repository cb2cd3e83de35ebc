package models

// RegressionSettings are the per-service thresholds for event regressions.
type RegressionSettings struct {
	MinBaselineTimespan     int      `yaml:"min_baseline_timespan"`
	BaselineTimespanFactor  float64  `yaml:"baseline_timespan_factor"`
	MinVolumeThreshold      int64    `yaml:"min_volume_threshold"`
	MinErrorRateThreshold   float64  `yaml:"min_error_rate_threshold"`
	RegressionDelta         float64  `yaml:"regression_delta"`
	CriticalRegressionDelta float64  `yaml:"critical_regression_delta"`
	CriticalExceptionTypes  []string `yaml:"critical_exception_types"`
	ApplySeasonality        bool     `yaml:"apply_seasonality"`
}

// SlowdownSettings are the per-service thresholds for transaction slowdowns.
type SlowdownSettings struct {
	ActiveInvocationsThreshold   int64   `yaml:"active_invocations_threshold"`
	BaselineInvocationsThreshold int64   `yaml:"baseline_invocations_threshold"`
	MinDeltaThreshold            float64 `yaml:"min_delta_threshold"`
	OverAvgSlowingPercentage     float64 `yaml:"over_avg_slowing_percentage"`
	OverAvgCriticalPercentage    float64 `yaml:"over_avg_critical_percentage"`
	StdDevFactor                 float64 `yaml:"std_dev_factor"`
}

// ScoringWeights are the per-count penalties subtracted from a report score.
type ScoringWeights struct {
	NewEvent         float64 `yaml:"new_event"`
	SevereNewEvent   float64 `yaml:"severe_new_event"`
	Regression       float64 `yaml:"regression"`
	SevereRegression float64 `yaml:"severe_regression"`
	Slowdown         float64 `yaml:"slowdown"`
	CriticalSlowdown float64 `yaml:"critical_slowdown"`
}

// ServiceSettings groups every threshold block of one service.
type ServiceSettings struct {
	Regression *RegressionSettings `yaml:"regression"`
	Slowdown   *SlowdownSettings   `yaml:"slowdown"`
	Scoring    *ScoringWeights     `yaml:"scoring"`
	Tiers      map[string][]string `yaml:"tiers"`
}
