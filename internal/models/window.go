package models

import "time"

// TimeWindow bounds a period of telemetry by start and whole-minute duration.
type TimeWindow struct {
	Start           time.Time
	DurationMinutes int
}

// End returns the exclusive end of the window.
func (w TimeWindow) End() time.Time {
	return w.Start.Add(time.Duration(w.DurationMinutes) * time.Minute)
}

// IsZero reports whether the window was never set.
func (w TimeWindow) IsZero() bool {
	return w.Start.IsZero() && w.DurationMinutes == 0
}

// RegressionWindow pairs the analysed period with its comparison period.
// Baseline.End() equals Active.Start.
type RegressionWindow struct {
	Active          TimeWindow
	Baseline        TimeWindow
	DeploymentFound bool
}

// TimeFilter is a parsed time-range expression. Exactly one of Relative or
// the From/To pair is meaningful.
type TimeFilter struct {
	Relative time.Duration
	From     time.Time
	To       time.Time
}

// IsRelative reports whether the filter is anchored to "now".
func (f TimeFilter) IsRelative() bool {
	return f.Relative > 0
}

// Bounds resolves the filter into absolute bounds relative to now.
func (f TimeFilter) Bounds(now time.Time) (time.Time, time.Time) {
	if f.IsRelative() {
		return now.Add(-f.Relative), now
	}
	return f.From, f.To
}
