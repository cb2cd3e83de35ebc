package models

import "time"

// Bucket is a regression classification tier. Lower values are more severe.
type Bucket int

const (
	BucketSevereNewIssues Bucket = iota
	BucketNewIssues
	BucketSevereRegressions
	BucketRegressions
)

// Buckets lists every tier in priority order.
var Buckets = []Bucket{BucketSevereNewIssues, BucketNewIssues, BucketSevereRegressions, BucketRegressions}

func (b Bucket) String() string {
	switch b {
	case BucketSevereNewIssues:
		return "severe_new_issues"
	case BucketNewIssues:
		return "new_issues"
	case BucketSevereRegressions:
		return "severe_regressions"
	case BucketRegressions:
		return "regressions"
	default:
		return "unknown"
	}
}

// IsNew reports whether the bucket holds first-seen events.
func (b Bucket) IsNew() bool {
	return b == BucketSevereNewIssues || b == BucketNewIssues
}

// RegressionInput captures every parameter that determines a regression
// computation. PointsHint only shapes graph requests and is not part of
// the result's identity.
type RegressionInput struct {
	ServiceID              string
	ViewID                 string
	ViewName               string
	TimeFilter             TimeFilter
	ActiveWindow           TimeWindow
	BaselineMinutes        int
	Deployments            []string
	Apps                   []string
	Servers                []string
	Filter                 EventFilterSpec
	CriticalExceptionTypes []string
	Settings               RegressionSettings
	PointsHint             int
}

// EventFilterSpec is the declarative event filter of a query.
type EventFilterSpec struct {
	Types        []string
	Transactions []string
	Tiers        []string
	Labels       []string
	SearchText   string
}

// EventBaseline is an event's comparison-period counters.
type EventBaseline struct {
	Stats Stats
}

// RegressionEvent is one event that crossed a rate threshold.
type RegressionEvent struct {
	Event        *EventRecord
	ActiveRate   float64
	BaselineRate float64
	RateDelta    float64
	Baseline     Stats
	Critical     bool
}

// RateRegression is the statistical partition of an active event population.
type RateRegression struct {
	NewEvents         map[string]*EventRecord
	CriticalNewEvents map[string]*EventRecord
	Exceeded          map[string]RegressionEvent
	Baselines         map[string]Stats
}

// ClassifiedEvent is an event placed into exactly one bucket.
type ClassifiedEvent struct {
	Event          *EventRecord
	Bucket         Bucket
	ActiveRate     float64
	BaselineRate   float64
	RateDelta      float64
	Baseline       Stats
	MergedIDs      []string
	AboveThreshold bool
	CriticalRank   int
}

// RegressionCounts tallies events per bucket.
type RegressionCounts struct {
	SevereNewIssues   int
	NewIssues         int
	SevereRegressions int
	Regressions       int
}

// Add increments the counter that belongs to bucket.
func (c *RegressionCounts) Add(bucket Bucket) {
	switch bucket {
	case BucketSevereNewIssues:
		c.SevereNewIssues++
	case BucketNewIssues:
		c.NewIssues++
	case BucketSevereRegressions:
		c.SevereRegressions++
	case BucketRegressions:
		c.Regressions++
	}
}

// Total sums every bucket.
func (c RegressionCounts) Total() int {
	return c.SevereNewIssues + c.NewIssues + c.SevereRegressions + c.Regressions
}

// RegressionOutput is the result of a regression computation. Empty marks a
// computation that could not run and must not be aggregated.
//
// Outputs are cached and shared by every caller that hits the same key, so
// they are read-only: Events, EventMap, the graphs and the records they
// point to must not be modified after the output is returned.
type RegressionOutput struct {
	Empty         bool
	Reason        string
	Input         RegressionInput
	Window        RegressionWindow
	Counts        RegressionCounts
	Events        []ClassifiedEvent
	ActiveGraph   GraphSeries
	BaselineGraph GraphSeries
	EventMap      map[string]*EventRecord
	ComputedAt    time.Time
}

// EmptyRegression builds the sentinel output for an impossible computation.
func EmptyRegression(reason string) *RegressionOutput {
	return &RegressionOutput{Empty: true, Reason: reason}
}

// ResolvedWindow is a normalized input with its absolute windows.
type ResolvedWindow struct {
	Input  RegressionInput
	Window RegressionWindow
}

// EffectiveCriticalTypes returns the query's critical exception types, or the
// service defaults when the query names none. Order is significant: earlier
// entries rank higher.
func (in RegressionInput) EffectiveCriticalTypes() []string {
	if len(in.CriticalExceptionTypes) > 0 {
		return in.CriticalExceptionTypes
	}
	return in.Settings.CriticalExceptionTypes
}
