package models

import (
	"strings"

	"github.com/miradorstack/mirador-regress/internal/stats"
)

// TransactionDelimiter separates class, method and descriptor in names.
const TransactionDelimiter = "#"

// PerformanceState classifies a transaction against its baseline.
type PerformanceState string

const (
	PerformanceOK       PerformanceState = "OK"
	PerformanceSlowing  PerformanceState = "SLOWING"
	PerformanceCritical PerformanceState = "CRITICAL"
	PerformanceNoData   PerformanceState = "NO_DATA"
)

// TransactionKey identifies a transaction. An empty Method is class level.
type TransactionKey struct {
	Class  string
	Method string
}

// ParseTransactionName derives a key from "class#method#descriptor".
func ParseTransactionName(name string) TransactionKey {
	parts := strings.Split(name, TransactionDelimiter)
	key := TransactionKey{Class: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		key.Method = strings.TrimSpace(parts[1])
	}
	return key
}

// String renders the key as "class.method" or just "class".
func (k TransactionKey) String() string {
	if k.Method == "" {
		return k.Class
	}
	return k.Class + "." + k.Method
}

// TransactionStats summarises latency and volume for one window.
type TransactionStats struct {
	Invocations int64
	AvgTimeMs   float64
	StdDevMs    float64
}

// TransactionRecord groups a transaction's active and baseline behaviour.
type TransactionRecord struct {
	Key          TransactionKey
	Name         string
	Stats        TransactionStats
	Baseline     *TransactionStats
	ErrorHits    int64
	TimerHits    int64
	EventIDs     []string
	State        PerformanceState
	Score        float64
	DeltaPercent float64
}

// ErrorRate returns error hits per invocation, zero when undefined.
func (t *TransactionRecord) ErrorRate() float64 {
	if t.Stats.Invocations <= 0 {
		return 0
	}
	return float64(t.ErrorHits) / float64(t.Stats.Invocations)
}

// TransactionPoint is one bucket of a transaction graph.
type TransactionPoint struct {
	Time        int64   `json:"time"`
	Invocations int64   `json:"invocations"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
}

// TransactionGraph is the per-transaction latency series from the backend.
type TransactionGraph struct {
	Name   string             `json:"name"`
	Points []TransactionPoint `json:"points"`
}

// Summarise computes invocation-weighted average and the spread of per-point
// averages.
func (g TransactionGraph) Summarise() TransactionStats {
	var (
		invocations int64
		weighted    float64
		samples     []float64
	)
	for _, p := range g.Points {
		if p.Invocations <= 0 {
			continue
		}
		invocations += p.Invocations
		weighted += p.AvgTimeMs * float64(p.Invocations)
		samples = append(samples, p.AvgTimeMs)
	}
	if invocations == 0 {
		return TransactionStats{}
	}
	avg := weighted / float64(invocations)
	return TransactionStats{
		Invocations: invocations,
		AvgTimeMs:   avg,
		StdDevMs:    stats.StdDev(samples, avg),
	}
}

// SlowdownOutput is the transaction classification result for one query.
// Like RegressionOutput it is cached and shared, and must not be modified.
type SlowdownOutput struct {
	Empty        bool
	Reason       string
	Transactions []TransactionRecord
	Counts       map[PerformanceState]int
}
