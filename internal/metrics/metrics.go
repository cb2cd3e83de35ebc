package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels computations that produced a result.
	OutcomeSuccess = "success"
	// OutcomeEmpty labels computations that ended in the empty sentinel.
	OutcomeEmpty = "empty"
	// OutcomeError labels failed computations (backend or configuration issues).
	OutcomeError = "error"

	// CacheHit labels lookups answered from memory.
	CacheHit = "hit"
	// CacheMiss labels lookups that ran the loader.
	CacheMiss = "miss"
	// CacheSubsumed labels hits-volume lookups answered by an all-volume entry.
	CacheSubsumed = "subsumed"
)

var (
	computationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_regress",
			Name:      "computations_total",
			Help:      "Total number of regression, slowdown and report computations, partitioned by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	computationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_regress",
			Name:      "computation_seconds",
			Help:      "Computation latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"op"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_regress",
			Name:      "cache_lookups_total",
			Help:      "Composite cache lookups, partitioned by tier and result.",
		},
		[]string{"tier", "result"},
	)

	sliceFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_regress",
			Name:      "graph_slice_failures_total",
			Help:      "Graph slices that failed and were merged as empty.",
		},
	)

	durableErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_regress",
			Name:      "durable_cache_errors_total",
			Help:      "Swallowed failures of the durable graph tier, partitioned by operation.",
		},
		[]string{"op"},
	)

	poolInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mirador_regress",
			Name:      "pool_inflight_tasks",
			Help:      "Tasks currently running on a worker pool.",
		},
		[]string{"pool"},
	)
)

// Register attaches mirador-regress collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		computationsTotal,
		computationDurationSeconds,
		cacheLookupsTotal,
		sliceFailuresTotal,
		durableErrorsTotal,
		poolInflight,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveComputation records a computation duration and outcome label.
func ObserveComputation(op string, duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeError, OutcomeEmpty:
	default:
		outcome = OutcomeSuccess
	}
	computationsTotal.WithLabelValues(op, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	computationDurationSeconds.WithLabelValues(op).Observe(duration.Seconds())
}

// CacheLookup counts one composite cache lookup.
func CacheLookup(tier, result string) {
	cacheLookupsTotal.WithLabelValues(tier, result).Inc()
}

// SliceFailure counts a graph slice merged as empty after an error.
func SliceFailure() {
	sliceFailuresTotal.Inc()
}

// DurableError counts a swallowed durable-tier failure.
func DurableError(op string) {
	durableErrorsTotal.WithLabelValues(op).Inc()
}

// PoolStarted marks a task as running on pool.
func PoolStarted(pool string) {
	poolInflight.WithLabelValues(pool).Inc()
}

// PoolFinished marks a task on pool as done.
func PoolFinished(pool string) {
	poolInflight.WithLabelValues(pool).Dec()
}
