// Package metrics exposes Prometheus instrumentation for the job store,
// workers, engine manager, event bus, and HTTP client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth reports the number of pending jobs per kind.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobstore_queue_depth",
			Help: "Number of pending jobs awaiting a worker claim, by kind.",
		},
		[]string{"kind"},
	)

	// JobsClaimedTotal counts successful claim_next_pending calls.
	JobsClaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobstore_jobs_claimed_total",
			Help: "Total number of jobs claimed by a worker, by kind.",
		},
		[]string{"kind"},
	)

	// LockRetriesTotal counts Job Store write retries due to lock contention.
	LockRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobstore_lock_retries_total",
			Help: "Total number of write retries due to lock contention.",
		},
		[]string{"operation"},
	)

	// SegmentsProcessedTotal counts segment outcomes by kind and result.
	SegmentsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_segments_processed_total",
			Help: "Total number of segments processed, by job kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// EngineState reports each variant's current runtime state as a gauge
	// (1 for the active state label, 0 otherwise) — see SetEngineState.
	EngineState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "enginemanager_variant_state",
			Help: "Current runtime state of each engine variant (1=active).",
		},
		[]string{"variant_id", "state"},
	)

	// EngineRestartsTotal counts engine restarts triggered by the retry policy.
	EngineRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enginemanager_restarts_total",
			Help: "Total number of engine restarts triggered by server-error recovery.",
		},
		[]string{"variant_id", "reason"},
	)

	// HTTPRetriesTotal counts engine HTTP client retries by classification.
	HTTPRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpclient_retries_total",
			Help: "Total number of engine HTTP call retries, by classification.",
		},
		[]string{"classification"},
	)

	// EventBusSubscribers tracks the number of live subscribers.
	EventBusSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventbus_subscribers",
			Help: "Current number of live event bus subscribers.",
		},
	)

	// EventBusEvictionsTotal counts subscribers evicted for a full queue.
	EventBusEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventbus_evictions_total",
			Help: "Total number of subscribers evicted due to queue saturation.",
		},
	)

	// EventBusBroadcastsTotal counts broadcasts per channel.
	EventBusBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbus_broadcasts_total",
			Help: "Total number of events broadcast, by channel.",
		},
		[]string{"channel"},
	)

	// CircuitBreakerState reports each variant's breaker state: 0=closed,
	// 1=half-open, 2=open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "httpclient_circuit_breaker_state",
			Help: "Current circuit breaker state per engine variant (0=closed,1=half-open,2=open).",
		},
		[]string{"variant_id"},
	)

	// CircuitBreakerTransitionsTotal counts breaker state transitions.
	CircuitBreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpclient_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions, by variant and direction.",
		},
		[]string{"variant_id", "from", "to"},
	)
)

// SetEngineState records variant's current state, clearing the previously
// reported state labels for that variant so only one state reads 1 at a time.
func SetEngineState(variantID string, states []string, active string) {
	for _, s := range states {
		v := 0.0
		if s == active {
			v = 1.0
		}
		EngineState.WithLabelValues(variantID, s).Set(v)
	}
}
