// Package metrics defines the Prometheus collectors for the batching proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Batch metrics

	// BatchesDispatched tracks total batches sent downstream, by strategy
	BatchesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxy",
			Subsystem: "batch",
			Name:      "dispatched_total",
			Help:      "Total batches dispatched to the downstream classifier",
		},
		[]string{"strategy"},
	)

	// BatchSize tracks the number of sequences packed into each dispatched batch
	BatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proxy",
			Subsystem: "batch",
			Name:      "size_sequences",
			Help:      "Number of sequences carried by a dispatched batch",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
		[]string{"strategy"},
	)

	// BatchFillRatio tracks how full a dispatched batch was relative to MAX_BATCH
	BatchFillRatio = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proxy",
			Subsystem: "batch",
			Name:      "fill_ratio",
			Help:      "Fraction of MAX_BATCH occupied by a dispatched batch",
			Buckets:   []float64{0.2, 0.4, 0.6, 0.8, 1.0},
		},
		[]string{"strategy"},
	)

	// DispatcherCycleDuration tracks how long one dispatcher loop iteration takes
	DispatcherCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "proxy",
			Subsystem: "dispatcher",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent in one dispatcher loop iteration, including any downstream call",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// QueueDepth tracks pending items waiting to be batched, per customer class
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "proxy",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of items currently queued, by customer class",
		},
		[]string{"customer"},
	)

	// ItemWaitDuration tracks time from admission to batch inclusion
	ItemWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proxy",
			Subsystem: "queue",
			Name:      "item_wait_seconds",
			Help:      "Time an item spent queued before being included in a batch",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"customer"},
	)

	// ProxyLatency tracks end-to-end request latency as seen by the client
	ProxyLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proxy",
			Subsystem: "http",
			Name:      "latency_seconds",
			Help:      "End-to-end latency of /proxy_classify requests",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"outcome"}, // success, downstream_error
	)

	// StrategyChanges tracks how often the active scheduling strategy is switched
	StrategyChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxy",
			Subsystem: "strategy",
			Name:      "changes_total",
			Help:      "Total strategy register mutations",
		},
		[]string{"new_strategy"},
	)

	// Downstream classifier metrics

	// DownstreamRequests tracks calls to the downstream classifier
	DownstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxy",
			Subsystem: "downstream",
			Name:      "requests_total",
			Help:      "Total calls made to the downstream classifier",
		},
		[]string{"outcome"}, // success, http_error, transport_error, breaker_open
	)

	// DownstreamDuration tracks downstream call latency
	DownstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "proxy",
			Subsystem: "downstream",
			Name:      "duration_seconds",
			Help:      "Downstream classifier call duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// DownstreamCircuitBreakerState tracks circuit breaker state
	// 0 = closed (healthy), 1 = open (tripped), 2 = half-open (testing)
	DownstreamCircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "proxy",
			Subsystem: "downstream",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	// DownstreamCircuitBreakerTrips tracks circuit breaker trip events
	DownstreamCircuitBreakerTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "proxy",
			Subsystem: "downstream",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total circuit breaker trip events",
		},
	)

	// HTTP API metrics

	// HTTPRequestsTotal tracks HTTP API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxy",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP API requests",
		},
		[]string{"method", "path", "status"},
	)
)

// CircuitBreakerState constants
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerOpen     = 1
	CircuitBreakerHalfOpen = 2
)
