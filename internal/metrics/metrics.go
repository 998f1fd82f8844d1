// Package metrics provides Prometheus metrics for the flowreach service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LocksAcquiredTotal counts successful lock acquisitions by kind and outcome.
	LocksAcquiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowreach",
			Subsystem: "cache",
			Name:      "locks_acquired_total",
			Help:      "Total number of successful lock acquisitions",
		},
		[]string{"kind", "outcome"}, // kind: reader, writer; outcome: initialized, replaced_stale, existing
	)

	// LockContentionTotal counts acquisitions rejected with already_locked.
	LockContentionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowreach",
			Subsystem: "cache",
			Name:      "lock_contention_total",
			Help:      "Total number of lock acquisitions rejected due to contention",
		},
		[]string{"kind"},
	)

	// LockWaitDuration tracks how long waiters block on lock-change events.
	LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowreach",
			Subsystem: "cache",
			Name:      "lock_wait_duration_seconds",
			Help:      "Time spent waiting for lock-change notifications",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"result"}, // "notified", "timeout"
	)

	// NotifierWaiters tracks registered lock-change waiters.
	NotifierWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flowreach",
			Subsystem: "cache",
			Name:      "notifier_waiters",
			Help:      "Number of currently registered lock-change waiters",
		},
	)

	// BatchesWrittenTotal counts cache batch writes.
	BatchesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowreach",
			Subsystem: "cache",
			Name:      "batches_written_total",
			Help:      "Total number of cache batches written",
		},
	)

	// EntriesWrittenTotal counts cache entries written across all batches.
	EntriesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowreach",
			Subsystem: "cache",
			Name:      "entries_written_total",
			Help:      "Total number of cache entries written",
		},
	)

	// CorruptionsTotal counts corrupted cache units detected at read time.
	CorruptionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowreach",
			Subsystem: "cache",
			Name:      "corruptions_total",
			Help:      "Total number of corrupted cache units detected",
		},
	)

	// EvictionsTotal counts global version bumps.
	EvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowreach",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of cache evictions (global version bumps)",
		},
	)

	// DiscoveryDuration tracks BFS discovery duration by direction.
	DiscoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowreach",
			Subsystem: "discovery",
			Name:      "duration_seconds",
			Help:      "Path discovery duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"direction"}, // "forward", "inverted"
	)

	// DiscoveryTargetsFound tracks targets discovered per traversal.
	DiscoveryTargetsFound = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "flowreach",
			Subsystem: "discovery",
			Name:      "targets_found",
			Help:      "Number of reachable targets found per traversal",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowreach",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowreach",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// FlowStoreOperations counts flow store operations.
	FlowStoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowreach",
			Subsystem: "flowstore",
			Name:      "operations_total",
			Help:      "Total number of flow store operations",
		},
		[]string{"operation", "result"}, // operation: create, update, delete, get, list, *_screen; result: success, error
	)

	// ReportsExportedTotal counts impact reports written to object storage.
	ReportsExportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowreach",
			Subsystem: "export",
			Name:      "reports_total",
			Help:      "Total number of impact reports exported",
		},
		[]string{"result"},
	)
)
