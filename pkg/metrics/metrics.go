package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "url_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"layer"}, // "hot" or "session"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "url_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"layer"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "url_cache_errors_total",
			Help: "Fast store calls that failed and were degraded",
		},
		[]string{"layer"},
	)

	// Request metrics
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "url_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route", "status"},
	)

	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "url_requests_total",
			Help: "Total number of requests",
		},
		[]string{"method", "route", "status"},
	)

	// Database metrics
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "url_database_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// Core metrics
	IDsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "url_ids_generated_total",
		Help: "IDs issued by this instance",
	})

	Redirects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "url_redirects_total",
			Help: "Redirect resolutions by outcome",
		},
		[]string{"outcome"},
	)

	ClicksRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "url_clicks_recorded_total",
		Help: "Clicks accepted into the local buffer",
	})

	ClicksFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "url_clicks_flushed_total",
		Help: "Click deltas applied to the durable counter",
	})

	FlushFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "url_click_flush_failures_total",
			Help: "Flush steps that failed and were restored",
		},
		[]string{"stage"}, // "shared" or "durable"
	)

	ProjectionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "url_projection_retries_total",
		Help: "ByOwner write retries",
	})

	ReconcileTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "url_reconcile_tasks_total",
			Help: "Reconcile outbox activity",
		},
		[]string{"event"}, // "enqueued", "done", "retry", "partial"
	)

	ReconcileBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "url_reconcile_backlog",
		Help: "Tasks waiting in the reconcile outbox",
	})

	SessionValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "url_session_validations_total",
			Help: "Session validations by outcome",
		},
		[]string{"outcome"},
	)
)
