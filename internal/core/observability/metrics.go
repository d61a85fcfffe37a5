// Package observability holds the service's Prometheus collectors.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	wfsRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfs_requests_total",
			Help: "WFS requests by operation and HTTP status.",
		},
		[]string{"request", "status"},
	)

	wfsRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wfs_request_duration_seconds",
			Help:    "Duration of WFS operations in seconds, streaming included.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"request"},
	)

	backendQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfs_backend_queries_total",
			Help: "Queries sent to the feature store by kind.",
		},
		[]string{"op"},
	)

	countCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfs_count_cache_total",
			Help: "Matched-count cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfs_stream_errors_total",
			Help: "Responses that failed after streaming started.",
		},
		[]string{"format"},
	)

	redisOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis command latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "status"},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Invalidation consumer failures by kind.",
		},
		[]string{"kind"},
	)

	invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Processed data change events.",
		},
		[]string{"op", "model", "status"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		wfsRequestsTotal, wfsRequestDurationSeconds,
		backendQueries, countCache, streamErrors,
		redisOpDuration, kafkaConsumerErrors, invalidations,
	}
}

// Init registers the collectors on reg. Observations are recorded either
// way; a disabled registry just never exposes them.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveRequest(request string, status int, durationSeconds float64) {
	if request == "" {
		request = "unknown"
	}
	wfsRequestsTotal.WithLabelValues(request, strconv.Itoa(status)).Inc()
	wfsRequestDurationSeconds.WithLabelValues(request).Observe(durationSeconds)
}

func IncBackendQuery(op string) { backendQueries.WithLabelValues(op).Inc() }

// IncCountCache records hit, miss or error.
func IncCountCache(outcome string) { countCache.WithLabelValues(outcome).Inc() }

func IncStreamError(format string) { streamErrors.WithLabelValues(format).Inc() }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	redisOpDuration.WithLabelValues(op, status).Observe(durationSeconds)
}

func IncKafkaConsumerError(kind string) { kafkaConsumerErrors.WithLabelValues(kind).Inc() }

func ObserveInvalidation(op, model string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	invalidations.WithLabelValues(op, model, status).Inc()
}
