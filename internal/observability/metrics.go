// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the dispatcher, cache, and connection pool.
//
// Grounded directly on coreengine/observability/{metrics,tracing}.go:
// the same promauto-vec-plus-free-function shape, renamed to
// LibPolyCall's own counters.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polycall_dispatch_total",
			Help: "Total number of dispatched cross-language calls",
		},
		[]string{"language", "function", "status"}, // status: success, error
	)

	dispatchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polycall_dispatch_duration_seconds",
			Help:    "End-to-end dispatch duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"language", "function"},
	)

	cacheResultTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polycall_cache_result_total",
			Help: "Cache lookups by outcome",
		},
		[]string{"cache", "result"}, // cache: call_result|conversion, result: hit|miss
	)

	poolUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polycall_pool_connections",
			Help: "Connection pool size by state",
		},
		[]string{"pool", "state"}, // state: idle|active|cooling|closed|error
	)

	batchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polycall_batch_size",
			Help:    "Number of calls per executed batch",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"language"},
	)
)

// RecordDispatch records one completed dispatch.
func RecordDispatch(language, function, status string, durationSeconds float64) {
	dispatchTotal.WithLabelValues(language, function, status).Inc()
	dispatchDurationSeconds.WithLabelValues(language, function).Observe(durationSeconds)
}

// RecordCacheResult records a single cache lookup outcome.
func RecordCacheResult(cache, result string) {
	cacheResultTotal.WithLabelValues(cache, result).Inc()
}

// SetPoolGauge reports the current connection count in one pool state.
func SetPoolGauge(pool, state string, count float64) {
	poolUtilization.WithLabelValues(pool, state).Set(count)
}

// RecordBatch records the size of one executed batch.
func RecordBatch(language string, size int) {
	batchSize.WithLabelValues(language).Observe(float64(size))
}
