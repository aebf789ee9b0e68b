package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports operation timings and permission cache
// counters through a prometheus registerer. It satisfies both MetricsRecorder
// and CacheStats.
type PrometheusMetricsRecorder struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
	cache     *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the kincore collectors on reg and
// returns the recorder. Registration failures (duplicate collectors) are
// reported by the registerer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	rec := &PrometheusMetricsRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kincore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of core service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kincore",
			Name:      "operation_results_total",
			Help:      "Core service operation outcomes by status.",
		}, []string{"operation", "status"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kincore",
			Name:      "permission_cache_requests_total",
			Help:      "Permission cache lookups by result.",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{rec.durations, rec.results, rec.cache} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Observe records a service operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

// Hit records a permission cache hit, satisfying CacheStats.
func (r *PrometheusMetricsRecorder) Hit() {
	r.cache.WithLabelValues("hit").Inc()
}

// Miss records a permission cache miss, satisfying CacheStats.
func (r *PrometheusMetricsRecorder) Miss() {
	r.cache.WithLabelValues("miss").Inc()
}
