package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusHTTPMetrics records request counts and latencies as Prometheus
// series labelled by method, route pattern and status.
type PrometheusHTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var _ MetricsCollector = (*PrometheusHTTPMetrics)(nil)

// NewPrometheusHTTPMetrics registers the HTTP collectors with reg.
func NewPrometheusHTTPMetrics(reg prometheus.Registerer) (*PrometheusHTTPMetrics, error) {
	m := &PrometheusHTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adalerts",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Admin API requests by method, route and status.",
		}, []string{"method", "endpoint", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adalerts",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordRequest implements MetricsCollector.
func (m *PrometheusHTTPMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.requests.WithLabelValues(method, endpoint, status).Inc()
	m.latency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
