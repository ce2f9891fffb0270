// Package metrics owns the gateway's Prometheus series. The registry
// is an injected instance rather than the global default so tests can
// construct fresh ones without cross-test contamination.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gateway series with their registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.SummaryVec
	concurrentRequests prometheus.Gauge
	rateLimited        *prometheus.CounterVec
}

// New creates a registry with the four gateway series registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name: "gateway_request_duration_seconds",
			Help: "Request duration in seconds",
		}, []string{"route"}),
		concurrentRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_concurrent_requests",
			Help: "Current number of concurrent requests being handled",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limited_requests_total",
			Help: "Number of requests that were rate-limited",
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.concurrentRequests,
		m.rateLimited,
	)
	return m
}

// ObserveRequest counts one completed pipeline response. route is the
// matched prefix, or "" when nothing matched.
func (m *Metrics) ObserveRequest(method, route string, status int) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// ObserveDuration records forwarder wall-clock time for a route.
func (m *Metrics) ObserveDuration(route string, seconds float64) {
	m.requestDuration.WithLabelValues(route).Observe(seconds)
}

// ForwardStart marks a request entering the forwarder.
func (m *Metrics) ForwardStart() { m.concurrentRequests.Inc() }

// ForwardEnd marks a request leaving the forwarder.
func (m *Metrics) ForwardEnd() { m.concurrentRequests.Dec() }

// ObserveRateLimited counts one 429 emission.
func (m *Metrics) ObserveRateLimited(route string) {
	m.rateLimited.WithLabelValues(route).Inc()
}

// Handler renders the registry in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
