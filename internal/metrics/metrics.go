// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation results
const (
	ResultOK       = "ok"
	ResultInvalid  = "invalid"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Metrics holds the Prometheus collectors for the gateway and its HTTP
// transport. A nil *Metrics discards every observation.
type Metrics struct {
	Operations       *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
	Requests         *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
	RateLimitHits    prometheus.Counter
	IndexRecords     prometheus.Gauge
	registry         *prometheus.Registry
}

// New creates the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "achievements_gateway_operations_total",
				Help: "Gateway operations by result",
			},
			[]string{"op", "result"},
		),
		OperationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "achievements_gateway_operation_duration_seconds",
				Help:    "Gateway operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "achievements_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "achievements_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "achievements_http_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		}),
		IndexRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "achievements_index_records",
			Help: "Metadata records currently held in memory",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.Operations,
		m.OperationLatency,
		m.Requests,
		m.RequestLatency,
		m.RateLimitHits,
		m.IndexRecords,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records one gateway operation.
func (m *Metrics) ObserveOperation(op, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, result).Inc()
	m.OperationLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// IncRateLimitHit counts a rejected request.
func (m *Metrics) IncRateLimitHit() {
	if m == nil {
		return
	}
	m.RateLimitHits.Inc()
}

// SetIndexRecords updates the index size gauge.
func (m *Metrics) SetIndexRecords(n int) {
	if m == nil {
		return
	}
	m.IndexRecords.Set(float64(n))
}
