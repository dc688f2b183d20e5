package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transition outcomes recorded by the lifecycle manager.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

// Metrics holds the Prometheus collectors exported by the service.
type Metrics struct {
	registry           *prometheus.Registry
	transitions        *prometheus.CounterVec
	auditWriteFailures prometheus.Counter
	requestDuration    *prometheus.HistogramVec
	requestErrors      *prometheus.CounterVec
}

// NewMetrics registers collectors on a dedicated registry.
func NewMetrics(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: registry,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ticket_transitions_total",
			Help:        "Ticket lifecycle operations by operation and outcome.",
			ConstLabels: constLabels,
		}, []string{"operation", "outcome"}),
		auditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "audit_write_failures_total",
			Help:        "Audit entries lost after the triggering change committed.",
			ConstLabels: constLabels,
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency by route, method and status.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}, []string{"path", "method", "status"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_request_errors_total",
			Help:        "HTTP errors by route, method and error code.",
			ConstLabels: constLabels,
		}, []string{"path", "method", "code"}),
	}
	registry.MustRegister(m.transitions, m.auditWriteFailures, m.requestDuration, m.requestErrors)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordTransition counts a lifecycle operation outcome.
func (m *Metrics) RecordTransition(operation, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
}

// RecordAuditWriteFailure counts a lost audit entry.
func (m *Metrics) RecordAuditWriteFailure() {
	if m == nil {
		return
	}
	m.auditWriteFailures.Inc()
}

// RecordRequest observes request latency.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(path, method, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.requestErrors.WithLabelValues(path, method, code).Inc()
}
