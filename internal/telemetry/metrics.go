// Package telemetry exposes Prometheus metrics for the HTTP API, the token lifecycle and the audit trail.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Token operation labels.
const (
	OpIssue   = "issue"
	OpVerify  = "verify"
	OpRefresh = "refresh"
	OpRevoke  = "revoke"
	OpReuse   = "reuse_detected"
)

// Metrics owns a private registry so tests and multiple servers never collide on the default one.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight    prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	tokenOps        *prometheus.CounterVec
	auditAppends    *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
}

// NewMetrics registers the identity collectors plus Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "identity_http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "identity_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		tokenOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_token_operations_total",
			Help: "Token lifecycle operations by outcome.",
		}, []string{"op", "result"}),
		auditAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_audit_appends_total",
			Help: "Audit log appends by action and outcome.",
		}, []string{"action", "result"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_events_published_total",
			Help: "Domain events handed to publishers, by subject and outcome.",
		}, []string{"subject", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight, m.httpRequests, m.httpDuration,
		m.tokenOps, m.auditAppends, m.eventsPublished,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RequestStarted increments the in-flight gauge and returns a func that records the finished request.
func (m *Metrics) RequestStarted() func(method, route string, status int) {
	if m == nil {
		return func(string, string, int) {}
	}
	m.httpInFlight.Inc()
	start := time.Now()
	return func(method, route string, status int) {
		m.httpInFlight.Dec()
		code := strconv.Itoa(status)
		m.httpDuration.WithLabelValues(method, route, code).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(method, route, code).Inc()
	}
}

// TokenOp counts one token operation.
func (m *Metrics) TokenOp(op string, err error) {
	if m == nil {
		return
	}
	m.tokenOps.WithLabelValues(op, result(err)).Inc()
}

// AuditAppend counts one audit append.
func (m *Metrics) AuditAppend(action string, err error) {
	if m == nil {
		return
	}
	m.auditAppends.WithLabelValues(action, result(err)).Inc()
}

// EventPublished counts one publish attempt.
func (m *Metrics) EventPublished(subject string, err error) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(subject, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
