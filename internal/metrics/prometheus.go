// Package metrics exposes Prometheus instrumentation for the credential
// service
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors
type Metrics struct {
	issuedTotal      *prometheus.CounterVec
	verifiedTotal    *prometheus.CounterVec
	revokedTotal     prometheus.Counter
	delegationsTotal *prometheus.CounterVec
	policyDuration   prometheus.Histogram
	requestDuration  *prometheus.HistogramVec
	activeCreds      prometheus.Gauge
	auditAppendTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a metrics instance with its own registry
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		issuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_issued_total",
			Help:      "Credential issuance attempts by outcome",
		}, []string{"outcome", "delegated"}),
		verifiedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_verified_total",
			Help:      "Credential verifications by result",
		}, []string{"result"}),
		revokedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_revoked_total",
			Help:      "Credentials revoked",
		}),
		delegationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Delegation requests by outcome",
		}, []string{"outcome"}),
		policyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "policy_evaluation_duration_seconds",
			Help:      "Policy evaluation latency",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 10, 7),
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		activeCreds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credentials_active",
			Help:      "Credentials issued minus revoked since start",
		}),
		auditAppendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_appends_total",
			Help:      "Audit log appends by result",
		}, []string{"result"}),
		registry: registry,
	}

	registry.MustRegister(
		m.issuedTotal,
		m.verifiedTotal,
		m.revokedTotal,
		m.delegationsTotal,
		m.policyDuration,
		m.requestDuration,
		m.activeCreds,
		m.auditAppendTotal,
	)
	return m
}

// RecordIssuance counts an issuance attempt
func (m *Metrics) RecordIssuance(outcome string, delegated bool) {
	label := "false"
	if delegated {
		label = "true"
	}
	m.issuedTotal.WithLabelValues(outcome, label).Inc()
	if outcome == "success" {
		m.activeCreds.Inc()
	}
}

// RecordVerification counts a verification by result
func (m *Metrics) RecordVerification(result string) {
	m.verifiedTotal.WithLabelValues(result).Inc()
}

// RecordRevocation counts a revocation
func (m *Metrics) RecordRevocation() {
	m.revokedTotal.Inc()
	m.activeCreds.Dec()
}

// RecordDelegation counts a delegation request by outcome
func (m *Metrics) RecordDelegation(outcome string) {
	m.delegationsTotal.WithLabelValues(outcome).Inc()
}

// ObservePolicyEvaluation records policy evaluation latency
func (m *Metrics) ObservePolicyEvaluation(d time.Duration) {
	m.policyDuration.Observe(d.Seconds())
}

// ObserveRequest records HTTP request latency
func (m *Metrics) ObserveRequest(route, method, status string, d time.Duration) {
	m.requestDuration.WithLabelValues(route, method, status).Observe(d.Seconds())
}

// RecordAuditAppend counts an audit append by result
func (m *Metrics) RecordAuditAppend(result string) {
	m.auditAppendTotal.WithLabelValues(result).Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
