// Package metrics provides Prometheus metrics for the oauth relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oauth_relay"

// Metrics holds all Prometheus metrics for the relay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Login flow metrics
	FlowsStartedTotal   *prometheus.CounterVec
	FlowsCompletedTotal *prometheus.CounterVec
	FlowFailuresTotal   *prometheus.CounterVec
	FlowDuration        *prometheus.HistogramVec

	// Credential metrics
	CredentialsIssuedTotal prometheus.Counter
	CredentialChecksTotal  *prometheus.CounterVec
	AccessChecksTotal      *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPResponseSize     *prometheus.HistogramVec

	// Provider metrics
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec

	Registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	reg.MustRegister(prometheus.NewBuildInfoCollector())

	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		FlowsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flows_started_total",
				Help:      "Total number of login flows initiated",
			},
			[]string{"mode", "store"},
		),
		FlowsCompletedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flows_completed_total",
				Help:      "Total number of login flows that delivered a session",
			},
			[]string{"mode"},
		),
		FlowFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_failures_total",
				Help:      "Total number of login flows that failed, by stage and reason",
			},
			[]string{"stage", "reason"},
		),
		FlowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "callback_duration_seconds",
				Help:      "Time spent handling the OAuth callback",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),

		CredentialsIssuedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credentials_issued_total",
				Help:      "Total number of session credentials issued",
			},
		),
		CredentialChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_checks_total",
				Help:      "Total number of session credential verifications",
			},
			[]string{"endpoint", "result"},
		),
		AccessChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "access_checks_total",
				Help:      "Total number of access checks by outcome",
			},
			[]string{"result"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		ProviderRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total number of identity provider calls",
			},
			[]string{"provider", "operation", "status"},
		),
		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Identity provider call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider", "operation"},
		),
	}
}

// Handler returns an HTTP handler for serving Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		Registry:          m.Registry,
		EnableOpenMetrics: true,
	})
}

// RecordFlowStarted records a login flow initiation.
func (m *Metrics) RecordFlowStarted(mode, store string) {
	if m == nil {
		return
	}
	if mode == "" {
		mode = "unspecified"
	}
	m.FlowsStartedTotal.WithLabelValues(mode, store).Inc()
}

// RecordFlowCompleted records a delivered session.
func (m *Metrics) RecordFlowCompleted(mode string, seconds float64) {
	if m == nil {
		return
	}
	m.FlowsCompletedTotal.WithLabelValues(mode).Inc()
	m.FlowDuration.WithLabelValues("success").Observe(seconds)
}

// RecordFlowFailure records a failed flow.
func (m *Metrics) RecordFlowFailure(stage, reason string, seconds float64) {
	if m == nil {
		return
	}
	m.FlowFailuresTotal.WithLabelValues(stage, reason).Inc()
	m.FlowDuration.WithLabelValues("failure").Observe(seconds)
}

// RecordCredentialIssued records a newly minted session credential.
func (m *Metrics) RecordCredentialIssued() {
	if m == nil {
		return
	}
	m.CredentialsIssuedTotal.Inc()
}

// RecordCredentialCheck records a bearer credential verification.
func (m *Metrics) RecordCredentialCheck(endpoint string, valid bool) {
	if m == nil {
		return
	}
	m.CredentialChecksTotal.WithLabelValues(endpoint, resultLabel(valid)).Inc()
}

// RecordAccessCheck records an access check outcome: granted, denied or error.
func (m *Metrics) RecordAccessCheck(result string) {
	if m == nil {
		return
	}
	m.AccessChecksTotal.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration.
func (m *Metrics) RecordHTTPDuration(method, path string, duration float64) {
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordHTTPResponseSize records HTTP response size.
func (m *Metrics) RecordHTTPResponseSize(method, path string, size float64) {
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(size)
}

// RecordProviderCall records one provider operation.
func (m *Metrics) RecordProviderCall(provider, operation string, err error, seconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ProviderRequestsTotal.WithLabelValues(provider, operation, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, operation).Observe(seconds)
}

// InFlightInc increments the in-flight request counter.
func (m *Metrics) InFlightInc() {
	m.HTTPRequestsInFlight.Inc()
}

// InFlightDec decrements the in-flight request counter.
func (m *Metrics) InFlightDec() {
	m.HTTPRequestsInFlight.Dec()
}

func resultLabel(ok bool) string {
	if ok {
		return "valid"
	}
	return "invalid"
}
