// Package metrics provides Prometheus collectors for the request pipeline
// and credential refreshes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Default histogram buckets for upstream latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Outcome labels for RequestsTotal.
const (
	OutcomeSuccess            = "success"
	OutcomeHTTPError          = "http_error"
	OutcomeValidationError    = "validation_error"
	OutcomeTransportError     = "transport_error"
	OutcomeAuthorizationError = "authorization_error"
)

// Metrics holds all Prometheus collectors of a client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	AuthBypassed    *prometheus.CounterVec
	TokenRefreshes  *prometheus.CounterVec
}

// New creates a Metrics instance and registers its collectors with reg.
// A nil reg leaves the collectors unregistered.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_requests_total",
			Help:      "Total requests executed through the pipeline, by method and outcome.",
		}, []string{"method", "outcome"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "client_request_duration_seconds",
			Help:      "Pipeline latency in seconds, including authorization and validation.",
			Buckets:   defaultBuckets,
		}, []string{"method"}),

		AuthBypassed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_auth_bypassed_total",
			Help:      "Requests dispatched without authorization because a bypass rule matched.",
		}, []string{"method"}),

		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_token_refreshes_total",
			Help:      "Credential exchanges performed, by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.AuthBypassed,
			m.TokenRefreshes,
		)
	}

	return m
}

// ObserveRequest records one pipeline execution.
func (m *Metrics) ObserveRequest(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}

	method = NormalizeMethod(method)
	m.RequestsTotal.WithLabelValues(method, outcome).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveBypass records a request that skipped authorization.
func (m *Metrics) ObserveBypass(method string) {
	if m == nil {
		return
	}

	m.AuthBypassed.WithLabelValues(NormalizeMethod(method)).Inc()
}

// ObserveRefresh records the result of a credential exchange.
func (m *Metrics) ObserveRefresh(err error) {
	if m == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "failure"
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label.
// Non-standard methods are mapped to "other".
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}
