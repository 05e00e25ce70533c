// Package metrics exposes Prometheus instruments for the advisor. All
// instruments live on a private registry so tests can create as many
// instances as they need.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "infra_advisor"

// Exchange outcomes
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds the service instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry           *prometheus.Registry
	exchanges          *prometheus.CounterVec
	exchangeLatency    *prometheus.HistogramVec
	pending            prometheus.Gauge
	validationFailures *prometheus.CounterVec
	wizardActions      *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
}

// New creates the instruments and registers them with a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_exchanges_total",
			Help:      "Chat model exchanges by operation and outcome.",
		}, []string{"operation", "outcome"}),
		exchangeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_exchange_duration_seconds",
			Help:      "Latency of chat model exchanges.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"operation"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_exchanges",
			Help:      "Chat model exchanges currently in flight.",
		}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wizard_validation_failures_total",
			Help:      "Wizard step validations that failed.",
		}, []string{"step"}),
		wizardActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wizard_actions_total",
			Help:      "Wizard actions by name.",
		}, []string{"action"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "method", "code"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.exchanges,
		m.exchangeLatency,
		m.pending,
		m.validationFailures,
		m.wizardActions,
		m.httpRequests,
	)
	return m
}

// Registry returns the registry backing the instruments
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartExchange marks an exchange as in flight. The returned func records its
// outcome and latency and must be called exactly once.
func (m *Metrics) StartExchange(operation string) func(err error) {
	if m == nil {
		return func(error) {}
	}
	start := time.Now()
	m.pending.Inc()
	return func(err error) {
		m.pending.Dec()
		outcome := OutcomeSuccess
		if err != nil {
			outcome = OutcomeError
		}
		m.exchanges.WithLabelValues(operation, outcome).Inc()
		m.exchangeLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// ValidationFailed counts a failed validation of step
func (m *Metrics) ValidationFailed(step int) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(strconv.Itoa(step)).Inc()
}

// WizardAction counts a wizard action
func (m *Metrics) WizardAction(action string) {
	if m == nil {
		return
	}
	m.wizardActions.WithLabelValues(action).Inc()
}

// HTTPRequest counts a served request
func (m *Metrics) HTTPRequest(route, method string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}
