// Package metrics exposes Prometheus counters for the authentication flow.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gate outcomes
const (
	OutcomeAllowed   = "allowed"
	OutcomeNoSession = "no_session"
	OutcomeMalformed = "malformed"
	OutcomeExpired   = "expired"
	OutcomeError     = "store_error"
)

// Session destruction reasons
const (
	ReasonLogout   = "logout"
	ReasonExpired  = "expired"
	ReasonRejected = "rejected"
	ReasonReplaced = "replaced"
	ReasonSwept    = "swept"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	GateDecisions       *prometheus.CounterVec
	Exchanges           *prometheus.CounterVec
	ExchangeDuration    prometheus.Histogram
	SessionsDestroyed   *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on registry. A nil registry gets a
// fresh one with the Go and process collectors.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: registry,
		GateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_gate_decisions_total",
				Help: "Request gate decisions by outcome",
			},
			[]string{"outcome"},
		),
		Exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_oauth_exchanges_total",
				Help: "Authorization code exchanges by result",
			},
			[]string{"result"},
		),
		ExchangeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "console_oauth_exchange_duration_seconds",
				Help:    "Duration of authorization code exchanges including retries",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
			},
		),
		SessionsDestroyed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_sessions_destroyed_total",
				Help: "Sessions destroyed by reason",
			},
			[]string{"reason"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "console_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	registry.MustRegister(
		m.GateDecisions,
		m.Exchanges,
		m.ExchangeDuration,
		m.SessionsDestroyed,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordGateDecision(outcome string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordExchange(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Exchanges.WithLabelValues(result).Inc()
	m.ExchangeDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordSessionsDestroyed(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsDestroyed.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) RecordHTTPRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}
