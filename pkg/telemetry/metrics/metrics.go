// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "callisto"

// Metrics holds the relay's Prometheus collectors.
//
// Series:
//   - callisto_requests_total{model,status}
//   - callisto_request_duration_seconds{model}
//   - callisto_tokens_total{model,type}
//   - callisto_token_refreshes_total{outcome}
//   - callisto_accounts_available
//   - callisto_streams_in_flight
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	refreshesTotal  *prometheus.CounterVec

	accountsAvailable prometheus.Gauge
	streamsInFlight   prometheus.Gauge
}

// New creates and registers the relay metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Relayed requests by model and terminal status.",
			},
			[]string{"model", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "End-to-end relayed request duration.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"model"},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens relayed, by direction.",
			},
			[]string{"model", "type"},
		),
		refreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "OAuth token refresh attempts by outcome.",
			},
			[]string{"outcome"},
		),
		accountsAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts_available",
			Help:      "Accounts currently eligible for selection.",
		}),
		streamsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_in_flight",
			Help:      "Upstream streams currently open.",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.tokensTotal,
		m.refreshesTotal,
		m.accountsAvailable,
		m.streamsInFlight,
	)
	return m
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(model, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(model, status).Inc()
	m.requestDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// ObserveTokens records relayed token counts.
func (m *Metrics) ObserveTokens(model string, input, output, cacheCreation, cacheRead int64) {
	if input > 0 {
		m.tokensTotal.WithLabelValues(model, "input").Add(float64(input))
	}
	if output > 0 {
		m.tokensTotal.WithLabelValues(model, "output").Add(float64(output))
	}
	if cacheCreation > 0 {
		m.tokensTotal.WithLabelValues(model, "cache_creation").Add(float64(cacheCreation))
	}
	if cacheRead > 0 {
		m.tokensTotal.WithLabelValues(model, "cache_read").Add(float64(cacheRead))
	}
}

// ObserveRefresh records one token refresh attempt.
func (m *Metrics) ObserveRefresh(outcome string) {
	m.refreshesTotal.WithLabelValues(outcome).Inc()
}

// SetAccountsAvailable updates the healthy-account gauge.
func (m *Metrics) SetAccountsAvailable(n int) {
	m.accountsAvailable.Set(float64(n))
}

// StreamStarted and StreamFinished track open upstream streams.
func (m *Metrics) StreamStarted()  { m.streamsInFlight.Inc() }
func (m *Metrics) StreamFinished() { m.streamsInFlight.Dec() }

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
