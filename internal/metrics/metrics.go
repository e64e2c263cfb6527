// Package metrics exposes Prometheus collectors for the market lifecycle and
// the HTTP surface. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "predictx"

// Metrics holds every collector registered by the service.
type Metrics struct {
	registry *prometheus.Registry

	marketsCreated    prometheus.Counter
	marketsResolved   *prometheus.CounterVec
	betsPlaced        *prometheus.CounterVec
	betsRejected      *prometheus.CounterVec
	predictions       *prometheus.CounterVec
	forecastFallbacks prometheus.Counter
	evaluations       prometheus.Counter
	httpDuration      *prometheus.HistogramVec
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		marketsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "markets_created_total",
			Help: "Markets created.",
		}),
		marketsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "markets_resolved_total",
			Help: "Markets resolved, by winning outcome.",
		}, []string{"outcome"}),
		betsPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bets_placed_total",
			Help: "Accepted bets, by outcome.",
		}, []string{"outcome"}),
		betsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bets_rejected_total",
			Help: "Rejected bets, by error kind.",
		}, []string{"kind"}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "predictions_created_total",
			Help: "Predictions created, by predictor type.",
		}, []string{"predictor_type"}),
		forecastFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "forecast_fallbacks_total",
			Help: "AI predictions that fell back to the neutral estimate.",
		}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "predictions_evaluated_total",
			Help: "Predictions scored against a realized price.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.marketsCreated, m.marketsResolved, m.betsPlaced, m.betsRejected,
		m.predictions, m.forecastFallbacks, m.evaluations, m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) MarketCreated() {
	if m != nil {
		m.marketsCreated.Inc()
	}
}

func (m *Metrics) MarketResolved(outcome bool) {
	if m != nil {
		m.marketsResolved.WithLabelValues(strconv.FormatBool(outcome)).Inc()
	}
}

func (m *Metrics) BetPlaced(outcome string) {
	if m != nil {
		m.betsPlaced.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) BetRejected(kind string) {
	if m != nil {
		m.betsRejected.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) PredictionCreated(predictorType string) {
	if m != nil {
		m.predictions.WithLabelValues(predictorType).Inc()
	}
}

func (m *Metrics) ForecastFallback() {
	if m != nil {
		m.forecastFallbacks.Inc()
	}
}

func (m *Metrics) PredictionEvaluated() {
	if m != nil {
		m.evaluations.Inc()
	}
}

// ObserveHTTP records one request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m != nil {
		m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
	}
}
