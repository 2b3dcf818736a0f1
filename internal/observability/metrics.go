// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes.
const (
	OutcomeLive   = "live"
	OutcomeCached = "cached"
	OutcomeError  = "error"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Refresh loop metrics
	CyclesTotal   *prometheus.CounterVec
	CyclesDropped *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	// Upstream metrics
	FetchAttempts *prometheus.CounterVec
	FetchLatency  *prometheus.HistogramVec

	// State metrics
	LastPrice       prometheus.Gauge
	LastSuccessUnix prometheus.Gauge

	// Alert metrics
	AlertsFired   prometheus.Counter
	AlertsPending prometheus.Gauge

	// Surface metrics
	WSClients prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "price_ticker"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "cycles_total",
			Help:      "Total number of refresh cycles by outcome",
		}, []string{"outcome"}),
		CyclesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "cycles_dropped_total",
			Help:      "Refresh requests dropped by the overlap guard",
		}, []string{"reason"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "cycle_duration_seconds",
			Help:      "Refresh cycle duration in seconds, retries included",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		FetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "fetch_attempts_total",
			Help:      "Upstream fetch attempts by provider and result",
		}, []string{"provider", "result"}),
		FetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "fetch_latency_seconds",
			Help:      "Upstream fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),

		LastPrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_price_usd",
			Help:      "Last fresh price in USD",
		}),
		LastSuccessUnix: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful refresh",
		}),

		AlertsFired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "fired_total",
			Help:      "Total number of price alerts fired",
		}),
		AlertsPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "pending",
			Help:      "Alerts that have not fired yet",
		}),

		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "ws_clients",
			Help:      "Connected WebSocket clients",
		}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveCycle records a finished refresh cycle.
func (m *Metrics) ObserveCycle(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(elapsed.Seconds())
}

// ObserveDrop records a dropped refresh request.
func (m *Metrics) ObserveDrop(reason string) {
	if m == nil {
		return
	}
	m.CyclesDropped.WithLabelValues(reason).Inc()
}

// ObserveFetch records one upstream attempt; result is "ok" or a failure kind.
func (m *Metrics) ObserveFetch(provider, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(provider, result).Inc()
	m.FetchLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObservePrice records a fresh reading.
func (m *Metrics) ObservePrice(price float64, at time.Time) {
	if m == nil {
		return
	}
	m.LastPrice.Set(price)
	m.LastSuccessUnix.Set(float64(at.Unix()))
}

// ObserveAlerts records fired and pending alert counts.
func (m *Metrics) ObserveAlerts(fired, pending int) {
	if m == nil {
		return
	}
	m.AlertsFired.Add(float64(fired))
	m.AlertsPending.Set(float64(pending))
}

// SetWSClients records the live WebSocket client count.
func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}
