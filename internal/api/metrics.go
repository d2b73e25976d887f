package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tablecomposer/internal/canvas"
)

// Metrics holds the Prometheus collectors of the API. Each instance owns its
// registry so servers built in tests do not collide.
type Metrics struct {
	registry *prometheus.Registry

	Mutations      *prometheus.CounterVec
	ResyncDuration prometheus.Histogram
	ResyncSkipped  prometheus.Counter
	Sessions       prometheus.Gauge
}

// NewMetrics creates and registers the collectors.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Canvas mutations by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		ResyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resync_duration_seconds",
				Help:      "Duration of a canvas synchronization pass",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
		),
		ResyncSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resync_unresolved_refs_total",
				Help:      "Source refs that could not be drawn in a synchronization pass",
			},
		),
		Sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions",
				Help:      "Open canvas sessions",
			},
		),
	}
	m.registry.MustRegister(m.Mutations, m.ResyncDuration, m.ResyncSkipped, m.Sessions)
	return m
}

// ObserveResync is installed as the canvas resync hook.
func (m *Metrics) ObserveResync(s canvas.ResyncStats) {
	m.ResyncDuration.Observe(s.Duration.Seconds())
	m.ResyncSkipped.Add(float64(s.Skipped))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
