// Package metrics exposes component counters to Prometheus. Components keep
// their own atomic counters and cheap snapshot methods; gauges registered
// here read those snapshots at scrape time, so the data path never touches
// the metrics registry.
package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry
}

// New creates an empty Metrics instance.
func New() *Metrics {
	return &Metrics{registry: prometheus.NewRegistry()}
}

// Gauge registers a gauge whose value is read by f at scrape time.
func (m *Metrics) Gauge(name, help string, f func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		f,
	))
}

// Counter registers a monotonically increasing metric whose value is read
// by f at scrape time.
func (m *Metrics) Counter(name, help string, f func() float64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		f,
	))
}

// Handler returns the /metrics scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// DebugHandler serves a JSON snapshot, produced by snapshot on each
// request, for ad-hoc inspection next to the Prometheus endpoint.
func DebugHandler(snapshot func() any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
