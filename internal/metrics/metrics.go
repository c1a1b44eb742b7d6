// Package metrics exposes the orb, session and ambient state as Prometheus series.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sources are read at scrape time. Nil entries are not exported.
type Sources struct {
	// Orb
	Intensity func() float64
	Mode      func() float64 // 0 idle, 1 listening, 2 speaking
	Frames    func() float64

	// Conversation
	Phase         func() float64
	Volume        func() float64
	SessionStarts func() float64
	SessionErrors func() float64

	// Ambient
	AmbientPlaying func() float64
	AmbientStarts  func() float64
}

// Metrics holds the process registry.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string
}

// New creates a registry with the Go runtime and process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "goorb"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:  registry,
		namespace: namespace,
	}
}

// Bind registers every non-nil source.
func (m *Metrics) Bind(s Sources) {
	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"orb_intensity", "Current smoothed deformation intensity", s.Intensity},
		{"orb_mode", "Orb mode (0 idle, 1 listening, 2 speaking)", s.Mode},
		{"session_phase", "Conversation phase (0 disconnected .. 5 disconnecting)", s.Phase},
		{"session_volume", "Agent speech volume in [0, 1]", s.Volume},
		{"ambient_playing", "1 while ambient audio is playing", s.AmbientPlaying},
	}
	for _, g := range gauges {
		if g.fn != nil {
			m.GaugeFunc(g.name, g.help, g.fn)
		}
	}

	counters := []struct {
		name, help string
		fn         func() float64
	}{
		{"orb_frames_total", "Total number of deformer steps", s.Frames},
		{"session_starts_total", "Total number of conversations started", s.SessionStarts},
		{"session_errors_total", "Total number of session errors", s.SessionErrors},
		{"ambient_starts_total", "Total number of ambient starts", s.AmbientStarts},
	}
	for _, c := range counters {
		if c.fn != nil {
			m.CounterFunc(c.name, c.help, c.fn)
		}
	}
}

// GaugeFunc registers a gauge read from fn.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) prometheus.GaugeFunc {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      name,
		Help:      help,
	}, fn)
	m.registry.MustRegister(g)
	return g
}

// CounterFunc registers a counter read from fn. fn must never decrease.
func (m *Metrics) CounterFunc(name, help string, fn func() float64) prometheus.CounterFunc {
	c := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      name,
		Help:      help,
	}, fn)
	m.registry.MustRegister(c)
	return c
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Bool converts a flag to a gauge value.
func Bool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
