// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Cycle counters
	Cycles           atomic.Uint64
	DegradedCycles   atomic.Uint64
	DetectorFailures atomic.Uint64
	EncodeFailures   atomic.Uint64

	// Delivery counters
	UpdatesSent         atomic.Uint64
	UpdatesReplaced     atomic.Uint64
	ViewerWriteFailures atomic.Uint64

	// Viewer tracking
	ActiveViewers atomic.Int64
	TotalViewers  atomic.Uint64

	inference *LatencyWindow
	cycle     *LatencyWindow

	inferenceHist prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a new Metrics instance. window is the number of latency
// samples kept for summaries.
func New(window int) *Metrics {
	m := &Metrics{
		inference: NewLatencyWindow(window),
		cycle:     NewLatencyWindow(window),
		registry:  prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	counter := func(name, help string, v *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}

	counter("detect_cycles_total", "Total pipeline cycles completed", &m.Cycles)
	counter("detect_degraded_cycles_total", "Cycles broadcast without detections or annotation", &m.DegradedCycles)
	counter("detect_detector_failures_total", "Detector calls that failed or timed out", &m.DetectorFailures)
	counter("detect_encode_failures_total", "Frames that could not be annotated", &m.EncodeFailures)
	counter("detect_updates_sent_total", "Updates written to viewers", &m.UpdatesSent)
	counter("detect_updates_replaced_total", "Undelivered updates replaced by a newer one", &m.UpdatesReplaced)
	counter("detect_viewer_write_failures_total", "Viewer writes that failed and detached the viewer", &m.ViewerWriteFailures)
	counter("detect_viewers_total", "Viewers ever attached", &m.TotalViewers)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detect_active_viewers",
			Help: "Number of attached viewers",
		},
		func() float64 { return float64(m.ActiveViewers.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "detect_inference_latency_p95_ms",
			Help: "95th percentile detector latency over the recent window",
		},
		func() float64 { return m.inference.Summary().P95Ms },
	))

	m.inferenceHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "detect_inference_duration_seconds",
		Help:    "Detector call duration",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
	m.registry.MustRegister(m.inferenceHist)
}

// RegisterGauge exposes a value owned by another component
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

// ObserveInference records one detector call duration
func (m *Metrics) ObserveInference(d time.Duration) {
	m.inference.Observe(d)
	m.inferenceHist.Observe(d.Seconds())
}

// ObserveCycle records the duration of a full cycle
func (m *Metrics) ObserveCycle(d time.Duration) {
	m.cycle.Observe(d)
}

// InferenceLatency summarizes recent detector latency
func (m *Metrics) InferenceLatency() LatencySummary {
	return m.inference.Summary()
}

// CycleLatency summarizes recent cycle latency
func (m *Metrics) CycleLatency() LatencySummary {
	return m.cycle.Summary()
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
