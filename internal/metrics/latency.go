package metrics

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LatencySummary describes the samples currently in a window, in milliseconds
type LatencySummary struct {
	Count  int     `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	MaxMs  float64 `json:"max_ms"`
}

// LatencyWindow keeps the most recent samples in a ring buffer
type LatencyWindow struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

// NewLatencyWindow creates a window holding up to size samples
func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 256
	}
	return &LatencyWindow{samples: make([]float64, size)}
}

// Observe records one duration
func (w *LatencyWindow) Observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	w.mu.Lock()
	w.samples[w.next] = ms
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
	w.mu.Unlock()
}

// Summary computes mean and quantiles over the window
func (w *LatencyWindow) Summary() LatencySummary {
	w.mu.Lock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	x := make([]float64, n)
	copy(x, w.samples[:n])
	w.mu.Unlock()

	if n == 0 {
		return LatencySummary{}
	}

	sort.Float64s(x)
	return LatencySummary{
		Count:  n,
		MeanMs: stat.Mean(x, nil),
		P50Ms:  stat.Quantile(0.5, stat.Empirical, x, nil),
		P95Ms:  stat.Quantile(0.95, stat.Empirical, x, nil),
		MaxMs:  floats.Max(x),
	}
}
