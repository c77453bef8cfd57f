package metrics

import (
	"io"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLatencyWindow_Empty(t *testing.T) {
	w := NewLatencyWindow(4)
	if s := w.Summary(); s != (LatencySummary{}) {
		t.Errorf("Expected zero summary, got %+v", s)
	}
}

func TestLatencyWindow_Summary(t *testing.T) {
	w := NewLatencyWindow(100)
	for i := 1; i <= 100; i++ {
		w.Observe(time.Duration(i) * time.Millisecond)
	}

	s := w.Summary()
	if s.Count != 100 {
		t.Fatalf("Expected 100 samples, got %d", s.Count)
	}
	if math.Abs(s.MeanMs-50.5) > 1e-9 {
		t.Errorf("Expected mean 50.5, got %v", s.MeanMs)
	}
	if s.P95Ms != 95 {
		t.Errorf("Expected p95 95, got %v", s.P95Ms)
	}
	if s.P50Ms != 50 {
		t.Errorf("Expected p50 50, got %v", s.P50Ms)
	}
	if s.MaxMs != 100 {
		t.Errorf("Expected max 100, got %v", s.MaxMs)
	}
}

func TestLatencyWindow_Wraps(t *testing.T) {
	w := NewLatencyWindow(3)
	for _, ms := range []int{1000, 1, 2, 3} {
		w.Observe(time.Duration(ms) * time.Millisecond)
	}

	s := w.Summary()
	if s.Count != 3 {
		t.Fatalf("Expected 3 samples, got %d", s.Count)
	}
	if s.MaxMs != 3 {
		t.Errorf("Oldest sample should be evicted, max is %v", s.MaxMs)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New(16)
	m.Cycles.Add(3)
	m.ActiveViewers.Store(2)
	m.ObserveInference(20 * time.Millisecond)
	m.RegisterGauge("detect_history_pending", "Pending history entries", func() float64 { return 7 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		"detect_cycles_total 3",
		"detect_active_viewers 2",
		"detect_history_pending 7",
		"detect_inference_duration_seconds_count 1",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in exposition", want)
		}
	}

	if got := m.InferenceLatency().Count; got != 1 {
		t.Errorf("Expected 1 inference sample, got %d", got)
	}
}
