package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/syukriyansyah-ipb/object-detection/internal/ai"
	"github.com/syukriyansyah-ipb/object-detection/internal/config"
	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
	"github.com/syukriyansyah-ipb/object-detection/internal/state"
)

// TestEnvironment provides a test environment for integration tests
type TestEnvironment struct {
	TempDir     string
	FramesDir   string
	Config      *config.Config
	StateMgr    *state.Manager
	Logger      *logger.Logger
	CleanupFunc func()
}

// SetupTestEnvironment creates a database and a directory of frames
func SetupTestEnvironment(t *testing.T, frames int) *TestEnvironment {
	t.Helper()
	tmpDir := t.TempDir()

	framesDir := filepath.Join(tmpDir, "frames")
	if err := os.MkdirAll(framesDir, 0755); err != nil {
		t.Fatalf("Failed to create frames directory: %v", err)
	}
	for i := 0; i < frames; i++ {
		writeFrame(t, filepath.Join(framesDir, fmt.Sprintf("frame_%03d.jpg", i)))
	}

	cfg := config.Default()
	cfg.Log.Level = "debug"
	cfg.Source.Kind = "directory"
	cfg.Source.Input = framesDir
	cfg.Source.FPS = 0
	cfg.History.DatabasePath = filepath.Join(tmpDir, "data", "detections.db")
	cfg.Web.Host = "127.0.0.1"
	cfg.Web.Port = 0

	log := logger.NewNopLogger()

	stateMgr, err := state.NewManager(cfg.History.DatabasePath, log)
	if err != nil {
		t.Fatalf("Failed to create state manager: %v", err)
	}

	return &TestEnvironment{
		TempDir:   tmpDir,
		FramesDir: framesDir,
		Config:    cfg,
		StateMgr:  stateMgr,
		Logger:    log,
		CleanupFunc: func() {
			stateMgr.Close()
		},
	}
}

// Cleanup cleans up the test environment
func (e *TestEnvironment) Cleanup() {
	if e.CleanupFunc != nil {
		e.CleanupFunc()
	}
}

func writeFrame(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 80, B: 120, A: 255})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create frame: %v", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatalf("Failed to encode frame: %v", err)
	}
}

// DetectorStub serves the inference API with a fixed response
type DetectorStub struct {
	*httptest.Server
	requests atomic.Int64
}

// StartDetector answers every inference request with boxes
func StartDetector(t *testing.T, boxes ...ai.InferenceBox) *DetectorStub {
	t.Helper()
	stub := &DetectorStub{}

	mux := http.NewServeMux()
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/inference", func(w http.ResponseWriter, r *http.Request) {
		stub.requests.Add(1)
		var req ai.InferenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ai.InferenceResponse{
			BoundingBoxes:  boxes,
			DetectionCount: len(boxes),
		})
	})

	stub.Server = httptest.NewServer(mux)
	t.Cleanup(stub.Close)
	return stub
}

// Requests returns the number of inference calls served
func (s *DetectorStub) Requests() int64 {
	return s.requests.Load()
}

// WaitForCondition waits for a condition to become true
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		<-ticker.C
	}

	return condition()
}

// ContextWithTimeout creates a context with timeout for tests
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
