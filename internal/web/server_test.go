package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syukriyansyah-ipb/object-detection/internal/aggregate"
	"github.com/syukriyansyah-ipb/object-detection/internal/ai"
	"github.com/syukriyansyah-ipb/object-detection/internal/config"
	"github.com/syukriyansyah-ipb/object-detection/internal/hub"
	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
	"github.com/syukriyansyah-ipb/object-detection/internal/metrics"
	"github.com/syukriyansyah-ipb/object-detection/internal/state"
)

// fakeHub records attached viewers so tests can push to them directly
type fakeHub struct {
	mu       sync.Mutex
	viewers  map[string]hub.Viewer
	detached []string
	next     int
	stats    hub.Stats
}

func newFakeHub() *fakeHub {
	return &fakeHub{viewers: make(map[string]hub.Viewer)}
}

func (h *fakeHub) Attach(v hub.Viewer) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := fmt.Sprintf("viewer-%d", h.next)
	h.viewers[id] = v
	return id, nil
}

func (h *fakeHub) Detach(id string) bool {
	h.mu.Lock()
	v, ok := h.viewers[id]
	delete(h.viewers, id)
	h.detached = append(h.detached, id)
	h.mu.Unlock()
	if ok {
		v.Close()
	}
	return ok
}

func (h *fakeHub) Stats() hub.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *fakeHub) viewer(id string) hub.Viewer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.viewers[id]
}

func (h *fakeHub) wasDetached(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range h.detached {
		if d == id {
			return true
		}
	}
	return false
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Web.Host = "127.0.0.1"
	cfg.Web.Port = 0
	cfg.History.DefaultLimit = 2
	cfg.History.MaxLimit = 3
	return cfg
}

func setupTestState(t *testing.T) *state.Manager {
	t.Helper()
	mgr, err := state.NewManager(filepath.Join(t.TempDir(), "web.db"), logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func setupTestServer(t *testing.T, cfg *config.Config) (*Server, *fakeHub, *state.Manager) {
	t.Helper()
	mgr := setupTestState(t)
	h := newFakeHub()

	server := NewServer(cfg, logger.NewNopLogger())
	server.SetStreamDependencies(h, metrics.New(16))
	server.SetHistoryDependencies(mgr, nil)
	server.SetVisitStore(mgr)
	return server, h, mgr
}

func doGet(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func seedHistory(t *testing.T, mgr *state.Manager) time.Time {
	t.Helper()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sets := []ai.DetectionSet{
		{{Label: "car", Confidence: 0.9, Box: ai.BoundingBox{X1: 1, Y1: 2, X2: 30, Y2: 40}}},
		{
			{Label: "car", Confidence: 0.8, Box: ai.BoundingBox{X1: 5, Y1: 5, X2: 50, Y2: 50}},
			{Label: "truck", Confidence: 0.7, Box: ai.BoundingBox{X1: 60, Y1: 10, X2: 120, Y2: 90}},
		},
		{},
	}
	for i, set := range sets {
		err := mgr.AppendHistory(context.Background(), aggregate.HistoryEntry{
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			Seq:        uint64(i + 1),
			Detections: set,
		})
		require.NoError(t, err)
	}
	return base
}

func TestServer_NewServer(t *testing.T) {
	server, _, _ := setupTestServer(t, testConfig())
	assert.Equal(t, "web-server", server.Name())
}

func TestServer_StartStop(t *testing.T) {
	server, _, _ := setupTestServer(t, testConfig())

	require.NoError(t, server.Start(context.Background()))
	require.NotEmpty(t, server.Addr())

	resp, err := http.Get("http://" + server.Addr() + "/api/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(stopCtx))
}

func TestServer_StopWithoutStart(t *testing.T) {
	server, _, _ := setupTestServer(t, testConfig())
	assert.NoError(t, server.Stop(context.Background()))
}

func TestServer_DetectionHistory(t *testing.T) {
	server, _, mgr := setupTestServer(t, testConfig())
	base := seedHistory(t, mgr)
	handler := server.Handler()

	t.Run("default limit and order", func(t *testing.T) {
		rec := doGet(t, handler, "/detection-history")
		require.Equal(t, http.StatusOK, rec.Code)

		var records []historyRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
		require.Len(t, records, 2)
		assert.Equal(t, uint64(3), records[0].Seq)
		assert.Equal(t, uint64(2), records[1].Seq)
		assert.Empty(t, records[0].Detections)
		assert.Equal(t, map[string]int{"car": 1, "truck": 1}, records[1].Counts)
	})

	t.Run("ascending", func(t *testing.T) {
		rec := doGet(t, handler, "/detection-history?order=ASC&limit=1")
		require.Equal(t, http.StatusOK, rec.Code)

		var records []historyRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
		require.Len(t, records, 1)
		assert.Equal(t, uint64(1), records[0].Seq)
		assert.True(t, records[0].Timestamp.Equal(base))
		require.Len(t, records[0].Detections, 1)
		assert.Equal(t, historyDetection{
			Class:      "car",
			Confidence: 0.9,
			BBox:       [4]float64{1, 2, 30, 40},
		}, records[0].Detections[0])
	})

	t.Run("limit capped", func(t *testing.T) {
		rec := doGet(t, handler, "/api/history?limit=100")
		require.Equal(t, http.StatusOK, rec.Code)

		var records []historyRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
		assert.Len(t, records, 3)
	})

	t.Run("raw shape", func(t *testing.T) {
		rec := doGet(t, handler, "/detection-history?order=asc&limit=1")
		var raw []map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
		require.Len(t, raw, 1)
		dets := raw[0]["detections"].([]interface{})
		det := dets[0].(map[string]interface{})
		assert.Equal(t, "car", det["class"])
		assert.Len(t, det["bbox"], 4)
	})

	for _, path := range []string{
		"/detection-history?limit=0",
		"/detection-history?limit=abc",
		"/detection-history?order=sideways",
	} {
		rec := doGet(t, handler, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestServer_DetectionHistory_Unavailable(t *testing.T) {
	server := NewServer(testConfig(), logger.NewNopLogger())
	rec := doGet(t, server.Handler(), "/detection-history")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doGet(t, server.Handler(), "/visitor-stats")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_VisitorStats(t *testing.T) {
	server, _, mgr := setupTestServer(t, testConfig())
	ctx := context.Background()
	for _, country := range []string{"ID", "ID", "SG", ""} {
		require.NoError(t, mgr.RecordVisit(ctx, state.Visit{ViewerID: "v", Country: country}))
	}

	rec := doGet(t, server.Handler(), "/visitor-stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats state.VisitorStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 4, stats.Count)
	assert.Equal(t, []state.CountryCount{
		{Name: "ID", Count: 2},
		{Name: "SG", Count: 1},
		{Name: state.UnknownCountry, Count: 1},
	}, stats.Countries)
}

func TestServer_Status(t *testing.T) {
	server, h, _ := setupTestServer(t, testConfig())
	h.stats = hub.Stats{Running: true, Cycles: 7, Viewers: 2}

	rec := doGet(t, server.Handler(), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	stream := body["stream"].(map[string]interface{})
	assert.Equal(t, float64(7), stream["cycles"])
	assert.Equal(t, float64(2), stream["viewers"])
	assert.Contains(t, body, "inference_latency")
	assert.NotContains(t, body, "history")
}

func TestServer_Metrics(t *testing.T) {
	server, _, _ := setupTestServer(t, testConfig())

	rec := doGet(t, server.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "detect_cycles_total")
}

func TestServer_NotFound(t *testing.T) {
	server, _, _ := setupTestServer(t, testConfig())
	rec := doGet(t, server.Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS(t *testing.T) {
	cfg := testConfig()
	cfg.Web.AllowedOrigins = []string{"http://dashboard.local"}
	server, _, _ := setupTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
