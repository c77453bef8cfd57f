package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/syukriyansyah-ipb/object-detection/internal/aggregate"
	"github.com/syukriyansyah-ipb/object-detection/internal/service"
	"github.com/syukriyansyah-ipb/object-detection/internal/state"
)

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "web-server",
	})
}

// handleStatus reports pipeline counters and latencies
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	health := "healthy"
	if s.GetStatus().GetStatus() != service.StatusRunning {
		health = "unhealthy"
	}

	resp := gin.H{
		"status":         health,
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"version":        s.version,
		"timestamp":      time.Now().Format(time.RFC3339),
	}

	if s.hub != nil {
		stats := s.hub.Stats()
		resp["stream"] = stats
		if !stats.Running {
			resp["status"] = "degraded"
		}
	}
	if s.metrics != nil {
		resp["inference_latency"] = s.metrics.InferenceLatency()
		resp["cycle_latency"] = s.metrics.CycleLatency()
	}
	if s.writer != nil {
		resp["history"] = s.writer.Stats()
	}

	c.JSON(http.StatusOK, resp)
}

// historyDetection is one detection in the dashboard history format
type historyDetection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// historyRecord is one cycle in the dashboard history format
type historyRecord struct {
	ID         string             `json:"id"`
	Timestamp  time.Time          `json:"timestamp"`
	Seq        uint64             `json:"seq"`
	Counts     map[string]int     `json:"counts"`
	Detections []historyDetection `json:"detections"`
}

func historyToAPIResponse(entry aggregate.HistoryEntry) historyRecord {
	rec := historyRecord{
		ID:         entry.ID,
		Timestamp:  entry.Timestamp,
		Seq:        entry.Seq,
		Counts:     aggregate.Summarize(entry.Detections),
		Detections: make([]historyDetection, 0, len(entry.Detections)),
	}
	for _, d := range entry.Detections {
		rec.Detections = append(rec.Detections, historyDetection{
			Class:      d.Label,
			Confidence: d.Confidence,
			BBox:       [4]float64{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2},
		})
	}
	return rec
}

// handleDetectionHistory lists persisted cycles.
// Query: limit (default history.default_limit, capped at history.max_limit)
// and order (asc|desc, default history.default_order).
func (s *Server) handleDetectionHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Detection history not available",
		})
		return
	}

	limit := s.historyCfg.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}
	if s.historyCfg.MaxLimit > 0 && limit > s.historyCfg.MaxLimit {
		limit = s.historyCfg.MaxLimit
	}

	order := strings.ToLower(c.DefaultQuery("order", s.historyCfg.DefaultOrder))
	if order != state.OrderAsc && order != state.OrderDesc {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "order must be asc or desc",
		})
		return
	}

	entries, err := s.history.ListHistory(c.Request.Context(), state.HistoryQuery{
		Limit: limit,
		Order: order,
	})
	if err != nil {
		s.LogError("Failed to list detection history", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list detection history",
		})
		return
	}

	response := make([]historyRecord, 0, len(entries))
	for _, entry := range entries {
		response = append(response, historyToAPIResponse(entry))
	}
	c.JSON(http.StatusOK, response)
}

// handleVisitorStats returns the number of viewer connections per country
func (s *Server) handleVisitorStats(c *gin.Context) {
	if s.visits == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Visitor statistics not available",
		})
		return
	}

	stats, err := s.visits.GetVisitorStats(c.Request.Context())
	if err != nil {
		s.LogError("Failed to get visitor stats", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get visitor stats",
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}
