package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/syukriyansyah-ipb/object-detection/internal/hub"
	"github.com/syukriyansyah-ipb/object-detection/internal/state"
)

// Clients are not expected to send anything but control frames
const maxClientMessage = 512

// FrameMessage is the JSON text message sent to viewers once per cycle
type FrameMessage struct {
	Seq            uint64         `json:"seq"`
	FrameSeq       uint64         `json:"frame_seq"`
	Timestamp      time.Time      `json:"timestamp"`
	Frame          string         `json:"frame"` // base64 JPEG
	Counts         map[string]int `json:"counts"`
	Annotated      bool           `json:"annotated"`
	DetectorFailed bool           `json:"detector_failed,omitempty"`
}

// NewFrameMessage converts a hub update to its wire form
func NewFrameMessage(u *hub.Update) FrameMessage {
	counts := map[string]int(u.Counts)
	if counts == nil {
		counts = map[string]int{}
	}
	return FrameMessage{
		Seq:            u.Seq,
		FrameSeq:       u.FrameSeq,
		Timestamp:      u.Timestamp,
		Frame:          base64.StdEncoding.EncodeToString(u.Image),
		Counts:         counts,
		Annotated:      u.Annotated,
		DetectorFailed: u.DetectorFailed,
	}
}

// wsViewer delivers hub updates over one websocket connection. Push is only
// called from the viewer's hub delivery goroutine; pings go through
// WriteControl, which gorilla allows concurrently with other writes.
type wsViewer struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

func newWSViewer(conn *websocket.Conn, writeTimeout time.Duration) *wsViewer {
	return &wsViewer{
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// Push writes u as one text message. The write deadline comes from ctx when
// it has one.
func (v *wsViewer) Push(ctx context.Context, u *hub.Update) error {
	data, err := json.Marshal(NewFrameMessage(u))
	if err != nil {
		return fmt.Errorf("failed to marshal frame message: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(v.writeTimeout)
	}
	if err := v.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return v.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame when possible and closes the connection
func (v *wsViewer) Close() error {
	var err error
	v.closeOnce.Do(func() {
		close(v.done)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed")
		_ = v.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = v.conn.Close()
	})
	return err
}

// readPump consumes client frames until the connection fails or stops
// answering pings. It returns when the viewer is gone.
func (v *wsViewer) readPump(pongWait time.Duration) error {
	v.conn.SetReadLimit(maxClientMessage)
	if pongWait > 0 {
		_ = v.conn.SetReadDeadline(time.Now().Add(pongWait))
		v.conn.SetPongHandler(func(string) error {
			return v.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

// pingLoop keeps the connection alive until the viewer is closed
func (v *wsViewer) pingLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-v.done:
			return
		case <-ticker.C:
			if err := v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(v.writeTimeout)); err != nil {
				return
			}
		}
	}
}

// handleDetectStream upgrades to a websocket and attaches the connection to
// the hub until the client goes away.
func (s *Server) handleDetectStream(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Detection stream not available"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		s.LogWarn("Websocket upgrade failed", "error", err, "remote_addr", c.Request.RemoteAddr)
		return
	}

	viewer := newWSViewer(conn, s.streamCfg.WriteTimeout)
	id, err := s.hub.Attach(viewer)
	if err != nil {
		s.LogWarn("Rejected viewer", "error", err, "remote_addr", c.Request.RemoteAddr)
		viewer.Close()
		return
	}

	s.recordVisit(c, id)

	go viewer.pingLoop(s.streamCfg.PingInterval)

	err = viewer.readPump(2 * s.streamCfg.PingInterval)
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		s.LogDebug("Viewer read error", "viewer_id", id, "error", err)
	}

	// False when the hub already detached it after a failed push
	s.hub.Detach(id)
}

// recordVisit stores the connection for visitor statistics. Failures are
// logged and never affect the stream.
func (s *Server) recordVisit(c *gin.Context, viewerID string) {
	if s.visits == nil {
		return
	}

	country := c.GetHeader("CF-IPCountry")
	if country == "" {
		country = c.GetHeader("X-Country-Code")
	}
	if country == "" {
		country = state.UnknownCountry
	}

	visit := state.Visit{
		ViewerID:   viewerID,
		Country:    country,
		RemoteAddr: c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		VisitedAt:  time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.visits.RecordVisit(ctx, visit); err != nil {
		s.LogWarn("Failed to record visit", "viewer_id", viewerID, "error", err)
	}
}
