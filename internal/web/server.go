package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/syukriyansyah-ipb/object-detection/internal/aggregate"
	"github.com/syukriyansyah-ipb/object-detection/internal/config"
	"github.com/syukriyansyah-ipb/object-detection/internal/hub"
	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
	"github.com/syukriyansyah-ipb/object-detection/internal/metrics"
	"github.com/syukriyansyah-ipb/object-detection/internal/service"
	"github.com/syukriyansyah-ipb/object-detection/internal/state"
)

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     config.WebConfig
	streamCfg  config.StreamConfig
	historyCfg config.HistoryConfig
	logger     *logger.Logger
	httpServer *http.Server
	listener   net.Listener
	router     *gin.Engine
	upgrader   websocket.Upgrader
	routes     sync.Once

	hub     StreamHub       // required for /ws/detect
	history HistoryReader   // optional
	visits  VisitStore      // optional
	writer  WriterStats     // optional
	metrics *metrics.Metrics // optional

	version   string
	startTime time.Time
}

// StreamHub is the part of hub.Hub the websocket endpoint needs
type StreamHub interface {
	Attach(v hub.Viewer) (string, error)
	Detach(id string) bool
	Stats() hub.Stats
}

// HistoryReader lists persisted detection history
type HistoryReader interface {
	ListHistory(ctx context.Context, q state.HistoryQuery) ([]aggregate.HistoryEntry, error)
}

// VisitStore records viewer connections and summarizes them
type VisitStore interface {
	RecordVisit(ctx context.Context, visit state.Visit) error
	GetVisitorStats(ctx context.Context) (*state.VisitorStats, error)
}

// WriterStats exposes history writer counters
type WriterStats interface {
	Stats() aggregate.WriterStats
}

// NewServer creates a new web server service
func NewServer(cfg *config.Config, log *logger.Logger) *Server {
	// Debug mode can be enabled via GIN_MODE environment variable
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.Web.AllowedOrigins))

	s := &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg.Web,
		streamCfg:   cfg.Stream,
		historyCfg:  cfg.History,
		logger:      log,
		router:      router,
		version:     "dev",
		startTime:   time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 256 * 1024, // base64 JPEG frames
		CheckOrigin:     originChecker(cfg.Web.AllowedOrigins),
	}
	return s
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetStreamDependencies sets the hub viewers attach to and the metrics exposed on /metrics
func (s *Server) SetStreamDependencies(h StreamHub, m *metrics.Metrics) {
	s.hub = h
	s.metrics = m
}

// SetHistoryDependencies sets the history store and the writer feeding it
func (s *Server) SetHistoryDependencies(history HistoryReader, writer WriterStats) {
	s.history = history
	s.writer = writer
}

// SetVisitStore sets where viewer visits are recorded
func (s *Server) SetVisitStore(visits VisitStore) {
	s.visits = visits
}

// Handler returns the router with every route registered
func (s *Server) Handler() http.Handler {
	s.routes.Do(s.setupRoutes)
	return s.router
}

// Addr returns the address the server listens on once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	s.routes.Do(s.setupRoutes)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	// WriteTimeout stays disabled: websocket viewers set their own write deadlines
	s.httpServer = &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("Web server error", err, "address", s.Addr())
			s.GetStatus().SetError(err)
		}
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Web server started", "address", s.Addr())
	return nil
}

// Stop stops the web server. Hijacked websocket connections are not tracked
// by Shutdown; the hub closes them when it stops.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	err := s.httpServer.Shutdown(ctx)
	s.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// setupRoutes sets up all routes
func (s *Server) setupRoutes() {
	s.router.GET("/ws/detect", s.handleDetectStream)

	// Paths used by the dashboard
	s.router.GET("/detection-history", s.handleDetectionHistory)
	s.router.GET("/visitor-stats", s.handleVisitorStats)

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)
		api.GET("/history", s.handleDetectionHistory)
		api.GET("/visitors", s.handleVisitorStats)
	}

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware allows the configured origins, or any origin when none are set
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allow := originAllowed(allowed)
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case len(allowed) == 0:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allow(origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func originAllowed(allowed []string) func(origin string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(origin string) bool {
		if len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// originChecker applies the allowed origin list to websocket upgrades.
// Requests without an Origin header (non-browser clients) are accepted.
func originChecker(allowed []string) func(r *http.Request) bool {
	allow := originAllowed(allowed)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allow(origin)
	}
}
