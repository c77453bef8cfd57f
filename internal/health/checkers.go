package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/syukriyansyah-ipb/object-detection/internal/hub"
	"github.com/syukriyansyah-ipb/object-detection/internal/storage"
	"github.com/syukriyansyah-ipb/object-detection/internal/video"
)

func newCheck(name string) Check {
	return Check{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// Pinger is implemented by the state manager
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	db   Pinger
	path string
}

func NewDatabaseChecker(db Pinger, path string) *DatabaseChecker {
	return &DatabaseChecker{db: db, path: path}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["path"] = c.path

	if c.db == nil {
		check.Status = StatusUnhealthy
		check.Message = "Database not configured"
		return check
	}

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// ReadinessProber is implemented by the detector client
type ReadinessProber interface {
	HealthCheck(ctx context.Context) error
}

// DetectorChecker checks the inference service. An unreachable detector only
// degrades the stream, so it never reports unhealthy.
type DetectorChecker struct {
	detector ReadinessProber
	url      string
}

func NewDetectorChecker(detector ReadinessProber, url string) *DetectorChecker {
	return &DetectorChecker{detector: detector, url: url}
}

func (c *DetectorChecker) Name() string {
	return "detector"
}

func (c *DetectorChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["url"] = c.url

	if err := c.detector.HealthCheck(ctx); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Detector unreachable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Detector is ready"
	return check
}

// StatsProvider is implemented by the stream hub
type StatsProvider interface {
	Stats() hub.Stats
}

// StreamChecker checks that cycles keep completing
type StreamChecker struct {
	hub        StatsProvider
	staleAfter time.Duration
}

// NewStreamChecker reports degraded when no cycle completed within staleAfter
func NewStreamChecker(h StatsProvider, staleAfter time.Duration) *StreamChecker {
	return &StreamChecker{hub: h, staleAfter: staleAfter}
}

func (c *StreamChecker) Name() string {
	return "stream"
}

func (c *StreamChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	stats := c.hub.Stats()
	check.Details["cycles"] = stats.Cycles
	check.Details["degraded_cycles"] = stats.DegradedCycles
	check.Details["viewers"] = stats.Viewers

	switch {
	case !stats.Running:
		check.Status = StatusUnhealthy
		check.Message = "Stream hub is not running"
	case stats.Cycles == 0:
		check.Status = StatusDegraded
		check.Message = "Waiting for the first frame"
	case c.staleAfter > 0 && time.Since(stats.LastCycleAt) > c.staleAfter:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("No cycle completed for %s", time.Since(stats.LastCycleAt).Round(time.Second))
	default:
		check.Status = StatusHealthy
		check.Message = "Stream is running"
	}
	return check
}

// SourceChecker tracks the frame source connection. Observe has the shape of
// video.StateFunc so it can be chained onto a ReconnectingSource.
type SourceChecker struct {
	mu      sync.RWMutex
	state   video.SourceState
	attempt int
	lastErr error
	since   time.Time
}

func NewSourceChecker() *SourceChecker {
	return &SourceChecker{since: time.Now()}
}

// Observe records a connection change
func (c *SourceChecker) Observe(state video.SourceState, attempt int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.attempt = attempt
	c.lastErr = err
	c.since = time.Now()
}

func (c *SourceChecker) Name() string {
	return "source"
}

func (c *SourceChecker) Check(ctx context.Context) Check {
	c.mu.RLock()
	defer c.mu.RUnlock()

	check := newCheck(c.Name())
	check.Details["since"] = c.since
	if c.state != "" {
		check.Details["state"] = string(c.state)
	}
	if c.attempt > 0 {
		check.Details["attempt"] = c.attempt
	}
	if c.lastErr != nil {
		check.Details["error"] = c.lastErr.Error()
	}

	switch c.state {
	case video.SourceConnected:
		check.Status = StatusHealthy
		check.Message = "Frame source connected"
	case video.SourceLost:
		check.Status = StatusDegraded
		check.Message = "Frame source lost, reconnecting"
	case video.SourceExhausted:
		check.Status = StatusUnhealthy
		check.Message = "Frame source exhausted its reconnect attempts"
	default:
		check.Status = StatusDegraded
		check.Message = "Frame source not connected yet"
	}
	return check
}

// UsageReporter is implemented by storage.DiskMonitor
type UsageReporter interface {
	GetUsage(ctx context.Context) (*storage.DiskUsage, error)
	Threshold() float64
}

// DiskChecker checks the volume holding the history database. A full disk
// only degrades the service since retention keeps reclaiming space.
type DiskChecker struct {
	disk UsageReporter
}

func NewDiskChecker(disk UsageReporter) *DiskChecker {
	return &DiskChecker{disk: disk}
}

func (c *DiskChecker) Name() string {
	return "disk"
}

func (c *DiskChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	usage, err := c.disk.GetUsage(ctx)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Failed to read disk usage: %v", err)
		return check
	}

	check.Details["usage_percent"] = usage.UsagePercent
	check.Details["available_bytes"] = usage.AvailableBytes
	check.Details["threshold"] = c.disk.Threshold()

	if usage.UsagePercent >= c.disk.Threshold() {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage %.1f%% is above the threshold", usage.UsagePercent)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Disk usage OK"
	return check
}
