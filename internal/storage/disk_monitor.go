package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
)

// DiskMonitor reports usage of the volume holding the history database
type DiskMonitor struct {
	path            string
	maxUsagePercent float64
	logger          *logger.Logger
	statfs          func(path string) (*DiskUsage, error)

	mu            sync.RWMutex
	lastCheck     time.Time
	cacheDuration time.Duration
	cachedUsage   *DiskUsage
}

// DiskUsage contains disk usage information
type DiskUsage struct {
	TotalBytes     int64   `json:"total_bytes"`
	UsedBytes      int64   `json:"used_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

// NewDiskMonitor watches the volume that contains path. A database file path
// is resolved to its directory.
func NewDiskMonitor(path string, maxUsagePercent float64, log *logger.Logger) *DiskMonitor {
	if filepath.Ext(path) != "" {
		path = filepath.Dir(path)
	}
	return &DiskMonitor{
		path:            path,
		maxUsagePercent: maxUsagePercent,
		logger:          log,
		statfs:          statfs,
		cacheDuration:   30 * time.Second,
	}
}

// Path returns the monitored directory
func (d *DiskMonitor) Path() string {
	return d.path
}

// Threshold returns the usage percentage considered full
func (d *DiskMonitor) Threshold() float64 {
	return d.maxUsagePercent
}

// GetUsage returns current disk usage, cached for a short while
func (d *DiskMonitor) GetUsage(ctx context.Context) (*DiskUsage, error) {
	d.mu.RLock()
	if d.cachedUsage != nil && time.Since(d.lastCheck) < d.cacheDuration {
		usage := *d.cachedUsage
		d.mu.RUnlock()
		return &usage, nil
	}
	d.mu.RUnlock()

	usage, err := d.statfs(d.path)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cachedUsage = usage
	d.lastCheck = time.Now()
	d.mu.Unlock()

	copied := *usage
	return &copied, nil
}

// Invalidate drops the cached usage so the next read hits the filesystem
func (d *DiskMonitor) Invalidate() {
	d.mu.Lock()
	d.cachedUsage = nil
	d.mu.Unlock()
}

// CheckSpace reports whether usage is below the threshold
func (d *DiskMonitor) CheckSpace(ctx context.Context) (bool, error) {
	usage, err := d.GetUsage(ctx)
	if err != nil {
		return false, err
	}
	return usage.UsagePercent < d.maxUsagePercent, nil
}

// IsDiskFull returns true if disk usage is at or above the threshold
func (d *DiskMonitor) IsDiskFull(ctx context.Context) (bool, error) {
	hasSpace, err := d.CheckSpace(ctx)
	if err != nil {
		return false, err
	}
	return !hasSpace, nil
}

func statfs(path string) (*DiskUsage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(absPath, &stat); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	totalBytes := int64(stat.Blocks) * int64(stat.Bsize)
	availableBytes := int64(stat.Bavail) * int64(stat.Bsize)
	usedBytes := totalBytes - availableBytes

	var usagePercent float64
	if totalBytes > 0 {
		usagePercent = float64(usedBytes) / float64(totalBytes) * 100.0
	}

	return &DiskUsage{
		TotalBytes:     totalBytes,
		UsedBytes:      usedBytes,
		AvailableBytes: availableBytes,
		UsagePercent:   usagePercent,
	}, nil
}
