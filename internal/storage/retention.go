package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syukriyansyah-ipb/object-detection/internal/config"
	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
	"github.com/syukriyansyah-ipb/object-detection/internal/service"
)

// ErrEnforcing is returned when a previous pass is still running
var ErrEnforcing = errors.New("retention is already being enforced")

// HistoryPruner is implemented by the state manager
type HistoryPruner interface {
	CountHistory(ctx context.Context) (int, error)
	DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOldestHistory(ctx context.Context, n int) (int64, error)
}

// SpaceChecker reports whether the database volume is over its threshold
type SpaceChecker interface {
	IsDiskFull(ctx context.Context) (bool, error)
	Invalidate()
}

// EnforceResult describes one retention pass
type EnforceResult struct {
	Expired   int64 // older than max age
	Trimmed   int64 // above max rows
	Reclaimed int64 // removed under disk pressure
}

// Total returns the number of rows removed
func (r EnforceResult) Total() int64 {
	return r.Expired + r.Trimmed + r.Reclaimed
}

// Retention periodically prunes detection history
type Retention struct {
	*service.ServiceBase

	cfg    config.RetentionConfig
	store  HistoryPruner
	disk   SpaceChecker
	now    func() time.Time
	pruned atomic.Int64

	mu        sync.Mutex
	enforcing bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetention creates the retention service. disk may be nil.
func NewRetention(store HistoryPruner, disk SpaceChecker, cfg config.RetentionConfig, log *logger.Logger) *Retention {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.PruneBatch <= 0 {
		cfg.PruneBatch = 1000
	}
	return &Retention{
		ServiceBase: service.NewServiceBase("history-retention", log),
		cfg:         cfg,
		store:       store,
		disk:        disk,
		now:         time.Now,
	}
}

// Pruned returns the number of rows removed since start
func (r *Retention) Pruned() int64 {
	return r.pruned.Load()
}

// Start runs a pass immediately and then once per interval
func (r *Retention) Start(ctx context.Context) error {
	r.GetStatus().SetStatus(service.StatusStarting)

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(runCtx)

	r.GetStatus().SetStatus(service.StatusRunning)
	r.LogInfo("History retention started",
		"max_age", r.cfg.MaxAge,
		"max_rows", r.cfg.MaxRows,
		"interval", r.cfg.Interval,
	)
	return nil
}

// Stop cancels the running pass and waits for it
func (r *Retention) Stop(ctx context.Context) error {
	if r.done == nil {
		return nil
	}
	r.GetStatus().SetStatus(service.StatusStopping)
	r.cancel()

	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.GetStatus().SetStatus(service.StatusStopped)
	r.LogInfo("History retention stopped", "pruned", r.Pruned())
	return nil
}

func (r *Retention) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Enforce(ctx); err != nil && ctx.Err() == nil {
			r.LogWarn("Retention pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Enforce removes expired rows, then rows above the cap, then the oldest rows
// in batches while the volume stays full.
func (r *Retention) Enforce(ctx context.Context) (EnforceResult, error) {
	var result EnforceResult

	r.mu.Lock()
	if r.enforcing {
		r.mu.Unlock()
		return result, ErrEnforcing
	}
	r.enforcing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.enforcing = false
		r.mu.Unlock()
		r.pruned.Add(result.Total())
		if result.Total() > 0 {
			r.LogInfo("Pruned detection history",
				"expired", result.Expired,
				"trimmed", result.Trimmed,
				"reclaimed", result.Reclaimed,
			)
		}
	}()

	if r.cfg.MaxAge > 0 {
		n, err := r.store.DeleteHistoryBefore(ctx, r.now().Add(-r.cfg.MaxAge))
		if err != nil {
			return result, err
		}
		result.Expired = n
	}

	if r.cfg.MaxRows > 0 {
		count, err := r.store.CountHistory(ctx)
		if err != nil {
			return result, err
		}
		if excess := count - r.cfg.MaxRows; excess > 0 {
			n, err := r.store.DeleteOldestHistory(ctx, excess)
			if err != nil {
				return result, err
			}
			result.Trimmed = n
		}
	}

	n, err := r.reclaim(ctx)
	result.Reclaimed = n
	return result, err
}

func (r *Retention) reclaim(ctx context.Context) (int64, error) {
	if r.disk == nil {
		return 0, nil
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		r.disk.Invalidate()
		full, err := r.disk.IsDiskFull(ctx)
		if err != nil {
			return total, err
		}
		if !full {
			return total, nil
		}

		n, err := r.store.DeleteOldestHistory(ctx, r.cfg.PruneBatch)
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 {
			// Nothing left to delete; the volume is full for other reasons
			r.LogWarn("Disk still full after pruning all history")
			return total, nil
		}
	}
}
