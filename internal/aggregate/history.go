package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syukriyansyah-ipb/object-detection/internal/ai"
	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
	"github.com/syukriyansyah-ipb/object-detection/internal/service"
)

// ErrPersistenceFailure means a history entry could not be stored after all
// retries.
var ErrPersistenceFailure = errors.New("history persistence failed")

const maxRetryDelay = 30 * time.Second

// HistoryEntry records what was detected in one cycle
type HistoryEntry struct {
	ID         string
	Timestamp  time.Time
	Seq        uint64
	Detections ai.DetectionSet
}

// HistoryStore persists history entries
type HistoryStore interface {
	AppendHistory(ctx context.Context, entry HistoryEntry) error
}

// WriterConfig contains configuration for the history writer
type WriterConfig struct {
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration // doubled on every retry
}

// WriterStats reports history writer counters
type WriterStats struct {
	Submitted uint64 `json:"submitted"`
	Written   uint64 `json:"written"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Pending   int    `json:"pending"`
}

// HistoryWriter persists entries in the background. Submit never blocks: when
// the buffer is full the oldest pending entry is dropped.
type HistoryWriter struct {
	*service.ServiceBase

	store HistoryStore
	cfg   WriterConfig
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	pending []HistoryEntry
	notify  chan struct{}

	submitted atomic.Uint64
	written   atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	ctx     context.Context
	cancel  context.CancelFunc
	stopped  chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewHistoryWriter creates a writer for store
func NewHistoryWriter(store HistoryStore, cfg WriterConfig, log *logger.Logger) *HistoryWriter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	return &HistoryWriter{
		ServiceBase: service.NewServiceBase("history-writer", log),
		store:       store,
		cfg:         cfg,
		sleep:       sleepContext,
		pending:     make([]HistoryEntry, 0, cfg.BufferSize),
		notify:      make(chan struct{}, 1),
	}
}

// Start starts the background worker
func (w *HistoryWriter) Start(ctx context.Context) error {
	w.GetStatus().SetStatus(service.StatusStarting)

	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.stopped = make(chan struct{})
	w.done = make(chan struct{})

	go w.run()

	w.GetStatus().SetStatus(service.StatusRunning)
	w.LogInfo("History writer started", "buffer_size", w.cfg.BufferSize, "max_retries", w.cfg.MaxRetries)
	return nil
}

// Stop flushes pending entries with one attempt each, until ctx expires
func (w *HistoryWriter) Stop(ctx context.Context) error {
	if w.done == nil {
		return nil
	}
	first := false
	w.stopOnce.Do(func() {
		first = true
		close(w.stopped)
	})
	if !first {
		<-w.done
		return nil
	}
	w.GetStatus().SetStatus(service.StatusStopping)

	select {
	case <-w.done:
	case <-ctx.Done():
		w.cancel()
		<-w.done
	}
	w.cancel()

	w.GetStatus().SetStatus(service.StatusStopped)
	stats := w.Stats()
	w.LogInfo("History writer stopped",
		"written", stats.Written,
		"dropped", stats.Dropped,
		"failed", stats.Failed,
		"unflushed", stats.Pending,
	)
	return nil
}

// Submit queues entry for persistence without blocking
func (w *HistoryWriter) Submit(entry HistoryEntry) {
	w.submitted.Add(1)

	w.mu.Lock()
	if len(w.pending) >= w.cfg.BufferSize {
		w.pending[0] = HistoryEntry{}
		w.pending = w.pending[1:]
		w.dropped.Add(1)
	}
	w.pending = append(w.pending, entry)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the writer counters
func (w *HistoryWriter) Stats() WriterStats {
	w.mu.Lock()
	pending := len(w.pending)
	w.mu.Unlock()

	return WriterStats{
		Submitted: w.submitted.Load(),
		Written:   w.written.Load(),
		Dropped:   w.dropped.Load(),
		Failed:    w.failed.Load(),
		Pending:   pending,
	}
}

func (w *HistoryWriter) next() (HistoryEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return HistoryEntry{}, false
	}
	entry := w.pending[0]
	w.pending[0] = HistoryEntry{}
	w.pending = w.pending[1:]
	return entry, true
}

func (w *HistoryWriter) run() {
	defer close(w.done)

	for {
		select {
		case <-w.stopped:
			w.flush()
			return
		case <-w.notify:
		}

		for {
			entry, ok := w.next()
			if !ok {
				break
			}
			if err := w.write(entry, w.cfg.MaxRetries); err != nil {
				w.fail(entry, err)
			}
		}
	}
}

func (w *HistoryWriter) flush() {
	for {
		if w.ctx.Err() != nil {
			return
		}
		entry, ok := w.next()
		if !ok {
			return
		}
		if err := w.write(entry, 0); err != nil {
			w.fail(entry, err)
		}
	}
}

// write stores entry, retrying with exponential backoff. Retries stop early
// when the writer is stopping.
func (w *HistoryWriter) write(entry HistoryEntry, retries int) error {
	delay := w.cfg.RetryDelay
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-w.stopped:
				return fmt.Errorf("%w: entry %d abandoned on shutdown: %v", ErrPersistenceFailure, entry.Seq, lastErr)
			default:
			}
			if err := w.sleep(w.ctx, delay); err != nil {
				return fmt.Errorf("%w: entry %d: %v", ErrPersistenceFailure, entry.Seq, lastErr)
			}
			delay *= 2
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}

		err := w.store.AppendHistory(w.ctx, entry)
		if err == nil {
			w.written.Add(1)
			return nil
		}
		lastErr = err
		w.LogDebug("History write attempt failed", "seq", entry.Seq, "attempt", attempt+1, "error", err)
	}

	return fmt.Errorf("%w: entry %d after %d attempts: %v", ErrPersistenceFailure, entry.Seq, retries+1, lastErr)
}

func (w *HistoryWriter) fail(entry HistoryEntry, err error) {
	w.failed.Add(1)
	w.LogError("Failed to persist history entry", err, "seq", entry.Seq)
	w.PublishEvent(service.EventTypeHistoryFailed, map[string]interface{}{
		"seq":   entry.Seq,
		"error": err.Error(),
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
