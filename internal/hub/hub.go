// Package hub runs the detection pipeline and fans each cycle out to the
// attached viewers.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/syukriyansyah-ipb/object-detection/internal/aggregate"
	"github.com/syukriyansyah-ipb/object-detection/internal/ai"
	"github.com/syukriyansyah-ipb/object-detection/internal/annotate"
	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
	"github.com/syukriyansyah-ipb/object-detection/internal/metrics"
	"github.com/syukriyansyah-ipb/object-detection/internal/service"
	"github.com/syukriyansyah-ipb/object-detection/internal/video"
)

// ErrHubClosed is returned by Attach and Run once the hub is closed
var ErrHubClosed = errors.New("stream hub closed")

// errorPause is how long Run waits after a non-terminal source error
const errorPause = 100 * time.Millisecond

// Config contains configuration for the hub
type Config struct {
	// NonOverlap fetches the next frame only after the previous cycle's
	// broadcast has started. When false, frames are prefetched into a
	// single latest-wins slot while a cycle runs.
	NonOverlap bool

	// WriteTimeout bounds one Push to a viewer
	WriteTimeout time.Duration
}

// Stats is a snapshot of hub counters
type Stats struct {
	Running          bool      `json:"running"`
	Cycles           uint64    `json:"cycles"`
	DegradedCycles   uint64    `json:"degraded_cycles"`
	DetectorFailures uint64    `json:"detector_failures"`
	EncodeFailures   uint64    `json:"encode_failures"`
	SourceErrors     uint64    `json:"source_errors"`
	PrefetchDropped  uint64    `json:"prefetch_dropped"`
	LastSeq          uint64    `json:"last_seq"`
	LastCycleAt      time.Time `json:"last_cycle_at,omitempty"`
	Viewers          int       `json:"viewers"`
	PendingViewers   int       `json:"pending_viewers"`
}

// Hub drives FrameSource -> Detector -> {Encoder, Aggregator} -> viewers.
//
// One goroutine runs cycles; every viewer has its own delivery goroutine fed
// through a single-slot latest-wins queue, so a slow viewer never stalls the
// pipeline or other viewers. The registry lock is never held across a
// detector call or a network write.
type Hub struct {
	*service.ServiceBase

	source     video.FrameSource
	detector   ai.Detector
	encoder    annotate.Encoder
	aggregator *aggregate.Aggregator
	metrics    *metrics.Metrics
	cfg        Config

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	active  map[string]*slot
	pending map[string]*slot
	closed  bool
	started bool
	running bool

	deliveries sync.WaitGroup
	runDone    chan struct{}
	runErr     chan error

	seq              atomic.Uint64
	cycles           atomic.Uint64
	degraded         atomic.Uint64
	detectorFailures atomic.Uint64
	encodeFailures   atomic.Uint64
	sourceErrors     atomic.Uint64
	prefetchDropped  atomic.Uint64
	lastCycleAt      atomic.Int64
}

// New creates a hub. The hub owns source and closes it on Close. m may be nil.
func New(
	source video.FrameSource,
	detector ai.Detector,
	encoder annotate.Encoder,
	aggregator *aggregate.Aggregator,
	cfg Config,
	m *metrics.Metrics,
	log *logger.Logger,
) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if encoder == nil {
		encoder = annotate.Passthrough{}
	}
	if aggregator == nil {
		aggregator = aggregate.NewAggregator(nil, false)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		ServiceBase: service.NewServiceBase("stream-hub", log),
		source:      source,
		detector:    detector,
		encoder:     encoder,
		aggregator:  aggregator,
		metrics:     m,
		cfg:         cfg,
		ctx:         ctx,
		cancel:      cancel,
		active:      make(map[string]*slot),
		pending:     make(map[string]*slot),
		runDone:     make(chan struct{}),
		runErr:      make(chan error, 1),
	}
}

// Attach registers v and returns its id. The viewer receives updates from the
// next broadcast on; it never sees a cycle whose broadcast already started.
func (h *Hub) Attach(v Viewer) (string, error) {
	id := uuid.NewString()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", ErrHubClosed
	}
	s := newSlot(h.ctx, id, v)
	h.pending[id] = s
	h.deliveries.Add(1)
	count := len(h.active) + len(h.pending)
	h.mu.Unlock()

	go h.deliver(s)

	if h.metrics != nil {
		h.metrics.ActiveViewers.Add(1)
		h.metrics.TotalViewers.Add(1)
	}
	h.LogInfo("Viewer attached", "viewer_id", id, "viewers", count)
	h.PublishEvent(service.EventTypeViewerAttached, map[string]interface{}{
		"viewer_id": id,
		"viewers":   count,
	})

	return id, nil
}

// Detach removes a viewer and closes it. It is idempotent and reports whether
// the viewer was attached.
func (h *Hub) Detach(id string) bool {
	return h.detach(id, nil)
}

func (h *Hub) detach(id string, cause error) bool {
	h.mu.Lock()
	s, ok := h.active[id]
	if ok {
		delete(h.active, id)
	} else if s, ok = h.pending[id]; ok {
		delete(h.pending, id)
	}
	count := len(h.active) + len(h.pending)
	h.mu.Unlock()

	if !ok {
		return false
	}

	if err := s.close(); err != nil {
		h.LogDebug("Error closing viewer", "viewer_id", id, "error", err)
	}

	if h.metrics != nil {
		h.metrics.ActiveViewers.Add(-1)
	}

	data := map[string]interface{}{
		"viewer_id": id,
		"viewers":   count,
	}
	if cause != nil {
		data["error"] = cause.Error()
		h.LogWarn("Viewer detached after write failure", "viewer_id", id, "error", cause, "viewers", count)
	} else {
		h.LogInfo("Viewer detached", "viewer_id", id, "viewers", count)
	}
	h.PublishEvent(service.EventTypeViewerDetached, data)

	return true
}

// ViewerCount returns the number of attached viewers, pending ones included
func (h *Hub) ViewerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active) + len(h.pending)
}

// ViewerIDs returns the ids of attached viewers, pending ones included
func (h *Hub) ViewerIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.active)+len(h.pending))
	for id := range h.active {
		ids = append(ids, id)
	}
	for id := range h.pending {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns a snapshot of hub counters
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	stats := Stats{
		Running:        h.running,
		Viewers:        len(h.active) + len(h.pending),
		PendingViewers: len(h.pending),
	}
	h.mu.Unlock()

	stats.Cycles = h.cycles.Load()
	stats.DegradedCycles = h.degraded.Load()
	stats.DetectorFailures = h.detectorFailures.Load()
	stats.EncodeFailures = h.encodeFailures.Load()
	stats.SourceErrors = h.sourceErrors.Load()
	stats.PrefetchDropped = h.prefetchDropped.Load()
	stats.LastSeq = h.seq.Load()
	if ns := h.lastCycleAt.Load(); ns != 0 {
		stats.LastCycleAt = time.Unix(0, ns)
	}
	return stats
}

// Run drives cycles until ctx is cancelled, the hub is closed or the source
// ends. It returns nil on cancellation or Close, video.ErrSourceClosed when a
// finite source ends and a video.ErrSourceExhausted error when reconnecting
// gave up. Per-cycle failures never stop Run.
func (h *Hub) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("stream hub can only run once")
	}
	h.started = true
	h.running = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
		close(h.runDone)
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	h.LogInfo("Stream hub running", "non_overlap", h.cfg.NonOverlap)

	var next func(context.Context) (video.Frame, error)
	if h.cfg.NonOverlap {
		next = h.source.Next
	} else {
		p := newPrefetcher(h.source, &h.prefetchDropped)
		go p.run(runCtx)
		defer func() {
			cancel()
			<-p.done
		}()
		next = p.next
	}

	for {
		frame, err := next(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				return nil
			}
			switch {
			case errors.Is(err, video.ErrSourceExhausted):
				h.LogError("Frame source exhausted, stopping stream hub", err)
				h.PublishEvent(service.EventTypeSourceExhausted, map[string]interface{}{
					"error": err.Error(),
				})
				return err
			case errors.Is(err, video.ErrSourceClosed):
				h.LogInfo("Frame source closed, stopping stream hub")
				return err
			}

			h.sourceErrors.Add(1)
			h.LogWarn("Frame source error", "error", err)
			// The prefetcher already paused after this error
			if h.cfg.NonOverlap && !sleepContext(runCtx, errorPause) {
				return nil
			}
			continue
		}

		h.runCycle(runCtx, frame)
	}
}

// runCycle performs DETECT, ENCODE+AGGREGATE and BROADCAST for one frame
func (h *Hub) runCycle(ctx context.Context, frame video.Frame) {
	start := time.Now()
	u := &Update{
		FrameSeq:  frame.Seq,
		Timestamp: frame.Timestamp,
	}

	set, err := h.detector.Detect(ctx, frame)
	inferDuration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		set = ai.DetectionSet{}
		u.DetectorFailed = true
		h.detectorFailures.Add(1)
		if h.metrics != nil {
			h.metrics.DetectorFailures.Add(1)
		}
		h.LogWarn("Detection failed, broadcasting without detections", "frame_seq", frame.Seq, "error", err)
		h.PublishEvent(service.EventTypeInferenceFailed, map[string]interface{}{
			"frame_seq": frame.Seq,
			"error":     err.Error(),
		})
	} else if h.metrics != nil {
		h.metrics.ObserveInference(inferDuration)
	}

	image, err := h.encoder.Encode(frame, set)
	if err != nil {
		image = frame.Data
		h.encodeFailures.Add(1)
		if h.metrics != nil {
			h.metrics.EncodeFailures.Add(1)
		}
		h.LogWarn("Annotation failed, broadcasting raw frame", "frame_seq", frame.Seq, "error", err)
	} else {
		u.Annotated = true
	}
	u.Image = image
	u.Counts = h.aggregator.Aggregate(frame, set)

	u.Seq = h.seq.Add(1)
	h.broadcast(u)

	h.cycles.Add(1)
	h.lastCycleAt.Store(time.Now().UnixNano())
	if u.Degraded() {
		h.degraded.Add(1)
	}
	if h.metrics != nil {
		h.metrics.Cycles.Add(1)
		if u.Degraded() {
			h.metrics.DegradedCycles.Add(1)
		}
		h.metrics.ObserveCycle(time.Since(start))
	}

	h.LogDebug("Cycle complete",
		"seq", u.Seq,
		"frame_seq", u.FrameSeq,
		"detections", len(set),
		"degraded", u.Degraded(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// broadcast promotes pending viewers and offers u to every active viewer.
// It only swaps queue slots and never blocks on a viewer.
func (h *Hub) broadcast(u *Update) {
	h.mu.Lock()
	for id, s := range h.pending {
		h.active[id] = s
		delete(h.pending, id)
	}
	targets := make([]*slot, 0, len(h.active))
	for _, s := range h.active {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		replaced, _ := s.offer(u)
		if replaced && h.metrics != nil {
			h.metrics.UpdatesReplaced.Add(1)
		}
	}
}

// deliver drains one viewer's slot until the viewer is detached
func (h *Hub) deliver(s *slot) {
	defer h.deliveries.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		u := s.take()
		if u == nil {
			continue
		}

		pushCtx, cancel := context.WithTimeout(s.ctx, h.cfg.WriteTimeout)
		err := s.viewer.Push(pushCtx, u)
		cancel()

		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if h.metrics != nil {
				h.metrics.ViewerWriteFailures.Add(1)
			}
			if !errors.Is(err, ErrViewerWriteFailure) {
				err = fmt.Errorf("%w: %v", ErrViewerWriteFailure, err)
			}
			h.detach(s.id, err)
			return
		}

		if h.metrics != nil {
			h.metrics.UpdatesSent.Add(1)
		}
	}
}

// Close stops pulling frames, detaches every viewer and waits for all
// delivery goroutines. It is safe to call more than once.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	running := h.running
	h.mu.Unlock()

	h.cancel()
	if running {
		<-h.runDone
	}

	for _, id := range h.ViewerIDs() {
		h.detach(id, nil)
	}
	h.deliveries.Wait()

	var err error
	if h.source != nil {
		err = h.source.Close()
	}

	h.LogInfo("Stream hub closed", "cycles", h.cycles.Load())
	return err
}

// Start runs the hub in the background. The result of Run is delivered on
// Done.
func (h *Hub) Start(ctx context.Context) error {
	h.GetStatus().SetStatus(service.StatusStarting)
	go func() {
		err := h.Run(h.ctx)
		if err != nil && !errors.Is(err, video.ErrSourceClosed) {
			h.GetStatus().SetError(err)
		}
		h.runErr <- err
	}()
	h.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Done delivers the result of a Run started by Start
func (h *Hub) Done() <-chan error {
	return h.runErr
}

// Stop closes the hub
func (h *Hub) Stop(ctx context.Context) error {
	h.GetStatus().SetStatus(service.StatusStopping)

	done := make(chan error, 1)
	go func() { done <- h.Close() }()

	select {
	case err := <-done:
		h.GetStatus().SetStatus(service.StatusStopped)
		return err
	case <-ctx.Done():
		return fmt.Errorf("stream hub did not stop: %w", ctx.Err())
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
