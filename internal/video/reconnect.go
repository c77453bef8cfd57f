package video

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
)

// Opener (re)opens the underlying capture device
type Opener func(ctx context.Context) (FrameSource, error)

// SourceState is reported to the state callback of a ReconnectingSource
type SourceState string

const (
	SourceConnected SourceState = "connected"
	SourceLost      SourceState = "lost"
	SourceExhausted SourceState = "exhausted"
)

// StateFunc observes connection changes. attempt counts opens since the last
// delivered frame.
type StateFunc func(state SourceState, attempt int, err error)

// ReconnectingSource wraps an Opener and reopens the device with the
// configured backoff schedule whenever it fails. Sequence numbers continue
// across reconnects. Once every step of the schedule has failed, Next returns
// ErrSourceExhausted from then on.
//
// Next must not be called concurrently; Close may be called from any goroutine.
type ReconnectingSource struct {
	open    Opener
	backoff []time.Duration
	logger  *logger.Logger
	onState StateFunc
	sleep   func(ctx context.Context, d time.Duration) error

	// consecutive failed opens or losses since the last delivered frame
	attempt int

	mu         sync.Mutex
	current    FrameSource
	seq        uint64
	reconnects uint64
	exhausted  bool
	closed     bool
}

// NewReconnectingSource creates a source that opens lazily on the first Next
func NewReconnectingSource(open Opener, backoff []time.Duration, log *logger.Logger) *ReconnectingSource {
	return &ReconnectingSource{
		open:    open,
		backoff: append([]time.Duration(nil), backoff...),
		logger:  log,
		sleep:   sleepContext,
	}
}

// OnStateChange registers fn to observe connection changes. Call before Next.
func (r *ReconnectingSource) OnStateChange(fn StateFunc) {
	r.onState = fn
}

// Reconnects returns how many times the device was reopened after a loss
func (r *ReconnectingSource) Reconnects() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconnects
}

// Next returns the next frame, reconnecting as needed
func (r *ReconnectingSource) Next(ctx context.Context) (Frame, error) {
	for {
		src, err := r.source(ctx)
		if err != nil {
			return Frame{}, err
		}

		frame, err := src.Next(ctx)
		if err == nil {
			r.attempt = 0
			r.mu.Lock()
			r.seq++
			frame.Seq = r.seq
			r.mu.Unlock()
			return frame, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, ctxErr
		}
		if r.isClosed() {
			return Frame{}, ErrSourceClosed
		}

		r.drop(src)
		if errors.Is(err, ErrSourceClosed) {
			r.mu.Lock()
			r.closed = true
			r.mu.Unlock()
			return Frame{}, ErrSourceClosed
		}

		r.attempt++
		r.logger.Warn("Frame source lost", "error", err, "attempt", r.attempt)
		r.notify(SourceLost, r.attempt, err)
	}
}

func (r *ReconnectingSource) source(ctx context.Context) (FrameSource, error) {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return nil, ErrSourceClosed
	case r.exhausted:
		r.mu.Unlock()
		return nil, ErrSourceExhausted
	case r.current != nil:
		src := r.current
		r.mu.Unlock()
		return src, nil
	}
	r.mu.Unlock()

	return r.connect(ctx)
}

func (r *ReconnectingSource) connect(ctx context.Context) (FrameSource, error) {
	var lastErr error
	for {
		if r.attempt > 0 {
			if r.attempt > len(r.backoff) {
				r.mu.Lock()
				r.exhausted = true
				r.mu.Unlock()

				err := fmt.Errorf("%w after %d attempts: %v", ErrSourceExhausted, r.attempt, lastErr)
				r.logger.Error("Frame source exhausted reconnect attempts", "attempts", r.attempt, "error", lastErr)
				r.notify(SourceExhausted, r.attempt, err)
				return nil, err
			}

			delay := r.backoff[r.attempt-1]
			r.logger.Info("Reconnecting frame source", "attempt", r.attempt, "delay", delay)
			if err := r.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		src, err := r.open(ctx)
		if err == nil {
			r.mu.Lock()
			if r.closed {
				r.mu.Unlock()
				src.Close()
				return nil, ErrSourceClosed
			}
			r.current = src
			if r.attempt > 0 {
				r.reconnects++
			}
			r.mu.Unlock()

			r.logger.Info("Frame source connected", "attempt", r.attempt)
			r.notify(SourceConnected, r.attempt, nil)
			return src, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		r.attempt++
		r.logger.Warn("Failed to open frame source", "attempt", r.attempt, "error", err)
	}
}

func (r *ReconnectingSource) drop(src FrameSource) {
	r.mu.Lock()
	if r.current == src {
		r.current = nil
	}
	r.mu.Unlock()
	if err := src.Close(); err != nil {
		r.logger.Debug("Error closing frame source", "error", err)
	}
}

func (r *ReconnectingSource) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *ReconnectingSource) notify(state SourceState, attempt int, err error) {
	if r.onState != nil {
		r.onState(state, attempt, err)
	}
}

// Close closes the current device; later calls to Next return ErrSourceClosed
func (r *ReconnectingSource) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	src := r.current
	r.current = nil
	r.mu.Unlock()

	if src != nil {
		return src.Close()
	}
	return nil
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

// FFmpegOpener returns an Opener that starts ffmpeg for input. When probe is
// non-nil, RTSP inputs are described first and a failed probe counts as a
// failed open.
func FFmpegOpener(ffmpeg *FFmpegWrapper, input string, opts CaptureOptions, probe *RTSPProbe, log *logger.Logger) Opener {
	return func(ctx context.Context) (FrameSource, error) {
		if probe != nil && ClassifyInput(input) == InputRTSP {
			info, err := probe.Probe(ctx, input)
			if err != nil {
				return nil, err
			}
			log.Debug("RTSP probe succeeded", "input", input, "video_codecs", info.VideoCodecs)
		}
		return OpenFFmpegSource(ctx, ffmpeg, input, opts, log)
	}
}

// DirectoryOpener returns an Opener that replays dir
func DirectoryOpener(dir string, fps int, loop bool) Opener {
	return func(ctx context.Context) (FrameSource, error) {
		return OpenDirectorySource(dir, fps, loop)
	}
}
