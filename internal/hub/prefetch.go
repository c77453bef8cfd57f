package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/syukriyansyah-ipb/object-detection/internal/video"
)

// prefetcher keeps pulling frames while a cycle runs and holds only the
// newest one.
type prefetcher struct {
	source video.FrameSource

	mu       sync.Mutex
	frame    video.Frame
	hasFrame bool
	err      error
	dropped  *atomic.Uint64

	ready chan struct{}
	done  chan struct{}
}

// newPrefetcher counts frames replaced before a cycle took them in dropped
func newPrefetcher(source video.FrameSource, dropped *atomic.Uint64) *prefetcher {
	return &prefetcher{
		source:  source,
		dropped: dropped,
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func isTerminal(err error) bool {
	return errors.Is(err, video.ErrSourceClosed) || errors.Is(err, video.ErrSourceExhausted)
}

func (p *prefetcher) run(ctx context.Context) {
	defer close(p.done)

	for {
		frame, err := p.source.Next(ctx)
		if ctx.Err() != nil {
			return
		}

		p.mu.Lock()
		if err != nil {
			p.err = err
		} else {
			if p.hasFrame {
				p.dropped.Add(1)
			}
			p.frame = frame
			p.hasFrame = true
		}
		p.mu.Unlock()

		select {
		case p.ready <- struct{}{}:
		default:
		}

		if err != nil {
			if isTerminal(err) {
				return
			}
			if !sleepContext(ctx, errorPause) {
				return
			}
		}
	}
}

// next returns the newest prefetched frame. A pending frame is returned
// before any error; terminal errors are sticky.
func (p *prefetcher) next(ctx context.Context) (video.Frame, error) {
	for {
		p.mu.Lock()
		if p.hasFrame {
			frame := p.frame
			p.frame = video.Frame{}
			p.hasFrame = false
			p.mu.Unlock()
			return frame, nil
		}
		if err := p.err; err != nil {
			if !isTerminal(err) {
				p.err = nil
			}
			p.mu.Unlock()
			return video.Frame{}, err
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return video.Frame{}, ctx.Err()
		case <-p.ready:
		case <-p.done:
			p.mu.Lock()
			pending := p.hasFrame || p.err != nil
			p.mu.Unlock()
			if pending {
				continue
			}
			if ctx.Err() != nil {
				return video.Frame{}, ctx.Err()
			}
			return video.Frame{}, video.ErrSourceClosed
		}
	}
}
