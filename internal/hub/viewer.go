package hub

import (
	"context"
	"errors"
	"sync"
)

// ErrViewerWriteFailure means an update could not be delivered to a viewer.
// The viewer is detached.
var ErrViewerWriteFailure = errors.New("viewer write failed")

// Viewer is the transport binding to one dashboard connection
type Viewer interface {
	// Push delivers one update. It must return once ctx is done.
	Push(ctx context.Context, u *Update) error
	Close() error
}

// slot is the single-slot latest-wins queue of one viewer
type slot struct {
	id     string
	viewer Viewer

	mu      sync.Mutex
	pending *Update
	lastSeq uint64 // highest seq offered

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func newSlot(parent context.Context, id string, v Viewer) *slot {
	ctx, cancel := context.WithCancel(parent)
	return &slot{
		id:     id,
		viewer: v,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// offer replaces any undelivered update with u. It reports whether an update
// was replaced and never blocks. Updates not newer than the last offered one
// are ignored.
func (s *slot) offer(u *Update) (replaced, accepted bool) {
	s.mu.Lock()
	if u.Seq <= s.lastSeq {
		s.mu.Unlock()
		return false, false
	}
	replaced = s.pending != nil
	s.pending = u
	s.lastSeq = u.Seq
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return replaced, true
}

// take empties the slot
func (s *slot) take() *Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.pending
	s.pending = nil
	return u
}

// close cancels delivery and closes the viewer once
func (s *slot) close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.viewer.Close()
	})
	return err
}
