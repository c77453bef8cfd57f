package aggregate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
	"github.com/syukriyansyah-ipb/object-detection/internal/service"
)

type fakeStore struct {
	mu       sync.Mutex
	entries  []HistoryEntry
	failures int // fail this many calls before succeeding
	calls    int
	block    chan struct{}
	written  chan uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{written: make(chan uint64, 100)}
}

func (s *fakeStore) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("database is locked")
	}
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	s.written <- entry.Seq
	return nil
}

func (s *fakeStore) seqs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Seq
	}
	return out
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func waitWritten(t *testing.T, store *fakeStore, seq uint64) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-store.written:
			if got == seq {
				return
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for entry %d", seq)
		}
	}
}

func TestHistoryWriter_WritesInOrder(t *testing.T) {
	store := newFakeStore()
	w := NewHistoryWriter(store, WriterConfig{BufferSize: 8}, logger.NewNopLogger())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop(context.Background())

	for seq := uint64(1); seq <= 3; seq++ {
		w.Submit(HistoryEntry{Seq: seq})
	}
	waitWritten(t, store, 3)

	got := store.seqs()
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("Expected [1 2 3], got %v", got)
	}
	if stats := w.Stats(); stats.Written != 3 || stats.Submitted != 3 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHistoryWriter_DropsOldestWhenFull(t *testing.T) {
	store := newFakeStore()
	w := NewHistoryWriter(store, WriterConfig{BufferSize: 2}, logger.NewNopLogger())

	// Not started: entries stay pending
	for seq := uint64(1); seq <= 5; seq++ {
		w.Submit(HistoryEntry{Seq: seq})
	}

	stats := w.Stats()
	if stats.Dropped != 3 || stats.Pending != 2 {
		t.Fatalf("Expected 3 dropped and 2 pending, got %+v", stats)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitWritten(t, store, 5)
	w.Stop(context.Background())

	got := store.seqs()
	want := []uint64{4, 5}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestHistoryWriter_SubmitNeverBlocks(t *testing.T) {
	store := newFakeStore()
	store.block = make(chan struct{})
	w := NewHistoryWriter(store, WriterConfig{BufferSize: 4}, logger.NewNopLogger())
	w.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for seq := uint64(1); seq <= 100; seq++ {
			w.Submit(HistoryEntry{Seq: seq})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a stalled store")
	}

	close(store.block)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Stop(ctx)

	if stats := w.Stats(); stats.Dropped == 0 {
		t.Errorf("Expected drops with a stalled store, got %+v", stats)
	}
}

func TestHistoryWriter_RetriesThenSucceeds(t *testing.T) {
	store := newFakeStore()
	store.failures = 2
	w := NewHistoryWriter(store, WriterConfig{BufferSize: 4, MaxRetries: 3, RetryDelay: time.Millisecond}, logger.NewNopLogger())

	var delays []time.Duration
	var mu sync.Mutex
	w.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}

	w.Start(context.Background())
	defer w.Stop(context.Background())

	w.Submit(HistoryEntry{Seq: 1})
	waitWritten(t, store, 1)

	mu.Lock()
	defer mu.Unlock()
	if len(delays) != 2 || delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Errorf("Expected backoff [1ms 2ms], got %v", delays)
	}
	if stats := w.Stats(); stats.Failed != 0 || stats.Written != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHistoryWriter_FailureIsContained(t *testing.T) {
	store := newFakeStore()
	store.failures = 3
	w := NewHistoryWriter(store, WriterConfig{BufferSize: 4, MaxRetries: 2}, logger.NewNopLogger())
	w.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	bus := service.NewEventBus(10)
	defer bus.Close()
	events := bus.Subscribe(service.EventTypeHistoryFailed)
	w.SetEventBus(bus)

	w.Start(context.Background())
	defer w.Stop(context.Background())

	w.Submit(HistoryEntry{Seq: 1})
	w.Submit(HistoryEntry{Seq: 2})
	waitWritten(t, store, 2)

	select {
	case ev := <-events:
		if ev.Data["seq"] != uint64(1) {
			t.Errorf("Expected failure event for seq 1, got %v", ev.Data["seq"])
		}
	case <-time.After(time.Second):
		t.Fatal("Expected history.failed event")
	}

	if stats := w.Stats(); stats.Failed != 1 || stats.Written != 1 {
		t.Errorf("Expected 1 failed and 1 written, got %+v", stats)
	}
}

func TestHistoryWriter_StopFlushesPending(t *testing.T) {
	store := newFakeStore()
	w := NewHistoryWriter(store, WriterConfig{BufferSize: 8}, logger.NewNopLogger())
	w.sleep = noSleep

	for seq := uint64(1); seq <= 3; seq++ {
		w.Submit(HistoryEntry{Seq: seq})
	}
	// Drain the wakeup so the worker only sees the stop signal
	<-w.notify

	w.Start(context.Background())
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := store.seqs(); len(got) != 3 {
		t.Errorf("Expected 3 entries flushed on stop, got %v", got)
	}
	if w.GetStatus().GetStatus() != service.StatusStopped {
		t.Errorf("Expected status stopped, got %s", w.GetStatus().GetStatus())
	}
}

func TestHistoryWriter_StopWithoutStart(t *testing.T) {
	w := NewHistoryWriter(newFakeStore(), WriterConfig{}, logger.NewNopLogger())
	if err := w.Stop(context.Background()); err != nil {
		t.Errorf("Stop without Start should be a no-op, got %v", err)
	}
}

func TestHistoryWriter_StopTwice(t *testing.T) {
	store := newFakeStore()
	w := NewHistoryWriter(store, WriterConfig{BufferSize: 8}, logger.NewNopLogger())
	w.sleep = noSleep
	w.Start(context.Background())
	w.Submit(HistoryEntry{Seq: 1})

	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("First Stop failed: %v", err)
	}
	if err := w.Stop(context.Background()); err != nil {
		t.Errorf("Second Stop should return nil, got %v", err)
	}
	if w.GetStatus().GetStatus() != service.StatusStopped {
		t.Errorf("Expected status stopped, got %s", w.GetStatus().GetStatus())
	}
	if got := store.seqs(); len(got) != 1 {
		t.Errorf("Expected 1 entry flushed, got %v", got)
	}
}
