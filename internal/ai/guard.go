package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/syukriyansyah-ipb/object-detection/internal/logger"
	"github.com/syukriyansyah-ipb/object-detection/internal/video"
)

// Filter drops detections below MinConfidence or outside Classes. An empty
// Classes list keeps every label.
type Filter struct {
	MinConfidence float64
	Classes       []string
}

// Apply returns the detections of set that pass the filter, in order. The
// result is never nil.
func (f Filter) Apply(set DetectionSet) DetectionSet {
	out := make(DetectionSet, 0, len(set))
	for _, d := range set {
		if d.Confidence < f.MinConfidence {
			continue
		}
		if len(f.Classes) > 0 && !f.allows(d.Label) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (f Filter) allows(label string) bool {
	for _, class := range f.Classes {
		if strings.EqualFold(class, label) {
			return true
		}
	}
	return false
}

// Guard bounds every call to the wrapped Detector by a timeout and filters its
// output. A detector that ignores cancellation is abandoned when the timeout
// fires; its result is discarded.
type Guard struct {
	next    Detector
	timeout time.Duration
	logger  *logger.Logger

	filter   atomic.Pointer[Filter]
	failures atomic.Uint64
	timeouts atomic.Uint64
}

// NewGuard wraps next. timeout <= 0 disables the deadline.
func NewGuard(next Detector, timeout time.Duration, filter Filter, log *logger.Logger) *Guard {
	g := &Guard{
		next:    next,
		timeout: timeout,
		logger:  log,
	}
	g.SetFilter(filter)
	return g
}

// SetFilter replaces the filter; safe to call while Detect runs
func (g *Guard) SetFilter(filter Filter) {
	filter.Classes = append([]string(nil), filter.Classes...)
	g.filter.Store(&filter)
}

// Filter returns the filter currently applied
func (g *Guard) Filter() Filter {
	return *g.filter.Load()
}

// Failures returns how many calls failed, timeouts included
func (g *Guard) Failures() uint64 {
	return g.failures.Load()
}

// Timeouts returns how many calls hit the deadline
func (g *Guard) Timeouts() uint64 {
	return g.timeouts.Load()
}

type detectResult struct {
	set DetectionSet
	err error
}

// Detect runs the wrapped detector. Failures and timeouts wrap
// ErrInferenceFailure; cancellation of ctx itself is returned as ctx.Err().
func (g *Guard) Detect(ctx context.Context, frame video.Frame) (DetectionSet, error) {
	callCtx := ctx
	cancel := func() {}
	if g.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
	}
	defer cancel()

	results := make(chan detectResult, 1)
	go func() {
		set, err := g.next.Detect(callCtx, frame)
		results <- detectResult{set: set, err: err}
	}()

	var res detectResult
	select {
	case res = <-results:
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}

	if res.err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.failures.Add(1)
		if errors.Is(res.err, context.DeadlineExceeded) {
			g.timeouts.Add(1)
			g.logger.Warn("Detector timed out", "seq", frame.Seq, "timeout", g.timeout)
			return nil, fmt.Errorf("%w: timed out after %s", ErrInferenceFailure, g.timeout)
		}
		g.logger.Warn("Detector failed", "seq", frame.Seq, "error", res.err)
		if errors.Is(res.err, ErrInferenceFailure) {
			return nil, res.err
		}
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailure, res.err)
	}

	return g.Filter().Apply(res.set), nil
}
