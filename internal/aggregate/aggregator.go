package aggregate

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/syukriyansyah-ipb/object-detection/internal/ai"
	"github.com/syukriyansyah-ipb/object-detection/internal/video"
)

// Submitter accepts history entries without blocking
type Submitter interface {
	Submit(entry HistoryEntry)
}

// Aggregator summarizes each cycle and hands it to the history writer
type Aggregator struct {
	history     Submitter
	recordEmpty atomic.Bool
}

// NewAggregator creates an aggregator. history may be nil to disable
// persistence.
func NewAggregator(history Submitter, recordEmpty bool) *Aggregator {
	a := &Aggregator{history: history}
	a.recordEmpty.Store(recordEmpty)
	return a
}

// SetRecordEmpty controls whether frames without detections are persisted
func (a *Aggregator) SetRecordEmpty(record bool) {
	a.recordEmpty.Store(record)
}

// Aggregate returns the counts for set and submits a history entry for frame.
// It never blocks on storage.
func (a *Aggregator) Aggregate(frame video.Frame, set ai.DetectionSet) CountSummary {
	summary := Summarize(set)

	if a.history != nil && (len(set) > 0 || a.recordEmpty.Load()) {
		detections := make(ai.DetectionSet, len(set))
		copy(detections, set)
		a.history.Submit(HistoryEntry{
			ID:         uuid.NewString(),
			Timestamp:  frame.Timestamp,
			Seq:        frame.Seq,
			Detections: detections,
		})
	}

	return summary
}
