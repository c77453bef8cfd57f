// Package aggregate turns per-frame detections into label counts and keeps an
// append-only detection history.
package aggregate

import (
	"github.com/syukriyansyah-ipb/object-detection/internal/ai"
)

// CountSummary maps each label present in a frame to its number of
// detections. Labels with no detections are absent.
type CountSummary map[string]int

// Summarize counts set by label. The result is never nil.
func Summarize(set ai.DetectionSet) CountSummary {
	summary := make(CountSummary, len(set))
	for _, d := range set {
		summary[d.Label]++
	}
	return summary
}

// Total returns the number of detections counted
func (c CountSummary) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}
