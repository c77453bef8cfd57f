package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/syukriyansyah-ipb/object-detection/internal/video"
)

// ErrInferenceFailure means the detector could not produce a result for a
// frame, because the service failed, answered garbage or timed out.
var ErrInferenceFailure = errors.New("inference failed")

// BoundingBox is an axis-aligned box in pixel space of the source frame.
// (X1, Y1) is the top-left corner and (X2, Y2) the bottom-right corner.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the box width, never negative
func (b BoundingBox) Width() float64 {
	if b.X2 < b.X1 {
		return 0
	}
	return b.X2 - b.X1
}

// Height returns the box height, never negative
func (b BoundingBox) Height() float64 {
	if b.Y2 < b.Y1 {
		return 0
	}
	return b.Y2 - b.Y1
}

// Detection is one object found in a frame
type Detection struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"` // 0.0 to 1.0
	Box        BoundingBox `json:"box"`
}

// DetectionSet holds the detections of one frame in detector output order
type DetectionSet []Detection

// Labels returns the label of every detection, in order
func (s DetectionSet) Labels() []string {
	labels := make([]string, len(s))
	for i, d := range s {
		labels[i] = d.Label
	}
	return labels
}

// Detector finds objects in a frame. Implementations must not modify the frame
// and must honour ctx cancellation.
type Detector interface {
	Detect(ctx context.Context, frame video.Frame) (DetectionSet, error)
}

// InferenceRequest represents a request to the inference service
type InferenceRequest struct {
	Image               string   `json:"image"`                          // Base64-encoded JPEG image
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"` // Optional override
	EnabledClasses      []string `json:"enabled_classes,omitempty"`      // Optional filter
}

// InferenceBox is a bounding box as reported by the inference service
type InferenceBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`   // COCO class ID
	ClassName  string  `json:"class_name"` // Human-readable class name
}

// InferenceResponse represents the response from the inference service
type InferenceResponse struct {
	BoundingBoxes   []InferenceBox `json:"bounding_boxes"`
	InferenceTimeMs float64        `json:"inference_time_ms"`
	FrameShape      []int          `json:"frame_shape"`       // [height, width]
	ModelInputShape []int          `json:"model_input_shape"` // [height, width]
	DetectionCount  int            `json:"detection_count"`
}

// Detections converts the service boxes into a DetectionSet. Boxes without a
// class name are labelled by class id.
func (r *InferenceResponse) Detections() DetectionSet {
	set := make(DetectionSet, 0, len(r.BoundingBoxes))
	for _, b := range r.BoundingBoxes {
		label := b.ClassName
		if label == "" {
			label = fmt.Sprintf("class_%d", b.ClassID)
		}
		set = append(set, Detection{
			Label:      label,
			Confidence: b.Confidence,
			Box:        BoundingBox{X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2},
		})
	}
	return set
}
