package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/jpeg"
	"time"
)

var (
	// ErrSourceUnavailable means the capture device failed or went away. It is
	// retryable by reopening the source.
	ErrSourceUnavailable = errors.New("frame source unavailable")

	// ErrSourceExhausted means every reconnect attempt in the backoff schedule
	// failed. It is terminal.
	ErrSourceExhausted = errors.New("frame source exhausted reconnect attempts")

	// ErrSourceClosed means the source reached its end or was closed.
	ErrSourceClosed = errors.New("frame source closed")
)

// Frame is one captured image. Frames are passed by value and never mutated
// after capture; Data must be treated as read-only.
type Frame struct {
	Data      []byte    // JPEG-encoded frame data
	Timestamp time.Time // Capture time
	Seq       uint64    // Monotonic per source, starting at 1
	Width     int       // 0 if unknown
	Height    int       // 0 if unknown
}

// FrameSource produces a lazy, potentially infinite sequence of frames.
type FrameSource interface {
	// Next blocks until a frame is available, the source closes
	// (ErrSourceClosed) or the device fails (ErrSourceUnavailable).
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// newFrame stamps captured JPEG bytes with time and dimensions. Decoding only
// the header keeps this cheap on the capture path.
func newFrame(data []byte, ts time.Time, seq uint64) Frame {
	f := Frame{Data: data, Timestamp: ts, Seq: seq}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		f.Width = cfg.Width
		f.Height = cfg.Height
	}
	return f
}
