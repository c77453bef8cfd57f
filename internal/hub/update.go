package hub

import (
	"time"

	"github.com/syukriyansyah-ipb/object-detection/internal/aggregate"
)

// Update is the unit broadcast to viewers once per cycle. Image and Counts
// are derived from the same frame and detection set. An Update is shared by
// every viewer and must not be modified after broadcast.
type Update struct {
	Seq       uint64 // cycle number, strictly increasing per hub
	FrameSeq  uint64 // sequence number assigned by the frame source
	Timestamp time.Time
	Image     []byte // JPEG, annotated when Annotated is set
	Counts    aggregate.CountSummary

	Annotated      bool
	DetectorFailed bool
}

// Degraded reports whether the cycle lost detections or annotation
func (u *Update) Degraded() bool {
	return u.DetectorFailed || !u.Annotated
}
