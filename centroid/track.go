package centroid

import (
	"fmt"

	"github.com/viam-modules/plate-redaction/bbox"
)

// State is where a tracked object is in its lifecycle.
type State int

const (
	// UnmatchedNew objects were registered on this frame.
	UnmatchedNew State = iota
	// Tracked objects were matched on this frame.
	Tracked
	// Disappearing objects were not seen on this frame but are still kept.
	Disappearing
	// Removed objects have been forgotten; their id is never reused.
	Removed
)

func (s State) String() string {
	switch s {
	case UnmatchedNew:
		return "unmatched-new"
	case Tracked:
		return "tracked"
	case Disappearing:
		return "disappearing"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TrackedObject is an identity carried across frames.
type TrackedObject struct {
	ID          int
	Centroid    bbox.Point
	Box         bbox.Box
	Confidence  float64
	Disappeared int
	State       State
}

func newTrackedObject(id int, obs Observation) *TrackedObject {
	return &TrackedObject{
		ID:         id,
		Centroid:   obs.Box.Centroid(),
		Box:        obs.Box,
		Confidence: obs.Confidence,
		State:      UnmatchedNew,
	}
}

func (to *TrackedObject) clone() TrackedObject {
	return *to
}

// visible reports whether the object was detected on the latest frame.
func (to *TrackedObject) visible() bool {
	return to.State == UnmatchedNew || to.State == Tracked
}

// update moves the object onto a matching observation.
func (to *TrackedObject) update(obs Observation) {
	to.Box = obs.Box
	to.Centroid = obs.Box.Centroid()
	to.Confidence = obs.Confidence
	to.Disappeared = 0
	to.State = Tracked
}

// miss counts a frame without a match and reports whether the object is now removed.
func (to *TrackedObject) miss(maxDisappeared int) bool {
	to.Disappeared++
	if to.Disappeared > maxDisappeared {
		to.State = Removed
		return true
	}
	to.State = Disappearing
	return false
}
