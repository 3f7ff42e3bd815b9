// Package annotation defines the per-frame annotation records written by the
// pipeline and rewritten by the gap interpolator, and the stores that persist them.
package annotation

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// InterpolatedConfidence marks synthesized records. Real detectors never report a
// negative confidence.
const InterpolatedConfidence = -1.0

// Kind selects an annotation tree.
type Kind string

// Annotation kinds.
const (
	LicensePlates Kind = "license-plates"
	Faces         Kind = "faces"
)

// Rect is an integer box serialized in two-point form [[x1,y1],[x2,y2]].
type Rect struct {
	X1, Y1, X2, Y2 int
}

// MarshalJSON writes the two-point form.
func (r Rect) MarshalJSON() ([]byte, error) {
	return json.Marshal([2][2]int{{r.X1, r.Y1}, {r.X2, r.Y2}})
}

// UnmarshalJSON reads the two-point form.
func (r *Rect) UnmarshalJSON(data []byte) error {
	var pts [][]int
	if err := json.Unmarshal(data, &pts); err != nil {
		return errors.Wrap(err, "bounding box must be [[x1,y1],[x2,y2]]")
	}
	if len(pts) != 2 || len(pts[0]) != 2 || len(pts[1]) != 2 {
		return errors.Errorf("bounding box must hold two points, got %v", pts)
	}
	*r = Rect{X1: pts[0][0], Y1: pts[0][1], X2: pts[1][0], Y2: pts[1][1]}
	return nil
}

// Object is one annotated object on a frame.
type Object struct {
	Confidence float64 `json:"confidence"`
	Box        Rect    `json:"bounding box"`
}

// Interpolated reports whether the record was synthesized rather than detected.
func (o Object) Interpolated() bool {
	return o.Confidence == InterpolatedConfidence
}

// Frame is the annotation of one frame. Objects is never nil once loaded or built
// with NewFrame: an empty map is the explicit "nothing detected" record.
type Frame struct {
	Index   int
	Key     string
	Objects map[int]Object
}

// NewFrame returns an empty frame record.
func NewFrame(index int, key string) Frame {
	return Frame{Index: index, Key: key, Objects: map[int]Object{}}
}

// Clone returns a deep copy.
func (f Frame) Clone() Frame {
	out := NewFrame(f.Index, f.Key)
	for id, o := range f.Objects {
		out.Objects[id] = o
	}
	return out
}

// Store persists frame annotations per kind and camera. Frames returns records in
// index order.
type Store interface {
	Put(ctx context.Context, kind Kind, camera string, frame Frame) error
	Frames(ctx context.Context, kind Kind, camera string) ([]Frame, error)
	Cameras(ctx context.Context, kind Kind) ([]string, error)
	Close() error
}

// SortKeys orders frame keys: numerically when both keys are integers, otherwise
// lexically.
func SortKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		return keyLess(keys[i], keys[j])
	})
}

func keyLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil && na != nb {
		return na < nb
	}
	return a < b
}
