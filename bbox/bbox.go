// Package bbox holds bounding boxes and the pure functions that move them between
// the coordinate spaces of a two-stage detector: the detector's fixed input
// resolution, a crop's local frame and the original camera frame.
package bbox

import (
	"fmt"
	"image"
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidBox is returned for boxes that break the ordering or negativity invariant.
	ErrInvalidBox = errors.New("invalid box")
	// ErrEmptyRect is returned when a box maps to a pixel rectangle with no area.
	ErrEmptyRect = errors.New("empty pixel rectangle")
	// ErrSpaceMismatch is returned when a box is handed to an operation for the wrong space.
	ErrSpaceMismatch = errors.New("box is in the wrong coordinate space")
)

// Space names the coordinate system a Box is expressed in.
type Space int

const (
	// Detector is the pixel grid of the fixed-resolution image fed to a detector.
	Detector Space = iota
	// CropLocal is relative to a cropped sub-image's own top-left corner.
	CropLocal
	// Original is relative to the full, unmodified camera frame.
	Original
)

func (s Space) String() string {
	switch s {
	case Detector:
		return "detector"
	case CropLocal:
		return "crop-local"
	case Original:
		return "original"
	default:
		return fmt.Sprintf("space(%d)", int(s))
	}
}

// Shape is an image resolution, height first like the detectors report it.
type Shape struct {
	Height int
	Width  int
}

// ShapeOf returns the shape of an image's bounds.
func ShapeOf(r image.Rectangle) Shape {
	return Shape{Height: r.Dy(), Width: r.Dx()}
}

func (s Shape) valid() bool {
	return s.Height > 0 && s.Width > 0
}

// Point is a real-valued position.
type Point struct {
	X, Y float64
}

// Distance returns the euclidean distance between two points.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Box is an axis-aligned rectangle (left, top, right, bottom) in a named space.
type Box struct {
	Left   float64
	Top    float64
	Right  float64
	Bottom float64
	Space  Space
}

// New builds a box and validates it.
func New(left, top, right, bottom float64, space Space) (Box, error) {
	b := Box{Left: left, Top: top, Right: right, Bottom: bottom, Space: space}
	if err := b.Validate(); err != nil {
		return Box{}, err
	}
	return b, nil
}

// FromRect converts an integer rectangle to a box in the given space.
func FromRect(r image.Rectangle, space Space) Box {
	return Box{
		Left:   float64(r.Min.X),
		Top:    float64(r.Min.Y),
		Right:  float64(r.Max.X),
		Bottom: float64(r.Max.Y),
		Space:  space,
	}
}

// Validate checks ordering, sign and finiteness of the coordinates.
func (b Box) Validate() error {
	for _, c := range []float64{b.Left, b.Top, b.Right, b.Bottom} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return errors.Wrapf(ErrInvalidBox, "non-finite coordinate in %v", b)
		}
		if c < 0 {
			return errors.Wrapf(ErrInvalidBox, "negative coordinate in %v", b)
		}
	}
	if b.Left > b.Right || b.Top > b.Bottom {
		return errors.Wrapf(ErrInvalidBox, "unordered corners in %v", b)
	}
	return nil
}

// In returns the same coordinates relabelled to another space.
func (b Box) In(space Space) Box {
	b.Space = space
	return b
}

// Width is right minus left.
func (b Box) Width() float64 {
	return b.Right - b.Left
}

// Height is bottom minus top.
func (b Box) Height() float64 {
	return b.Bottom - b.Top
}

// Centroid is the geometric center of the box.
func (b Box) Centroid() Point {
	return Point{X: (b.Left + b.Right) / 2, Y: (b.Top + b.Bottom) / 2}
}

// Rect truncates the coordinates to an integer rectangle without clamping.
func (b Box) Rect() image.Rectangle {
	return image.Rectangle{
		Min: image.Pt(int(b.Left), int(b.Top)),
		Max: image.Pt(int(b.Right), int(b.Bottom)),
	}
}

func (b Box) String() string {
	return fmt.Sprintf("[%g %g %g %g]@%v", b.Left, b.Top, b.Right, b.Bottom, b.Space)
}
