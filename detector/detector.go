// Package detector models the external neural detectors (vehicle, license plate,
// face) as one capability with a runtime-adjustable confidence threshold.
package detector

import (
	"context"
	"image"
	"math"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/viam-modules/plate-redaction/bbox"
)

// Default thresholds per model family.
const (
	DefaultVehicleThreshold = 0.25
	DefaultPlateThreshold   = 0.01
	DefaultFaceThreshold    = 0.5
)

// Detection is one detector output. Box is in the space the producer documents;
// detectors return bbox.Detector boxes.
type Detection struct {
	Label      string
	Confidence float64
	Box        bbox.Box
}

// Region is the image handed to a detector. Key identifies the region within its
// camera sequence (a frame key, or frame key and crop index). Path is set when the
// region was also written to disk.
type Region struct {
	Camera string
	Key    string
	Image  image.Image
	Path   string
}

// Detector runs a model over a region at its fixed input resolution and returns
// boxes in that resolution's coordinates.
type Detector interface {
	Detect(ctx context.Context, region Region, threshold float64) ([]Detection, error)
	InputShape() bbox.Shape
}

// Model is a named detector with its own confidence threshold. The threshold may be
// changed while detections run; each call reads it once when it starts.
type Model struct {
	Name     string
	detector Detector
	bits     atomic.Uint64
}

// NewModel wraps a detector with an initial threshold.
func NewModel(name string, det Detector, threshold float64) (*Model, error) {
	if det == nil {
		return nil, errors.Errorf("model %q needs a detector", name)
	}
	m := &Model{Name: name, detector: det}
	if err := m.SetThreshold(threshold); err != nil {
		return nil, err
	}
	return m, nil
}

// SetThreshold replaces the threshold used by later Detect calls.
func (m *Model) SetThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return errors.Errorf("%s threshold must be between 0.0 and 1.0, got %v", m.Name, threshold)
	}
	m.bits.Store(math.Float64bits(threshold))
	return nil
}

// Threshold returns the current threshold.
func (m *Model) Threshold() float64 {
	return math.Float64frombits(m.bits.Load())
}

// InputShape is the resolution the wrapped detector expects.
func (m *Model) InputShape() bbox.Shape {
	return m.detector.InputShape()
}

// Detect runs the detector and drops anything under the threshold that was in effect
// when the call started.
func (m *Model) Detect(ctx context.Context, region Region) ([]Detection, error) {
	threshold := m.Threshold()
	dets, err := m.detector.Detect(ctx, region, threshold)
	if err != nil {
		return nil, errors.Wrapf(err, "%s detector failed on %q", m.Name, region.Key)
	}
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out, nil
}

// Func adapts a plain function to Detector.
type Func struct {
	Shape bbox.Shape
	Fn    func(ctx context.Context, region Region, threshold float64) ([]Detection, error)
}

// Detect calls Fn.
func (f Func) Detect(ctx context.Context, region Region, threshold float64) ([]Detection, error) {
	return f.Fn(ctx, region, threshold)
}

// InputShape returns Shape.
func (f Func) InputShape() bbox.Shape {
	return f.Shape
}
