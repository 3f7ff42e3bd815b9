package detector

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.viam.com/rdk/services/vision"

	"github.com/viam-modules/plate-redaction/bbox"
)

// DefaultInputShape is the square input most darknet-style detectors are built for.
var DefaultInputShape = bbox.Shape{Height: 416, Width: 416}

// VisionDetector runs a Viam vision service as a Detector. Images are resized to the
// configured input shape before they are sent, so the service answers in detector
// coordinates.
type VisionDetector struct {
	svc    vision.Service
	shape  bbox.Shape
	labels map[string]float64
}

// NewVisionDetector wraps svc. chosenLabels restricts the classes kept (empty keeps
// all); a zero shape falls back to DefaultInputShape.
func NewVisionDetector(svc vision.Service, shape bbox.Shape, chosenLabels map[string]float64) (*VisionDetector, error) {
	if svc == nil {
		return nil, errors.New("vision detector needs a vision service")
	}
	if shape.Height <= 0 || shape.Width <= 0 {
		shape = DefaultInputShape
	}
	return &VisionDetector{svc: svc, shape: shape, labels: chosenLabels}, nil
}

// InputShape is the resolution images are resized to.
func (vd *VisionDetector) InputShape() bbox.Shape {
	return vd.shape
}

// Detect resizes the region, asks the vision service for detections and converts
// them into detector-space boxes.
func (vd *VisionDetector) Detect(ctx context.Context, region Region, threshold float64) ([]Detection, error) {
	img := region.Image
	if img == nil {
		if region.Path == "" {
			return nil, errors.Errorf("region %q has neither an image nor a path", region.Key)
		}
		var err error
		img, err = imaging.Open(region.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to open region %q", region.Key)
		}
	}
	resized := vd.resize(img)
	dets, err := vd.svc.Detections(ctx, resized, nil)
	if err != nil {
		return nil, err
	}
	dets = FilterDetections(vd.labels, dets, threshold)

	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		bb := d.BoundingBox()
		if bb == nil {
			continue
		}
		out = append(out, Detection{
			Label:      d.Label(),
			Confidence: d.Score(),
			Box:        bbox.FromRect(*bb, bbox.Detector),
		})
	}
	return out, nil
}

func (vd *VisionDetector) resize(img image.Image) image.Image {
	if bbox.ShapeOf(img.Bounds()) == vd.shape {
		return img
	}
	return imaging.Resize(img, vd.shape.Width, vd.shape.Height, imaging.Linear)
}
