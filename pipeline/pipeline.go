// Package pipeline turns one camera frame into license-plate (and face) boxes in
// original-frame coordinates. Vehicles are found first, each vehicle is cropped, and
// the plate detector runs inside every crop.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/plate-redaction/bbox"
	"github.com/viam-modules/plate-redaction/detector"
)

// ErrEmptyCrop is reported for vehicles whose crop rectangle has no area.
var ErrEmptyCrop = errors.New("empty crop")

// Frame is one image of a camera sequence.
type Frame struct {
	Camera string
	Index  int
	Key    string
	Image  image.Image
}

// Vehicle is a primary detection with the plates found inside its crop.
type Vehicle struct {
	Index     int
	Detection detector.Detection
	Crop      image.Rectangle
	Plates    []detector.Detection
}

// Skip records a detection that was dropped instead of failing the frame.
type Skip struct {
	Stage string
	Index int
	Err   error
}

// Result holds everything found in a frame, all boxes in bbox.Original space.
type Result struct {
	Vehicles []Vehicle
	Faces    []detector.Detection
	Skipped  []Skip
}

// Plates flattens the plates of every vehicle.
func (r Result) Plates() []detector.Detection {
	var out []detector.Detection
	for _, v := range r.Vehicles {
		out = append(out, v.Plates...)
	}
	return out
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFaces adds a single-stage face pass over the whole frame.
func WithFaces(faces *detector.Model) Option {
	return func(p *Pipeline) { p.faces = faces }
}

// WithScratchDir writes every vehicle crop under dir for the duration of its frame.
func WithScratchDir(dir string) Option {
	return func(p *Pipeline) { p.scratchDir = dir }
}

// WithFrameTimeout bounds the detector calls made for one frame.
func WithFrameTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithLogger sets the logger used for skipped crops.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// Pipeline is the two-stage vehicle then plate detector.
type Pipeline struct {
	vehicles   *detector.Model
	plates     *detector.Model
	faces      *detector.Model
	scratchDir string
	timeout    time.Duration
	logger     logging.Logger
}

// New builds a pipeline from the vehicle and plate models.
func New(vehicles, plates *detector.Model, opts ...Option) (*Pipeline, error) {
	if vehicles == nil || plates == nil {
		return nil, errors.New("pipeline needs both a vehicle and a plate model")
	}
	p := &Pipeline{vehicles: vehicles, plates: plates}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.NewLogger("pipeline")
	}
	return p, nil
}

// Detect runs the pipeline over one frame. Crops that cannot be made are skipped with
// a warning; a detector failure fails the frame. Scratch files are removed before
// Detect returns.
func (p *Pipeline) Detect(ctx context.Context, frame Frame) (res Result, err error) {
	if frame.Image == nil {
		return Result{}, errors.Errorf("frame %q has no image", frame.Key)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	bounds := frame.Image.Bounds()
	frameShape := bbox.ShapeOf(bounds)
	frameRect := image.Rect(0, 0, frameShape.Width, frameShape.Height)

	if p.faces != nil {
		res.Faces, err = p.detectFaces(ctx, frame, frameShape, &res)
		if err != nil {
			return Result{}, err
		}
	}

	vehicles, err := p.vehicles.Detect(ctx, detector.Region{Camera: frame.Camera, Key: frame.Key, Image: frame.Image})
	if err != nil {
		return Result{}, err
	}
	res.Vehicles = make([]Vehicle, 0, len(vehicles))
	if len(vehicles) == 0 {
		return res, nil
	}

	scratch, err := newScratch(p.scratchDir, frame)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if rerr := scratch.release(); rerr != nil {
			p.logger.Warnf("unable to remove scratch crops for frame %q: %s", frame.Key, rerr)
			err = multierr.Combine(err, rerr)
		}
	}()

	for i, v := range vehicles {
		box, serr := bbox.ScaleBox(v.Box, p.vehicles.InputShape(), frameShape)
		if serr != nil {
			p.skip(&res, frame, "vehicle", i, serr)
			continue
		}
		box = box.In(bbox.Original)
		rect, serr := bbox.ToPixelRect(box, frameRect)
		if serr != nil {
			if errors.Is(serr, bbox.ErrEmptyRect) {
				serr = errors.Wrap(ErrEmptyCrop, serr.Error())
			}
			p.skip(&res, frame, "vehicle", i, serr)
			continue
		}

		crop := imaging.Crop(frame.Image, rect.Add(bounds.Min))
		region := detector.Region{Camera: frame.Camera, Key: fmt.Sprintf("%s_%d", frame.Key, i), Image: crop}
		if region.Path, err = scratch.put(region.Key, crop); err != nil {
			return Result{}, err
		}
		plates, derr := p.plates.Detect(ctx, region)
		if derr != nil {
			return Result{}, derr
		}

		vehicle := Vehicle{
			Index:     i,
			Detection: detector.Detection{Label: v.Label, Confidence: v.Confidence, Box: box},
			Crop:      rect,
			Plates:    make([]detector.Detection, 0, len(plates)),
		}
		cropShape := bbox.ShapeOf(crop.Bounds())
		for j, pl := range plates {
			orig, merr := toOriginal(pl.Box, p.plates.InputShape(), cropShape, rect.Min)
			if merr != nil {
				p.skip(&res, frame, "plate", j, merr)
				continue
			}
			vehicle.Plates = append(vehicle.Plates, detector.Detection{
				Label:      pl.Label,
				Confidence: pl.Confidence,
				Box:        orig,
			})
		}
		res.Vehicles = append(res.Vehicles, vehicle)
	}
	return res, nil
}

func (p *Pipeline) detectFaces(ctx context.Context, frame Frame, frameShape bbox.Shape, res *Result) ([]detector.Detection, error) {
	faces, err := p.faces.Detect(ctx, detector.Region{Camera: frame.Camera, Key: frame.Key, Image: frame.Image})
	if err != nil {
		return nil, err
	}
	out := make([]detector.Detection, 0, len(faces))
	for i, f := range faces {
		box, err := bbox.ScaleBox(f.Box, p.faces.InputShape(), frameShape)
		if err != nil {
			p.skip(res, frame, "face", i, err)
			continue
		}
		out = append(out, detector.Detection{Label: f.Label, Confidence: f.Confidence, Box: box.In(bbox.Original)})
	}
	return out, nil
}

// toOriginal maps a secondary detection from the plate detector's input resolution
// to the crop's pixels and then into the original frame. Scaling happens once,
// before the translation.
func toOriginal(b bbox.Box, detShape, cropShape bbox.Shape, origin image.Point) (bbox.Box, error) {
	local, err := bbox.ScaleBox(b, detShape, cropShape)
	if err != nil {
		return bbox.Box{}, err
	}
	return bbox.TranslateBox(local.In(bbox.CropLocal), origin)
}

func (p *Pipeline) skip(res *Result, frame Frame, stage string, idx int, err error) {
	p.logger.Warnf("skipping %s %d of frame %q (camera %q): %s", stage, idx, frame.Key, frame.Camera, err)
	res.Skipped = append(res.Skipped, Skip{Stage: stage, Index: idx, Err: err})
}
