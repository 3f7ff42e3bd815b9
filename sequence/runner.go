// Package sequence drives the detection pipeline over recorded camera sequences.
// Each camera is processed strictly in frame order with its own tracker, then
// interpolated and optionally redacted.
package sequence

import (
	"context"
	"image"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/plate-redaction/annotation"
	"github.com/viam-modules/plate-redaction/centroid"
	"github.com/viam-modules/plate-redaction/interpolate"
	"github.com/viam-modules/plate-redaction/nms"
	"github.com/viam-modules/plate-redaction/pipeline"
	"github.com/viam-modules/plate-redaction/redact"
)

// Config holds the per-camera post-processing settings.
type Config struct {
	Tracker      centroid.Config
	NMSThreshold float64
	MaxGap       int
	// Redact writes blurred frames to <sequence>/<PrivacyDir>/<camera>/<frame>.png.
	Redact bool
	Blur   redact.Blurrer
	// PrivacyDir defaults to "privacy".
	PrivacyDir string
	// Postprocess writes every frame with its plate boxes outlined, interpolated
	// ones included, to <sequence>/postprocessing/<camera>/<frame>.png.
	Postprocess bool
	Outline     redact.Outliner
}

// DefaultPrivacyDir is where redacted frames are written inside a sequence.
const DefaultPrivacyDir = "privacy"

// DefaultConfig returns the tracker, suppression and gap defaults.
func DefaultConfig() Config {
	return Config{
		Tracker:      centroid.DefaultConfig(),
		NMSThreshold: nms.DefaultThreshold,
		MaxGap:       interpolate.DefaultMaxGap,
		Blur:         redact.Blurrer{Sigma: redact.DefaultSigma},
		PrivacyDir:   DefaultPrivacyDir,
		Outline:      redact.Outliner{Color: redact.DefaultOutlineColor, Width: redact.DefaultOutlineWidth},
	}
}

// Stats counts what a camera run did.
type Stats struct {
	Frames       int
	Failed       int
	Plates       int
	Faces        int
	Suppressed   int
	Interpolated int
	Redacted     int
	Outlined     int
}

func (s *Stats) add(o Stats) {
	s.Frames += o.Frames
	s.Failed += o.Failed
	s.Plates += o.Plates
	s.Faces += o.Faces
	s.Suppressed += o.Suppressed
	s.Interpolated += o.Interpolated
	s.Redacted += o.Redacted
	s.Outlined += o.Outlined
}

// Runner processes camera sequences with one shared pipeline.
type Runner struct {
	pipeline *pipeline.Pipeline
	cfg      Config
	logger   logging.Logger
}

// NewRunner returns a runner. The pipeline must be safe for concurrent use when
// the runner serves more than one camera at a time.
func NewRunner(p *pipeline.Pipeline, cfg Config, logger logging.Logger) (*Runner, error) {
	if p == nil {
		return nil, errors.New("runner needs a pipeline")
	}
	if cfg.MaxGap < 0 {
		return nil, errors.Errorf("max gap cannot be negative, got %d", cfg.MaxGap)
	}
	if _, err := NewAnnotator(cfg.Tracker, cfg.NMSThreshold); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewLogger("sequence")
	}
	return &Runner{pipeline: p, cfg: cfg, logger: logger}, nil
}

// Job is one camera of one sequence.
type Job struct {
	Camera Camera
	Frames []FrameRef
	Store  annotation.Store
}

// Run tracks every frame of the job, persists plate and face annotations, fills
// plate gaps and finally redacts. Frames whose image or detectors fail are recorded
// empty and the run goes on; frames out of order abort the job.
func (r *Runner) Run(ctx context.Context, job Job) (Stats, error) {
	logger := r.logger.Sublogger(job.Camera.Name)
	ann, err := NewAnnotator(r.cfg.Tracker, r.cfg.NMSThreshold)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, ref := range job.Frames {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		a, err := r.frame(ctx, logger, ann, job.Camera.ID(), ref, &stats)
		if err != nil {
			return stats, errors.Wrapf(err, "camera %q of %q", job.Camera.Name, job.Camera.Sequence)
		}
		if err := job.Store.Put(ctx, annotation.LicensePlates, job.Camera.Name, a.Plates); err != nil {
			return stats, err
		}
		if err := job.Store.Put(ctx, annotation.Faces, job.Camera.Name, a.Faces); err != nil {
			return stats, err
		}
		stats.Frames++
		stats.Plates += len(a.Plates.Objects)
		stats.Faces += len(a.Faces.Objects)
		logger.Debugf("frame %s: %d plates, %d faces", ref.Key, len(a.Plates.Objects), len(a.Faces.Objects))
	}

	ip := interpolate.Interpolator{MaxGap: r.cfg.MaxGap, Logger: logger}
	if r.cfg.MaxGap == 0 {
		ip.MaxGap = interpolate.DefaultMaxGap
	}
	ipStats, err := ip.Run(ctx, job.Store, annotation.LicensePlates, job.Camera.Name)
	if err != nil {
		return stats, err
	}
	stats.Interpolated = ipStats.Fills

	if r.cfg.Redact || r.cfg.Postprocess {
		if err := r.writeOutputs(ctx, logger, job, &stats); err != nil {
			return stats, err
		}
	}
	logger.Infof("finished %d frames of %q: %d plates (%d interpolated), %d faces, %d failed frames",
		stats.Frames, job.Camera.Sequence, stats.Plates, stats.Interpolated, stats.Faces, stats.Failed)
	return stats, nil
}

// frame detects and annotates one frame. Only tracker errors are returned;
// detection failures are logged and yield empty records.
func (r *Runner) frame(
	ctx context.Context,
	logger logging.Logger,
	ann *Annotator,
	camera string,
	ref FrameRef,
	stats *Stats,
) (Annotated, error) {
	var (
		res    *pipeline.Result
		bounds image.Rectangle
	)
	img, err := imaging.Open(ref.Path)
	if err == nil {
		bounds = img.Bounds().Sub(img.Bounds().Min)
		var out pipeline.Result
		out, err = r.pipeline.Detect(ctx, pipeline.Frame{Camera: camera, Index: ref.Index, Key: ref.Key, Image: img})
		res = &out
	}
	if err != nil {
		logger.Errorf("frame %s recorded empty: %v", ref.Key, err)
		stats.Failed++
		res = nil
	}
	a, err := ann.Annotate(ref.Index, ref.Key, res, bounds)
	if err != nil {
		return a, err
	}
	stats.Suppressed += a.Suppressed
	return a, nil
}

// writeOutputs blurs every plate and face of the job's frames and outlines their
// plates, interpolated ones included. Frames that cannot be read are left out.
func (r *Runner) writeOutputs(ctx context.Context, logger logging.Logger, job Job, stats *Stats) error {
	plates, err := job.Store.Frames(ctx, annotation.LicensePlates, job.Camera.Name)
	if err != nil {
		return err
	}
	faces, err := job.Store.Frames(ctx, annotation.Faces, job.Camera.Name)
	if err != nil {
		return err
	}
	faceByKey := make(map[string]annotation.Frame, len(faces))
	for _, f := range faces {
		faceByKey[f.Key] = f
	}
	plateByKey := make(map[string]annotation.Frame, len(plates))
	for _, f := range plates {
		plateByKey[f.Key] = f
	}

	privacyDir := r.cfg.PrivacyDir
	if privacyDir == "" {
		privacyDir = DefaultPrivacyDir
	}
	privacy := filepath.Join(job.Camera.Sequence, privacyDir, job.Camera.Name)
	outlines := filepath.Join(job.Camera.Sequence, "postprocessing", job.Camera.Name)
	for _, ref := range job.Frames {
		if r.cfg.Redact {
			rects := redact.Rects(plateByKey[ref.Key], faceByKey[ref.Key])
			err := r.cfg.Blur.File(ctx, ref.Path, filepath.Join(privacy, ref.Key+".png"), rects)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				logger.Warnf("frame %s not redacted: %v", ref.Key, err)
			} else {
				stats.Redacted++
			}
		}
		if r.cfg.Postprocess {
			rects := redact.Rects(plateByKey[ref.Key])
			err := r.cfg.Outline.File(ctx, ref.Path, filepath.Join(outlines, ref.Key+".png"), rects)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				logger.Warnf("frame %s not outlined: %v", ref.Key, err)
			} else {
				stats.Outlined++
			}
		}
	}
	return nil
}
