// Package main is the batch redaction command. It runs recorded detections over a
// dataset of camera sequences and writes the annotation and privacy trees.
package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/plate-redaction/annotation"
	"github.com/viam-modules/plate-redaction/bbox"
	"github.com/viam-modules/plate-redaction/centroid"
	"github.com/viam-modules/plate-redaction/detector"
	"github.com/viam-modules/plate-redaction/interpolate"
	"github.com/viam-modules/plate-redaction/nms"
	"github.com/viam-modules/plate-redaction/pipeline"
	"github.com/viam-modules/plate-redaction/redact"
	"github.com/viam-modules/plate-redaction/sequence"
)

const (
	// Flags.
	flagRoot              = "root"
	flagVehicleDetections = "vehicle-detections"
	flagPlateDetections   = "plate-detections"
	flagFaceDetections    = "face-detections"
	flagVehicleThreshold  = "vehicle-threshold"
	flagPlateThreshold    = "plate-threshold"
	flagFaceThreshold     = "face-threshold"
	flagVehicleShape      = "vehicle-shape"
	flagPlateShape        = "plate-shape"
	flagFaceShape         = "face-shape"
	flagNMS               = "nms-threshold"
	flagMaxDisappeared    = "max-disappeared"
	flagMaxDistance       = "max-distance"
	flagMatcher           = "matcher"
	flagMaxGap            = "max-gap"
	flagWorkers           = "workers"
	flagRedact            = "redact"
	flagBlurSigma         = "blur-sigma"
	flagPrivacyDir        = "privacy-dir"
	flagPostprocessing    = "postprocessing"
	flagFrameStride       = "frame-stride"
	flagStore             = "store"
	flagDatabaseName      = "database-name"
	flagFrameTimeout      = "frame-timeout"
	flagScratchDir        = "scratch-dir"
	flagDebug             = "debug"

	storeFile   = "file"
	storeSQLite = "sqlite"

	defaultShape = "416x416"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		log.Fatal(err)
	}
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "redact",
		Usage: "track and blur license plates across recorded camera sequences",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagRoot,
				Usage:    "dataset `DIR` holding <sequence>/camera/<camera>/<frame> images",
				EnvVars:  []string{"REDACT_ROOT"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     flagVehicleDetections,
				Usage:    "`DIR` of recorded vehicle detections, <camera>/<key>.json",
				EnvVars:  []string{"REDACT_VEHICLE_DETECTIONS"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     flagPlateDetections,
				Usage:    "`DIR` of recorded plate detections, <camera>/<key>_<vehicle>.json",
				EnvVars:  []string{"REDACT_PLATE_DETECTIONS"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    flagFaceDetections,
				Usage:   "`DIR` of recorded face detections; faces are skipped when unset",
				EnvVars: []string{"REDACT_FACE_DETECTIONS"},
			},
			&cli.Float64Flag{
				Name:    flagVehicleThreshold,
				Value:   detector.DefaultVehicleThreshold,
				EnvVars: []string{"REDACT_VEHICLE_THRESHOLD"},
			},
			&cli.Float64Flag{
				Name:    flagPlateThreshold,
				Value:   detector.DefaultPlateThreshold,
				EnvVars: []string{"REDACT_PLATE_THRESHOLD"},
			},
			&cli.Float64Flag{
				Name:    flagFaceThreshold,
				Value:   detector.DefaultFaceThreshold,
				EnvVars: []string{"REDACT_FACE_THRESHOLD"},
			},
			&cli.StringFlag{
				Name:  flagVehicleShape,
				Usage: "vehicle detector input as `HxW`",
				Value: defaultShape,
			},
			&cli.StringFlag{
				Name:  flagPlateShape,
				Usage: "plate detector input as `HxW`",
				Value: defaultShape,
			},
			&cli.StringFlag{
				Name:  flagFaceShape,
				Usage: "face detector input as `HxW`",
				Value: defaultShape,
			},
			&cli.Float64Flag{
				Name:  flagNMS,
				Usage: "overlap above which a plate box is suppressed",
				Value: nms.DefaultThreshold,
			},
			&cli.IntFlag{
				Name:  flagMaxDisappeared,
				Usage: "frames a plate may go unseen before its id is dropped",
				Value: centroid.DefaultMaxDisappeared,
			},
			&cli.Float64Flag{
				Name:  flagMaxDistance,
				Usage: "pixels a plate centroid may move between frames",
				Value: centroid.DefaultMaxDistance,
			},
			&cli.StringFlag{
				Name:  flagMatcher,
				Usage: "greedy or hungarian",
				Value: "greedy",
			},
			&cli.IntFlag{
				Name:  flagMaxGap,
				Usage: "longest run of missed frames that is interpolated",
				Value: interpolate.DefaultMaxGap,
			},
			&cli.IntFlag{
				Name:    flagWorkers,
				Usage:   "cameras processed at once",
				Value:   1,
				EnvVars: []string{"REDACT_WORKERS"},
			},
			&cli.BoolFlag{
				Name:  flagRedact,
				Usage: "write blurred frames to <sequence>/privacy",
				Value: true,
			},
			&cli.Float64Flag{
				Name:  flagBlurSigma,
				Value: redact.DefaultSigma,
			},
			&cli.StringFlag{
				Name:  flagPrivacyDir,
				Usage: "`NAME` of the directory inside each sequence that receives blurred frames",
				Value: sequence.DefaultPrivacyDir,
			},
			&cli.BoolFlag{
				Name:  flagPostprocessing,
				Usage: "also write frames with their plate boxes outlined to <sequence>/postprocessing",
			},
			&cli.IntFlag{
				Name:  flagFrameStride,
				Usage: "keep every `N`th frame of each camera, e.g. 5 for a reduced study",
				Value: 1,
			},
			&cli.StringFlag{
				Name:    flagStore,
				Usage:   "file or sqlite",
				Value:   storeFile,
				EnvVars: []string{"REDACT_STORE"},
			},
			&cli.StringFlag{
				Name:  flagDatabaseName,
				Usage: "name of the per-sequence database under <sequence>/annotations",
				Value: "annotations.db",
			},
			&cli.DurationFlag{
				Name:  flagFrameTimeout,
				Usage: "bound on the detector calls of one frame, 0 for none",
			},
			&cli.StringFlag{
				Name:    flagScratchDir,
				Usage:   "keep vehicle crops under `DIR`/<run id> while their frame is processed",
				EnvVars: []string{"REDACT_SCRATCH_DIR"},
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	logger := logging.NewLogger("plate-redaction")
	if c.Bool(flagDebug) {
		logger = logging.NewDebugLogger("plate-redaction")
	}
	runID := uuid.NewString()
	logger = logger.Sublogger(runID[:8])

	pl, err := newPipeline(c, runID, logger)
	if err != nil {
		return err
	}
	cfg, err := sequenceConfig(c)
	if err != nil {
		return err
	}
	runner, err := sequence.NewRunner(pl, cfg, logger)
	if err != nil {
		return err
	}

	ds := sequence.Dataset{
		Root:        c.String(flagRoot),
		Workers:     c.Int(flagWorkers),
		FrameStride: c.Int(flagFrameStride),
	}
	switch c.String(flagStore) {
	case storeFile:
		ds.Open = sequence.FileStores
	case storeSQLite:
		ds.Open = sequence.SQLiteStores(c.String(flagDatabaseName))
		ds.Started = func(ctx context.Context, seqDir string, store annotation.Store) error {
			db, ok := store.(*annotation.SQLiteStore)
			if !ok {
				return nil
			}
			return db.RecordRun(ctx, runID, filepath.Base(seqDir))
		}
	default:
		return errors.Errorf("unknown store %q, expected %q or %q", c.String(flagStore), storeFile, storeSQLite)
	}

	logger.Infof("run %s over %q", runID, ds.Root)
	start := time.Now()
	stats, err := runner.RunDataset(c.Context, ds)
	logger.Infof("run %s took %v: %d frames (%d failed), %d plates (%d interpolated), %d faces, %d redacted, %d outlined",
		runID, time.Since(start), stats.Frames, stats.Failed, stats.Plates, stats.Interpolated, stats.Faces,
		stats.Redacted, stats.Outlined)
	return err
}

func newPipeline(c *cli.Context, runID string, logger logging.Logger) (*pipeline.Pipeline, error) {
	vehicles, err := replayModel(c, "vehicle", flagVehicleDetections, flagVehicleShape, flagVehicleThreshold)
	if err != nil {
		return nil, err
	}
	plates, err := replayModel(c, "plate", flagPlateDetections, flagPlateShape, flagPlateThreshold)
	if err != nil {
		return nil, err
	}
	opts := []pipeline.Option{
		pipeline.WithLogger(logger.Sublogger("pipeline")),
		pipeline.WithFrameTimeout(c.Duration(flagFrameTimeout)),
	}
	if c.String(flagFaceDetections) != "" {
		faces, err := replayModel(c, "face", flagFaceDetections, flagFaceShape, flagFaceThreshold)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithFaces(faces))
	}
	if dir := c.String(flagScratchDir); dir != "" {
		opts = append(opts, pipeline.WithScratchDir(filepath.Join(dir, runID)))
	}
	return pipeline.New(vehicles, plates, opts...)
}

func replayModel(c *cli.Context, name, dirFlag, shapeFlag, thresholdFlag string) (*detector.Model, error) {
	shape, err := parseShape(c.String(shapeFlag))
	if err != nil {
		return nil, errors.Wrapf(err, "--%s", shapeFlag)
	}
	return detector.NewModel(name, &detector.Replay{Dir: c.String(dirFlag), Shape: shape}, c.Float64(thresholdFlag))
}

func sequenceConfig(c *cli.Context) (sequence.Config, error) {
	cfg := sequence.DefaultConfig()
	matcher, ok := centroid.NewMatcher(c.String(flagMatcher))
	if !ok {
		return cfg, errors.Errorf("unknown matcher %q, expected greedy or hungarian", c.String(flagMatcher))
	}
	cfg.Tracker = centroid.Config{
		MaxDisappeared: c.Int(flagMaxDisappeared),
		MaxDistance:    c.Float64(flagMaxDistance),
		Matcher:        matcher,
	}
	cfg.NMSThreshold = c.Float64(flagNMS)
	cfg.MaxGap = c.Int(flagMaxGap)
	cfg.Redact = c.Bool(flagRedact)
	cfg.Blur = redact.Blurrer{Sigma: c.Float64(flagBlurSigma)}
	cfg.PrivacyDir = c.String(flagPrivacyDir)
	cfg.Postprocess = c.Bool(flagPostprocessing)
	if c.Int(flagFrameStride) < 1 {
		return cfg, errors.Errorf("--%s must be at least 1, got %d", flagFrameStride, c.Int(flagFrameStride))
	}
	return cfg, nil
}

// parseShape reads a detector input size written as HxW, e.g. 416x416.
func parseShape(s string) (bbox.Shape, error) {
	h, w, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return bbox.Shape{}, errors.Errorf("shape %q is not HxW", s)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return bbox.Shape{}, errors.Wrapf(err, "shape %q", s)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return bbox.Shape{}, errors.Wrapf(err, "shape %q", s)
	}
	if height <= 0 || width <= 0 {
		return bbox.Shape{}, errors.Errorf("shape %q must be positive", s)
	}
	return bbox.Shape{Height: height, Width: width}, nil
}
