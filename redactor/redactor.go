package redactor

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/gostream"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/vision"
	vis "go.viam.com/rdk/vision"
	"go.viam.com/rdk/vision/classification"
	objdet "go.viam.com/rdk/vision/objectdetection"
	"go.viam.com/rdk/vision/viscapture"
	viamutils "go.viam.com/utils"

	"github.com/viam-modules/plate-redaction/annotation"
	"github.com/viam-modules/plate-redaction/centroid"
	"github.com/viam-modules/plate-redaction/detector"
	"github.com/viam-modules/plate-redaction/interpolate"
	"github.com/viam-modules/plate-redaction/nms"
	"github.com/viam-modules/plate-redaction/pipeline"
	"github.com/viam-modules/plate-redaction/redact"
	"github.com/viam-modules/plate-redaction/sequence"
)

// ModelName is the name of the model
const (
	ModelName              = "plate-redactor"
	NewObjectDetectedLabel = "new-object-detected"
)

var (
	Model                  = resource.NewModel("viam", "vision", ModelName)
	errUnimplemented       = errors.New("unimplemented")
	DefaultMaxFrequency    = 10.0
	DefaultTriggerCoolDown = 5.0
)

type allSightings struct {
	mutex     sync.RWMutex
	sightings []sighting
}

type currentDetections struct {
	mutex      sync.RWMutex
	detections []objdet.Detection
}

func init() {
	resource.RegisterService(vision.API, Model, resource.Registration[vision.Service, *Config]{
		Constructor: newRedactor,
	})
}

type plateRedactor struct {
	resource.Named
	logger        logging.Logger
	cancelFunc    context.CancelFunc
	cancelContext context.Context

	triggerCancelFunc context.CancelFunc
	triggerContext    context.Context

	activeBackgroundWorkers sync.WaitGroup

	streamMu     sync.Mutex
	streamCancel context.CancelFunc
	streamDone   chan struct{}

	currDetections          currentDetections
	currImg                 atomic.Pointer[image.Image]
	allSightings            allSightings

	newInstance atomic.Bool
	coolDown    float64
	properties  vision.Properties

	// mu guards everything below; the run loop holds it for one frame at a time
	mu           sync.Mutex
	cam          camera.Camera
	camName      string
	vehicleModel *detector.Model
	plateModel   *detector.Model
	faceModel    *detector.Model
	pipeline     *pipeline.Pipeline
	annotator    *sequence.Annotator
	labels       map[int]string
	frameIndex   int
	idBase       int
	store        annotation.Store
	interpolator interpolate.Interpolator
	blur         redact.Blurrer
	frequency    float64

	statsMu   sync.Mutex
	timeStats []time.Duration
}

func newState(name resource.Name, logger logging.Logger) *plateRedactor {
	r := &plateRedactor{
		Named:  name.AsNamed(),
		logger: logger,
		labels: make(map[int]string),
		properties: vision.Properties{
			ClassificationSupported: true,
			DetectionSupported:      true,
			ObjectPCDsSupported:     false,
		},
		allSightings: allSightings{
			sightings: []sighting{},
		},
	}
	r.cancelContext, r.cancelFunc = context.WithCancel(context.Background())
	return r
}

func newRedactor(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (vision.Service, error) {
	r := newState(conf.ResourceName(), logger)
	if err := r.Reconfigure(ctx, deps, conf); err != nil {
		return nil, multierr.Combine(err, r.Close(ctx))
	}
	if err := r.startStream(ctx); err != nil {
		return nil, multierr.Combine(err, r.Close(ctx))
	}
	return r, nil
}

// startStream opens the configured camera's stream and starts the run loop on it.
func (r *plateRedactor) startStream(ctx context.Context) error {
	r.mu.Lock()
	cam, camName := r.cam, r.camName
	r.mu.Unlock()

	streamCtx, streamCancel := context.WithCancel(r.cancelContext)
	stream, err := cam.Stream(streamCtx, nil)
	if err != nil {
		streamCancel()
		return errors.Wrap(err, "unable to open camera stream")
	}
	done := make(chan struct{})
	r.streamMu.Lock()
	r.streamCancel, r.streamDone = streamCancel, done
	r.streamMu.Unlock()

	r.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		r.run(stream, streamCtx, camName)
	}, func() {
		streamCancel()
		if err := stream.Close(context.Background()); err != nil {
			r.logger.Errorf("unable to close camera stream: %s", err)
		}
		close(done)
		r.activeBackgroundWorkers.Done()
	})
	return nil
}

// stopStream ends the run loop and waits for its stream to close. It reports
// whether a loop was running.
func (r *plateRedactor) stopStream() bool {
	r.streamMu.Lock()
	cancel, done := r.streamCancel, r.streamDone
	r.streamCancel, r.streamDone = nil, nil
	r.streamMu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

// run is a (cancelable) infinite loop that takes new frames from the camera, finds and
// tracks their plates and faces, and publishes them with a blurred copy of the frame.
func (r *plateRedactor) run(stream gostream.VideoStream, cancelableCtx context.Context, camName string) {
	for {
		select {
		case <-cancelableCtx.Done():
			return
		default:
			start := time.Now()
			img, release, err := stream.Next(cancelableCtx)
			if err != nil {
				if cancelableCtx.Err() != nil {
					return
				}
				r.logger.Errorf("can't get image. got err: %s", err)
				continue
			}
			if img == nil {
				r.logger.Errorf("got nil image")
				continue
			}
			if err := r.process(cancelableCtx, camName, img); err != nil {
				r.logger.Errorf("can't process frame. got err: %s", err)
			}
			if release != nil {
				release()
			}

			took := time.Since(start)
			r.statsMu.Lock()
			r.timeStats = append(r.timeStats, took)
			r.statsMu.Unlock()
			waitFor := r.framePeriod() - took
			if waitFor > time.Microsecond {
				select {
				case <-cancelableCtx.Done():
					return
				case <-time.After(waitFor):
				}
			}
		}
	}
}

func (r *plateRedactor) framePeriod() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration((1 / r.frequency) * float64(time.Second))
}

// process moves one frame of camName through detection, suppression and tracking.
// A detector failure records the frame empty instead of failing. Frames of a camera
// that is no longer configured are dropped.
func (r *plateRedactor) process(ctx context.Context, camName string, img image.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if camName != r.camName {
		return nil
	}

	idx := r.frameIndex
	r.frameIndex++
	key := fmt.Sprintf("%06d", idx)
	bounds := img.Bounds().Sub(img.Bounds().Min)

	var res *pipeline.Result
	out, err := r.pipeline.Detect(ctx, pipeline.Frame{Camera: r.camName, Index: idx, Key: key, Image: img})
	if err != nil {
		r.logger.Errorf("frame %s recorded empty: %s", key, err)
	} else {
		res = &out
	}
	a, err := r.annotator.Annotate(idx, key, res, bounds)
	if err != nil {
		return err
	}

	fresh := r.nameNewPlates(a.NewIDs)
	dets := r.toDetections(a.Plates, a.Faces)
	r.forgetRemoved(r.annotator.Live())

	if r.store != nil {
		if err := r.store.Put(ctx, annotation.LicensePlates, r.camName, r.shift(a.Plates)); err != nil {
			r.logger.Errorf("unable to store plates of frame %s: %s", key, err)
		}
		if err := r.store.Put(ctx, annotation.Faces, r.camName, a.Faces); err != nil {
			r.logger.Errorf("unable to store faces of frame %s: %s", key, err)
		}
	}

	if len(fresh) > 0 {
		// trigger classification and schedule "untrigger"
		r.trigger()
		r.allSightings.mutex.Lock()
		r.allSightings.sightings = append(r.allSightings.sightings, fresh...)
		r.allSightings.mutex.Unlock()
	}

	var redacted image.Image = r.blur.Blur(img, redact.Rects(a.Plates, a.Faces))
	r.currImg.Store(&redacted)
	r.currDetections.mutex.Lock()
	r.currDetections.detections = dets
	r.currDetections.mutex.Unlock()
	return nil
}

// shift moves plate ids past those stored by earlier runs, so ids of different
// runs never meet in the store.
func (r *plateRedactor) shift(f annotation.Frame) annotation.Frame {
	if r.idBase == 0 {
		return f
	}
	out := annotation.NewFrame(f.Index, f.Key)
	for id, o := range f.Objects {
		out.Objects[id+r.idBase] = o
	}
	return out
}

func (r *plateRedactor) trigger() {
	if r.triggerCancelFunc != nil {
		r.triggerCancelFunc()
	}
	triggerContext, triggerCancelFunc := context.WithCancel(r.cancelContext)
	r.triggerContext = triggerContext
	r.triggerCancelFunc = triggerCancelFunc

	r.newInstance.Store(true)
	r.activeBackgroundWorkers.Add(1)

	coolDown := time.Duration(r.coolDown * float64(time.Second))
	viamutils.ManagedGo(
		func() {
			select {
			case <-time.After(coolDown):
				r.newInstance.Store(false)
				return
			case <-triggerContext.Done():
				return
			}
		},
		func() {
			r.activeBackgroundWorkers.Done()
		})
}

// Reconfigure reconfigures with new settings. Tracking restarts; frames keep being
// numbered after those already in the annotation store. A new camera gets a new
// stream, so no frame of the old camera is published under the new name.
func (r *plateRedactor) Reconfigure(ctx context.Context, deps resource.Dependencies, conf resource.Config) error {
	camChanged, err := r.reconfigure(ctx, deps, conf)
	if err != nil || !camChanged {
		return err
	}
	if !r.stopStream() {
		return nil
	}
	r.currDetections.mutex.Lock()
	r.currDetections.detections = nil
	r.currDetections.mutex.Unlock()
	r.currImg.Store(nil)
	return r.startStream(ctx)
}

func (r *plateRedactor) reconfigure(ctx context.Context, deps resource.Dependencies, conf resource.Config) (bool, error) {
	redactorConfig, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return false, errors.Errorf("Could not assert proper config for %s", ModelName)
	}
	if _, err := redactorConfig.Validate(conf.Name); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cam, err := camera.FromDependencies(deps, redactorConfig.CameraName)
	if err != nil {
		return false, errors.Wrapf(err, "unable to get camera %v for plate redactor", redactorConfig.CameraName)
	}
	vehicleModel, err := newModel(deps, "vehicle", redactorConfig.VehicleDetectorName, redactorConfig.VehicleInputShape,
		redactorConfig.VehicleLabels, valueOr(redactorConfig.VehicleThreshold, detector.DefaultVehicleThreshold))
	if err != nil {
		return false, err
	}
	plateModel, err := newModel(deps, "plate", redactorConfig.PlateDetectorName, redactorConfig.PlateInputShape,
		redactorConfig.PlateLabels, valueOr(redactorConfig.PlateThreshold, detector.DefaultPlateThreshold))
	if err != nil {
		return false, err
	}
	opts := []pipeline.Option{pipeline.WithLogger(r.logger)}
	var faceModel *detector.Model
	if redactorConfig.FaceDetectorName != "" {
		faceModel, err = newModel(deps, "face", redactorConfig.FaceDetectorName, redactorConfig.FaceInputShape,
			nil, valueOr(redactorConfig.FaceThreshold, detector.DefaultFaceThreshold))
		if err != nil {
			return false, err
		}
		opts = append(opts, pipeline.WithFaces(faceModel))
	}
	if redactorConfig.FrameTimeoutMs > 0 {
		opts = append(opts, pipeline.WithFrameTimeout(time.Duration(redactorConfig.FrameTimeoutMs)*time.Millisecond))
	}
	p, err := pipeline.New(vehicleModel, plateModel, opts...)
	if err != nil {
		return false, err
	}

	trackerConfig := centroid.DefaultConfig()
	if redactorConfig.MaxDisappeared != nil {
		trackerConfig.MaxDisappeared = *redactorConfig.MaxDisappeared
	}
	if redactorConfig.MaxDistance > 0 {
		trackerConfig.MaxDistance = redactorConfig.MaxDistance
	}
	trackerConfig.Matcher, _ = centroid.NewMatcher(redactorConfig.Matcher)
	annotator, err := sequence.NewAnnotator(trackerConfig, valueOr(redactorConfig.NMSThreshold, nms.DefaultThreshold))
	if err != nil {
		return false, err
	}

	store, err := openStore(redactorConfig)
	if err != nil {
		return false, err
	}
	frameIndex, idBase, err := resumePoint(ctx, store, redactorConfig.CameraName)
	if err != nil {
		return false, multierr.Combine(err, store.Close())
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warnf("unable to close previous annotation store: %s", err)
		}
	}

	camChanged := r.camName != "" && r.camName != redactorConfig.CameraName
	r.cam = cam
	r.camName = redactorConfig.CameraName
	r.vehicleModel, r.plateModel, r.faceModel = vehicleModel, plateModel, faceModel
	r.pipeline = p
	r.annotator = annotator
	r.labels = make(map[int]string)
	r.store = store
	r.frameIndex, r.idBase = frameIndex, idBase
	r.interpolator = interpolate.Interpolator{MaxGap: redactorConfig.MaxGap, Logger: r.logger}
	r.blur = redact.Blurrer{Sigma: redactorConfig.BlurSigma}

	r.frequency = redactorConfig.MaxFrequency
	if r.frequency == 0 {
		r.frequency = DefaultMaxFrequency
	}
	r.coolDown = valueOr(redactorConfig.TriggerCoolDown, DefaultTriggerCoolDown)

	r.statsMu.Lock()
	r.timeStats = nil
	r.statsMu.Unlock()
	return camChanged, nil
}

func newModel(
	deps resource.Dependencies,
	name, svcName string,
	shape []int,
	labels map[string]float64,
	threshold float64,
) (*detector.Model, error) {
	svc, err := vision.FromDependencies(deps, svcName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to get %s detector %v for plate redactor", name, svcName)
	}
	s, err := parseShape(shape)
	if err != nil {
		return nil, err
	}
	vd, err := detector.NewVisionDetector(svc, s, labels)
	if err != nil {
		return nil, err
	}
	return detector.NewModel(name, vd, threshold)
}

func openStore(cfg *Config) (annotation.Store, error) {
	switch {
	case cfg.DatabasePath != "":
		return annotation.OpenSQLite(cfg.DatabasePath)
	case cfg.AnnotationsDir != "":
		return annotation.NewFileStore(cfg.AnnotationsDir), nil
	default:
		return nil, nil
	}
}

// resumePoint returns the next frame index and the plate id offset for a camera
// whose store already holds frames.
func resumePoint(ctx context.Context, store annotation.Store, camera string) (int, int, error) {
	if store == nil {
		return 0, 0, nil
	}
	frames, err := store.Frames(ctx, annotation.LicensePlates, camera)
	if err != nil {
		return 0, 0, err
	}
	if len(frames) == 0 {
		return 0, 0, nil
	}
	idBase := 0
	for _, f := range frames {
		for id := range f.Objects {
			if id+1 > idBase {
				idBase = id + 1
			}
		}
	}
	return frames[len(frames)-1].Index + 1, idBase, nil
}

func (r *plateRedactor) checkCamera(cameraName string) error {
	if cameraName != r.camName {
		return errors.Errorf("Camera name given to method, %v is not the same as configured camera %v", cameraName, r.camName)
	}
	return nil
}

func (r *plateRedactor) current(ctx context.Context) ([]objdet.Detection, error) {
	select {
	case <-r.cancelContext.Done():
		return nil, r.cancelContext.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		r.currDetections.mutex.RLock()
		defer r.currDetections.mutex.RUnlock()
		return append([]objdet.Detection{}, r.currDetections.detections...), nil
	}
}

func (r *plateRedactor) classifications() classification.Classifications {
	if r.newInstance.Load() {
		return []classification.Classification{classification.NewClassification(1, NewObjectDetectedLabel)}
	}
	return []classification.Classification{}
}

func (r *plateRedactor) DetectionsFromCamera(
	ctx context.Context,
	cameraName string,
	extra map[string]interface{},
) ([]objdet.Detection, error) {
	if err := r.checkCamera(cameraName); err != nil {
		return nil, err
	}
	return r.current(ctx)
}

// Detections returns the plates and faces of the latest camera frame; img is not
// examined.
func (r *plateRedactor) Detections(ctx context.Context, img image.Image, extra map[string]interface{}) ([]objdet.Detection, error) {
	return r.current(ctx)
}

func (r *plateRedactor) ClassificationsFromCamera(
	ctx context.Context,
	cameraName string,
	n int,
	extra map[string]interface{},
) (classification.Classifications, error) {
	if err := r.checkCamera(cameraName); err != nil {
		return nil, err
	}
	return r.classifications(), nil
}

func (r *plateRedactor) Classifications(ctx context.Context, img image.Image,
	n int, extra map[string]interface{},
) (classification.Classifications, error) {
	return r.classifications(), nil
}

func (r *plateRedactor) GetProperties(ctx context.Context, extra map[string]interface{}) (*vision.Properties, error) {
	return &r.properties, nil
}

func (r *plateRedactor) GetObjectPointClouds(
	ctx context.Context,
	cameraName string,
	extra map[string]interface{},
) ([]*vis.Object, error) {
	return nil, errUnimplemented
}

// CaptureAllFromCamera returns the latest frame with its plates and faces blurred.
func (r *plateRedactor) CaptureAllFromCamera(
	ctx context.Context,
	cameraName string,
	opt viscapture.CaptureOptions,
	extra map[string]interface{},
) (viscapture.VisCapture, error) {
	var capture viscapture.VisCapture
	if opt.ReturnImage {
		if err := r.checkCamera(cameraName); err != nil {
			return viscapture.VisCapture{}, err
		}
		if img := r.currImg.Load(); img != nil {
			capture.Image = *img
		}
	}
	if opt.ReturnDetections {
		dets, err := r.current(ctx)
		if err != nil {
			return viscapture.VisCapture{}, err
		}
		capture.Detections = dets
	}
	if opt.ReturnClassifications {
		capture.Classifications = r.classifications()
	}
	return capture, nil
}

func (r *plateRedactor) Close(ctx context.Context) error {
	r.cancelFunc()
	r.activeBackgroundWorkers.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}
