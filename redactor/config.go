package redactor

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/viam-modules/plate-redaction/bbox"
	"github.com/viam-modules/plate-redaction/centroid"
)

// Config contains names for necessary resources (camera and vision services) and
// the tuning of the detection and tracking stages.
type Config struct {
	CameraName          string `json:"camera_name"`
	VehicleDetectorName string `json:"vehicle_detector_name"`
	PlateDetectorName   string `json:"plate_detector_name"`
	FaceDetectorName    string `json:"face_detector_name,omitempty"`

	VehicleLabels map[string]float64 `json:"vehicle_labels,omitempty"`
	PlateLabels   map[string]float64 `json:"plate_labels,omitempty"`

	VehicleThreshold *float64 `json:"vehicle_threshold,omitempty"`
	PlateThreshold   *float64 `json:"plate_threshold,omitempty"`
	FaceThreshold    *float64 `json:"face_threshold,omitempty"`

	// input shapes are [height, width]
	VehicleInputShape []int `json:"vehicle_input_shape,omitempty"`
	PlateInputShape   []int `json:"plate_input_shape,omitempty"`
	FaceInputShape    []int `json:"face_input_shape,omitempty"`

	NMSThreshold   *float64 `json:"nms_threshold,omitempty"`
	MaxDisappeared *int     `json:"max_disappeared,omitempty"`
	MaxDistance    float64  `json:"max_distance,omitempty"`
	Matcher        string   `json:"matcher,omitempty"`
	MaxGap         int      `json:"max_gap,omitempty"`
	BlurSigma      float64  `json:"blur_sigma,omitempty"`

	AnnotationsDir string `json:"annotations_dir,omitempty"`
	DatabasePath   string `json:"database_path,omitempty"`

	MaxFrequency    float64  `json:"max_frequency_hz"`
	TriggerCoolDown *float64 `json:"trigger_cool_down_s,omitempty"`
	FrameTimeoutMs  int      `json:"frame_timeout_ms,omitempty"`
}

// Validate validates the config and returns implicit dependencies: the camera and
// every detector vision service.
func (cfg *Config) Validate(path string) ([]string, error) {
	if cfg.CameraName == "" {
		return nil, fmt.Errorf(`expected "camera_name" attribute for plate redactor %q`, path)
	}
	if cfg.VehicleDetectorName == "" {
		return nil, fmt.Errorf(`expected "vehicle_detector_name" attribute for plate redactor %q`, path)
	}
	if cfg.PlateDetectorName == "" {
		return nil, fmt.Errorf(`expected "plate_detector_name" attribute for plate redactor %q`, path)
	}
	for name, th := range map[string]*float64{
		"vehicle_threshold": cfg.VehicleThreshold,
		"plate_threshold":   cfg.PlateThreshold,
		"face_threshold":    cfg.FaceThreshold,
		"nms_threshold":     cfg.NMSThreshold,
	} {
		if th != nil && (*th < 0 || *th > 1) {
			return nil, errors.Errorf("attribute %s must be between 0.0 and 1.0", name)
		}
	}
	for name, shape := range map[string][]int{
		"vehicle_input_shape": cfg.VehicleInputShape,
		"plate_input_shape":   cfg.PlateInputShape,
		"face_input_shape":    cfg.FaceInputShape,
	} {
		if _, err := parseShape(shape); err != nil {
			return nil, errors.Wrapf(err, "attribute %s", name)
		}
	}
	if cfg.MaxDisappeared != nil && *cfg.MaxDisappeared < 0 {
		return nil, errors.New("attribute max_disappeared cannot be less than 0")
	}
	if cfg.MaxDistance < 0 {
		return nil, errors.New("attribute max_distance must be a positive number")
	}
	if _, ok := centroid.NewMatcher(cfg.Matcher); !ok {
		return nil, errors.Errorf("unknown matcher %q, expected greedy or hungarian", cfg.Matcher)
	}
	if cfg.MaxGap < 0 {
		return nil, errors.New("attribute max_gap cannot be less than 0")
	}
	if cfg.AnnotationsDir != "" && cfg.DatabasePath != "" {
		return nil, errors.New("set at most one of annotations_dir and database_path")
	}
	if cfg.MaxFrequency < 0 {
		return nil, errors.New("frequency(Hz) must be a positive number")
	}
	if cfg.TriggerCoolDown != nil && *cfg.TriggerCoolDown < 0 {
		return nil, errors.New("trigger_cool_down_s is a duration given in seconds and should be above 0")
	}
	if cfg.FrameTimeoutMs < 0 {
		return nil, errors.New("frame_timeout_ms cannot be negative")
	}

	deps := []string{cfg.CameraName, cfg.VehicleDetectorName, cfg.PlateDetectorName}
	if cfg.FaceDetectorName != "" {
		deps = append(deps, cfg.FaceDetectorName)
	}
	return deps, nil
}

// parseShape reads a [height, width] pair; an empty value is the zero shape.
func parseShape(s []int) (bbox.Shape, error) {
	if len(s) == 0 {
		return bbox.Shape{}, nil
	}
	if len(s) != 2 || s[0] <= 0 || s[1] <= 0 {
		return bbox.Shape{}, errors.Errorf("input shape must be [height, width] with positive values, got %v", s)
	}
	return bbox.Shape{Height: s[0], Width: s[1]}, nil
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
