package redactor

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/viam-modules/plate-redaction/annotation"
	"github.com/viam-modules/plate-redaction/detector"
	"github.com/viam-modules/plate-redaction/interpolate"
)

type benchmark struct {
	Slowest      float64
	Fastest      float64
	Average      float64
	NumberOfRuns int
}

// DoCommand supports:
//   - "benchmark": slowest, fastest and average frame time (and n)
//   - "logs": every plate the service has named
//   - "set_thresholds": {"vehicle": x, "plate": y, "face": z}, any subset; applies from
//     the next frame on and returns the thresholds in effect
//   - "interpolate": fills plate gaps in the annotation store
func (r *plateRedactor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if cmd["benchmark"] != nil {
		out["benchmark"] = r.benchmark()
	}
	if cmd["logs"] != nil {
		r.allSightings.mutex.RLock()
		out["logs"] = append([]sighting{}, r.allSightings.sightings...)
		r.allSightings.mutex.RUnlock()
	}
	if raw, ok := cmd["set_thresholds"]; ok {
		thresholds, err := r.setThresholds(raw)
		if err != nil {
			return nil, err
		}
		out["set_thresholds"] = thresholds
	}
	if cmd["interpolate"] != nil {
		stats, err := r.interpolate(ctx)
		if err != nil {
			return nil, err
		}
		out["interpolate"] = map[string]interface{}{
			"frames":         stats.Frames,
			"frames_changed": stats.FramesChanged,
			"fills":          stats.Fills,
		}
	}
	return out, nil
}

func (r *plateRedactor) benchmark() benchmark {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	n := len(r.timeStats)
	if n == 0 {
		return benchmark{}
	}
	tmin, tmax := r.timeStats[0], r.timeStats[0]
	var sum time.Duration
	for _, tt := range r.timeStats {
		if tt < tmin {
			tmin = tt
		}
		if tt > tmax {
			tmax = tt
		}
		sum += tt
	}
	return benchmark{
		Slowest:      float64(tmax),
		Fastest:      float64(tmin),
		Average:      float64(sum / time.Duration(n)),
		NumberOfRuns: n,
	}
}

func (r *plateRedactor) setThresholds(raw interface{}) (map[string]interface{}, error) {
	values, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("set_thresholds expects an object, got %T", raw)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	models := map[string]*detector.Model{
		"vehicle": r.vehicleModel,
		"plate":   r.plateModel,
		"face":    r.faceModel,
	}
	// check everything before changing anything
	parsed := make(map[string]float64, len(values))
	for name, v := range values {
		m, ok := models[name]
		if !ok || m == nil {
			return nil, errors.Errorf("no %q detector configured", name)
		}
		th, ok := v.(float64)
		if !ok {
			return nil, errors.Errorf("threshold for %q must be a number, got %T", name, v)
		}
		if th < 0 || th > 1 {
			return nil, errors.Errorf("threshold for %q must be between 0.0 and 1.0, got %v", name, th)
		}
		parsed[name] = th
	}
	for name, th := range parsed {
		if err := models[name].SetThreshold(th); err != nil {
			return nil, err
		}
	}

	current := make(map[string]interface{}, len(models))
	for name, m := range models {
		if m != nil {
			current[name] = m.Threshold()
		}
	}
	return current, nil
}

func (r *plateRedactor) interpolate(ctx context.Context) (interpolate.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return interpolate.Stats{}, errors.New("interpolate needs annotations_dir or database_path to be configured")
	}
	return r.interpolator.Run(ctx, r.store, annotation.LicensePlates, r.camName)
}
