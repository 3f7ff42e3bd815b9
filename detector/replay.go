package detector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/viam-modules/plate-redaction/bbox"
)

// RecordedDetection is the on-disk form of a detection read by Replay.
type RecordedDetection struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

// Replay serves detections recorded earlier, one JSON file per region under Dir
// (<Dir>/<camera>/<key>.json holding a list of RecordedDetection). A missing file
// means the detector found nothing in that region.
type Replay struct {
	Dir   string
	Shape bbox.Shape
}

// InputShape is the resolution the recordings were made at.
func (r *Replay) InputShape() bbox.Shape {
	return r.Shape
}

// Detect loads the recording of the region.
func (r *Replay) Detect(ctx context.Context, region Region, threshold float64) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(r.Dir, region.Camera, region.Key+".json"))
	if os.IsNotExist(err) {
		return []Detection{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read recorded detections for %q", region.Key)
	}
	var recs []RecordedDetection
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, errors.Wrapf(err, "unable to parse recorded detections for %q", region.Key)
	}
	out := make([]Detection, 0, len(recs))
	for _, rec := range recs {
		if rec.Confidence < threshold {
			continue
		}
		out = append(out, Detection{
			Label:      rec.Label,
			Confidence: rec.Confidence,
			Box: bbox.Box{
				Left: rec.Box[0], Top: rec.Box[1], Right: rec.Box[2], Bottom: rec.Box[3],
				Space: bbox.Detector,
			},
		})
	}
	return out, nil
}
