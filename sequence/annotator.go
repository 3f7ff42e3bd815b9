package sequence

import (
	"image"

	"github.com/pkg/errors"

	"github.com/viam-modules/plate-redaction/annotation"
	"github.com/viam-modules/plate-redaction/bbox"
	"github.com/viam-modules/plate-redaction/centroid"
	"github.com/viam-modules/plate-redaction/detector"
	"github.com/viam-modules/plate-redaction/nms"
	"github.com/viam-modules/plate-redaction/pipeline"
)

// Annotated is the record pair of one frame.
type Annotated struct {
	Plates     annotation.Frame
	Faces      annotation.Frame
	Suppressed int
	// NewIDs lists plate ids first seen on this frame.
	NewIDs []int
}

// Annotator turns pipeline results of one camera into tracked annotation records.
// Plates are converted to pixel boxes, suppressed and tracked; faces are recorded
// by their position in the result.
type Annotator struct {
	tracker      *centroid.Tracker
	nmsThreshold float64
	nextID       int
}

// NewAnnotator returns an annotator with a fresh tracker.
func NewAnnotator(cfg centroid.Config, nmsThreshold float64) (*Annotator, error) {
	if nmsThreshold < 0 || nmsThreshold > 1 {
		return nil, errors.Errorf("nms threshold must be between 0 and 1, got %v", nmsThreshold)
	}
	tr, err := centroid.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Annotator{tracker: tr, nmsThreshold: nmsThreshold}, nil
}

// Annotate records one frame. A nil result is a failed frame: it is recorded
// empty, and the tracker still sees it so missing objects age. bounds is the
// zero-origin frame rectangle.
func (a *Annotator) Annotate(index int, key string, res *pipeline.Result, bounds image.Rectangle) (Annotated, error) {
	out := Annotated{
		Plates: annotation.NewFrame(index, key),
		Faces:  annotation.NewFrame(index, key),
		NewIDs: []int{},
	}
	var obs []centroid.Observation
	if res != nil {
		cands := candidates(res.Plates(), bounds)
		kept := nms.Suppress(cands, a.nmsThreshold)
		out.Suppressed = len(cands) - len(kept)
		obs = make([]centroid.Observation, len(kept))
		for i, c := range kept {
			obs[i] = centroid.Observation{Box: c.Box, Confidence: c.Confidence}
		}
		for i, c := range candidates(res.Faces, bounds) {
			out.Faces.Objects[i] = annotation.Object{Confidence: c.Confidence, Box: toRect(c.Box.Rect())}
		}
	}

	assigned, err := a.tracker.Update(index, obs)
	if err != nil {
		return out, err
	}
	for _, as := range assigned {
		out.Plates.Objects[as.ObjectID] = annotation.Object{Confidence: as.Confidence, Box: toRect(as.Box.Rect())}
		if as.ObjectID >= a.nextID {
			out.NewIDs = append(out.NewIDs, as.ObjectID)
			a.nextID = as.ObjectID + 1
		}
	}
	return out, nil
}

// Live returns the ids the tracker still holds, visible or disappearing.
func (a *Annotator) Live() map[int]struct{} {
	objs := a.tracker.Objects()
	live := make(map[int]struct{}, len(objs))
	for _, o := range objs {
		live[o.ID] = struct{}{}
	}
	return live
}

// candidates converts detections into integer pixel boxes inside bounds, dropping
// those that do not survive the conversion.
func candidates(dets []detector.Detection, bounds image.Rectangle) []nms.Candidate {
	out := make([]nms.Candidate, 0, len(dets))
	for _, d := range dets {
		rect, err := bbox.ToPixelRect(d.Box, bounds)
		if err != nil {
			continue
		}
		out = append(out, nms.Candidate{
			Box:        bbox.FromRect(rect, bbox.Original),
			Confidence: d.Confidence,
			Label:      d.Label,
		})
	}
	return out
}

func toRect(r image.Rectangle) annotation.Rect {
	return annotation.Rect{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}
