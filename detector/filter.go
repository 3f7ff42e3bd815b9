package detector

import (
	"strings"

	objdet "go.viam.com/rdk/vision/objectdetection"
)

// NewLabelFilter returns a Detections->Detections filtering method that removes
// detections whose class name is not in chosenLabels or whose score is under the
// minimum confidence associated with it. An empty map keeps every detection.
// Input chosenLabels is the map with <"class_name": confidence> key-value pairs.
func NewLabelFilter(chosenLabels map[string]float64) objdet.Postprocessor {
	return func(detections []objdet.Detection) []objdet.Detection {
		if len(chosenLabels) < 1 {
			return detections
		}
		out := make([]objdet.Detection, 0, len(detections))
		for _, d := range detections {
			minConf, ok := chosenLabels[strings.ToLower(d.Label())]
			if ok && d.Score() >= minConf {
				out = append(out, d)
			}
		}
		return out
	}
}

// FilterDetections applies the label filter and then the model threshold.
func FilterDetections(chosenLabels map[string]float64, dets []objdet.Detection, conf float64) []objdet.Detection {
	firstPass := NewLabelFilter(chosenLabels)(dets)
	return objdet.NewScoreFilter(conf)(firstPass)
}
