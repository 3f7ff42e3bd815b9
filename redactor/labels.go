// Package redactor implements a license plate redactor as a Viam vision service.
// This file contains methods that handle the label (or name) of a detection.
// Plates that share a label are the same tracked object.
// Plate labels are of the format license-plate_N_YYYYMMDD_HHMMSS, faces are face_N.
package redactor

import (
	"fmt"
	"image"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	objdet "go.viam.com/rdk/vision/objectdetection"

	"github.com/viam-modules/plate-redaction/annotation"
)

const (
	plateLabel = "license-plate"
	faceLabel  = "face"
)

// GetTimestamp will retrieve and format a timestamp to be YYYYMMDD_HHMMSS
func GetTimestamp() string {
	return time.Now().Format("20060102_150405")
}

// sighting is a plate as it first appeared, kept for the "logs" command.
type sighting struct {
	FullLabel string
	Label     string
	Id        int
	Time      string
}

func newSightingFromLabel(label string) (sighting, error) {
	parts := strings.Split(label, "_")
	if len(parts) < 2 {
		return sighting{}, errors.Errorf("unable to parse label %v", label)
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return sighting{}, errors.Wrapf(err, "unable to parse label %v", label)
	}
	return sighting{
		FullLabel: label,
		Label:     parts[0],
		Id:        id,
		Time:      strings.Join(parts[2:], "_"),
	}, nil
}

// nameNewPlates gives every id first seen on this frame its permanent label.
func (r *plateRedactor) nameNewPlates(ids []int) []sighting {
	fresh := make([]sighting, 0, len(ids))
	stamp := GetTimestamp()
	for _, id := range ids {
		label := fmt.Sprintf("%s_%d_%s", plateLabel, id, stamp)
		r.labels[id] = label
		s, err := newSightingFromLabel(label)
		if err != nil {
			r.logger.Error(err)
			continue
		}
		fresh = append(fresh, s)
	}
	return fresh
}

// plateLabelFor returns the label of a tracked id, naming it on first use.
func (r *plateRedactor) plateLabelFor(id int) string {
	if label, ok := r.labels[id]; ok {
		return label
	}
	label := fmt.Sprintf("%s_%d_%s", plateLabel, id, GetTimestamp())
	r.labels[id] = label
	return label
}

// toDetections converts a frame's records into vision detections, plates by id
// then faces.
func (r *plateRedactor) toDetections(plates, faces annotation.Frame) []objdet.Detection {
	dets := make([]objdet.Detection, 0, len(plates.Objects)+len(faces.Objects))
	for _, id := range sortedIDs(plates) {
		o := plates.Objects[id]
		dets = append(dets, objdet.NewDetection(toImageRect(o.Box), o.Confidence, r.plateLabelFor(id)))
	}
	for _, id := range sortedIDs(faces) {
		o := faces.Objects[id]
		dets = append(dets, objdet.NewDetection(toImageRect(o.Box), o.Confidence, faceLabel+"_"+strconv.Itoa(id)))
	}
	return dets
}

// forgetRemoved drops labels of ids the tracker no longer holds.
func (r *plateRedactor) forgetRemoved(live map[int]struct{}) {
	for id := range r.labels {
		if _, ok := live[id]; !ok {
			delete(r.labels, id)
		}
	}
}

func sortedIDs(f annotation.Frame) []int {
	ids := make([]int, 0, len(f.Objects))
	for id := range f.Objects {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func toImageRect(r annotation.Rect) image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}
