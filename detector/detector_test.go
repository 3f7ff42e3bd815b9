package detector

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/rdk/services/vision"
	objdet "go.viam.com/rdk/vision/objectdetection"
	"go.viam.com/test"

	"github.com/viam-modules/plate-redaction/bbox"
)

type fakeVision struct {
	vision.Service
	gotBounds image.Rectangle
	res       []objdet.Detection
	err       error
}

func (fv *fakeVision) Detections(ctx context.Context, img image.Image, extra map[string]interface{}) ([]objdet.Detection, error) {
	fv.gotBounds = img.Bounds()
	return fv.res, fv.err
}

func TestModelThreshold(t *testing.T) {
	var seen []float64
	fn := Func{
		Shape: bbox.Shape{Height: 10, Width: 10},
		Fn: func(ctx context.Context, region Region, threshold float64) ([]Detection, error) {
			seen = append(seen, threshold)
			return []Detection{
				{Label: "car", Confidence: 0.2},
				{Label: "car", Confidence: 0.6},
			}, nil
		},
	}
	m, err := NewModel("vehicle", fn, DefaultVehicleThreshold)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.InputShape(), test.ShouldResemble, bbox.Shape{Height: 10, Width: 10})

	dets, err := m.Detect(context.Background(), Region{Key: "0"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 1)

	test.That(t, m.SetThreshold(0.1), test.ShouldBeNil)
	dets, err = m.Detect(context.Background(), Region{Key: "1"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 2)
	test.That(t, seen, test.ShouldResemble, []float64{0.25, 0.1})

	test.That(t, m.SetThreshold(1.5), test.ShouldNotBeNil)
	test.That(t, m.SetThreshold(-0.1), test.ShouldNotBeNil)
	test.That(t, m.Threshold(), test.ShouldEqual, 0.1)

	_, err = NewModel("nothing", nil, 0.5)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestModelError(t *testing.T) {
	fn := Func{Fn: func(ctx context.Context, region Region, threshold float64) ([]Detection, error) {
		return nil, errors.New("model crashed")
	}}
	m, err := NewModel("plate", fn, DefaultPlateThreshold)
	test.That(t, err, test.ShouldBeNil)
	_, err = m.Detect(context.Background(), Region{Key: "00001_0"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "model crashed")
	test.That(t, err.Error(), test.ShouldContainSubstring, "00001_0")
}

func TestLabelFilter(t *testing.T) {
	dets := []objdet.Detection{
		objdet.NewDetection(image.Rect(0, 0, 10, 10), 0.9, "Car"),
		objdet.NewDetection(image.Rect(0, 0, 10, 10), 0.3, "truck"),
		objdet.NewDetection(image.Rect(0, 0, 10, 10), 0.9, "person"),
	}
	out := NewLabelFilter(nil)(dets)
	test.That(t, out, test.ShouldHaveLength, 3)

	out = FilterDetections(map[string]float64{"car": 0.5, "truck": 0.5}, dets, 0.25)
	test.That(t, out, test.ShouldHaveLength, 1)
	test.That(t, out[0].Label(), test.ShouldEqual, "Car")

	out = FilterDetections(nil, dets, 0.5)
	test.That(t, out, test.ShouldHaveLength, 2)
}

func TestVisionDetector(t *testing.T) {
	fv := &fakeVision{res: []objdet.Detection{
		objdet.NewDetection(image.Rect(10, 20, 30, 40), 0.8, "car"),
		objdet.NewDetection(image.Rect(0, 0, 5, 5), 0.1, "car"),
	}}
	vd, err := NewVisionDetector(fv, bbox.Shape{Height: 100, Width: 200}, nil)
	test.That(t, err, test.ShouldBeNil)

	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	dets, err := vd.Detect(context.Background(), Region{Key: "f", Image: img}, 0.25)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fv.gotBounds, test.ShouldResemble, image.Rect(0, 0, 200, 100))
	test.That(t, dets, test.ShouldHaveLength, 1)
	test.That(t, dets[0].Box, test.ShouldResemble, bbox.Box{Left: 10, Top: 20, Right: 30, Bottom: 40, Space: bbox.Detector})
	test.That(t, dets[0].Confidence, test.ShouldEqual, 0.8)

	_, err = vd.Detect(context.Background(), Region{Key: "empty"}, 0.25)
	test.That(t, err, test.ShouldNotBeNil)

	fv.err = errors.New("service down")
	_, err = vd.Detect(context.Background(), Region{Key: "f", Image: img}, 0.25)
	test.That(t, err, test.ShouldNotBeNil)

	vd, err = NewVisionDetector(fv, bbox.Shape{}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vd.InputShape(), test.ShouldResemble, DefaultInputShape)

	_, err = NewVisionDetector(nil, bbox.Shape{}, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	rec := `[{"label":"plate","confidence":0.7,"box":[1,2,3,4]},{"label":"plate","confidence":0.005,"box":[0,0,1,1]}]`
	test.That(t, os.WriteFile(filepath.Join(dir, "00001_0.json"), []byte(rec), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o600), test.ShouldBeNil)

	r := &Replay{Dir: dir, Shape: bbox.Shape{Height: 416, Width: 416}}
	dets, err := r.Detect(context.Background(), Region{Key: "00001_0"}, 0.01)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldResemble, []Detection{{
		Label:      "plate",
		Confidence: 0.7,
		Box:        bbox.Box{Left: 1, Top: 2, Right: 3, Bottom: 4, Space: bbox.Detector},
	}})

	dets, err = r.Detect(context.Background(), Region{Key: "missing"}, 0.01)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 0)

	_, err = r.Detect(context.Background(), Region{Key: "broken"}, 0.01)
	test.That(t, err, test.ShouldNotBeNil)

	// recordings of different cameras never collide
	camDir := filepath.Join(dir, "seq1", "cam2")
	test.That(t, os.MkdirAll(camDir, 0o750), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(camDir, "00001_0.json"), []byte("[]"), 0o600), test.ShouldBeNil)
	dets, err = r.Detect(context.Background(), Region{Camera: "seq1/cam2", Key: "00001_0"}, 0.01)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 0)
}
