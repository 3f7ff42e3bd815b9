package interpolate

import (
	"context"
	"strconv"
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/viam-modules/plate-redaction/annotation"
)

func sequence(n int) []annotation.Frame {
	frames := make([]annotation.Frame, n)
	for i := range frames {
		frames[i] = annotation.NewFrame(i, strconv.Itoa(i))
	}
	return frames
}

func detected(r annotation.Rect) annotation.Object {
	return annotation.Object{Confidence: 0.9, Box: r}
}

func TestWorkedExample(t *testing.T) {
	frames := sequence(7)
	frames[0].Objects[0] = detected(annotation.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10})
	frames[6].Objects[0] = detected(annotation.Rect{X1: 60, Y1: 0, X2: 70, Y2: 10})

	out, fills := Interpolate(frames, DefaultMaxGap)
	test.That(t, fills, test.ShouldHaveLength, 5)
	test.That(t, out[3].Objects[0], test.ShouldResemble, annotation.Object{
		Confidence: annotation.InterpolatedConfidence,
		Box:        annotation.Rect{X1: 30, Y1: 0, X2: 40, Y2: 10},
	})
	test.That(t, out[1].Objects[0].Box, test.ShouldResemble, annotation.Rect{X1: 10, Y1: 0, X2: 20, Y2: 10})
	test.That(t, out[5].Objects[0].Box, test.ShouldResemble, annotation.Rect{X1: 50, Y1: 0, X2: 60, Y2: 10})
	for i := 1; i <= 5; i++ {
		test.That(t, out[i].Objects[0].Interpolated(), test.ShouldBeTrue)
	}
	// endpoints untouched and input not mutated
	test.That(t, out[0].Objects[0].Confidence, test.ShouldEqual, 0.9)
	test.That(t, frames[3].Objects, test.ShouldHaveLength, 0)
}

func TestGapTooLong(t *testing.T) {
	frames := sequence(8)
	frames[0].Objects[0] = detected(annotation.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10})
	frames[7].Objects[0] = detected(annotation.Rect{X1: 60, Y1: 0, X2: 70, Y2: 10})

	out, fills := Interpolate(frames, 5)
	test.That(t, fills, test.ShouldHaveLength, 0)
	for i := 1; i <= 6; i++ {
		test.That(t, out[i].Objects, test.ShouldHaveLength, 0)
	}
}

func TestTruncation(t *testing.T) {
	frames := sequence(4)
	frames[0].Objects[2] = detected(annotation.Rect{X1: 0, Y1: 0, X2: 1, Y2: 1})
	frames[3].Objects[2] = detected(annotation.Rect{X1: 10, Y1: 5, X2: 11, Y2: 6})

	out, _ := Interpolate(frames, DefaultMaxGap)
	// 10/3 and 20/3
	test.That(t, out[1].Objects[2].Box, test.ShouldResemble, annotation.Rect{X1: 3, Y1: 1, X2: 4, Y2: 2})
	test.That(t, out[2].Objects[2].Box, test.ShouldResemble, annotation.Rect{X1: 6, Y1: 3, X2: 7, Y2: 4})
}

func TestIndependentObjects(t *testing.T) {
	frames := sequence(4)
	a := annotation.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := annotation.Rect{X1: 100, Y1: 100, X2: 110, Y2: 110}
	frames[0].Objects[0] = detected(a)
	frames[2].Objects[0] = detected(a)
	frames[1].Objects[1] = detected(b)
	frames[3].Objects[1] = detected(b)

	out, fills := Interpolate(frames, DefaultMaxGap)
	test.That(t, fills, test.ShouldHaveLength, 2)
	test.That(t, out[1].Objects, test.ShouldHaveLength, 2)
	test.That(t, out[1].Objects[1].Confidence, test.ShouldEqual, 0.9)
	test.That(t, out[1].Objects[0].Interpolated(), test.ShouldBeTrue)
	test.That(t, out[2].Objects[1].Interpolated(), test.ShouldBeTrue)
	// open-ended runs are never extrapolated
	test.That(t, out[3].Objects, test.ShouldHaveLength, 1)
}

func TestMissingFrameBreaksRun(t *testing.T) {
	frames := sequence(5)
	frames[0].Objects[0] = detected(annotation.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10})
	frames[4].Objects[0] = detected(annotation.Rect{X1: 40, Y1: 0, X2: 50, Y2: 10})
	// frame 2 was never recorded
	frames = append(frames[:2], frames[3:]...)

	out, fills := Interpolate(frames, DefaultMaxGap)
	test.That(t, fills, test.ShouldHaveLength, 0)
	test.That(t, out, test.ShouldHaveLength, 4)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	store := annotation.NewFileStore(t.TempDir())
	frames := sequence(4)
	frames[0].Objects[0] = detected(annotation.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10})
	frames[3].Objects[0] = detected(annotation.Rect{X1: 30, Y1: 0, X2: 40, Y2: 10})
	for _, f := range frames {
		test.That(t, store.Put(ctx, annotation.LicensePlates, "cam", f), test.ShouldBeNil)
	}

	ip := Interpolator{Logger: logging.NewTestLogger(t)}
	stats, err := ip.Run(ctx, store, annotation.LicensePlates, "cam")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats, test.ShouldResemble, Stats{Frames: 4, FramesChanged: 2, Fills: 2})

	got, err := store.Frames(ctx, annotation.LicensePlates, "cam")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got[1].Objects[0].Box, test.ShouldResemble, annotation.Rect{X1: 10, Y1: 0, X2: 20, Y2: 10})
	test.That(t, got[2].Objects[0].Box, test.ShouldResemble, annotation.Rect{X1: 20, Y1: 0, X2: 30, Y2: 10})

	// a second pass finds nothing left to fill
	stats, err = ip.Run(ctx, store, annotation.LicensePlates, "cam")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.Fills, test.ShouldEqual, 0)

	_, err = Interpolator{MaxGap: -1}.Run(ctx, store, annotation.LicensePlates, "cam")
	test.That(t, err, test.ShouldNotBeNil)
}
