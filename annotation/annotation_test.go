package annotation

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestObjectJSON(t *testing.T) {
	frame := map[int]Object{
		0: {Confidence: 0.87, Box: Rect{X1: 120, Y1: 340, X2: 180, Y2: 362}},
	}
	data, err := json.Marshal(frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, `{"0":{"confidence":0.87,"bounding box":[[120,340],[180,362]]}}`)

	empty, err := json.Marshal(map[int]Object{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(empty), test.ShouldEqual, `{}`)

	var r Rect
	test.That(t, json.Unmarshal([]byte(`[[1,2,3]]`), &r), test.ShouldNotBeNil)
	test.That(t, json.Unmarshal([]byte(`"nope"`), &r), test.ShouldNotBeNil)

	interp := Object{Confidence: InterpolatedConfidence}
	test.That(t, interp.Interpolated(), test.ShouldBeTrue)
	test.That(t, frame[0].Interpolated(), test.ShouldBeFalse)
}

func TestSortKeys(t *testing.T) {
	keys := []string{"10", "9", "b", "0001", "a", "2"}
	SortKeys(keys)
	test.That(t, keys, test.ShouldResemble, []string{"0001", "2", "9", "10", "a", "b"})
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	frames, err := s.Frames(ctx, LicensePlates, "cam1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frames, test.ShouldHaveLength, 0)

	f0 := NewFrame(0, "0")
	f0.Objects[3] = Object{Confidence: 0.5, Box: Rect{X1: 1, Y1: 2, X2: 3, Y2: 4}}
	f1 := NewFrame(1, "1")
	f2 := NewFrame(2, "2")
	f2.Objects[3] = Object{Confidence: 0.75, Box: Rect{X1: 5, Y1: 6, X2: 7, Y2: 8}}
	f2.Objects[4] = Object{Confidence: 0.25, Box: Rect{X1: 9, Y1: 9, X2: 10, Y2: 10}}
	for _, f := range []Frame{f2, f0, f1} {
		test.That(t, s.Put(ctx, LicensePlates, "cam1", f), test.ShouldBeNil)
	}

	frames, err = s.Frames(ctx, LicensePlates, "cam1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frames, test.ShouldResemble, []Frame{f0, f1, f2})

	// replace drops objects that are no longer present
	f2b := NewFrame(2, "2")
	f2b.Objects[4] = Object{Confidence: InterpolatedConfidence, Box: Rect{X1: 1, Y1: 1, X2: 2, Y2: 2}}
	test.That(t, s.Put(ctx, LicensePlates, "cam1", f2b), test.ShouldBeNil)
	frames, err = s.Frames(ctx, LicensePlates, "cam1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frames[2], test.ShouldResemble, f2b)

	// kinds and cameras are separate
	frames, err = s.Frames(ctx, Faces, "cam1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frames, test.ShouldHaveLength, 0)
	test.That(t, s.Put(ctx, LicensePlates, "cam2", NewFrame(0, "0")), test.ShouldBeNil)
	cams, err := s.Cameras(ctx, LicensePlates)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cams, test.ShouldResemble, []string{"cam1", "cam2"})
}

func TestFileStore(t *testing.T) {
	root := t.TempDir()
	s := NewFileStore(root)
	testStore(t, s)
	test.That(t, s.Close(), test.ShouldBeNil)

	data, err := os.ReadFile(filepath.Join(root, "annotations", "license-plates", "cam1", "1.json"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, `{}`)

	// no temp files are left behind
	entries, err := os.ReadDir(s.Dir(LicensePlates, "cam1"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 3)
}

func TestFileStoreIgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	s := NewFileStore(root)
	dir := s.Dir(Faces, "cam")
	test.That(t, os.MkdirAll(dir, 0o750), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "7.json"), []byte(""), 0o600), test.ShouldBeNil)

	frames, err := s.Frames(context.Background(), Faces, "cam")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frames, test.ShouldResemble, []Frame{NewFrame(0, "7")})

	test.That(t, os.WriteFile(filepath.Join(dir, "8.json"), []byte("{bad"), 0o600), test.ShouldBeNil)
	_, err = s.Frames(context.Background(), Faces, "cam")
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, s.Put(context.Background(), Faces, "cam", Frame{Index: 1}), test.ShouldNotBeNil)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "annotations.db"))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, s.Close(), test.ShouldBeNil)
	}()
	testStore(t, s)
	test.That(t, s.RecordRun(context.Background(), "run-1", "seq"), test.ShouldBeNil)
}
