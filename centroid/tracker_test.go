package centroid

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/viam-modules/plate-redaction/bbox"
)

func obsAt(x, y float64) Observation {
	return Observation{
		Box:        bbox.Box{Left: x - 5, Top: y - 5, Right: x + 5, Bottom: y + 5, Space: bbox.Original},
		Confidence: 0.9,
	}
}

func newTestTracker(t *testing.T, cfg Config) *Tracker {
	t.Helper()
	tr, err := New(cfg)
	test.That(t, err, test.ShouldBeNil)
	return tr
}

func TestIdentityStable(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())
	frame := 0
	for ; frame < 10; frame++ {
		out, err := tr.Update(frame, []Observation{obsAt(100+float64(frame)*5, 100)})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldHaveLength, 1)
		test.That(t, out[0].ObjectID, test.ShouldEqual, 0)
	}

	// missing for exactly MaxDisappeared frames
	for i := 0; i < DefaultMaxDisappeared; i++ {
		out, err := tr.Update(frame, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldHaveLength, 0)
		frame++
	}
	objs := tr.Objects()
	test.That(t, objs, test.ShouldHaveLength, 1)
	test.That(t, objs[0].State, test.ShouldEqual, Disappearing)
	test.That(t, objs[0].Disappeared, test.ShouldEqual, DefaultMaxDisappeared)
	// last known box is retained
	test.That(t, objs[0].Centroid, test.ShouldResemble, bbox.Point{X: 145, Y: 100})

	out, err := tr.Update(frame, []Observation{obsAt(150, 100)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldHaveLength, 1)
	test.That(t, out[0].ObjectID, test.ShouldEqual, 0)
	test.That(t, tr.Objects()[0].Disappeared, test.ShouldEqual, 0)
	test.That(t, tr.Objects()[0].State, test.ShouldEqual, Tracked)
}

func TestRemoval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDisappeared = 3
	tr := newTestTracker(t, cfg)

	out, err := tr.Update(0, []Observation{obsAt(50, 50)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out[0].ObjectID, test.ShouldEqual, 0)
	test.That(t, tr.Objects()[0].State, test.ShouldEqual, UnmatchedNew)
	test.That(t, tr.Objects()[0].State.String(), test.ShouldEqual, "unmatched-new")

	for frame := 1; frame <= cfg.MaxDisappeared+1; frame++ {
		_, err := tr.Update(frame, []Observation{})
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, tr.Objects(), test.ShouldHaveLength, 0)

	out, err = tr.Update(cfg.MaxDisappeared+2, []Observation{obsAt(50, 50)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldHaveLength, 1)
	test.That(t, out[0].ObjectID, test.ShouldEqual, 1)
}

func TestOrdering(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())
	_, err := tr.Update(5, nil)
	test.That(t, err, test.ShouldBeNil)
	_, err = tr.Update(5, nil)
	test.That(t, errors.Is(err, ErrSequenceOrdering), test.ShouldBeTrue)
	_, err = tr.Update(3, nil)
	test.That(t, errors.Is(err, ErrSequenceOrdering), test.ShouldBeTrue)
	_, err = tr.Update(6, nil)
	test.That(t, err, test.ShouldBeNil)
}

func TestTwoObjects(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())
	out, err := tr.Update(0, []Observation{obsAt(100, 100), obsAt(400, 100)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldHaveLength, 2)

	// swapped input order, small displacement
	out, err = tr.Update(1, []Observation{obsAt(410, 100), obsAt(110, 100)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldHaveLength, 2)
	test.That(t, out[0].ObjectID, test.ShouldEqual, 0)
	test.That(t, out[0].Box.Centroid(), test.ShouldResemble, bbox.Point{X: 110, Y: 100})
	test.That(t, out[1].ObjectID, test.ShouldEqual, 1)
	test.That(t, out[1].Box.Centroid(), test.ShouldResemble, bbox.Point{X: 410, Y: 100})

	// one jumps too far: it becomes a new object and the old one disappears
	out, err = tr.Update(2, []Observation{obsAt(115, 100), obsAt(600, 400)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldHaveLength, 2)
	test.That(t, out[0].ObjectID, test.ShouldEqual, 0)
	test.That(t, out[1].ObjectID, test.ShouldEqual, 2)
	test.That(t, tr.Objects(), test.ShouldHaveLength, 3)
}

func TestMaxDistanceExclusive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDistance = 10
	tr := newTestTracker(t, cfg)
	_, err := tr.Update(0, []Observation{obsAt(100, 100)})
	test.That(t, err, test.ShouldBeNil)
	out, err := tr.Update(1, []Observation{obsAt(110, 100)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out[0].ObjectID, test.ShouldEqual, 1)
}

func TestInvalidObservationsDropped(t *testing.T) {
	tr := newTestTracker(t, DefaultConfig())
	bad := Observation{Box: bbox.Box{Left: 10, Top: 0, Right: 5, Bottom: 5}}
	out, err := tr.Update(0, []Observation{bad, obsAt(20, 20)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldHaveLength, 1)
	test.That(t, out[0].ObjectID, test.ShouldEqual, 0)
}

func TestGreedyVersusHungarian(t *testing.T) {
	box := func(cx float64) Observation {
		return Observation{Box: bbox.Box{Left: cx - 1, Top: 99, Right: cx + 1, Bottom: 101}}
	}
	run := func(m Matcher) []Assignment {
		cfg := DefaultConfig()
		cfg.Matcher = m
		tr := newTestTracker(t, cfg)
		_, err := tr.Update(0, []Observation{box(100), box(104)})
		test.That(t, err, test.ShouldBeNil)
		out, err := tr.Update(1, []Observation{box(102.5), box(107)})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldHaveLength, 2)
		return out
	}

	greedy := run(Greedy{})
	test.That(t, greedy[0].Box.Centroid().X, test.ShouldEqual, 107.0)
	test.That(t, greedy[1].Box.Centroid().X, test.ShouldEqual, 102.5)

	optimal := run(Hungarian{})
	test.That(t, optimal[0].Box.Centroid().X, test.ShouldEqual, 102.5)
	test.That(t, optimal[1].Box.Centroid().X, test.ShouldEqual, 107.0)
}

func TestConfig(t *testing.T) {
	_, err := New(Config{MaxDisappeared: -1, MaxDistance: 1})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = New(Config{MaxDistance: 0})
	test.That(t, err, test.ShouldNotBeNil)

	m, ok := NewMatcher("hungarian")
	test.That(t, ok, test.ShouldBeTrue)
	_, isHungarian := m.(Hungarian)
	test.That(t, isHungarian, test.ShouldBeTrue)
	_, ok = NewMatcher("bogus")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestDistanceMatrix(t *testing.T) {
	mtx := BuildDistanceMatrix(
		[]bbox.Point{{X: 0, Y: 0}, {X: 10, Y: 0}},
		[]bbox.Point{{X: 3, Y: 4}},
	)
	test.That(t, mtx, test.ShouldHaveLength, 2)
	test.That(t, mtx[0][0], test.ShouldAlmostEqual, 5.0)
	test.That(t, mtx[1][0], test.ShouldAlmostEqual, 8.0622577, 1e-6)
}
