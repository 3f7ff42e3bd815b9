// Package centroid implements a nearest-centroid multi-object tracker for one camera
// sequence. Objects keep their id while they move less than a maximum distance per
// frame and survive a bounded number of frames without a detection.
package centroid

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/viam-modules/plate-redaction/bbox"
)

// Defaults for Config.
const (
	DefaultMaxDisappeared = 20
	DefaultMaxDistance    = 90.0
)

// ErrSequenceOrdering is returned when frames reach the tracker out of index order.
var ErrSequenceOrdering = errors.New("frames presented out of order")

// Config sets the tracker's tolerances.
type Config struct {
	// MaxDisappeared is how many consecutive missed frames an object survives.
	MaxDisappeared int
	// MaxDistance is the exclusive bound on centroid movement between matches.
	MaxDistance float64
	// Matcher defaults to Greedy.
	Matcher Matcher
}

// DefaultConfig returns the default tolerances with the greedy matcher.
func DefaultConfig() Config {
	return Config{
		MaxDisappeared: DefaultMaxDisappeared,
		MaxDistance:    DefaultMaxDistance,
		Matcher:        Greedy{},
	}
}

// Observation is a post-suppression box fed to the tracker.
type Observation struct {
	Box        bbox.Box
	Confidence float64
}

// Assignment is a visible object on the current frame.
type Assignment struct {
	ObjectID   int
	Box        bbox.Box
	Confidence float64
}

// Tracker owns the objects of one camera sequence.
type Tracker struct {
	mu        sync.Mutex
	cfg       Config
	objects   []*TrackedObject
	nextID    int
	lastFrame int
	started   bool
}

// New returns an empty tracker.
func New(cfg Config) (*Tracker, error) {
	if cfg.MaxDisappeared < 0 {
		return nil, errors.New("max disappeared cannot be less than 0")
	}
	if cfg.MaxDistance <= 0 {
		return nil, errors.New("max distance must be a positive number")
	}
	if cfg.Matcher == nil {
		cfg.Matcher = Greedy{}
	}
	return &Tracker{cfg: cfg}, nil
}

// Update consumes the observations of frameIndex, which must be greater than every
// index seen before. It returns the objects visible on this frame ordered by id;
// objects that are only disappearing are kept but not reported.
func (t *Tracker) Update(frameIndex int, obs []Observation) ([]Assignment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started && frameIndex <= t.lastFrame {
		return nil, errors.Wrapf(ErrSequenceOrdering, "frame %d after frame %d", frameIndex, t.lastFrame)
	}
	t.started = true
	t.lastFrame = frameIndex

	incoming := make([]Observation, 0, len(obs))
	for _, o := range obs {
		if o.Box.Validate() == nil {
			incoming = append(incoming, o)
		}
	}

	var pairs []Pair
	if len(t.objects) > 0 && len(incoming) > 0 {
		existing := make([]bbox.Point, len(t.objects))
		for i, o := range t.objects {
			existing[i] = o.Centroid
		}
		centroids := make([]bbox.Point, len(incoming))
		for j, o := range incoming {
			centroids[j] = o.Box.Centroid()
		}
		var err error
		pairs, err = t.cfg.Matcher.Match(BuildDistanceMatrix(existing, centroids), t.cfg.MaxDistance)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to match frame %d", frameIndex)
		}
	}

	matchedRows := make(map[int]struct{}, len(pairs))
	matchedCols := make(map[int]struct{}, len(pairs))
	for _, p := range pairs {
		t.objects[p.Row].update(incoming[p.Col])
		matchedRows[p.Row] = struct{}{}
		matchedCols[p.Col] = struct{}{}
	}

	kept := t.objects[:0]
	for i, o := range t.objects {
		if _, ok := matchedRows[i]; !ok && o.miss(t.cfg.MaxDisappeared) {
			continue
		}
		kept = append(kept, o)
	}
	t.objects = kept

	for j, o := range incoming {
		if _, ok := matchedCols[j]; ok {
			continue
		}
		t.objects = append(t.objects, newTrackedObject(t.nextID, o))
		t.nextID++
	}

	out := make([]Assignment, 0, len(t.objects))
	for _, o := range t.objects {
		if o.visible() {
			out = append(out, Assignment{ObjectID: o.ID, Box: o.Box, Confidence: o.Confidence})
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ObjectID < out[b].ObjectID })
	return out, nil
}

// Objects returns a snapshot of every live object, visible or disappearing.
func (t *Tracker) Objects() []TrackedObject {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TrackedObject, 0, len(t.objects))
	for _, o := range t.objects {
		out = append(out, o.clone())
	}
	return out
}
