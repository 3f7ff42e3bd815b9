// Package interpolate fills short detection gaps in a finished camera sequence.
//
// For every object id the frames are scanned once in index order. When an id is
// recorded on two frames separated by g frames that lack it, with 1 <= g <= MaxGap
// and no frame missing from the sequence in between, the k-th missing frame gets
// the box (n*c1 + m*c2)/(m+n) per coordinate, where m = k and n = g+1-k, truncated
// to an integer. Synthesized records carry annotation.InterpolatedConfidence.
package interpolate

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/plate-redaction/annotation"
)

// DefaultMaxGap is the longest gap that is filled.
const DefaultMaxGap = 5

// Fill describes one synthesized record.
type Fill struct {
	ObjectID   int
	FrameIndex int
	Box        annotation.Rect
}

// Interpolate returns a copy of frames with gaps filled, and the fills it made.
// frames must be ordered by index. Existing records are never changed.
func Interpolate(frames []annotation.Frame, maxGap int) ([]annotation.Frame, []Fill) {
	out := make([]annotation.Frame, len(frames))
	for i, f := range frames {
		out[i] = f.Clone()
	}
	if maxGap < 1 || len(frames) < 3 {
		return out, []Fill{}
	}

	ids := map[int]struct{}{}
	for _, f := range frames {
		for id := range f.Objects {
			ids[id] = struct{}{}
		}
	}
	sorted := make([]int, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Ints(sorted)

	fills := []Fill{}
	for _, id := range sorted {
		last := -1
		for pos, f := range frames {
			if pos > 0 && f.Index != frames[pos-1].Index+1 {
				// a frame without any record breaks the run
				last = -1
			}
			b2, ok := f.Objects[id]
			if !ok {
				continue
			}
			if last >= 0 {
				g := pos - last - 1
				if g >= 1 && g <= maxGap {
					b1 := frames[last].Objects[id]
					for k := 1; k <= g; k++ {
						box := between(b1.Box, b2.Box, k, g+1-k)
						out[last+k].Objects[id] = annotation.Object{
							Confidence: annotation.InterpolatedConfidence,
							Box:        box,
						}
						fills = append(fills, Fill{ObjectID: id, FrameIndex: frames[last+k].Index, Box: box})
					}
				}
			}
			last = pos
		}
	}
	return out, fills
}

func between(b1, b2 annotation.Rect, m, n int) annotation.Rect {
	lerp := func(c1, c2 int) int {
		return int(float64(n*c1+m*c2) / float64(m+n))
	}
	return annotation.Rect{
		X1: lerp(b1.X1, b2.X1),
		Y1: lerp(b1.Y1, b2.Y1),
		X2: lerp(b1.X2, b2.X2),
		Y2: lerp(b1.Y2, b2.Y2),
	}
}

// Stats summarizes one Run.
type Stats struct {
	Frames        int
	FramesChanged int
	Fills         int
}

// Interpolator runs Interpolate against a store.
type Interpolator struct {
	MaxGap int
	Logger logging.Logger
}

// Run loads every frame of a camera, fills gaps and writes back the frames that
// changed.
func (ip Interpolator) Run(ctx context.Context, store annotation.Store, kind annotation.Kind, camera string) (Stats, error) {
	maxGap := ip.MaxGap
	if maxGap == 0 {
		maxGap = DefaultMaxGap
	}
	if maxGap < 0 {
		return Stats{}, errors.Errorf("max gap cannot be negative, got %d", maxGap)
	}
	frames, err := store.Frames(ctx, kind, camera)
	if err != nil {
		return Stats{}, errors.Wrapf(err, "unable to load %s frames of camera %q", kind, camera)
	}
	filled, fills := Interpolate(frames, maxGap)

	changed := map[int]struct{}{}
	for _, f := range fills {
		changed[f.FrameIndex] = struct{}{}
	}
	stats := Stats{Frames: len(frames), Fills: len(fills)}
	for _, f := range filled {
		if _, ok := changed[f.Index]; !ok {
			continue
		}
		if err := store.Put(ctx, kind, camera, f); err != nil {
			return stats, errors.Wrapf(err, "unable to write interpolated frame %q", f.Key)
		}
		stats.FramesChanged++
	}
	if ip.Logger != nil {
		ip.Logger.Debugf("interpolated %d boxes over %d of %d %s frames on camera %q",
			stats.Fills, stats.FramesChanged, stats.Frames, kind, camera)
	}
	return stats, nil
}
