// Package nms collapses overlapping candidate boxes for one logical object into a
// single box.
package nms

import (
	"math"
	"sort"

	"github.com/viam-modules/plate-redaction/bbox"
)

// DefaultThreshold is the overlap ratio above which a candidate is suppressed.
const DefaultThreshold = 0.5

// Candidate is a box proposed for an object, with the confidence it came with.
type Candidate struct {
	Box        bbox.Box
	Confidence float64
	Label      string
}

// Overlap returns the intersection of kept and candidate divided by the candidate's
// own area. Coordinates are treated as inclusive pixel bounds, so a box whose corners
// coincide still covers one pixel.
func Overlap(kept, candidate bbox.Box) float64 {
	w := math.Max(0, math.Min(kept.Right, candidate.Right)-math.Max(kept.Left, candidate.Left)+1)
	h := math.Max(0, math.Min(kept.Bottom, candidate.Bottom)-math.Max(kept.Top, candidate.Top)+1)
	return w * h / inclusiveArea(candidate)
}

func inclusiveArea(b bbox.Box) float64 {
	return (b.Right - b.Left + 1) * (b.Bottom - b.Top + 1)
}

// Suppress greedily reduces cands to boxes that do not overlap each other by more
// than threshold. Candidates are ordered by bottom edge, ties keeping input order;
// the last one is kept and everything it covers is dropped, until nothing is left.
// The result is a minimal cover, not an optimal one. Kept candidates come back in
// their input order, which makes Suppress idempotent.
func Suppress(cands []Candidate, threshold float64) []Candidate {
	if len(cands) == 0 {
		return []Candidate{}
	}
	idxs := make([]int, len(cands))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool {
		return cands[idxs[a]].Box.Bottom < cands[idxs[b]].Box.Bottom
	})

	keep := make([]bool, len(cands))
	for len(idxs) > 0 {
		last := len(idxs) - 1
		picked := idxs[last]
		keep[picked] = true

		remaining := idxs[:0]
		for _, i := range idxs[:last] {
			if Overlap(cands[picked].Box, cands[i].Box) <= threshold {
				remaining = append(remaining, i)
			}
		}
		idxs = remaining
	}

	out := make([]Candidate, 0, len(cands))
	for i, c := range cands {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out
}
