package centroid

import (
	"sort"

	hg "github.com/charles-haynes/munkres"

	"github.com/viam-modules/plate-redaction/bbox"
)

// Pair binds an existing object (row) to an incoming observation (column).
type Pair struct {
	Row, Col int
}

// Matcher assigns rows to columns of a distance matrix, rejecting any pair whose
// distance is not below maxDistance.
type Matcher interface {
	Match(dist [][]float64, maxDistance float64) ([]Pair, error)
}

// BuildDistanceMatrix holds the euclidean distance between every existing centroid
// (rows) and every incoming centroid (columns).
func BuildDistanceMatrix(existing, incoming []bbox.Point) [][]float64 {
	mtx := make([][]float64, len(existing))
	for i, e := range existing {
		row := make([]float64, len(incoming))
		for j, c := range incoming {
			row[j] = e.Distance(c)
		}
		mtx[i] = row
	}
	return mtx
}

// Greedy repeatedly binds the globally smallest remaining distance. It is a known
// approximation of a min-cost assignment that holds while objects move little
// between frames compared to how far apart they are.
type Greedy struct{}

// Match implements Matcher.
func (Greedy) Match(dist [][]float64, maxDistance float64) ([]Pair, error) {
	var cands []Pair
	for i, row := range dist {
		for j, d := range row {
			if d < maxDistance {
				cands = append(cands, Pair{Row: i, Col: j})
			}
		}
	}
	// row-major input order breaks ties
	sort.SliceStable(cands, func(a, b int) bool {
		return dist[cands[a].Row][cands[a].Col] < dist[cands[b].Row][cands[b].Col]
	})

	usedRows := make(map[int]struct{})
	usedCols := make(map[int]struct{})
	pairs := make([]Pair, 0, len(cands))
	for _, c := range cands {
		if _, ok := usedRows[c.Row]; ok {
			continue
		}
		if _, ok := usedCols[c.Col]; ok {
			continue
		}
		usedRows[c.Row] = struct{}{}
		usedCols[c.Col] = struct{}{}
		pairs = append(pairs, c)
	}
	return pairs, nil
}

// Hungarian solves the assignment with Munkres' method on the distance matrix and
// then drops pairs at or beyond maxDistance. Outputs can differ from Greedy.
type Hungarian struct{}

// Match implements Matcher.
func (Hungarian) Match(dist [][]float64, maxDistance float64) ([]Pair, error) {
	if len(dist) == 0 || len(dist[0]) == 0 {
		return []Pair{}, nil
	}
	// the solver works on its own copy of the costs
	costs := make([][]float64, len(dist))
	for i, row := range dist {
		costs[i] = append([]float64(nil), row...)
	}
	HA, err := hg.NewHungarianAlgorithm(costs)
	if err != nil {
		return nil, err
	}
	matches := HA.Execute()
	pairs := make([]Pair, 0, len(matches))
	for row, col := range matches {
		if row >= len(dist) {
			break
		}
		if col < 0 || col >= len(dist[row]) {
			continue
		}
		if dist[row][col] < maxDistance {
			pairs = append(pairs, Pair{Row: row, Col: col})
		}
	}
	return pairs, nil
}

// NewMatcher returns the matcher with the given name; "" and "greedy" select Greedy.
func NewMatcher(name string) (Matcher, bool) {
	switch name {
	case "", "greedy":
		return Greedy{}, true
	case "hungarian":
		return Hungarian{}, true
	default:
		return nil, false
	}
}
