// Package nn computes nearest-neighbor relations between point sets derived
// from cell segmentation tables. Distances are planar Euclidean in the
// table's native coordinate units; unit conversion belongs to the caller.
package nn

import (
	"math"

	"github.com/phenomap/server/internal/data/cellseg"
)

// Point is one cell's identifier and position.
type Point struct {
	ID int64
	X  float64
	Y  float64
}

// Neighbor is one row of a distance relation. The to-side fields are nil when
// the from-point has no candidate neighbor.
type Neighbor struct {
	FromID   int64    `json:"from_id"`
	FromX    float64  `json:"from_x"`
	FromY    float64  `json:"from_y"`
	Distance *float64 `json:"distance"`
	ToID     *int64   `json:"to_id"`
	ToX      *float64 `json:"to_x"`
	ToY      *float64 `json:"to_y"`
}

// Matched reports whether the row has a neighbor.
func (n Neighbor) Matched() bool {
	return n.Distance != nil
}

// Relation is a distance relation, ordered like the from-point set it was
// computed from.
type Relation []Neighbor

// MatchedCount returns the number of rows with a neighbor.
func (r Relation) MatchedCount() int {
	n := 0
	for _, row := range r {
		if row.Matched() {
			n++
		}
	}
	return n
}

// ScaleDistances returns a copy of r with every distance multiplied by
// factor. Positions are left in native units.
func (r Relation) ScaleDistances(factor float64) Relation {
	out := make(Relation, len(r))
	for i, row := range r {
		out[i] = row
		if row.Distance != nil {
			d := *row.Distance * factor
			out[i].Distance = &d
		}
	}
	return out
}

// PointsFrom extracts the points of rows selected by mask. Rows with a
// missing identifier or position cannot participate in distance computation
// and are dropped silently.
func PointsFrom(t *cellseg.Table, mask []bool) []Point {
	schema := t.Schema()
	idCol, okID := t.Column(schema.IDColumn)
	xCol, okX := t.Column(schema.XColumn)
	yCol, okY := t.Column(schema.YColumn)
	if !okID || !okX || !okY {
		return nil
	}

	points := make([]Point, 0, len(mask))
	for i, selected := range mask {
		if !selected {
			continue
		}
		id := idCol.Value(i)
		x := xCol.Value(i)
		y := yCol.Value(i)
		if !id.Valid || !id.IsNum || !x.Valid || !x.IsNum || !y.Valid || !y.IsNum {
			continue
		}
		points = append(points, Point{
			ID: int64(math.Round(id.Num)),
			X:  x.Num,
			Y:  y.Num,
		})
	}
	return points
}

// gridThreshold is the candidate-set size above which Nearest and CountWithin
// switch from brute force to the grid index.
const gridThreshold = 256

// Nearest returns, for every from-point, its minimum-distance to-point.
// Ties are broken by first occurrence in to's order. A candidate with the
// same cell identifier is skipped, so a phenotype paired with itself yields
// the nearest other cell. With no candidates the row carries nil markers.
func Nearest(from, to []Point) Relation {
	rel := make(Relation, len(from))

	var index *Index
	if len(to) >= gridThreshold {
		index = NewIndex(to)
	}

	for i, p := range from {
		rel[i] = Neighbor{FromID: p.ID, FromX: p.X, FromY: p.Y}

		var j int
		var d2 float64
		var ok bool
		if index != nil {
			j, d2, ok = index.nearest(p.X, p.Y, p.ID)
		} else {
			j, d2, ok = nearestBrute(to, p.X, p.Y, p.ID)
		}
		if !ok {
			continue
		}

		d := math.Sqrt(d2)
		t := to[j]
		rel[i].Distance = &d
		rel[i].ToID = &t.ID
		rel[i].ToX = &t.X
		rel[i].ToY = &t.Y
	}
	return rel
}

// Mutual returns the pairs that are each other's nearest neighbor, ordered by
// the from-point order. Rows without a mutual partner are omitted.
func Mutual(from, to []Point) Relation {
	fwd := Nearest(from, to)
	rev := Nearest(to, from)

	// reverse nearest: to-point id -> the from-point id it chose
	revNearest := make(map[int64]int64, len(rev))
	for _, row := range rev {
		if row.Matched() {
			revNearest[row.FromID] = *row.ToID
		}
	}

	mutual := make(Relation, 0)
	for _, row := range fwd {
		if !row.Matched() {
			continue
		}
		if chosen, ok := revNearest[*row.ToID]; ok && chosen == row.FromID {
			mutual = append(mutual, row)
		}
	}
	return mutual
}

// CountWithin returns, for each from-point, how many to-points lie within
// radius (inclusive). Candidates sharing the from-point's identifier are not
// counted.
func CountWithin(from, to []Point, radius float64) []int {
	counts := make([]int, len(from))
	if radius < 0 || len(to) == 0 {
		return counts
	}
	r2 := radius * radius

	var index *Index
	if len(to) >= gridThreshold {
		index = NewIndex(to)
	}

	for i, p := range from {
		if index != nil {
			counts[i] = index.countWithin(p.X, p.Y, radius, p.ID)
			continue
		}
		n := 0
		for _, t := range to {
			if t.ID == p.ID {
				continue
			}
			if dist2(p.X, p.Y, t.X, t.Y) <= r2 {
				n++
			}
		}
		counts[i] = n
	}
	return counts
}

func nearestBrute(to []Point, x, y float64, selfID int64) (int, float64, bool) {
	best := -1
	bestD2 := math.Inf(1)
	for j, t := range to {
		if t.ID == selfID {
			continue
		}
		d2 := dist2(x, y, t.X, t.Y)
		if d2 < bestD2 {
			best = j
			bestD2 = d2
		}
	}
	return best, bestD2, best >= 0
}

func dist2(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return dx*dx + dy*dy
}
