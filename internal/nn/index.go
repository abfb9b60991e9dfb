package nn

import (
	"math"
	"sort"
)

// Index is a uniform grid over a point set. It accelerates nearest-neighbor,
// radius and bounding-box queries without changing their results: scan order
// inside the grid never affects which point wins a tie, because ties are
// resolved by the lowest index in the original point order.
type Index struct {
	points   []Point
	minX     float64
	minY     float64
	cellSize float64
	nx, ny   int
	cells    [][]int32
}

// NewIndex builds a grid index over points. The grid is sized for roughly one
// point per cell.
func NewIndex(points []Point) *Index {
	ix := &Index{points: points, cellSize: 1, nx: 1, ny: 1}
	if len(points) == 0 {
		ix.cells = make([][]int32, 1)
		return ix
	}

	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	ix.minX = minX
	ix.minY = minY

	span := math.Max(maxX-minX, maxY-minY)
	perAxis := int(math.Ceil(math.Sqrt(float64(len(points)))))
	if perAxis < 1 {
		perAxis = 1
	}
	if span > 0 {
		ix.cellSize = span / float64(perAxis)
	}

	ix.nx = int((maxX-minX)/ix.cellSize) + 1
	ix.ny = int((maxY-minY)/ix.cellSize) + 1
	ix.cells = make([][]int32, ix.nx*ix.ny)
	for i, p := range points {
		c := ix.cellAt(p.X, p.Y)
		ix.cells[c] = append(ix.cells[c], int32(i))
	}
	return ix
}

// Len returns the number of indexed points.
func (ix *Index) Len() int {
	return len(ix.points)
}

func (ix *Index) cellAt(x, y float64) int {
	cx := ix.clampX(int(math.Floor((x - ix.minX) / ix.cellSize)))
	cy := ix.clampY(int(math.Floor((y - ix.minY) / ix.cellSize)))
	return cy*ix.nx + cx
}

func (ix *Index) clampX(cx int) int {
	if cx < 0 {
		return 0
	}
	if cx >= ix.nx {
		return ix.nx - 1
	}
	return cx
}

func (ix *Index) clampY(cy int) int {
	if cy < 0 {
		return 0
	}
	if cy >= ix.ny {
		return ix.ny - 1
	}
	return cy
}

// nearest returns the index of the closest point to (x, y), its squared
// distance, and whether any candidate exists. Points whose ID equals selfID
// are skipped. Ties are broken by the lowest point index.
func (ix *Index) nearest(x, y float64, selfID int64) (int, float64, bool) {
	if len(ix.points) == 0 {
		return -1, 0, false
	}

	cx := ix.clampX(int(math.Floor((x - ix.minX) / ix.cellSize)))
	cy := ix.clampY(int(math.Floor((y - ix.minY) / ix.cellSize)))

	// Rings are scanned outward until every unvisited cell is provably
	// farther than the best match found so far.
	maxRing := ix.nx + ix.ny
	best := -1
	bestD2 := math.Inf(1)

	for ring := 0; ring <= maxRing; ring++ {
		if best >= 0 {
			bound := float64(ring-1) * ix.cellSize
			if bound > 0 && bestD2 < bound*bound {
				break
			}
		}
		for _, c := range ix.ringCells(cx, cy, ring) {
			for _, j := range ix.cells[c] {
				p := ix.points[j]
				if p.ID == selfID {
					continue
				}
				d2 := dist2(x, y, p.X, p.Y)
				if d2 < bestD2 || (d2 == bestD2 && int(j) < best) {
					best = int(j)
					bestD2 = d2
				}
			}
		}
	}
	return best, bestD2, best >= 0
}

// countWithin counts indexed points within radius of (x, y), skipping points
// whose ID equals selfID.
func (ix *Index) countWithin(x, y, radius float64, selfID int64) int {
	r2 := radius * radius
	x0 := ix.clampX(int(math.Floor((x - radius - ix.minX) / ix.cellSize)))
	x1 := ix.clampX(int(math.Floor((x + radius - ix.minX) / ix.cellSize)))
	y0 := ix.clampY(int(math.Floor((y - radius - ix.minY) / ix.cellSize)))
	y1 := ix.clampY(int(math.Floor((y + radius - ix.minY) / ix.cellSize)))

	n := 0
	for cy := y0; cy <= y1; cy++ {
		for cx := x0; cx <= x1; cx++ {
			for _, j := range ix.cells[cy*ix.nx+cx] {
				p := ix.points[j]
				if p.ID == selfID {
					continue
				}
				if dist2(x, y, p.X, p.Y) <= r2 {
					n++
				}
			}
		}
	}
	return n
}

// InBounds returns the indexed points inside the bounding box (inclusive), in
// original point order, truncated to limit when limit > 0.
func (ix *Index) InBounds(minX, minY, maxX, maxY float64, limit int) []Point {
	x0 := ix.clampX(int(math.Floor((minX - ix.minX) / ix.cellSize)))
	x1 := ix.clampX(int(math.Floor((maxX - ix.minX) / ix.cellSize)))
	y0 := ix.clampY(int(math.Floor((minY - ix.minY) / ix.cellSize)))
	y1 := ix.clampY(int(math.Floor((maxY - ix.minY) / ix.cellSize)))

	var hits []int32
	for cy := y0; cy <= y1; cy++ {
		for cx := x0; cx <= x1; cx++ {
			for _, j := range ix.cells[cy*ix.nx+cx] {
				p := ix.points[j]
				if p.X >= minX && p.X <= maxX && p.Y >= minY && p.Y <= maxY {
					hits = append(hits, j)
				}
			}
		}
	}
	sort.Slice(hits, func(a, b int) bool { return hits[a] < hits[b] })

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Point, len(hits))
	for i, j := range hits {
		out[i] = ix.points[j]
	}
	return out
}

// ringCells returns the cells at Chebyshev distance ring from (cx, cy) that
// fall inside the grid.
func (ix *Index) ringCells(cx, cy, ring int) []int {
	if ring == 0 {
		if cx >= 0 && cx < ix.nx && cy >= 0 && cy < ix.ny {
			return []int{cy*ix.nx + cx}
		}
		return nil
	}
	var cells []int
	add := func(x, y int) {
		if x >= 0 && x < ix.nx && y >= 0 && y < ix.ny {
			cells = append(cells, y*ix.nx+x)
		}
	}
	for x := cx - ring; x <= cx+ring; x++ {
		add(x, cy-ring)
		add(x, cy+ring)
	}
	for y := cy - ring + 1; y <= cy+ring-1; y++ {
		add(cx-ring, y)
		add(cx+ring, y)
	}
	return cells
}
