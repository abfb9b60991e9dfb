package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/phenomap/server/internal/data/cellseg"
	"github.com/phenomap/server/internal/nn"
	"github.com/phenomap/server/internal/selector"
	"github.com/phenomap/server/pkg/colormap"
)

// DatasetConfig contains dataset service configuration.
type DatasetConfig struct {
	ID              string
	Table           *cellseg.Table
	Rules           selector.RuleSet
	Colors          map[string]string
	PixelsPerMicron float64
}

// Dataset binds one loaded cell table to its phenotype rules, colors and
// unit conversion. The table is read-only; every query derives a fresh view.
type Dataset struct {
	id              string
	table           *cellseg.Table
	rules           selector.RuleSet
	colors          map[string]string
	pixelsPerMicron float64

	// All-cell spatial index for bounding-box queries (lazy loaded)
	indexOnce sync.Once
	index     *nn.Index
	indexPhen map[int64]string
	allPoints []nn.Point

	legendMu    sync.Mutex
	legendCache []PhenotypeLegendItem

	centroidsMu    sync.Mutex
	centroidsCache []PhenotypeCentroidItem
}

// NewDataset creates a dataset service. Phenotypes and rule names without a
// configured color get one assigned from the categorical palette.
func NewDataset(cfg DatasetConfig) *Dataset {
	ppm := cfg.PixelsPerMicron
	if ppm <= 0 {
		ppm = 2.0 // inForm default
	}

	names := cfg.Table.DistinctPhenotypes()
	for name := range cfg.Rules {
		names = append(names, name)
	}
	colors := colormap.AssignColors(names, cfg.Colors)

	return &Dataset{
		id:              cfg.ID,
		table:           cfg.Table,
		rules:           cfg.Rules,
		colors:          colors,
		pixelsPerMicron: ppm,
	}
}

// ID returns the dataset identifier.
func (d *Dataset) ID() string {
	return d.id
}

// Table returns the underlying cell table.
func (d *Dataset) Table() *cellseg.Table {
	return d.table
}

// Rules returns the dataset's phenotype rule set.
func (d *Dataset) Rules() selector.RuleSet {
	return d.rules
}

// Colors returns the phenotype color mapping.
func (d *Dataset) Colors() map[string]string {
	return d.colors
}

// PixelsPerMicron returns the dataset's unit conversion factor.
func (d *Dataset) PixelsPerMicron() float64 {
	return d.pixelsPerMicron
}

// RunPairs runs a pairwise analysis against this dataset, filling in the
// dataset's rules, colors and unit conversion where the options leave them
// unset.
func (d *Dataset) RunPairs(ctx context.Context, pairs []PhenotypePair, opts PairOptions) ([]PairResult, error) {
	if opts.PixelsPerMicron <= 0 {
		opts.PixelsPerMicron = d.pixelsPerMicron
	}
	if opts.Colors == nil {
		opts.Colors = d.colors
	}
	return RunPairs(ctx, d.table, pairs, d.rules, opts)
}

// Select evaluates a phenotype name (literal or rule) against the table.
func (d *Dataset) Select(name string) ([]bool, error) {
	resolved, err := selector.Resolve([]string{name}, d.rules)
	if err != nil {
		return nil, err
	}
	return selector.Evaluate(d.table, resolved[name])
}

// SelectPoints evaluates a phenotype name and extracts the locatable points.
func (d *Dataset) SelectPoints(name string) ([]nn.Point, error) {
	mask, err := d.Select(name)
	if err != nil {
		return nil, err
	}
	return nn.PointsFrom(d.table, mask), nil
}

// PhenotypeLegendItem describes one phenotype for legend rendering.
type PhenotypeLegendItem struct {
	Phenotype string `json:"phenotype"`
	Color     string `json:"color"`
	CellCount int    `json:"cell_count"`
}

// PhenotypeCentroidItem is one phenotype's mean position. X and Y are null
// when the phenotype has no locatable cells.
type PhenotypeCentroidItem struct {
	Phenotype string   `json:"phenotype"`
	Color     string   `json:"color"`
	CellCount int      `json:"cell_count"`
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
}

// legendNames returns literal phenotypes in first-occurrence order followed
// by virtual phenotype rule names.
func (d *Dataset) legendNames() []string {
	names := d.table.DistinctPhenotypes()
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	var ruleNames []string
	for n := range d.rules {
		if !seen[n] {
			ruleNames = append(ruleNames, n)
		}
	}
	sort.Strings(ruleNames)
	return append(names, ruleNames...)
}

// PhenotypeLegend returns per-phenotype cell counts and colors, covering
// literal phenotypes and virtual phenotype rules.
func (d *Dataset) PhenotypeLegend() ([]PhenotypeLegendItem, error) {
	d.legendMu.Lock()
	defer d.legendMu.Unlock()

	if d.legendCache != nil {
		return d.legendCache, nil
	}

	names := d.legendNames()
	legend := make([]PhenotypeLegendItem, 0, len(names))
	for _, name := range names {
		mask, err := d.Select(name)
		if err != nil {
			return nil, fmt.Errorf("legend for %q: %w", name, err)
		}
		legend = append(legend, PhenotypeLegendItem{
			Phenotype: name,
			Color:     d.colors[name],
			CellCount: selector.Count(mask),
		})
	}

	d.legendCache = legend
	return legend, nil
}

// PhenotypeCentroids returns the mean position per phenotype.
func (d *Dataset) PhenotypeCentroids() ([]PhenotypeCentroidItem, error) {
	d.centroidsMu.Lock()
	defer d.centroidsMu.Unlock()

	if d.centroidsCache != nil {
		return d.centroidsCache, nil
	}

	names := d.legendNames()
	out := make([]PhenotypeCentroidItem, 0, len(names))
	for _, name := range names {
		mask, err := d.Select(name)
		if err != nil {
			return nil, fmt.Errorf("centroid for %q: %w", name, err)
		}
		points := nn.PointsFrom(d.table, mask)

		item := PhenotypeCentroidItem{
			Phenotype: name,
			Color:     d.colors[name],
			CellCount: selector.Count(mask),
		}
		if len(points) > 0 {
			var sumX, sumY float64
			for _, p := range points {
				sumX += p.X
				sumY += p.Y
			}
			x := sumX / float64(len(points))
			y := sumY / float64(len(points))
			item.X = &x
			item.Y = &y
		}
		out = append(out, item)
	}

	d.centroidsCache = out
	return out, nil
}

// CellInfo represents a single cell with its position and phenotype.
type CellInfo struct {
	ID        int64   `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Phenotype string  `json:"phenotype,omitempty"`
}

// CellQueryResult is the response for CellsInBounds.
type CellQueryResult struct {
	Cells      []CellInfo `json:"cells"`
	TotalCount int        `json:"total_count"`
	Truncated  bool       `json:"truncated"`
}

// loadIndex lazily builds the all-cell spatial index and the id->phenotype
// lookup used by bounding-box queries.
func (d *Dataset) loadIndex() *nn.Index {
	d.indexOnce.Do(func() {
		mask := make([]bool, d.table.NumRows())
		for i := range mask {
			mask[i] = true
		}
		points := nn.PointsFrom(d.table, mask)
		d.index = nn.NewIndex(points)
		d.allPoints = points

		d.indexPhen = make(map[int64]string, len(points))
		labels, err := d.table.Phenotypes()
		if err != nil {
			return
		}
		schema := d.table.Schema()
		idCol, ok := d.table.Column(schema.IDColumn)
		if !ok {
			return
		}
		for i, label := range labels {
			id := idCol.Value(i)
			if id.Valid && id.IsNum {
				d.indexPhen[int64(math.Round(id.Num))] = label
			}
		}
	})
	return d.index
}

// AllPoints returns every locatable cell.
func (d *Dataset) AllPoints() []nn.Point {
	d.loadIndex()
	return d.allPoints
}

// PhenotypeOf returns the phenotype label for a cell ID, or "" if unknown.
func (d *Dataset) PhenotypeOf(id int64) string {
	d.loadIndex()
	return d.indexPhen[id]
}

// MarkerValues returns a cell-ID keyed lookup for a numeric column along with
// the observed min and max over cells that have a value.
func (d *Dataset) MarkerValues(column string) (map[int64]float64, float64, float64, error) {
	col, ok := d.table.Column(column)
	if !ok {
		return nil, 0, 0, &selector.SelectionError{Column: column, Reason: "column not found"}
	}
	if col.Kind != cellseg.ColumnNumeric {
		return nil, 0, 0, &selector.SelectionError{Column: column, Reason: "column is not numeric"}
	}

	schema := d.table.Schema()
	idCol, ok := d.table.Column(schema.IDColumn)
	if !ok {
		return nil, 0, 0, &selector.SelectionError{Column: schema.IDColumn, Reason: "column not found"}
	}

	values := make(map[int64]float64)
	minV := math.Inf(1)
	maxV := math.Inf(-1)
	for i := 0; i < d.table.NumRows(); i++ {
		id := idCol.Value(i)
		v := col.Value(i)
		if !id.Valid || !id.IsNum || !v.Valid || !v.IsNum {
			continue
		}
		val := v.Num
		values[int64(math.Round(id.Num))] = val
		if val < minV {
			minV = val
		}
		if val > maxV {
			maxV = val
		}
	}
	if len(values) == 0 {
		minV, maxV = 0, 0
	}
	return values, minV, maxV, nil
}

// CellsInBounds returns cells within the bounding box. Filter semantics match
// the tile-style convention:
//   - nil  => no filter (all phenotypes)
//   - []   => filter-to-none (no cells)
func (d *Dataset) CellsInBounds(minX, minY, maxX, maxY float64, phenotypeFilter []string, limit int) (*CellQueryResult, error) {
	if limit <= 0 {
		limit = 5000
	}
	if limit > 50000 {
		limit = 50000
	}

	if phenotypeFilter != nil && len(phenotypeFilter) == 0 {
		return &CellQueryResult{Cells: []CellInfo{}}, nil
	}

	idx := d.loadIndex()

	// Query with limit + 1 to detect truncation
	points := idx.InBounds(minX, minY, maxX, maxY, limit+1)
	truncated := len(points) > limit
	if truncated {
		points = points[:limit]
	}

	var filterSet map[string]struct{}
	if len(phenotypeFilter) > 0 {
		filterSet = make(map[string]struct{}, len(phenotypeFilter))
		for _, v := range phenotypeFilter {
			filterSet[v] = struct{}{}
		}
	}

	cells := make([]CellInfo, 0, len(points))
	for _, p := range points {
		phen := d.indexPhen[p.ID]
		if filterSet != nil {
			if _, ok := filterSet[phen]; !ok {
				continue
			}
		}
		cells = append(cells, CellInfo{ID: p.ID, X: p.X, Y: p.Y, Phenotype: phen})
	}

	return &CellQueryResult{
		Cells:      cells,
		TotalCount: len(cells),
		Truncated:  truncated,
	}, nil
}

// Bounds returns the spatial extent of the dataset's locatable cells.
func (d *Dataset) Bounds() (minX, minY, maxX, maxY float64, ok bool) {
	mask := make([]bool, d.table.NumRows())
	for i := range mask {
		mask[i] = true
	}
	points := nn.PointsFrom(d.table, mask)
	if len(points) == 0 {
		return 0, 0, 0, 0, false
	}
	minX, minY = points[0].X, points[0].Y
	maxX, maxY = minX, minY
	for _, p := range points[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return minX, minY, maxX, maxY, true
}
