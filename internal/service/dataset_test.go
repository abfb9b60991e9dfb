package service

import (
	"errors"
	"testing"

	"github.com/phenomap/server/internal/selector"
)

func testDataset(t *testing.T) *Dataset {
	t.Helper()
	return NewDataset(DatasetConfig{
		ID:    "test",
		Table: analysisTable(t),
		Rules: selector.RuleSet{
			"PDL1 High": selector.AllOf{
				selector.Phenotype("CK+"),
				selector.AtLeast("Entire Cell PDL1 Mean", 4),
			},
			"Empty Rule": selector.Phenotype("FoxP3+"),
		},
		Colors:          map[string]string{"CK+": "#ff0000"},
		PixelsPerMicron: 2.0,
	})
}

func TestNewDataset_Defaults(t *testing.T) {
	ds := NewDataset(DatasetConfig{ID: "d", Table: analysisTable(t)})
	if ds.PixelsPerMicron() != 2.0 {
		t.Errorf("expected default 2.0 px/um, got %g", ds.PixelsPerMicron())
	}
	for _, name := range []string{"CK+", "CD8+", "Other"} {
		if ds.Colors()[name] == "" {
			t.Errorf("phenotype %q has no assigned color", name)
		}
	}
}

func TestDataset_ColorsCoverRules(t *testing.T) {
	ds := testDataset(t)
	if ds.Colors()["CK+"] != "#ff0000" {
		t.Errorf("configured color was not kept: %q", ds.Colors()["CK+"])
	}
	for _, name := range []string{"CD8+", "Other", "PDL1 High", "Empty Rule"} {
		if ds.Colors()[name] == "" {
			t.Errorf("%q has no assigned color", name)
		}
	}
}

func TestDataset_Select(t *testing.T) {
	ds := testDataset(t)

	t.Run("literal", func(t *testing.T) {
		mask, err := ds.Select("CK+")
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if n := selector.Count(mask); n != 2 {
			t.Errorf("expected 2 cells, got %d", n)
		}
	})

	t.Run("rule", func(t *testing.T) {
		mask, err := ds.Select("PDL1 High")
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if n := selector.Count(mask); n != 1 {
			t.Errorf("expected 1 cell, got %d", n)
		}
	})
}

func TestDataset_SelectPoints(t *testing.T) {
	ds := testDataset(t)
	points, err := ds.SelectPoints("CD8+")
	if err != nil {
		t.Fatalf("SelectPoints failed: %v", err)
	}
	if len(points) != 2 || points[0].ID != 3 || points[1].ID != 4 {
		t.Fatalf("unexpected points: %v", points)
	}
}

func TestDataset_PhenotypeLegend(t *testing.T) {
	ds := testDataset(t)
	legend, err := ds.PhenotypeLegend()
	if err != nil {
		t.Fatalf("PhenotypeLegend failed: %v", err)
	}

	counts := make(map[string]int, len(legend))
	for _, item := range legend {
		counts[item.Phenotype] = item.CellCount
		if item.Color == "" {
			t.Errorf("%q has no color in legend", item.Phenotype)
		}
	}
	want := map[string]int{"CK+": 2, "CD8+": 2, "Other": 1, "PDL1 High": 1, "Empty Rule": 0}
	for name, n := range want {
		if counts[name] != n {
			t.Errorf("%q: expected %d cells, got %d", name, n, counts[name])
		}
	}

	// Literal phenotypes come first, in table order.
	if legend[0].Phenotype != "CK+" || legend[1].Phenotype != "CD8+" || legend[2].Phenotype != "Other" {
		t.Errorf("unexpected legend order: %v", legend)
	}
}

func TestDataset_PhenotypeCentroids(t *testing.T) {
	ds := testDataset(t)
	centroids, err := ds.PhenotypeCentroids()
	if err != nil {
		t.Fatalf("PhenotypeCentroids failed: %v", err)
	}

	byName := make(map[string]PhenotypeCentroidItem, len(centroids))
	for _, c := range centroids {
		byName[c.Phenotype] = c
	}

	ck := byName["CK+"]
	if ck.X == nil || ck.Y == nil {
		t.Fatal("CK+ centroid missing")
	}
	if *ck.X != 5 || *ck.Y != 0 {
		t.Errorf("CK+ centroid: expected (5, 0), got (%g, %g)", *ck.X, *ck.Y)
	}

	empty := byName["Empty Rule"]
	if empty.X != nil || empty.Y != nil {
		t.Errorf("empty phenotype should have null centroid, got %+v", empty)
	}
	if empty.CellCount != 0 {
		t.Errorf("expected 0 cells, got %d", empty.CellCount)
	}
}

func TestDataset_CellsInBounds(t *testing.T) {
	ds := testDataset(t)

	t.Run("noFilter", func(t *testing.T) {
		res, err := ds.CellsInBounds(0, 0, 20, 20, nil, 0)
		if err != nil {
			t.Fatalf("CellsInBounds failed: %v", err)
		}
		if len(res.Cells) != 4 || res.Truncated {
			t.Fatalf("expected 4 cells untruncated, got %d (truncated=%v)", len(res.Cells), res.Truncated)
		}
		if res.Cells[0].Phenotype != "CK+" {
			t.Errorf("phenotype not attached: %+v", res.Cells[0])
		}
	})

	t.Run("emptyFilterMeansNone", func(t *testing.T) {
		res, err := ds.CellsInBounds(0, 0, 20, 20, []string{}, 0)
		if err != nil {
			t.Fatalf("CellsInBounds failed: %v", err)
		}
		if len(res.Cells) != 0 {
			t.Fatalf("an empty filter selects nothing, got %d cells", len(res.Cells))
		}
	})

	t.Run("namedFilter", func(t *testing.T) {
		res, err := ds.CellsInBounds(0, 0, 200, 200, []string{"CD8+"}, 0)
		if err != nil {
			t.Fatalf("CellsInBounds failed: %v", err)
		}
		if len(res.Cells) != 2 {
			t.Fatalf("expected 2 CD8+ cells, got %d", len(res.Cells))
		}
		for _, c := range res.Cells {
			if c.Phenotype != "CD8+" {
				t.Errorf("filter leak: %+v", c)
			}
		}
	})

	t.Run("limitTruncates", func(t *testing.T) {
		res, err := ds.CellsInBounds(0, 0, 200, 200, nil, 2)
		if err != nil {
			t.Fatalf("CellsInBounds failed: %v", err)
		}
		if len(res.Cells) != 2 || !res.Truncated {
			t.Fatalf("expected 2 cells truncated, got %d (truncated=%v)", len(res.Cells), res.Truncated)
		}
	})
}

func TestDataset_Bounds(t *testing.T) {
	ds := testDataset(t)
	minX, minY, maxX, maxY, ok := ds.Bounds()
	if !ok {
		t.Fatal("expected bounds")
	}
	if minX != 0 || minY != 0 || maxX != 100 || maxY != 100 {
		t.Errorf("unexpected bounds: (%g, %g) - (%g, %g)", minX, minY, maxX, maxY)
	}
}

func TestDataset_AllPointsAndPhenotypeOf(t *testing.T) {
	ds := testDataset(t)
	points := ds.AllPoints()
	if len(points) != 5 {
		t.Fatalf("expected 5 points, got %d", len(points))
	}
	if got := ds.PhenotypeOf(3); got != "CD8+" {
		t.Errorf("expected CD8+, got %q", got)
	}
	if got := ds.PhenotypeOf(999); got != "" {
		t.Errorf("unknown id should map to empty label, got %q", got)
	}
}

func TestDataset_MarkerValues(t *testing.T) {
	ds := testDataset(t)

	t.Run("values", func(t *testing.T) {
		values, minV, maxV, err := ds.MarkerValues("Entire Cell PDL1 Mean")
		if err != nil {
			t.Fatalf("MarkerValues failed: %v", err)
		}
		// Cell 3 has a missing value and is absent from the lookup.
		if len(values) != 4 {
			t.Fatalf("expected 4 values, got %d", len(values))
		}
		if _, ok := values[3]; ok {
			t.Error("missing value should not appear in lookup")
		}
		if values[1] != 5 || values[4] != 2 {
			t.Errorf("unexpected values: %v", values)
		}
		if minV != 0 || maxV != 5 {
			t.Errorf("expected range [0, 5], got [%g, %g]", minV, maxV)
		}
	})

	t.Run("unknownColumn", func(t *testing.T) {
		_, _, _, err := ds.MarkerValues("No Such Column")
		var se *selector.SelectionError
		if !errors.As(err, &se) {
			t.Fatalf("expected SelectionError, got %v", err)
		}
	})

	t.Run("textColumn", func(t *testing.T) {
		_, _, _, err := ds.MarkerValues("Phenotype")
		var se *selector.SelectionError
		if !errors.As(err, &se) {
			t.Fatalf("expected SelectionError, got %v", err)
		}
	})
}
