// Package cellseg provides the in-memory model and reader for cell
// segmentation tables: one row per cell with spatial coordinates, a phenotype
// label, and arbitrary additional marker columns.
package cellseg

import (
	"fmt"
	"math"
)

// ColumnKind distinguishes numeric from text columns.
type ColumnKind int

const (
	ColumnNumeric ColumnKind = iota
	ColumnText
)

// Column holds one named column of a cell table. Exactly one of Num or Text
// is populated according to Kind. Missing numeric values are NaN; missing
// text values are the empty string.
type Column struct {
	Name string
	Kind ColumnKind
	Num  []float64
	Text []string
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	if c.Kind == ColumnNumeric {
		return len(c.Num)
	}
	return len(c.Text)
}

// Value returns the value at row i.
func (c *Column) Value(i int) Value {
	if c.Kind == ColumnNumeric {
		v := c.Num[i]
		return Value{Num: v, IsNum: true, Valid: !math.IsNaN(v)}
	}
	s := c.Text[i]
	return Value{Text: s, Valid: s != ""}
}

// Value is a single cell attribute. Valid reports whether the value is
// present; IsNum reports whether it came from a numeric column.
type Value struct {
	Num   float64
	Text  string
	IsNum bool
	Valid bool
}

// Schema names the well-known columns of a cell table. The defaults follow
// inForm export naming.
type Schema struct {
	IDColumn        string
	XColumn         string
	YColumn         string
	PhenotypeColumn string
}

// DefaultSchema returns the inForm column naming.
func DefaultSchema() Schema {
	return Schema{
		IDColumn:        "Cell ID",
		XColumn:         "Cell X Position",
		YColumn:         "Cell Y Position",
		PhenotypeColumn: "Phenotype",
	}
}

// Table is a read-only, column-oriented cell table. Row order is stable and
// serves as the implicit index for selection masks.
type Table struct {
	schema Schema
	names  []string
	cols   map[string]*Column
	nRows  int
}

// NewTable builds a table from columns in order. All columns must have the
// same length.
func NewTable(schema Schema, cols []*Column) (*Table, error) {
	t := &Table{
		schema: schema,
		cols:   make(map[string]*Column, len(cols)),
	}
	for i, c := range cols {
		if c.Name == "" {
			return nil, fmt.Errorf("column %d has no name", i)
		}
		if _, dup := t.cols[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column: %s", c.Name)
		}
		if i == 0 {
			t.nRows = c.Len()
		} else if c.Len() != t.nRows {
			return nil, fmt.Errorf("column %s has %d rows, expected %d", c.Name, c.Len(), t.nRows)
		}
		t.names = append(t.names, c.Name)
		t.cols[c.Name] = c
	}
	return t, nil
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	return t.nRows
}

// Schema returns the well-known column names.
func (t *Table) Schema() Schema {
	return t.schema
}

// ColumnNames returns column names in table order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Column returns the named column, or false if it does not exist.
func (t *Table) Column(name string) (*Column, bool) {
	c, ok := t.cols[name]
	return c, ok
}

// Phenotypes returns the phenotype label column, or an error if the table
// has no phenotype column.
func (t *Table) Phenotypes() ([]string, error) {
	c, ok := t.cols[t.schema.PhenotypeColumn]
	if !ok {
		return nil, fmt.Errorf("phenotype column not found: %s", t.schema.PhenotypeColumn)
	}
	if c.Kind != ColumnText {
		return nil, fmt.Errorf("phenotype column %s is not text", t.schema.PhenotypeColumn)
	}
	return c.Text, nil
}

// DistinctPhenotypes returns the distinct phenotype labels in first-occurrence
// order, skipping missing labels.
func (t *Table) DistinctPhenotypes() []string {
	labels, err := t.Phenotypes()
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, l := range labels {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// PhenotypeCounts returns the number of cells per phenotype label.
func (t *Table) PhenotypeCounts() map[string]int {
	labels, err := t.Phenotypes()
	if err != nil {
		return nil
	}
	counts := make(map[string]int)
	for _, l := range labels {
		if l == "" {
			continue
		}
		counts[l]++
	}
	return counts
}
