// Package selector evaluates row-selection specifications against cell
// segmentation tables. A specification is a small recursive grammar: a single
// phenotype name, a set of names (OR), a column predicate, or an ordered
// collection of specifications (AND).
package selector

import (
	"fmt"

	"github.com/phenomap/server/internal/data/cellseg"
)

// Spec is a row selection specification. The concrete types are Phenotype,
// AnyOf, Predicate and AllOf; they nest arbitrarily inside AllOf.
type Spec interface {
	isSpec()
}

// Phenotype selects rows whose phenotype label equals the name exactly.
type Phenotype string

// AnyOf selects rows whose phenotype label is any of the named phenotypes.
type AnyOf []string

// AllOf selects rows that satisfy every member specification.
type AllOf []Spec

// Predicate selects rows for which Test returns true on the named column's
// value. Rows with missing values always evaluate false; a missing column is
// an error at evaluation time.
type Predicate struct {
	Column string
	Test   func(v cellseg.Value) bool
}

func (Phenotype) isSpec() {}
func (AnyOf) isSpec()     {}
func (AllOf) isSpec()     {}
func (Predicate) isSpec() {}

// SelectionError reports a malformed specification or a reference to a column
// the table does not have.
type SelectionError struct {
	Column string
	Reason string
}

func (e *SelectionError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("selection: %s: column %q", e.Reason, e.Column)
	}
	return "selection: " + e.Reason
}

// Evaluate returns a boolean mask over the table's rows: mask[i] reports
// whether row i satisfies spec. The mask always has exactly t.NumRows()
// entries and evaluation never mutates the table.
func Evaluate(t *cellseg.Table, spec Spec) ([]bool, error) {
	if spec == nil {
		return nil, &SelectionError{Reason: "nil specification"}
	}

	switch s := spec.(type) {
	case Phenotype:
		return phenotypeMask(t, func(label string) bool { return label == string(s) })

	case AnyOf:
		set := make(map[string]bool, len(s))
		for _, name := range s {
			set[name] = true
		}
		return phenotypeMask(t, func(label string) bool { return set[label] })

	case Predicate:
		if s.Test == nil {
			return nil, &SelectionError{Column: s.Column, Reason: "predicate has no test function"}
		}
		col, ok := t.Column(s.Column)
		if !ok {
			return nil, &SelectionError{Column: s.Column, Reason: "unknown column"}
		}
		mask := make([]bool, t.NumRows())
		for i := range mask {
			v := col.Value(i)
			// Missing values are false, not an error.
			if !v.Valid {
				continue
			}
			mask[i] = s.Test(v)
		}
		return mask, nil

	case AllOf:
		mask := make([]bool, t.NumRows())
		for i := range mask {
			mask[i] = true
		}
		for _, member := range s {
			m, err := Evaluate(t, member)
			if err != nil {
				return nil, err
			}
			for i := range mask {
				mask[i] = mask[i] && m[i]
			}
		}
		return mask, nil

	default:
		return nil, &SelectionError{Reason: fmt.Sprintf("unsupported specification type %T", spec)}
	}
}

func phenotypeMask(t *cellseg.Table, match func(string) bool) ([]bool, error) {
	name := t.Schema().PhenotypeColumn
	col, ok := t.Column(name)
	if !ok {
		return nil, &SelectionError{Column: name, Reason: "unknown column"}
	}
	mask := make([]bool, t.NumRows())
	for i := range mask {
		v := col.Value(i)
		if !v.Valid || v.IsNum {
			continue
		}
		mask[i] = match(v.Text)
	}
	return mask, nil
}

// Count returns the number of true entries in a mask.
func Count(mask []bool) int {
	n := 0
	for _, b := range mask {
		if b {
			n++
		}
	}
	return n
}

// GreaterThan builds a predicate matching rows where column > threshold.
func GreaterThan(column string, threshold float64) Predicate {
	return numericPredicate(column, func(v float64) bool { return v > threshold })
}

// AtLeast builds a predicate matching rows where column >= threshold.
func AtLeast(column string, threshold float64) Predicate {
	return numericPredicate(column, func(v float64) bool { return v >= threshold })
}

// LessThan builds a predicate matching rows where column < threshold.
func LessThan(column string, threshold float64) Predicate {
	return numericPredicate(column, func(v float64) bool { return v < threshold })
}

// AtMost builds a predicate matching rows where column <= threshold.
func AtMost(column string, threshold float64) Predicate {
	return numericPredicate(column, func(v float64) bool { return v <= threshold })
}

// Between builds a predicate matching rows where lo <= column <= hi.
func Between(column string, lo, hi float64) Predicate {
	return numericPredicate(column, func(v float64) bool { return v >= lo && v <= hi })
}

// EqualsText builds a predicate matching rows where a text column equals s.
func EqualsText(column, s string) Predicate {
	return Predicate{
		Column: column,
		Test: func(v cellseg.Value) bool {
			return !v.IsNum && v.Text == s
		},
	}
}

// Where builds a predicate from an arbitrary test function.
func Where(column string, test func(v cellseg.Value) bool) Predicate {
	return Predicate{Column: column, Test: test}
}

func numericPredicate(column string, test func(float64) bool) Predicate {
	return Predicate{
		Column: column,
		Test: func(v cellseg.Value) bool {
			return v.IsNum && test(v.Num)
		},
	}
}
