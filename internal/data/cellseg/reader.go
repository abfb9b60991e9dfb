package cellseg

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// missingTokens are the cell values treated as missing in inForm exports.
var missingTokens = map[string]bool{
	"":     true,
	"NA":   true,
	"N/A":  true,
	"#N/A": true,
	"NaN":  true,
}

// Read loads a cell segmentation table from a tab-delimited file. Files
// ending in .gz are decompressed transparently.
func Read(path string, schema Schema) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cell seg file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	return ReadFrom(r, schema)
}

// ReadFrom parses a tab-delimited cell segmentation table. The first record
// is the header; column types are inferred from the data (a column is numeric
// when every non-missing value parses as a float).
func ReadFrom(r io.Reader, schema Schema) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	raw := make([][]string, len(header))
	rowCount := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", rowCount+1, err)
		}
		for i := range header {
			v := ""
			if i < len(rec) {
				v = strings.TrimSpace(rec[i])
			}
			raw[i] = append(raw[i], v)
		}
		rowCount++
	}

	cols := make([]*Column, 0, len(header))
	for i, name := range header {
		cols = append(cols, buildColumn(name, raw[i], name == schema.PhenotypeColumn))
	}

	t, err := NewTable(schema, cols)
	if err != nil {
		return nil, fmt.Errorf("inconsistent cell seg table: %w", err)
	}
	return t, nil
}

// buildColumn infers the column type and converts raw strings. forceText
// keeps label columns textual even when their values look numeric.
func buildColumn(name string, values []string, forceText bool) *Column {
	numeric := !forceText
	if numeric {
		seen := false
		for _, v := range values {
			if missingTokens[v] {
				continue
			}
			seen = true
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				numeric = false
				break
			}
		}
		// An all-missing column stays textual; there is nothing numeric
		// about it and text keeps the missing markers visible.
		if !seen {
			numeric = false
		}
	}

	if numeric {
		num := make([]float64, len(values))
		for i, v := range values {
			if missingTokens[v] {
				num[i] = math.NaN()
				continue
			}
			f, _ := strconv.ParseFloat(v, 64)
			num[i] = f
		}
		return &Column{Name: name, Kind: ColumnNumeric, Num: num}
	}

	text := make([]string, len(values))
	for i, v := range values {
		if missingTokens[v] {
			text[i] = ""
			continue
		}
		text[i] = v
	}
	return &Column{Name: name, Kind: ColumnText, Text: text}
}
