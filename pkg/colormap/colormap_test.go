package colormap

import (
	"image/color"
	"testing"
)

func TestSeuratColormapEndpoints(t *testing.T) {
	t.Parallel()

	c0, ok := Seurat.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	if c0 != (color.RGBA{R: 211, G: 211, B: 211, A: 255}) {
		t.Fatalf("unexpected Seurat.At(0): %#v", c0)
	}

	c1, ok := Seurat.At(1).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=1")
	}
	if c1 != (color.RGBA{R: 49, G: 54, B: 149, A: 255}) {
		t.Fatalf("unexpected Seurat.At(1): %#v", c1)
	}
}

func TestHexRoundTrip(t *testing.T) {
	t.Parallel()

	in := color.RGBA{R: 214, G: 39, B: 40, A: 255}
	hex := Hex(in)
	if hex != "#D62728" {
		t.Fatalf("unexpected hex: %s", hex)
	}

	out, ok := ParseHex(hex)
	if !ok {
		t.Fatalf("expected ParseHex to accept %q", hex)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %#v vs %#v", out, in)
	}
}

func TestParseHexInvalid(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "d62728", "#d627", "#zzzzzz", "#d62728ff"} {
		if _, ok := ParseHex(s); ok {
			t.Errorf("expected ParseHex(%q) to fail", s)
		}
	}
}

func TestAssignColors(t *testing.T) {
	t.Parallel()

	names := []string{"CK+", "CD8+", "CD8+ PD1+"}
	overrides := map[string]string{"CD8+": "#d62728"}
	colors := AssignColors(names, overrides)

	if colors["CD8+"] != "#d62728" {
		t.Errorf("expected override to win, got %s", colors["CD8+"])
	}
	for _, name := range names {
		if colors[name] == "" {
			t.Errorf("expected a color for %q", name)
		}
	}
	if colors["CK+"] == colors["CD8+ PD1+"] {
		t.Errorf("expected distinct palette colors, got %s for both", colors["CK+"])
	}
}

func TestAssignColorsDeterministic(t *testing.T) {
	t.Parallel()

	names := []string{"A", "B", "C"}
	first := AssignColors(names, nil)
	second := AssignColors(names, nil)
	for _, name := range names {
		if first[name] != second[name] {
			t.Fatalf("assignment not deterministic for %q: %s vs %s", name, first[name], second[name])
		}
	}
}
