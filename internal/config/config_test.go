package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_LegacyFormat(t *testing.T) {
	content := `
server:
  port: 9000
data:
  cell_seg_path: "/data/legacy/cell_seg_data.txt"
  pixels_per_micron: 0.5
cache:
  plot_size_mb: 128
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Data.DefaultDataset != "default" {
		t.Errorf("expected default dataset 'default', got %q", cfg.Data.DefaultDataset)
	}
	ds, ok := cfg.Data.Datasets["default"]
	if !ok {
		t.Fatal("expected 'default' dataset")
	}
	if ds.CellSegPath != "/data/legacy/cell_seg_data.txt" {
		t.Errorf("unexpected cell_seg_path: %s", ds.CellSegPath)
	}
	if ds.PixelsPerMicron != 0.5 {
		t.Errorf("unexpected pixels_per_micron: %v", ds.PixelsPerMicron)
	}
}

func TestLoad_MultiDatasetFormat(t *testing.T) {
	content := `
server:
  port: 8080
data:
  melanoma:
    cell_seg_path: "/data/melanoma/cell_seg_data.txt"
    pixels_per_micron: 2.0
  lung:
    cell_seg_path: "/data/lung/cell_seg_data.txt.gz"
`
	cfg := loadFromString(t, content)

	if len(cfg.Data.Datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(cfg.Data.Datasets))
	}

	// First dataset in YAML order should be default
	if cfg.Data.DefaultDataset != "melanoma" {
		t.Errorf("expected default dataset 'melanoma', got %q", cfg.Data.DefaultDataset)
	}

	mel, ok := cfg.Data.Datasets["melanoma"]
	if !ok {
		t.Fatal("expected 'melanoma' dataset")
	}
	if mel.CellSegPath != "/data/melanoma/cell_seg_data.txt" {
		t.Errorf("unexpected melanoma cell_seg_path: %s", mel.CellSegPath)
	}

	lung, ok := cfg.Data.Datasets["lung"]
	if !ok {
		t.Fatal("expected 'lung' dataset")
	}
	if lung.PixelsPerMicron != 2.0 {
		t.Errorf("expected default pixels_per_micron 2.0, got %v", lung.PixelsPerMicron)
	}

	// Check order preserved
	ids := cfg.Data.DatasetIDs()
	if len(ids) != 2 || ids[0] != "melanoma" || ids[1] != "lung" {
		t.Errorf("unexpected dataset order: %v", ids)
	}
}

func TestLoad_PhenotypeRules(t *testing.T) {
	content := `
data:
  test:
    cell_seg_path: "/test/cell_seg_data.txt"
    phenotype_rules:
      "CD8+ PD1+":
        all:
          - "CD8+"
          - column: "Entire Cell PD1 Mean"
            op: ">"
            value: 3.0
    colors:
      "CD8+": "#d62728"
`
	cfg := loadFromString(t, content)

	ds := cfg.Data.Datasets["test"]
	if len(ds.PhenotypeRules) != 1 {
		t.Fatalf("expected 1 phenotype rule, got %d", len(ds.PhenotypeRules))
	}
	if _, ok := ds.PhenotypeRules["CD8+ PD1+"]; !ok {
		t.Error("expected rule 'CD8+ PD1+'")
	}
	if ds.Colors["CD8+"] != "#d62728" {
		t.Errorf("unexpected color: %s", ds.Colors["CD8+"])
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
data:
  test:
    cell_seg_path: "/test/cell_seg_data.txt"
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Cache.PlotSizeMB != 256 {
		t.Errorf("expected default plot cache size 256, got %d", cfg.Cache.PlotSizeMB)
	}
	if cfg.Render.Width != 800 || cfg.Render.Height != 600 {
		t.Errorf("expected default render size 800x600, got %dx%d", cfg.Render.Width, cfg.Render.Height)
	}
	if cfg.Data.Datasets["test"].PixelsPerMicron != 2.0 {
		t.Errorf("expected default pixels_per_micron 2.0, got %v", cfg.Data.Datasets["test"].PixelsPerMicron)
	}
	if cfg.Analysis.RetentionDays != 7 {
		t.Errorf("expected default retention 7 days, got %d", cfg.Analysis.RetentionDays)
	}
}

func TestLoad_NoDataSection(t *testing.T) {
	content := `
server:
  port: 8080
`
	cfg := loadFromString(t, content)

	if cfg.Data.DefaultDataset != "default" {
		t.Errorf("expected default dataset, got %q", cfg.Data.DefaultDataset)
	}
	if len(cfg.Data.Datasets) != 1 {
		t.Errorf("expected 1 default dataset, got %d", len(cfg.Data.Datasets))
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
