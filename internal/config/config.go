// Package config handles configuration loading for the PhenoMap server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Cache    CacheConfig    `yaml:"cache"`
	Render   RenderConfig   `yaml:"render"`
	Analysis AnalysisConfig `yaml:"analysis"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// DatasetConfig describes one cell segmentation dataset.
type DatasetConfig struct {
	CellSegPath     string                 `yaml:"cell_seg_path"`
	PixelsPerMicron float64                `yaml:"pixels_per_micron"`
	PhenotypeRules  map[string]interface{} `yaml:"phenotype_rules"`
	Colors          map[string]string      `yaml:"colors"`
}

// DataConfig contains data source settings. Two YAML layouts are accepted:
// a legacy flat form (cell_seg_path at the top level, registered as the
// "default" dataset) and a multi-dataset mapping of dataset ID to settings.
type DataConfig struct {
	DefaultDataset string
	Datasets       map[string]DatasetConfig

	order []string
}

// UnmarshalYAML decodes either data layout, preserving the YAML mapping
// order so the first dataset becomes the default.
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data section must be a mapping")
	}

	// Legacy flat form
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value == "cell_seg_path" {
			var ds DatasetConfig
			if err := node.Decode(&ds); err != nil {
				return err
			}
			d.DefaultDataset = "default"
			d.Datasets = map[string]DatasetConfig{"default": ds}
			d.order = []string{"default"}
			return nil
		}
	}

	d.Datasets = make(map[string]DatasetConfig)
	for i := 0; i < len(node.Content); i += 2 {
		id := node.Content[i].Value
		var ds DatasetConfig
		if err := node.Content[i+1].Decode(&ds); err != nil {
			return fmt.Errorf("dataset %q: %w", id, err)
		}
		d.Datasets[id] = ds
		d.order = append(d.order, id)
	}
	if len(d.order) > 0 {
		d.DefaultDataset = d.order[0]
	}
	return nil
}

// DatasetIDs returns all dataset IDs in config order.
func (d *DataConfig) DatasetIDs() []string {
	return d.order
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	PlotSizeMB     int `yaml:"plot_size_mb"`
	PlotTTLMinutes int `yaml:"plot_ttl_minutes"`
	QueryEntries   int `yaml:"query_entries"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	Width           int     `yaml:"width"`
	Height          int     `yaml:"height"`
	PointRadius     float64 `yaml:"point_radius"`
	DefaultColormap string  `yaml:"default_colormap"`
}

// AnalysisConfig contains analysis job settings.
type AnalysisConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	SQLitePath    string `yaml:"sqlite_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			DefaultDataset: "default",
			Datasets: map[string]DatasetConfig{
				"default": {
					CellSegPath:     "./data/cell_seg_data.txt",
					PixelsPerMicron: 2.0,
				},
			},
			order: []string{"default"},
		},
		Cache: CacheConfig{
			PlotSizeMB:     256,
			PlotTTLMinutes: 10,
			QueryEntries:   1000,
		},
		Render: RenderConfig{
			Width:           800,
			Height:          600,
			PointRadius:     2.0,
			DefaultColormap: "viridis",
		},
		Analysis: AnalysisConfig{
			MaxConcurrent: 1,
			SQLitePath:    "./data/analysis_jobs.sqlite",
			RetentionDays: 7,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if len(cfg.Data.Datasets) == 0 {
		cfg.Data = defaults.Data
	}
	for id, ds := range cfg.Data.Datasets {
		if ds.PixelsPerMicron == 0 {
			ds.PixelsPerMicron = 2.0
			cfg.Data.Datasets[id] = ds
		}
	}
	if cfg.Cache.PlotSizeMB == 0 {
		cfg.Cache.PlotSizeMB = defaults.Cache.PlotSizeMB
	}
	if cfg.Cache.PlotTTLMinutes == 0 {
		cfg.Cache.PlotTTLMinutes = defaults.Cache.PlotTTLMinutes
	}
	if cfg.Cache.QueryEntries == 0 {
		cfg.Cache.QueryEntries = defaults.Cache.QueryEntries
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.PointRadius == 0 {
		cfg.Render.PointRadius = defaults.Render.PointRadius
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Analysis.MaxConcurrent == 0 {
		cfg.Analysis.MaxConcurrent = defaults.Analysis.MaxConcurrent
	}
	if cfg.Analysis.SQLitePath == "" {
		cfg.Analysis.SQLitePath = defaults.Analysis.SQLitePath
	}
	if cfg.Analysis.RetentionDays == 0 {
		cfg.Analysis.RetentionDays = defaults.Analysis.RetentionDays
	}
}
