// Package config handles configuration loading for the wormcells server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
	Query  QueryConfig  `yaml:"query"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// DatasetConfig holds the store paths of one dataset. HistogramBins, when
// set, is the bin count the histogram store must carry.
type DatasetConfig struct {
	HeatmapPath     string `yaml:"heatmap_path"`
	HistogramPath   string `yaml:"histogram_path"`
	SwarmPath       string `yaml:"swarm_path"`
	AnnotationsPath string `yaml:"annotations_path"`
	HistogramBins   int    `yaml:"histogram_bins"`
}

// DataConfig contains the configured datasets. Datasets keeps YAML order in
// order; DefaultDataset is the first one unless set explicitly.
type DataConfig struct {
	Datasets       map[string]DatasetConfig
	DefaultDataset string

	order []string
}

// DatasetIDs returns dataset ids in configuration order.
func (d *DataConfig) DatasetIDs() []string {
	return append([]string(nil), d.order...)
}

// SetDataset adds or replaces a dataset, keeping its position if it already exists.
func (d *DataConfig) SetDataset(id string, ds DatasetConfig) {
	if d.Datasets == nil {
		d.Datasets = make(map[string]DatasetConfig)
	}
	if _, ok := d.Datasets[id]; !ok {
		d.order = append(d.order, id)
	}
	d.Datasets[id] = ds
	if d.DefaultDataset == "" {
		d.DefaultDataset = id
	}
}

// UnmarshalYAML accepts either a mapping of dataset id to paths or the legacy
// flat form, which becomes a dataset named "default".
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data: expected a mapping, got line %d", node.Line)
	}

	var legacy DatasetConfig
	flat := false
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "default_dataset":
			if err := value.Decode(&d.DefaultDataset); err != nil {
				return err
			}
			continue
		case "heatmap_path", "histogram_path", "swarm_path", "annotations_path", "histogram_bins":
			flat = true
			continue
		}
		if value.Kind != yaml.MappingNode {
			return fmt.Errorf("data.%s: expected dataset paths (line %d)", key.Value, value.Line)
		}
		var ds DatasetConfig
		if err := value.Decode(&ds); err != nil {
			return fmt.Errorf("data.%s: %w", key.Value, err)
		}
		d.SetDataset(key.Value, ds)
	}
	if flat {
		if err := node.Decode(&legacy); err != nil {
			return err
		}
		d.SetDataset("default", legacy)
	}
	return nil
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	QueryCacheSize  int `yaml:"query_cache_size"`
	ImageCacheMB    int `yaml:"image_cache_mb"`
	ImageTTLMinutes int `yaml:"image_ttl_minutes"`
}

// ImageTTL returns the image cache lifetime.
func (c CacheConfig) ImageTTL() time.Duration {
	return time.Duration(c.ImageTTLMinutes) * time.Minute
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	CellSize        int    `yaml:"cell_size"`
	DefaultColormap string `yaml:"default_colormap"`
}

// QueryConfig contains defaults applied to queries that leave parameters out.
type QueryConfig struct {
	DefaultGenes int    `yaml:"default_genes"`
	DefaultCells int    `yaml:"default_cells"`
	DefaultLimit int    `yaml:"default_limit"`
	DefaultOrder string `yaml:"default_order"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// DefaultHistogramBins is the bin count of the histogram store produced by
// the preparation pipeline: 100 log10 bins over [-9, 0).
const DefaultHistogramBins = 100

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

	if _, ok := cfg.Data.Datasets[cfg.Data.DefaultDataset]; !ok {
		return nil, fmt.Errorf("default_dataset %q is not configured", cfg.Data.DefaultDataset)
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:        5000,
			CORSOrigins: []string{"*"},
			Title:       "wormcells-viz",
		},
		Cache: CacheConfig{
			QueryCacheSize:  1000,
			ImageCacheMB:    256,
			ImageTTLMinutes: 10,
		},
		Render: RenderConfig{
			CellSize:        16,
			DefaultColormap: "viridis",
		},
		Query: QueryConfig{
			DefaultGenes: 20,
			DefaultCells: 20,
			DefaultLimit: 50,
			DefaultOrder: "ascending",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
	cfg.Data.SetDataset("default", DatasetConfig{
		HeatmapPath:   "./data/heatmap_data.h5ad.zarr",
		HistogramPath: "./data/histogram_data.h5ad.zarr",
		SwarmPath:     "./data/swarmplot_data.h5ad.zarr",
		HistogramBins: DefaultHistogramBins,
	})
	return cfg
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if len(cfg.Data.Datasets) == 0 {
		def := cfg.Data.DefaultDataset
		cfg.Data = defaults.Data
		if def != "" && def != "default" {
			cfg.Data.DefaultDataset = def
		}
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Cache.ImageCacheMB == 0 {
		cfg.Cache.ImageCacheMB = defaults.Cache.ImageCacheMB
	}
	if cfg.Cache.ImageTTLMinutes == 0 {
		cfg.Cache.ImageTTLMinutes = defaults.Cache.ImageTTLMinutes
	}
	if cfg.Render.CellSize == 0 {
		cfg.Render.CellSize = defaults.Render.CellSize
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Query.DefaultGenes == 0 {
		cfg.Query.DefaultGenes = defaults.Query.DefaultGenes
	}
	if cfg.Query.DefaultCells == 0 {
		cfg.Query.DefaultCells = defaults.Query.DefaultCells
	}
	if cfg.Query.DefaultLimit == 0 {
		cfg.Query.DefaultLimit = defaults.Query.DefaultLimit
	}
	if cfg.Query.DefaultOrder == "" {
		cfg.Query.DefaultOrder = defaults.Query.DefaultOrder
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}
