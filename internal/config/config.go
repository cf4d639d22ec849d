// Package config handles configuration loading for the genome tile server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// DataConfig contains data service settings and the configured tracks.
type DataConfig struct {
	ServiceURL         string        `yaml:"service_url"`
	TimeoutSeconds     int           `yaml:"timeout_seconds"`
	QueryWaitMS        int           `yaml:"query_wait_ms"`
	ToolQueryWaitMS    int           `yaml:"tool_query_wait_ms"`
	ReferenceDatasetID string        `yaml:"reference_dataset_id"`
	Tracks             []TrackConfig `yaml:"tracks"`
}

// TrackConfig describes one track shown in the view.
type TrackConfig struct {
	ID        string            `yaml:"id"`
	Name      string            `yaml:"name"`
	Type      string            `yaml:"type"`
	DatasetID string            `yaml:"dataset_id"`
	HdaLdda   string            `yaml:"hda_ldda"`
	Mode      string            `yaml:"mode"`
	Tool      bool              `yaml:"tool"`
	Prefs     map[string]string `yaml:"prefs"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	TileSizeMB     int `yaml:"tile_size_mb"`
	TileTTLMinutes int `yaml:"tile_ttl_minutes"`
	QueryCacheSize int `yaml:"query_cache_size"`
	DataElements   int `yaml:"data_elements"`
	FeatureTiles   int `yaml:"feature_tiles"`
	LineTiles      int `yaml:"line_tiles"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	TileSize int `yaml:"tile_size"`
	// Scheme for Intensity line tracks; empty tints the track color.
	DefaultColormap string `yaml:"default_colormap"`
	MaxRows         int    `yaml:"max_rows"`
	FrameIntervalMS int    `yaml:"frame_interval_ms"`
	ViewWidth       int    `yaml:"view_width"`
	PrefetchWorkers int    `yaml:"prefetch_workers"`
}

// StoreConfig contains settings for the persistent payload store.
type StoreConfig struct {
	SQLitePath    string `yaml:"sqlite_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// TrackByID returns the track with the given id.
func (d DataConfig) TrackByID(id string) (TrackConfig, bool) {
	for _, t := range d.Tracks {
		if t.ID == id {
			return t, true
		}
	}
	return TrackConfig{}, false
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

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "Genome Tiles",
		},
		Data: DataConfig{
			ServiceURL:      "http://localhost:8081/api/datasets",
			TimeoutSeconds:  30,
			QueryWaitMS:     5000,
			ToolQueryWaitMS: 1000,
		},
		Cache: CacheConfig{
			TileSizeMB:     256,
			TileTTLMinutes: 10,
			QueryCacheSize: 1000,
			DataElements:   5,
			FeatureTiles:   10,
			LineTiles:      5,
		},
		Render: RenderConfig{
			TileSize:        400,
			MaxRows:         100,
			FrameIntervalMS: 16,
			ViewWidth:       1200,
			PrefetchWorkers: 2,
		},
		Store: StoreConfig{
			SQLitePath:    "./data/payloads.sqlite",
			RetentionDays: 7,
		},
		Log: LogConfig{
			Level: "info",
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
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Data.ServiceURL == "" {
		cfg.Data.ServiceURL = defaults.Data.ServiceURL
	}
	if cfg.Data.TimeoutSeconds == 0 {
		cfg.Data.TimeoutSeconds = defaults.Data.TimeoutSeconds
	}
	if cfg.Data.QueryWaitMS == 0 {
		cfg.Data.QueryWaitMS = defaults.Data.QueryWaitMS
	}
	if cfg.Data.ToolQueryWaitMS == 0 {
		cfg.Data.ToolQueryWaitMS = defaults.Data.ToolQueryWaitMS
	}
	if cfg.Cache.TileSizeMB == 0 {
		cfg.Cache.TileSizeMB = defaults.Cache.TileSizeMB
	}
	if cfg.Cache.TileTTLMinutes == 0 {
		cfg.Cache.TileTTLMinutes = defaults.Cache.TileTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Cache.DataElements == 0 {
		cfg.Cache.DataElements = defaults.Cache.DataElements
	}
	if cfg.Cache.FeatureTiles == 0 {
		cfg.Cache.FeatureTiles = defaults.Cache.FeatureTiles
	}
	if cfg.Cache.LineTiles == 0 {
		cfg.Cache.LineTiles = defaults.Cache.LineTiles
	}
	if cfg.Render.TileSize == 0 {
		cfg.Render.TileSize = defaults.Render.TileSize
	}
	if cfg.Render.MaxRows == 0 {
		cfg.Render.MaxRows = defaults.Render.MaxRows
	}
	if cfg.Render.FrameIntervalMS == 0 {
		cfg.Render.FrameIntervalMS = defaults.Render.FrameIntervalMS
	}
	if cfg.Render.ViewWidth == 0 {
		cfg.Render.ViewWidth = defaults.Render.ViewWidth
	}
	if cfg.Render.PrefetchWorkers == 0 {
		cfg.Render.PrefetchWorkers = defaults.Render.PrefetchWorkers
	}
	if cfg.Store.RetentionDays == 0 {
		cfg.Store.RetentionDays = defaults.Store.RetentionDays
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	for i := range cfg.Data.Tracks {
		t := &cfg.Data.Tracks[i]
		if t.Name == "" {
			t.Name = t.ID
		}
		if t.Mode == "" {
			t.Mode = "Auto"
		}
		if t.Type == "line" && cfg.Render.DefaultColormap != "" && t.Prefs["colormap"] == "" {
			if t.Prefs == nil {
				t.Prefs = make(map[string]string)
			}
			t.Prefs["colormap"] = cfg.Render.DefaultColormap
		}
	}
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Data.Tracks))
	for i, t := range c.Data.Tracks {
		if t.ID == "" {
			return fmt.Errorf("data.tracks[%d]: missing id", i)
		}
		if _, ok := seen[t.ID]; ok {
			return fmt.Errorf("data.tracks[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = struct{}{}
		if t.Type == "" {
			return fmt.Errorf("track %q: missing type", t.ID)
		}
		if t.DatasetID == "" && t.Type != "reference" {
			return fmt.Errorf("track %q: missing dataset_id", t.ID)
		}
	}
	return nil
}
