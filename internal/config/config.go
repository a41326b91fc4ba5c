// Package config loads the assessment run configuration from YAML, with
// defaults for everything that has a sensible one and environment overrides
// for credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all skai configuration.
type Config struct {
	// Dataset identifies the disaster event this run belongs to. Used in
	// run summaries and log fields only.
	Dataset string `yaml:"dataset"`

	// Imagery configuration
	Imagery ImageryConfig `yaml:"imagery"`

	// Building source configuration
	Buildings BuildingsConfig `yaml:"buildings"`

	// Patch extraction settings
	Patch PatchConfig `yaml:"patch"`

	// Output dataset settings
	Output OutputConfig `yaml:"output"`

	// Label merge settings
	Labels LabelsConfig `yaml:"labels"`

	// Pipeline execution settings
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ImageryConfig locates the pre- and post-disaster rasters. Paths are blob
// locations: plain filesystem paths or s3:// URLs.
type ImageryConfig struct {
	Before string `yaml:"before"`
	After  string `yaml:"after"`
}

// BuildingsConfig locates building centroids and the area of interest.
type BuildingsConfig struct {
	// Path is a GeoJSON file of building footprints or centroids, or a
	// CSV of longitude,latitude points.
	Path string `yaml:"path"`
	// AOI optionally restricts buildings to an area of interest polygon.
	AOI string `yaml:"aoi"`
}

// PatchConfig controls patch geometry and rejection.
type PatchConfig struct {
	Size            int     `yaml:"size"`
	Resolution      float64 `yaml:"resolution"`
	AlignmentSize   int     `yaml:"alignment_size"`
	MaxDisplacement int     `yaml:"max_displacement"`
	LabelingSize    int     `yaml:"labeling_size"`
	BlankThreshold  float64 `yaml:"blank_threshold"`
	// PartialPolicy is "keep-flagged" or "drop".
	PartialPolicy string `yaml:"partial_policy"`
}

// OutputConfig controls where and how the dataset is written.
type OutputConfig struct {
	// Location is a directory path or an s3://bucket/prefix URL.
	Location string `yaml:"location"`
	Shards   int    `yaml:"shards"`
	// CatalogPath is the sqlite example catalog. Defaults to catalog.db
	// under Location when Location is a filesystem path.
	CatalogPath string `yaml:"catalog_path"`
	// LabelingImages is how many labeling composites to sample.
	LabelingImages int `yaml:"labeling_images"`

	S3 S3Config `yaml:"s3"`
}

// S3Config carries S3-compatible endpoint settings for s3:// output
// locations. Credentials fall back to the default AWS chain when empty.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

// LabelsConfig controls the label merge stage.
type LabelsConfig struct {
	// Dir holds annotation exports (.csv or .jsonl files).
	Dir string `yaml:"dir"`
	// Taxonomy maps raw annotation values to "negative" or "positive".
	// Empty means the default damage taxonomy.
	Taxonomy map[string]string `yaml:"taxonomy"`
	// TestFraction of labeled examples assigned to the test split.
	TestFraction float64 `yaml:"test_fraction"`
}

// PipelineConfig controls run execution.
type PipelineConfig struct {
	Workers int `yaml:"workers"`
	// MetricsAddr serves Prometheus metrics during a run when set, e.g.
	// "localhost:9090". Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Patch: PatchConfig{
			Size:            64,
			Resolution:      0.5,
			AlignmentSize:   128,
			MaxDisplacement: 30,
			LabelingSize:    128,
			BlankThreshold:  0.25,
			PartialPolicy:   "keep-flagged",
		},
		Output: OutputConfig{
			Shards:         20,
			LabelingImages: 0,
		},
		Labels: LabelsConfig{
			TestFraction: 0.2,
		},
		Pipeline: PipelineConfig{
			Workers: 8,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, starting from defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets credentials come from the environment so they stay
// out of checked-in config files.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SKAI_S3_ACCESS_KEY_ID"); v != "" {
		c.Output.S3.AccessKeyID = v
	}
	if v := os.Getenv("SKAI_S3_SECRET_ACCESS_KEY"); v != "" {
		c.Output.S3.SecretAccessKey = v
	}
	if v := os.Getenv("SKAI_S3_ENDPOINT"); v != "" {
		c.Output.S3.Endpoint = v
	}
}

// Validate checks the parts of the configuration that every command needs.
// Command-specific requirements (imagery for generate, labels for merge)
// are checked by the commands themselves.
func (c *Config) Validate() error {
	if c.Output.Shards <= 0 {
		return fmt.Errorf("output.shards must be positive, got %d", c.Output.Shards)
	}
	if c.Patch.Size <= 0 {
		return fmt.Errorf("patch.size must be positive, got %d", c.Patch.Size)
	}
	if c.Patch.Resolution <= 0 {
		return fmt.Errorf("patch.resolution must be positive, got %g", c.Patch.Resolution)
	}
	if c.Patch.AlignmentSize < c.Patch.Size {
		return fmt.Errorf("patch.alignment_size %d must be at least patch.size %d", c.Patch.AlignmentSize, c.Patch.Size)
	}
	if c.Patch.BlankThreshold < 0 || c.Patch.BlankThreshold > 1 {
		return fmt.Errorf("patch.blank_threshold must be in [0,1], got %g", c.Patch.BlankThreshold)
	}
	if p := c.Patch.PartialPolicy; p != "keep-flagged" && p != "drop" {
		return fmt.Errorf("patch.partial_policy must be keep-flagged or drop, got %q", p)
	}
	if c.Labels.TestFraction < 0 || c.Labels.TestFraction > 1 {
		return fmt.Errorf("labels.test_fraction must be in [0,1], got %g", c.Labels.TestFraction)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	return nil
}
