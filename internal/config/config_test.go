package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Patch.Size != 64 {
		t.Errorf("expected Patch.Size=64, got %d", cfg.Patch.Size)
	}
	if cfg.Patch.BlankThreshold != 0.25 {
		t.Errorf("expected Patch.BlankThreshold=0.25, got %g", cfg.Patch.BlankThreshold)
	}
	if cfg.Patch.MaxDisplacement != 30 {
		t.Errorf("expected Patch.MaxDisplacement=30, got %d", cfg.Patch.MaxDisplacement)
	}
	if cfg.Output.Shards != 20 {
		t.Errorf("expected Output.Shards=20, got %d", cfg.Output.Shards)
	}
	if cfg.Labels.TestFraction != 0.2 {
		t.Errorf("expected Labels.TestFraction=0.2, got %g", cfg.Labels.TestFraction)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "skai.yaml")

	cfg := DefaultConfig()
	cfg.Dataset = "hurricane-x"
	cfg.Imagery.Before = "/data/before.tif"
	cfg.Output.Location = "s3://bucket/run1"
	cfg.Labels.Taxonomy = map[string]string{"destroyed": "positive"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Dataset != "hurricane-x" {
		t.Errorf("expected Dataset=hurricane-x, got %s", loaded.Dataset)
	}
	if loaded.Imagery.Before != "/data/before.tif" {
		t.Errorf("expected Imagery.Before=/data/before.tif, got %s", loaded.Imagery.Before)
	}
	if loaded.Labels.Taxonomy["destroyed"] != "positive" {
		t.Errorf("taxonomy did not round-trip: %v", loaded.Labels.Taxonomy)
	}
	// Fields absent from the file keep their defaults.
	if loaded.Patch.Size != 64 {
		t.Errorf("expected default Patch.Size=64, got %d", loaded.Patch.Size)
	}
}

func TestConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load of missing file should return defaults, got %v", err)
	}
	if cfg.Patch.Size != 64 {
		t.Errorf("expected defaults, got Patch.Size=%d", cfg.Patch.Size)
	}
}

func TestConfig_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("patch: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error for malformed YAML")
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SKAI_S3_ACCESS_KEY_ID", "env-key")
	t.Setenv("SKAI_S3_SECRET_ACCESS_KEY", "env-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Output.S3.AccessKeyID != "env-key" {
		t.Errorf("expected AccessKeyID=env-key, got %s", cfg.Output.S3.AccessKeyID)
	}
	if cfg.Output.S3.SecretAccessKey != "env-secret" {
		t.Errorf("expected SecretAccessKey=env-secret, got %s", cfg.Output.S3.SecretAccessKey)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero shards", func(c *Config) { c.Output.Shards = 0 }},
		{"zero patch size", func(c *Config) { c.Patch.Size = 0 }},
		{"zero resolution", func(c *Config) { c.Patch.Resolution = 0 }},
		{"alignment below patch", func(c *Config) { c.Patch.AlignmentSize = 1 }},
		{"blank threshold above one", func(c *Config) { c.Patch.BlankThreshold = 1.5 }},
		{"unknown partial policy", func(c *Config) { c.Patch.PartialPolicy = "maybe" }},
		{"test fraction above one", func(c *Config) { c.Labels.TestFraction = 2 }},
		{"zero workers", func(c *Config) { c.Pipeline.Workers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
