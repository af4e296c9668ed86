package config

import (
	"os"
	"path/filepath"
	"testing"

	ierrors "github.com/xtxerr/ntuple/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Analysis.Name == "" {
		t.Error("expected default analysis name")
	}

	if cfg.Analysis.TreeName == "" {
		t.Error("expected default tree name")
	}

	if !cfg.Systematics.Enabled {
		t.Error("expected systematics enabled by default")
	}

	if cfg.Output.Format != "parquet" {
		t.Errorf("expected parquet output by default, got %q", cfg.Output.Format)
	}

	if !cfg.Percentile.Enabled {
		t.Error("expected percentile enabled by default")
	}

	if cfg.Workers <= 0 {
		t.Error("expected positive workers")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty analysis name", func(c *Config) { c.Analysis.Name = "" }},
		{"tree name with slash", func(c *Config) { c.Analysis.TreeName = "a/b" }},
		{"bad outlier strategy", func(c *Config) { c.GenWeight.OutlierStrategy = "drop" }},
		{"zero threshold", func(c *Config) { c.GenWeight.OutlierThreshold = 0 }},
		{"bad format", func(c *Config) { c.Output.Format = "hdf5" }},
		{"bad compression", func(c *Config) { c.Output.Compression = "brotli" }},
		{"missing dir", func(c *Config) { c.Output.Dir = "" }},
		{"bad accuracy", func(c *Config) { c.Percentile.Accuracy = 1.5 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"unknown group object", func(c *Config) {
			c.Groups = []GroupConfig{{Name: "Jets", Object: "Gluon"}}
		}},
		{"duplicate group", func(c *Config) {
			c.Groups = []GroupConfig{{Name: "Jets", Object: "Jet"}, {Name: "Jets", Object: "Jet"}}
		}},
		{"variation without objects", func(c *Config) {
			c.Systematics.Kinematic = []VariationConfig{{Name: "JET_JER__1up"}}
		}},
		{"variations on data", func(c *Config) {
			c.Analysis.IsData = true
			c.Systematics.Kinematic = []VariationConfig{{Name: "JET_JER__1up", Objects: []string{"Jet"}}}
		}},
		{"mc sample without dsid", func(c *Config) {
			c.Samples = []SampleConfig{{Name: "ttbar", Events: 10}}
		}},
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !ierrors.Is(err, ierrors.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestConfigValidate_MemoryNeedsNoDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output.Format = "memory"
	cfg.Output.Dir = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory output without dir should be valid: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Errorf("EnsureDirectories: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "job.yaml")

	configYAML := `
analysis:
  name: SUSY
  tree_name: Staus
  write_cutflow: false
systematics:
  kinematic:
    - name: JET_JER__1up
      objects: [Jet, MissingET]
    - name: EG_SCALE_ALL__1down
      objects: [Electron, Photon]
  weight:
    - name: MUON_EFF__1up
      objects: [Muon]
groups:
  - name: Jets
    object: Jet
gen_weight:
  outlier_strategy: reset
output:
  dir: ` + tmpDir + `
  format: root
samples:
  - name: ttbar
    dsid: 410470
    run: 284500
    events: 50
    seed: 7
workers: 2
`

	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Analysis.Name != "SUSY" || cfg.Analysis.TreeName != "Staus" {
		t.Errorf("analysis = %+v", cfg.Analysis)
	}
	if cfg.Analysis.WriteCutflow {
		t.Error("write_cutflow should be overridden")
	}
	if !cfg.Analysis.WriteTrees {
		t.Error("write_trees default should survive")
	}
	if len(cfg.Systematics.Kinematic) != 2 || len(cfg.Systematics.Kinematic[0].Objects) != 2 {
		t.Errorf("kinematic = %+v", cfg.Systematics.Kinematic)
	}
	if cfg.GenWeight.OutlierStrategy != "reset" || cfg.GenWeight.OutlierThreshold != 100 {
		t.Errorf("gen_weight = %+v", cfg.GenWeight)
	}
	if cfg.Output.Format != "root" || cfg.Output.Compression != "zstd" {
		t.Errorf("output = %+v", cfg.Output)
	}
	if len(cfg.Samples) != 1 || cfg.Samples[0].DSID != 410470 {
		t.Errorf("samples = %+v", cfg.Samples)
	}
	if cfg.Workers != 2 {
		t.Errorf("workers = %d, want 2", cfg.Workers)
	}
	if got := cfg.SampleDir("ttbar"); got != filepath.Join(tmpDir, "ttbar") {
		t.Errorf("SampleDir() = %q", got)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Parse([]byte("analysis: [")); err == nil {
		t.Error("expected error for malformed yaml")
	}
	if _, err := Parse([]byte("workers: -1\n")); !ierrors.Is(err, ierrors.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
