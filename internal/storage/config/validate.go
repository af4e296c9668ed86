package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	ierrors "github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/systematics"
	"github.com/xtxerr/ntuple/internal/validation"
)

// Validate checks the configuration for errors. All problems are
// reported at once.
func (c *Config) Validate() error {
	var errs []error

	// Analysis
	if err := c.Analysis.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("analysis: %w", err))
	}

	// Systematics
	if err := c.Systematics.Validate(c.Analysis.IsData); err != nil {
		errs = append(errs, fmt.Errorf("systematics: %w", err))
	}

	// Groups
	seen := make(map[string]bool)
	for i, g := range c.Groups {
		if g.Name == "" {
			errs = append(errs, fmt.Errorf("groups[%d]: name is required", i))
		} else if seen[g.Name] {
			errs = append(errs, fmt.Errorf("groups[%d]: duplicate name %q", i, g.Name))
		}
		seen[g.Name] = true
		if _, err := systematics.ParseSelectionObject(g.Object); err != nil {
			errs = append(errs, fmt.Errorf("groups[%d]: %w", i, err))
		}
	}

	// GenWeight
	if err := c.GenWeight.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("gen_weight: %w", err))
	}

	// Output
	if err := c.Output.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("output: %w", err))
	}

	// Percentile
	if c.Percentile.Enabled {
		if c.Percentile.Accuracy <= 0 || c.Percentile.Accuracy >= 1 {
			errs = append(errs, errors.New("percentile.accuracy must be between 0 and 1"))
		}
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		errs = append(errs, errors.New("metrics.namespace is required when enabled"))
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, errors.New("logging.level must be one of: debug, info, warn, error"))
	}

	// Samples
	names := make(map[string]bool)
	for i, s := range c.Samples {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("samples[%d]: %w", i, err))
		}
		if names[s.Name] {
			errs = append(errs, fmt.Errorf("samples[%d]: duplicate name %q", i, s.Name))
		}
		names[s.Name] = true
	}

	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ierrors.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks the analysis configuration.
func (c *AnalysisConfig) Validate() error {
	var errs []error

	if err := validation.ValidateName(c.Name, validation.VariableRules()); err != nil {
		errs = append(errs, fmt.Errorf("name: %w", err))
	}

	if err := validation.ValidateName(c.TreeName, validation.VariableRules()); err != nil {
		errs = append(errs, fmt.Errorf("tree_name: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the systematics configuration.
func (c *SystematicsConfig) Validate(isData bool) error {
	var errs []error

	if isData && c.Enabled && (len(c.Kinematic) > 0 || len(c.Weight) > 0) {
		errs = append(errs, errors.New("variations are not allowed on data"))
	}

	check := func(kind string, list []VariationConfig) {
		for i, v := range list {
			if err := validation.ValidateSystematicName(v.Name); err != nil {
				errs = append(errs, fmt.Errorf("%s[%d]: %w", kind, i, err))
			}
			if len(v.Objects) == 0 {
				errs = append(errs, fmt.Errorf("%s[%d]: objects are required", kind, i))
			}
			for _, obj := range v.Objects {
				if _, err := systematics.ParseSelectionObject(obj); err != nil {
					errs = append(errs, fmt.Errorf("%s[%d]: %w", kind, i, err))
				}
			}
		}
	}
	check("kinematic", c.Kinematic)
	check("weight", c.Weight)

	for _, obj := range c.DisableObjects {
		if _, err := systematics.ParseSelectionObject(obj); err != nil {
			errs = append(errs, fmt.Errorf("disable_objects: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the generator weight configuration.
func (c *GenWeightConfig) Validate() error {
	var errs []error

	validStrategies := map[string]bool{
		"none":   true,
		"ignore": true,
		"reset":  true,
		"":       true, // Empty defaults to none
	}
	if !validStrategies[c.OutlierStrategy] {
		errs = append(errs, errors.New("outlier_strategy must be one of: none, ignore, reset"))
	}

	if c.OutlierThreshold <= 0 {
		errs = append(errs, errors.New("outlier_threshold must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the output configuration.
func (c *OutputConfig) Validate() error {
	var errs []error

	validFormats := map[string]bool{
		"parquet": true,
		"root":    true,
		"memory":  true,
	}
	if !validFormats[c.Format] {
		errs = append(errs, errors.New("format must be one of: parquet, root, memory"))
	}

	if c.Format != "memory" && c.Dir == "" {
		errs = append(errs, errors.New("dir is required"))
	}

	validAlgorithms := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validAlgorithms[c.Compression] {
		errs = append(errs, errors.New("compression must be one of: snappy, zstd, lz4, gzip, none"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks one sample.
func (c *SampleConfig) Validate() error {
	var errs []error

	if err := validation.ValidateName(c.Name, validation.VariableRules()); err != nil {
		errs = append(errs, fmt.Errorf("name: %w", err))
	}

	if c.Events < 0 {
		errs = append(errs, errors.New("events must be non-negative"))
	}

	if !c.IsData && c.DSID == 0 {
		errs = append(errs, errors.New("dsid is required for simulated samples"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureDirectories creates the output directory.
func (c *Config) EnsureDirectories() error {
	if c.Output.Format == "memory" {
		return nil
	}
	if err := os.MkdirAll(c.Output.Dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", c.Output.Dir, err)
	}
	return nil
}

// SampleDir returns the output directory of a sample.
func (c *Config) SampleDir(sample string) string {
	return filepath.Join(c.Output.Dir, sample)
}

// ManifestPath returns the manifest file of a sample.
func (c *Config) ManifestPath(sample, name string) string {
	return filepath.Join(c.SampleDir(sample), name)
}
