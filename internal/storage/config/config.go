package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/ntuple/config"
)

// Config represents the complete job configuration.
type Config struct {
	// Analysis names the output layout and selects what is written.
	Analysis AnalysisConfig `yaml:"analysis"`

	// Systematics declares the variations of the job.
	Systematics SystematicsConfig `yaml:"systematics"`

	// Groups declares systematic groups created at setup.
	Groups []GroupConfig `yaml:"groups"`

	// GenWeight configures generator weight treatment.
	GenWeight GenWeightConfig `yaml:"gen_weight"`

	// Output configures the persistence backend.
	Output OutputConfig `yaml:"output"`

	// MetaData configures cross-section and sum-of-weights bookkeeping.
	MetaData MetaDataConfig `yaml:"metadata"`

	// Metrics configures Prometheus counters.
	Metrics MetricsConfig `yaml:"metrics"`

	// Percentile configures DDSketch weight summaries.
	Percentile PercentileConfig `yaml:"percentile"`

	// Logging configures the global logger.
	Logging LoggingConfig `yaml:"logging"`

	// Samples drive the synthetic event source.
	Samples []SampleConfig `yaml:"samples"`

	// Workers bounds the number of samples processed concurrently.
	Workers int `yaml:"workers"`
}

// AnalysisConfig names the output layout.
type AnalysisConfig struct {
	// Name is the root directory of every tree and histogram.
	Name string `yaml:"name"`

	// TreeName is the base name of the output trees.
	TreeName string `yaml:"tree_name"`

	WriteTrees      bool `yaml:"write_trees"`
	WriteHistos     bool `yaml:"write_histos"`
	WriteCommonTree bool `yaml:"write_common_tree"`
	WriteCutflow    bool `yaml:"write_cutflow"`

	// IsData marks collision-data jobs. Systematics are refused on data.
	IsData bool `yaml:"is_data"`
}

// SystematicsConfig declares the variations of the job.
type SystematicsConfig struct {
	// Enabled turns on non-nominal variations.
	Enabled bool `yaml:"enabled"`

	// WeightsEnabled turns on weight variations.
	WeightsEnabled bool `yaml:"weights_enabled"`

	// Exclude lists variation names that are dropped.
	Exclude []string `yaml:"exclude"`

	// Kinematic lists variations changing object kinematics.
	Kinematic []VariationConfig `yaml:"kinematic"`

	// Weight lists variations changing event weights only.
	Weight []VariationConfig `yaml:"weight"`

	// DisableObjects lists object kinds that are not processed.
	// Format: object names, e.g. "DiTau", "TrackParticle"
	DisableObjects []string `yaml:"disable_objects"`
}

// VariationConfig declares one variation and the object kinds it acts on.
type VariationConfig struct {
	Name    string   `yaml:"name"`
	Objects []string `yaml:"objects"`
}

// GroupConfig declares one systematic group.
type GroupConfig struct {
	Name   string `yaml:"name"`
	Object string `yaml:"object"`
}

// GenWeightConfig configures generator weight treatment.
type GenWeightConfig struct {
	// OutlierStrategy is one of none, ignore, reset.
	OutlierStrategy string `yaml:"outlier_strategy"`

	// OutlierThreshold is the absolute weight above which a weight is
	// an outlier.
	OutlierThreshold float64 `yaml:"outlier_threshold"`
}

// OutputConfig configures the persistence backend.
type OutputConfig struct {
	// Dir is the root directory for output files.
	Dir string `yaml:"dir"`

	// Format is the backend: parquet, root, memory.
	Format string `yaml:"format"`

	// Compression is the Parquet codec: zstd, snappy, lz4, gzip, none.
	Compression string `yaml:"compression"`

	// Manifest enables the length-delimited output manifest.
	Manifest bool `yaml:"manifest"`
}

// MetaDataConfig configures meta-data bookkeeping.
type MetaDataConfig struct {
	Enabled bool `yaml:"enabled"`

	// CrossSections is a YAML file mapping dataset ids to cross-section
	// records. Optional.
	CrossSections string `yaml:"cross_sections"`

	// TreeName is the name of the meta-data tree.
	TreeName string `yaml:"tree_name"`
}

// MetricsConfig configures Prometheus counters.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	// Enabled enables percentile calculation.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON selects JSON output instead of text.
	JSON bool `yaml:"json"`
}

// SampleConfig describes one synthetic sample.
type SampleConfig struct {
	Name   string `yaml:"name"`
	DSID   uint32 `yaml:"dsid"`
	Run    uint32 `yaml:"run"`
	IsData bool   `yaml:"is_data"`
	Events int    `yaml:"events"`
	Seed   int64  `yaml:"seed"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			Name:            defaults.DefaultAnalysisName,
			TreeName:        defaults.DefaultTreeName,
			WriteTrees:      true,
			WriteHistos:     true,
			WriteCommonTree: true,
			WriteCutflow:    true,
		},
		Systematics: SystematicsConfig{
			Enabled:        true,
			WeightsEnabled: true,
			DisableObjects: []string{"DiTau", "TrackParticle"},
		},
		GenWeight: GenWeightConfig{
			OutlierStrategy:  defaults.DefaultOutlierStrategy,
			OutlierThreshold: defaults.DefaultOutlierThreshold,
		},
		Output: OutputConfig{
			Dir:         defaults.DefaultOutputDir,
			Format:      defaults.DefaultOutputFormat,
			Compression: defaults.DefaultCompression,
			Manifest:    true,
		},
		MetaData: MetaDataConfig{
			Enabled:  true,
			TreeName: defaults.DefaultMetaDataTreeName,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: defaults.DefaultMetricsNamespace,
		},
		Percentile: PercentileConfig{
			Enabled:  true,
			Accuracy: defaults.DefaultPercentileAccuracy,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Workers: defaults.DefaultWorkers,
	}
}
