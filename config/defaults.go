// Package config provides configuration defaults and utilities
// for ntuple jobs.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via the job YAML file.
package config

// =============================================================================
// Analysis Defaults
// =============================================================================

const (
	// DefaultAnalysisName is the root directory under which every tree and
	// histogram of a job is registered.
	// Override via config: analysis.name
	DefaultAnalysisName = "XAMPP"

	// DefaultTreeName is the base name of the output trees. Systematic trees
	// are named "<TreeName>_<Systematic>".
	// Override via config: analysis.tree_name
	DefaultTreeName = "Tree"

	// DefaultNominalSuffix is appended to the tree name for the nominal tree.
	DefaultNominalSuffix = "Nominal"

	// DefaultCommonTreePrefix prefixes the tree holding common variables.
	DefaultCommonTreePrefix = "CommonTree"

	// DefaultGroupTreePrefix prefixes trees written for a systematic group.
	DefaultGroupTreePrefix = "SystGroup"

	// DefaultMetaDataTreeName is the name of the meta-data tree.
	// Override via config: metadata.tree_name
	DefaultMetaDataTreeName = "MetaDataTree"
)

// =============================================================================
// Event Identity Defaults
// =============================================================================

const (
	// MaxRunDigits bounds run/100 in the composite run key. The channel
	// number is shifted by the bit width of this value.
	MaxRunDigits = 9999

	// RunNumberDivisor is applied to the run number before it is merged
	// with the MC channel number.
	RunNumberDivisor = 100
)

// =============================================================================
// Generator Weight Defaults
// =============================================================================

const (
	// DefaultOutlierStrategy leaves generator weights untouched.
	// Values: none, ignore, reset
	// Override via config: gen_weight.outlier_strategy
	DefaultOutlierStrategy = "none"

	// DefaultOutlierThreshold is the absolute generator weight above which
	// a weight counts as an outlier.
	// Override via config: gen_weight.outlier_threshold
	DefaultOutlierThreshold = 100.0
)

// =============================================================================
// Output Defaults
// =============================================================================

const (
	// DefaultOutputDir is where output files are written.
	// Override via config: output.dir
	DefaultOutputDir = "./output"

	// DefaultOutputFormat selects the persistence backend.
	// Values: parquet, root, memory
	// Override via config: output.format
	DefaultOutputFormat = "parquet"

	// DefaultCompression is the Parquet compression codec.
	// Override via config: output.compression
	DefaultCompression = "zstd"

	// DefaultManifestName is the file name of the output manifest.
	DefaultManifestName = "manifest.pb"

	// DefaultMaxManifestRecordSize limits a single manifest record.
	DefaultMaxManifestRecordSize = 4 * 1024 * 1024
)

// =============================================================================
// Percentile Defaults
// =============================================================================

const (
	// DefaultPercentileAccuracy is the DDSketch relative accuracy used for
	// event weight summaries (0.01 = 1% error).
	// Override via config: percentile.accuracy
	DefaultPercentileAccuracy = 0.01
)

// =============================================================================
// Runner Defaults
// =============================================================================

const (
	// DefaultWorkers is the number of samples processed concurrently.
	// Each sample owns an isolated registry and output directory.
	// Override via config: workers
	DefaultWorkers = 4

	// DefaultEventsPerSample is the number of synthetic events per sample.
	DefaultEventsPerSample = 1000

	// DefaultMetricsNamespace prefixes exported metrics.
	// Override via config: metrics.namespace
	DefaultMetricsNamespace = "ntuple"
)
