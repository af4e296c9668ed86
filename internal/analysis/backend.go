package analysis

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/storage"
	"github.com/xtxerr/ntuple/internal/storage/config"
	"github.com/xtxerr/ntuple/internal/storage/parquet"
	"github.com/xtxerr/ntuple/internal/storage/root"
)

// RootFileName is the file the ROOT backend writes below the sample
// directory.
const RootFileName = "ntuple.root"

// NewBackend creates the persistence backend selected by the output
// configuration. File backends write below the sample directory.
func NewBackend(cfg *config.Config, sample string) (storage.Backend, error) {
	dir := cfg.SampleDir(sample)
	switch cfg.Output.Format {
	case "memory":
		return storage.NewMemoryBackend(), nil
	case "parquet":
		b, err := parquet.NewBackend(dir, parquet.Options{
			Compression: parquet.ParseCompressionType(cfg.Output.Compression),
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case "root":
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		b, err := root.NewBackend(filepath.Join(dir, RootFileName))
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, errors.NewInvalidValue("output.format", cfg.Output.Format, "must be parquet, root or memory")
}
