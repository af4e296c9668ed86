package parquet

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go-hep.org/x/hep/hbook"

	"github.com/xtxerr/ntuple/internal/logging"
	"github.com/xtxerr/ntuple/internal/storage"
)

// File extensions used below the backend root.
const (
	TreeExt  = ".parquet"
	HistoExt = ".yoda"
)

// Backend stores every tree as one Parquet file and every histogram as a
// YODA text file, mirroring the object directories below a root directory.
type Backend struct {
	mu     sync.Mutex
	root   string
	opts   Options
	logger *slog.Logger
	trees  []*TreeWriter
	closed bool
}

// NewBackend creates a backend writing below root.
func NewBackend(root string, opts Options) (*Backend, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	return &Backend{
		root:   root,
		opts:   opts,
		logger: logging.Component("storage").With("backend", "parquet"),
	}, nil
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return "parquet" }

// Root returns the root directory.
func (b *Backend) Root() string { return b.root }

// TreePath returns the file a tree is written to.
func (b *Backend) TreePath(dir, name string) string {
	return filepath.Join(b.root, filepath.FromSlash(dir), name+TreeExt)
}

// HistoPath returns the file a histogram is written to.
func (b *Backend) HistoPath(dir, name string) string {
	return filepath.Join(b.root, filepath.FromSlash(dir), name+HistoExt)
}

// CreateTree implements storage.Backend.
func (b *Backend) CreateTree(dir, name string, columns []storage.Column) (storage.TreeWriter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrWriterClosed
	}

	w, err := NewTreeWriter(b.TreePath(dir, name), name, columns, b.opts)
	if err != nil {
		return nil, err
	}
	b.trees = append(b.trees, w)
	return w, nil
}

// WriteHisto implements storage.Backend.
func (b *Backend) WriteHisto(dir, name string, h *hbook.H1D) error {
	h.Annotation()["name"] = name

	data, err := h.MarshalYODA()
	if err != nil {
		return fmt.Errorf("marshal histogram %s: %w", name, err)
	}

	path := b.HistoPath(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write histogram %s: %w", name, err)
	}
	return nil
}

// Close closes trees that were never closed by the output service.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for _, w := range b.trees {
		if err := w.Close(nil); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", w.Path(), err))
		}
	}
	b.logger.Debug("backend closed", "root", b.root, "trees", len(b.trees))
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
