package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go-hep.org/x/hep/hbook"

	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/logging"
	"github.com/xtxerr/ntuple/internal/wire"
)

// Options configures the output service.
type Options struct {
	// ManifestPath is the file receiving the output manifest. Empty
	// disables the manifest.
	ManifestPath string
}

// Service is the output service trees and histograms are registered with.
type Service struct {
	mu sync.RWMutex

	opts    Options
	backend Backend
	logger  *slog.Logger

	trees   map[string]*Tree
	histos  map[string]*hbook.H1D
	written map[string]int64

	manifest     *wire.Writer
	manifestFile *os.File

	closed    bool
	startTime time.Time
}

// New creates an output service writing through backend.
func New(opts Options, backend Backend) (*Service, error) {
	if backend == nil {
		return nil, errors.NewMissingField("backend")
	}

	s := &Service{
		opts:      opts,
		backend:   backend,
		logger:    logging.Component("storage"),
		trees:     make(map[string]*Tree),
		histos:    make(map[string]*hbook.H1D),
		written:   make(map[string]int64),
		startTime: time.Now(),
	}

	if opts.ManifestPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.ManifestPath), 0755); err != nil {
			return nil, fmt.Errorf("create manifest directory: %w", err)
		}
		f, err := os.Create(opts.ManifestPath)
		if err != nil {
			return nil, fmt.Errorf("create manifest: %w", err)
		}
		s.manifestFile = f
		s.manifest = wire.NewWriter(f)
	}

	return s, nil
}

// Backend returns the backend of the service.
func (s *Service) Backend() Backend {
	return s.backend
}

// CreateTree returns a new, unregistered tree for path.
func (s *Service) CreateTree(path string) (*Tree, error) {
	dir, name, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	return newTree(JoinPath(dir, name), dir, name, s.backend), nil
}

// RegisterTree makes t known under its path. Registered trees are written
// by Close unless they were written before.
func (s *Service) RegisterTree(t *Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("register tree %s: %w", t.Path(), errors.ErrInvalidState)
	}
	if _, exists := s.trees[t.Path()]; exists {
		return fmt.Errorf("register tree %s: %w", t.Path(), errors.ErrTreeExists)
	}
	if _, done := s.written[t.Path()]; done {
		return fmt.Errorf("register tree %s: %w", t.Path(), errors.ErrTreeExists)
	}

	s.trees[t.Path()] = t
	s.logger.Debug("tree registered", "path", t.Path())
	return nil
}

// DeregisterTree removes the tree at path from the service without
// writing it.
func (s *Service) DeregisterTree(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := JoinPath(path)
	if _, exists := s.trees[p]; !exists {
		return fmt.Errorf("deregister tree %s: %w", p, errors.ErrTreeNotFound)
	}
	delete(s.trees, p)
	return nil
}

// Tree returns the registered tree at path.
func (s *Service) Tree(path string) (*Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trees[JoinPath(path)]
	if !ok {
		return nil, fmt.Errorf("tree %s: %w", path, errors.ErrTreeNotFound)
	}
	return t, nil
}

// RegisterHisto makes h known under path. It is written by Close.
func (s *Service) RegisterHisto(path string, h *hbook.H1D) error {
	if h == nil {
		return errors.NewMissingField("histogram")
	}
	dir, name, err := SplitPath(path)
	if err != nil {
		return err
	}
	p := JoinPath(dir, name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("register histogram %s: %w", p, errors.ErrInvalidState)
	}
	if _, exists := s.histos[p]; exists {
		return errors.NewAlreadyExists("histogram", p)
	}
	s.histos[p] = h
	return nil
}

// Histo returns the registered histogram at path.
func (s *Service) Histo(path string) (*hbook.H1D, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.histos[JoinPath(path)]
	return h, ok
}

// Directory lists the objects below one directory.
type Directory struct {
	Path    string
	Trees   []string
	Histos  []string
	Written []string
}

// Directory returns the trees and histograms registered below path, and
// the trees already written there.
func (s *Service) Directory(path string) Directory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := Directory{Path: JoinPath(path)}
	prefix := strings.TrimSuffix(d.Path, "/") + "/"
	for p := range s.trees {
		if strings.HasPrefix(p, prefix) {
			d.Trees = append(d.Trees, p)
		}
	}
	for p := range s.histos {
		if strings.HasPrefix(p, prefix) {
			d.Histos = append(d.Histos, p)
		}
	}
	for p := range s.written {
		if strings.HasPrefix(p, prefix) {
			d.Written = append(d.Written, p)
		}
	}
	sort.Strings(d.Trees)
	sort.Strings(d.Histos)
	sort.Strings(d.Written)
	return d
}

// WriteTree persists t and records it in the manifest. The tree is
// removed from the registry if it was registered.
func (s *Service) WriteTree(t *Tree) error {
	if err := t.close(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.trees, t.Path())
	s.written[t.Path()] = t.Entries()
	s.mu.Unlock()

	s.logger.Debug("tree written", "path", t.Path(), "entries", t.Entries())
	return s.recordTree(t)
}

// Entries returns the number of rows written for the tree at path, and
// false when no tree was written there.
func (s *Service) Entries(path string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.written[JoinPath(path)]
	return n, ok
}

func (s *Service) recordTree(t *Tree) error {
	fields := map[string]any{
		"path":     t.Path(),
		"entries":  t.Entries(),
		"branches": t.Branches(),
		"friends":  t.Friends(),
		"backend":  s.backend.Name(),
	}
	for _, kv := range t.Meta() {
		fields[kv[0]] = kv[1]
	}
	return s.Record(wire.KindTree, fields)
}

// Record appends a record of the given kind to the manifest. It is a
// no-op when the manifest is disabled.
func (s *Service) Record(kind string, fields map[string]any) error {
	if s.manifest == nil {
		return nil
	}
	rec, err := wire.NewRecord(kind, fields)
	if err != nil {
		return err
	}
	return s.manifest.Write(rec)
}

// Close writes all still registered trees and histograms, the manifest,
// and closes the backend. All errors are joined.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	trees := make([]*Tree, 0, len(s.trees))
	for _, t := range s.trees {
		trees = append(trees, t)
	}
	histoPaths := make([]string, 0, len(s.histos))
	for p := range s.histos {
		histoPaths = append(histoPaths, p)
	}
	s.mu.Unlock()

	sort.Slice(trees, func(i, j int) bool { return trees[i].Path() < trees[j].Path() })
	sort.Strings(histoPaths)

	var errs []error
	for _, t := range trees {
		if !t.Sealed() {
			s.logger.Warn("dropping tree that was never initialized", "path", t.Path())
			continue
		}
		if err := s.WriteTree(t); err != nil {
			errs = append(errs, fmt.Errorf("write tree %s: %w", t.Path(), err))
		}
	}

	s.mu.Lock()
	s.trees = make(map[string]*Tree)
	s.mu.Unlock()

	for _, p := range histoPaths {
		h := s.histos[p]
		dir, name, _ := SplitPath(p)
		if err := s.backend.WriteHisto(dir, name, h); err != nil {
			errs = append(errs, fmt.Errorf("write histogram %s: %w: %w", p, errors.ErrBackend, err))
			continue
		}
		if err := s.Record(wire.KindHisto, map[string]any{
			"path":    p,
			"entries": int64(h.Entries()),
			"sum_w":   h.SumW(),
		}); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}

	if s.manifestFile != nil {
		if err := s.manifestFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close manifest: %w", err))
		}
	}

	s.logger.Info("output closed",
		"backend", s.backend.Name(),
		"trees", len(s.written),
		"histograms", len(histoPaths),
		"duration", time.Since(s.startTime))

	return errors.Join(errs...)
}

// Stats returns service statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ServiceStats{
		Backend:    s.backend.Name(),
		Registered: len(s.trees),
		Written:    len(s.written),
		Histos:     len(s.histos),
		Closed:     s.closed,
		Uptime:     time.Since(s.startTime),
	}
	for _, n := range s.written {
		stats.Entries += n
	}
	return stats
}

// ServiceStats holds output service statistics.
type ServiceStats struct {
	Backend    string
	Registered int
	Written    int
	Histos     int
	Entries    int64
	Closed     bool
	Uptime     time.Duration
}
