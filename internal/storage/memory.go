package storage

import (
	"fmt"
	"sort"
	"sync"

	"go-hep.org/x/hep/hbook"

	"github.com/xtxerr/ntuple/internal/errors"
)

// MemoryBackend keeps trees and histograms in memory.
type MemoryBackend struct {
	mu     sync.Mutex
	trees  map[string]*MemoryTree
	histos map[string]*hbook.H1D
	writes []string
	closed bool
}

// MemoryTree holds the rows of one in-memory tree.
type MemoryTree struct {
	Columns []Column
	Rows    [][]any
	Friends []string
	Closed  bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		trees:  make(map[string]*MemoryTree),
		histos: make(map[string]*hbook.H1D),
	}
}

// Name implements Backend.
func (m *MemoryBackend) Name() string { return "memory" }

// CreateTree implements Backend.
func (m *MemoryBackend) CreateTree(dir, name string, columns []Column) (TreeWriter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("memory backend: %w", errors.ErrInvalidState)
	}
	p := JoinPath(dir, name)
	if _, exists := m.trees[p]; exists {
		return nil, fmt.Errorf("memory backend: %s: %w", p, errors.ErrTreeExists)
	}

	cols := make([]Column, len(columns))
	copy(cols, columns)
	mt := &MemoryTree{Columns: cols}
	m.trees[p] = mt
	return &memoryWriter{backend: m, path: p, tree: mt}, nil
}

// WriteHisto implements Backend.
func (m *MemoryBackend) WriteHisto(dir, name string, h *hbook.H1D) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("memory backend: %w", errors.ErrInvalidState)
	}
	m.histos[JoinPath(dir, name)] = h
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Tree returns the tree stored at path.
func (m *MemoryBackend) Tree(path string) (*MemoryTree, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trees[path]
	return t, ok
}

// Trees returns the paths of all trees, sorted.
func (m *MemoryBackend) Trees() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.trees))
	for p := range m.trees {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Rows returns the rows written to the tree at path.
func (m *MemoryBackend) Rows(path string) [][]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trees[path]; ok {
		return t.Rows
	}
	return nil
}

// Column returns the values of one column of the tree at path.
func (m *MemoryBackend) Column(path, name string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trees[path]
	if !ok {
		return nil
	}
	idx := -1
	for i, c := range t.Columns {
		if c.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

// Friends returns the friends recorded when the tree at path was closed.
func (m *MemoryBackend) Friends(path string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trees[path]; ok {
		return t.Friends
	}
	return nil
}

// Histo returns the histogram written at path.
func (m *MemoryBackend) Histo(path string) *hbook.H1D {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.histos[path]
}

// Writes returns the tree path of every row written, in write order.
func (m *MemoryBackend) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	copy(out, m.writes)
	return out
}

type memoryWriter struct {
	backend *MemoryBackend
	path    string
	tree    *MemoryTree
}

func (w *memoryWriter) Write(row []any) error {
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()

	if w.tree.Closed {
		return fmt.Errorf("memory tree %s: %w", w.path, errors.ErrInvalidState)
	}
	w.tree.Rows = append(w.tree.Rows, row)
	w.backend.writes = append(w.backend.writes, w.path)
	return nil
}

func (w *memoryWriter) Close(friends []string) error {
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()

	w.tree.Closed = true
	w.tree.Friends = append([]string(nil), friends...)
	return nil
}
