package storage

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/xtxerr/ntuple/internal/errors"
)

// Tree is an output table with a fixed set of typed columns.
//
// Branches are declared while the tree is open. Seal opens the backend
// writer; afterwards Set assigns column values and Fill writes one row.
// Tree is safe for concurrent use.
type Tree struct {
	mu sync.Mutex

	path    string
	dir     string
	name    string
	backend Backend

	columns []Column
	index   map[string]int
	row     []any
	set     []bool

	writer  TreeWriter
	friends []string
	meta    map[string]string
	entries int64

	sealed   bool
	written  bool
	released bool
}

func newTree(path, dir, name string, backend Backend) *Tree {
	return &Tree{
		path:    path,
		dir:     dir,
		name:    name,
		backend: backend,
		index:   make(map[string]int),
		meta:    make(map[string]string),
	}
}

// Path returns the registration path of the tree.
func (t *Tree) Path() string { return t.path }

// Name returns the object name of the tree.
func (t *Tree) Name() string { return t.name }

// Dir returns the directory of the tree.
func (t *Tree) Dir() string { return t.dir }

// Branch declares a column and returns its index.
func (t *Tree) Branch(name string, typ reflect.Type) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return -1, fmt.Errorf("tree %s: branch %s: %w", t.path, name, errors.ErrLocked)
	}
	if name == "" || typ == nil {
		return -1, errors.NewMissingField("branch name and type")
	}
	if _, exists := t.index[name]; exists {
		return -1, fmt.Errorf("tree %s: branch %s: %w", t.path, name, errors.ErrBranchExists)
	}

	idx := len(t.columns)
	t.columns = append(t.columns, Column{Name: name, Type: typ})
	t.index[name] = idx
	return idx, nil
}

// Columns returns a copy of the declared columns.
func (t *Tree) Columns() []Column {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Column, len(t.columns))
	copy(out, t.columns)
	return out
}

// Branches returns the declared column names in declaration order.
func (t *Tree) Branches() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.Name
	}
	return out
}

// Seal freezes the column set and opens the backend writer.
func (t *Tree) Seal() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return fmt.Errorf("tree %s: %w", t.path, errors.ErrAlreadyInitialized)
	}
	if len(t.columns) == 0 {
		return fmt.Errorf("tree %s: %w", t.path, errors.ErrEmptyBranchSet)
	}

	w, err := t.backend.CreateTree(t.dir, t.name, t.columns)
	if err != nil {
		return fmt.Errorf("tree %s: %w: %w", t.path, errors.ErrBackend, err)
	}

	t.writer = w
	t.row = make([]any, len(t.columns))
	t.set = make([]bool, len(t.columns))
	t.sealed = true
	return nil
}

// Sealed reports whether Seal succeeded.
func (t *Tree) Sealed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sealed
}

// Set assigns the value of column idx for the next row. A nil value
// stands for an empty slice in slice columns.
func (t *Tree) Set(idx int, v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkWritable(); err != nil {
		return err
	}
	if idx < 0 || idx >= len(t.columns) {
		return fmt.Errorf("tree %s: column %d out of range: %w", t.path, idx, errors.ErrInternal)
	}

	col := t.columns[idx]
	if v == nil && col.Type.Kind() == reflect.Slice {
		v = reflect.MakeSlice(col.Type, 0, 0).Interface()
	}
	if reflect.TypeOf(v) != col.Type {
		return fmt.Errorf("tree %s: branch %s wants %s, got %T: %w",
			t.path, col.Name, col.Type, v, errors.ErrTypeMismatch)
	}

	t.row[idx] = v
	t.set[idx] = true
	return nil
}

// Fill writes the current row. Every column must have been set since the
// previous fill; otherwise nothing is written.
func (t *Tree) Fill() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkWritable(); err != nil {
		return err
	}

	for i, ok := range t.set {
		if !ok {
			return fmt.Errorf("tree %s: branch %s: %w", t.path, t.columns[i].Name, errors.ErrStaleBranch)
		}
	}

	row := make([]any, len(t.row))
	copy(row, t.row)
	if err := t.writer.Write(row); err != nil {
		return fmt.Errorf("tree %s: %w: %w", t.path, errors.ErrBackend, err)
	}

	t.entries++
	for i := range t.set {
		t.set[i] = false
	}
	return nil
}

func (t *Tree) checkWritable() error {
	switch {
	case !t.sealed:
		return fmt.Errorf("tree %s: %w", t.path, errors.ErrNotInitialized)
	case t.written, t.released:
		return fmt.Errorf("tree %s already written: %w", t.path, errors.ErrInvalidState)
	}
	return nil
}

// Entries returns the number of rows written.
func (t *Tree) Entries() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries
}

// AddFriend records the path of a tree whose rows join this one.
func (t *Tree) AddFriend(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.written {
		return fmt.Errorf("tree %s: friend %s: %w", t.path, path, errors.ErrInvalidState)
	}
	for _, f := range t.friends {
		if f == path {
			return nil
		}
	}
	t.friends = append(t.friends, path)
	return nil
}

// Friends returns the friend paths in insertion order.
func (t *Tree) Friends() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.friends))
	copy(out, t.friends)
	return out
}

// SetMeta attaches a key/value pair reported in the manifest.
func (t *Tree) SetMeta(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.meta[key] = value
}

// Meta returns the attached key/value pairs sorted by key.
func (t *Tree) Meta() [][2]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.meta))
	for k := range t.meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][2]string, len(keys))
	for i, k := range keys {
		out[i] = [2]string{k, t.meta[k]}
	}
	return out
}

// Written reports whether the tree was persisted.
func (t *Tree) Written() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}

// Release drops the row buffers of a written tree. Later fills fail.
func (t *Tree) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.released = true
	t.row = nil
	t.set = nil
	t.writer = nil
}

// Released reports whether Release was called.
func (t *Tree) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}

// close persists the tree. It is a no-op for trees already written.
func (t *Tree) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.written {
		return nil
	}
	if !t.sealed {
		return fmt.Errorf("tree %s: %w", t.path, errors.ErrNotInitialized)
	}
	t.written = true

	if err := t.writer.Close(t.friends); err != nil {
		return fmt.Errorf("tree %s: %w: %w", t.path, errors.ErrBackend, err)
	}
	return nil
}
