// Package root implements the ROOT file output backend.
//
// Trees are written with groot's rtree writer. Every vector branch X gets
// an int32 count branch X_n in front of it. A vector-of-vector branch X is
// flattened: X_n holds the outer length, X_len the inner lengths, X_N the
// total length and X the concatenated values. Histograms are converted to
// TH1D. ROOT friend lists cannot be written, so the friends of a tree are
// stored as a TObjString named "<tree>_friends" next to it.
package root

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rbase"
	"go-hep.org/x/hep/groot/rhist"
	"go-hep.org/x/hep/groot/riofs"
	"go-hep.org/x/hep/groot/rtree"
	"go-hep.org/x/hep/hbook"

	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/logging"
	"github.com/xtxerr/ntuple/internal/storage"
)

// Branch name suffixes of vector branches.
const (
	CountSuffix  = "_n"
	LengthSuffix = "_len"
	TotalSuffix  = "_N"
	FriendSuffix = "_friends"
)

// Backend writes all trees and histograms of a job into one ROOT file.
type Backend struct {
	mu      sync.Mutex
	path    string
	file    *riofs.File
	dirs    map[string]riofs.Directory
	writers []*treeWriter
	logger  *slog.Logger
	closed  bool
}

// NewBackend creates the ROOT file at path.
func NewBackend(path string) (*Backend, error) {
	f, err := groot.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &Backend{
		path:   path,
		file:   f,
		dirs:   map[string]riofs.Directory{"": f},
		logger: logging.Component("storage").With("backend", "root"),
	}, nil
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return "root" }

// Path returns the file path.
func (b *Backend) Path() string { return b.path }

// mkdir returns the directory at path, creating missing levels.
func (b *Backend) mkdir(path string) (riofs.Directory, error) {
	if d, ok := b.dirs[path]; ok {
		return d, nil
	}
	parent, name := "", path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		parent, name = path[:i], path[i+1:]
	}
	pd, err := b.mkdir(parent)
	if err != nil {
		return nil, err
	}
	d, err := pd.Mkdir(name)
	if err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", path, err)
	}
	b.dirs[path] = d
	return d, nil
}

// CreateTree implements storage.Backend.
func (b *Backend) CreateTree(dir, name string, columns []storage.Column) (storage.TreeWriter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("root backend: %w", errors.ErrInvalidState)
	}

	d, err := b.mkdir(dir)
	if err != nil {
		return nil, err
	}

	tw, err := newTreeWriter(d, name, columns)
	if err != nil {
		return nil, err
	}
	b.writers = append(b.writers, tw)
	return tw, nil
}

// WriteHisto implements storage.Backend.
func (b *Backend) WriteHisto(dir, name string, h *hbook.H1D) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("root backend: %w", errors.ErrInvalidState)
	}

	d, err := b.mkdir(dir)
	if err != nil {
		return err
	}
	h.Annotation()["name"] = name
	if err := d.Put(name, rhist.NewH1DFrom(h)); err != nil {
		return fmt.Errorf("put histogram %s: %w", name, err)
	}
	return nil
}

// Close closes open tree writers and the file.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for _, w := range b.writers {
		if err := w.Close(nil); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", b.path, err))
	}
	b.logger.Debug("backend closed", "path", b.path, "trees", len(b.writers))
	return errors.Join(errs...)
}

// branch holds the write buffers of one column.
type branch struct {
	value   reflect.Value // pointer to the branch value
	count   *int32
	lengths *[]int32
	total   *int32
	nested  bool
}

type treeWriter struct {
	mu       sync.Mutex
	dir      riofs.Directory
	name     string
	writer   rtree.Writer
	branches []branch
	closed   bool
}

func newTreeWriter(dir riofs.Directory, name string, columns []storage.Column) (*treeWriter, error) {
	var wvars []rtree.WriteVar
	branches := make([]branch, len(columns))

	for i, col := range columns {
		if col.Type == nil {
			return nil, fmt.Errorf("column %s has no type", col.Name)
		}
		switch {
		case storage.IsNested(col.Type):
			br := branch{
				value:   reflect.New(reflect.SliceOf(col.Type.Elem().Elem())),
				count:   new(int32),
				lengths: new([]int32),
				total:   new(int32),
				nested:  true,
			}
			wvars = append(wvars,
				rtree.WriteVar{Name: col.Name + CountSuffix, Value: br.count},
				rtree.WriteVar{Name: col.Name + LengthSuffix, Value: br.lengths, Count: col.Name + CountSuffix},
				rtree.WriteVar{Name: col.Name + TotalSuffix, Value: br.total},
				rtree.WriteVar{Name: col.Name, Value: br.value.Interface(), Count: col.Name + TotalSuffix},
			)
			branches[i] = br

		case col.Type.Kind() == reflect.Slice:
			br := branch{value: reflect.New(col.Type), count: new(int32)}
			wvars = append(wvars,
				rtree.WriteVar{Name: col.Name + CountSuffix, Value: br.count},
				rtree.WriteVar{Name: col.Name, Value: br.value.Interface(), Count: col.Name + CountSuffix},
			)
			branches[i] = br

		default:
			br := branch{value: reflect.New(col.Type)}
			wvars = append(wvars, rtree.WriteVar{Name: col.Name, Value: br.value.Interface()})
			branches[i] = br
		}
	}

	w, err := rtree.NewWriter(dir, name, wvars)
	if err != nil {
		return nil, fmt.Errorf("create tree %s: %w", name, err)
	}

	return &treeWriter{dir: dir, name: name, writer: w, branches: branches}, nil
}

func (w *treeWriter) Write(row []any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("tree %s: %w", w.name, errors.ErrInvalidState)
	}
	if len(row) != len(w.branches) {
		return fmt.Errorf("tree %s: row has %d values, want %d", w.name, len(row), len(w.branches))
	}

	for i, br := range w.branches {
		v := reflect.ValueOf(row[i])
		if !br.nested {
			br.value.Elem().Set(v)
			if br.count != nil {
				*br.count = int32(v.Len())
			}
			continue
		}
		flat := reflect.MakeSlice(br.value.Elem().Type(), 0, 0)
		lengths := make([]int32, v.Len())
		for j := 0; j < v.Len(); j++ {
			inner := v.Index(j)
			lengths[j] = int32(inner.Len())
			flat = reflect.AppendSlice(flat, inner)
		}
		br.value.Elem().Set(flat)
		*br.lengths = lengths
		*br.count = int32(len(lengths))
		*br.total = int32(flat.Len())
	}

	if _, err := w.writer.Write(); err != nil {
		return fmt.Errorf("tree %s: write: %w", w.name, err)
	}
	return nil
}

func (w *treeWriter) Close(friends []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		return fmt.Errorf("close tree %s: %w", w.name, err)
	}
	if len(friends) > 0 {
		obj := rbase.NewObjString(strings.Join(friends, ","))
		if err := w.dir.Put(w.name+FriendSuffix, obj); err != nil {
			return fmt.Errorf("tree %s: store friends: %w", w.name, err)
		}
	}
	return nil
}
