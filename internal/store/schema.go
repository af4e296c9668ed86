package store

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/validation"
	"github.com/xtxerr/ntuple/internal/xaod"
)

// Reader extracts one per-event column from a container.
type Reader func(c xaod.Container) (any, error)

// SubBranch is one per-element column of a container.
type SubBranch struct {
	// Name is the decoration name read from each element.
	Name string

	// Type is the per-element type. The column holds one value per
	// element, so the stored Go type is a slice of Type.GoType().
	Type ElementType

	SaveVariations bool
	Piped          bool

	read Reader
}

// ColumnType returns the Go type of one event's column value.
func (b SubBranch) ColumnType() reflect.Type {
	elem := b.Type.GoType()
	if elem == nil {
		return nil
	}
	return reflect.SliceOf(elem)
}

// Read extracts the column for c.
func (b SubBranch) Read(c xaod.Container) (any, error) {
	return b.read(c)
}

// SchemaBuilder collects sub-branch declarations of a container until it
// is frozen. Declaring the same sub-branch twice is rejected.
type SchemaBuilder struct {
	owner    string
	branches map[string]SubBranch
	piped    map[string]bool
	frozen   bool
}

func newSchemaBuilder(owner string) *SchemaBuilder {
	return &SchemaBuilder{
		owner:    owner,
		branches: make(map[string]SubBranch),
		piped:    make(map[string]bool),
	}
}

func (b *SchemaBuilder) add(name string, typ ElementType, saveVariations bool, read Reader) error {
	if b.frozen {
		return fmt.Errorf("sub-branch %q of %q: schema frozen: %w", name, b.owner, ErrLocked)
	}
	if err := validation.ValidateVariableName(name); err != nil {
		return fmt.Errorf("sub-branch %q of %q: %v: %w", name, b.owner, err, errors.ErrInvalidName)
	}
	if _, exists := b.branches[name]; exists {
		return fmt.Errorf("sub-branch %q of %q: %w", name, b.owner, ErrBranchExists)
	}
	b.branches[name] = SubBranch{
		Name:           name,
		Type:           typ,
		SaveVariations: saveVariations,
		read:           read,
	}
	return nil
}

// Save declares a sub-branch read from the decoration name of type T.
func Save[T Value](b *SchemaBuilder, name string, saveVariations bool) error {
	return b.add(name, TypeOf[T](), saveVariations, decorationReader[T](name))
}

func decorationReader[T Value](name string) Reader {
	return func(c xaod.Container) (any, error) {
		out := make([]T, len(c))
		for i, el := range c {
			v, ok := xaod.Decoration[T](el, name)
			if !ok {
				return nil, fmt.Errorf("decoration %q on element %d: %w", name, i, ErrNotAvailable)
			}
			out[i] = v
		}
		return out, nil
	}
}

// SaveInt declares an int32 sub-branch.
func (b *SchemaBuilder) SaveInt(name string, saveVariations bool) error {
	return Save[int32](b, name, saveVariations)
}

// SaveFloat declares a float32 sub-branch.
func (b *SchemaBuilder) SaveFloat(name string, saveVariations bool) error {
	return Save[float32](b, name, saveVariations)
}

// SaveDouble declares a float64 sub-branch.
func (b *SchemaBuilder) SaveDouble(name string, saveVariations bool) error {
	return Save[float64](b, name, saveVariations)
}

// SaveChar declares an int8 sub-branch.
func (b *SchemaBuilder) SaveChar(name string, saveVariations bool) error {
	return Save[int8](b, name, saveVariations)
}

// SaveBool declares a bool sub-branch.
func (b *SchemaBuilder) SaveBool(name string, saveVariations bool) error {
	return Save[bool](b, name, saveVariations)
}

// SaveUint declares a uint32 sub-branch.
func (b *SchemaBuilder) SaveUint(name string, saveVariations bool) error {
	return Save[uint32](b, name, saveVariations)
}

func (b *SchemaBuilder) SaveIntVector(name string, saveVariations bool) error {
	return Save[[]int32](b, name, saveVariations)
}

func (b *SchemaBuilder) SaveFloatVector(name string, saveVariations bool) error {
	return Save[[]float32](b, name, saveVariations)
}

func (b *SchemaBuilder) SaveDoubleVector(name string, saveVariations bool) error {
	return Save[[]float64](b, name, saveVariations)
}

func (b *SchemaBuilder) SaveCharVector(name string, saveVariations bool) error {
	return Save[[]int8](b, name, saveVariations)
}

// PipeToAllTrees exempts the named sub-branches from group filtering.
// Names need not be declared yet.
func (b *SchemaBuilder) PipeToAllTrees(names ...string) error {
	if b.frozen {
		return fmt.Errorf("pipe sub-branches of %q: schema frozen: %w", b.owner, ErrLocked)
	}
	for _, name := range names {
		if name != "" {
			b.piped[name] = true
		}
	}
	return nil
}

// Freeze ends the declaration phase. It is idempotent.
func (b *SchemaBuilder) Freeze() {
	if b.frozen {
		return
	}
	for name, br := range b.branches {
		br.Piped = b.piped[name]
		b.branches[name] = br
	}
	b.frozen = true
}

// Frozen reports whether the schema is immutable.
func (b *SchemaBuilder) Frozen() bool { return b.frozen }

// Schema returns the declared sub-branches ordered by name.
func (b *SchemaBuilder) Schema() []SubBranch {
	out := make([]SubBranch, 0, len(b.branches))
	for name, br := range b.branches {
		br.Piped = b.piped[name]
		out = append(out, br)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
