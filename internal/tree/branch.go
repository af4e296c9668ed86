package tree

import (
	"fmt"
	"reflect"

	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/store"
	"github.com/xtxerr/ntuple/internal/systematics"
)

// branch maps one variable onto one tree column.
type branch interface {
	Name() string

	// Type is the Go type of the column value.
	Type() reflect.Type

	// Value returns the column value of the current event.
	Value() (any, error)
}

// =============================================================================
// Event variables
// =============================================================================

type eventBranch[T store.Value] struct {
	s *store.Storage[T]
}

func (b *eventBranch[T]) Name() string       { return b.s.Name() }
func (b *eventBranch[T]) Type() reflect.Type { return b.s.Type().GoType() }

func (b *eventBranch[T]) Value() (any, error) {
	v, ok := b.s.Get()
	if !ok {
		return nil, fmt.Errorf("branch %s: %w", b.s.Name(), errors.ErrStaleBranch)
	}
	return v, nil
}

func eventBranchOf[T store.Value](v store.EventVariable) (branch, bool) {
	s, ok := v.(*store.Storage[T])
	if !ok {
		return nil, false
	}
	return &eventBranch[T]{s: s}, true
}

// eventBranches holds one adapter constructor per element type.
var eventBranches = map[store.ElementType]func(store.EventVariable) (branch, bool){
	store.Scalar(store.KindFloat64): eventBranchOf[float64],
	store.Scalar(store.KindFloat32): eventBranchOf[float32],
	store.Scalar(store.KindInt32):   eventBranchOf[int32],
	store.Scalar(store.KindInt8):    eventBranchOf[int8],
	store.Scalar(store.KindBool):    eventBranchOf[bool],
	store.Scalar(store.KindUint32):  eventBranchOf[uint32],
	store.Scalar(store.KindUint64):  eventBranchOf[uint64],
	store.Scalar(store.KindInt64):   eventBranchOf[int64],
	store.Vector(store.KindFloat64): eventBranchOf[[]float64],
	store.Vector(store.KindFloat32): eventBranchOf[[]float32],
	store.Vector(store.KindInt32):   eventBranchOf[[]int32],
	store.Vector(store.KindInt8):    eventBranchOf[[]int8],
	store.Vector(store.KindBool):    eventBranchOf[[]bool],
	store.Vector(store.KindUint32):  eventBranchOf[[]uint32],
	store.Vector(store.KindUint64):  eventBranchOf[[]uint64],
	store.Vector(store.KindInt64):   eventBranchOf[[]int64],
}

func newEventBranch(v store.EventVariable) (branch, error) {
	build, ok := eventBranches[v.Type()]
	if !ok {
		return nil, fmt.Errorf("variable %s: unsupported type %s: %w", v.Name(), v.Type(), errors.ErrTypeMismatch)
	}
	b, ok := build(v)
	if !ok {
		return nil, fmt.Errorf("variable %s: %T does not hold %s: %w", v.Name(), v, v.Type(), errors.ErrTypeMismatch)
	}
	return b, nil
}

// =============================================================================
// Container sub-branches
// =============================================================================

// containerBranch writes one sub-branch of a container as <container>_<sub>.
type containerBranch struct {
	c   store.Collection
	sub store.SubBranch
	set *systematics.Set
}

func (b *containerBranch) Name() string       { return b.c.Name() + "_" + b.sub.Name }
func (b *containerBranch) Type() reflect.Type { return b.sub.ColumnType() }

func (b *containerBranch) Value() (any, error) {
	c, ok := b.c.FindContainer(b.set)
	if !ok {
		return nil, fmt.Errorf("branch %s in %s: %w", b.Name(), b.set, errors.ErrNoContainer)
	}
	v, err := b.sub.Read(c)
	if err != nil {
		return nil, fmt.Errorf("branch %s: %w", b.Name(), err)
	}
	return v, nil
}

func newContainerBranches(c store.Collection, ctx store.TreeContext, read *systematics.Set) []branch {
	subs := c.SubBranches(ctx)
	out := make([]branch, 0, len(subs))
	for _, sub := range subs {
		out = append(out, &containerBranch{c: c, sub: sub, set: read})
	}
	return out
}
