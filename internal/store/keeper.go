// Package store - Variable registry
//
// LOCATION: internal/store/keeper.go
//
// The Keeper maps (namespace, name) to variables. Each owning cursor gets
// its own namespace; variables flagged common live in a shared namespace
// visible from every owner. Registration is open until Lock.

package store

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/logging"
)

type binder interface {
	bind(k *Keeper)
	registered() bool
}

type namespace struct {
	owner      Cursor
	events     map[string]EventVariable
	containers map[string]Collection
}

func newNamespace(owner Cursor) *namespace {
	return &namespace{
		owner:      owner,
		events:     make(map[string]EventVariable),
		containers: make(map[string]Collection),
	}
}

func (ns *namespace) hasEvent(name string) bool {
	_, ok := ns.events[name]
	return ok
}

func (ns *namespace) hasContainer(name string) bool {
	_, ok := ns.containers[name]
	return ok
}

// Keeper is the variable registry of one analysis job.
type Keeper struct {
	mu     sync.RWMutex
	common *namespace
	spaces []*namespace
	locked bool
	logger *slog.Logger
}

// NewKeeper creates an open registry.
func NewKeeper() *Keeper {
	return &Keeper{
		common: newNamespace(nil),
		logger: logging.Component("store"),
	}
}

// find returns the namespace of owner, nil owner meaning common.
func (k *Keeper) find(owner Cursor) *namespace {
	if owner == nil {
		return k.common
	}
	for _, ns := range k.spaces {
		if ns.owner == owner {
			return ns
		}
	}
	return nil
}

// Register adds v to the namespace of its owner, or to the common
// namespace when v is common. Names are unique separately for event
// variables and containers. A common name also blocks that name in every
// owner namespace, and the other way round.
func (k *Keeper) Register(v Variable) error {
	if v == nil {
		return fmt.Errorf("register: %w", errors.NewMissingField("variable"))
	}
	b, ok := v.(binder)
	if !ok {
		return fmt.Errorf("register %q: foreign variable type %T: %w", v.Name(), v, ErrTypeMismatch)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.locked {
		k.logger.Error("registration after lock", "name", v.Name())
		return fmt.Errorf("register %q: %w", v.Name(), ErrLocked)
	}
	if b.registered() {
		return fmt.Errorf("register %q: already registered: %w", v.Name(), ErrVariableExists)
	}

	ns := k.common
	if !v.IsCommon() {
		if ns = k.find(v.Owner()); ns == nil {
			ns = newNamespace(v.Owner())
			k.spaces = append(k.spaces, ns)
			k.logger.Debug("new namespace", "owner", fmt.Sprintf("%p", v.Owner()))
		}
	}

	switch sv := v.(type) {
	case Collection:
		if k.taken(ns, sv.Name(), (*namespace).hasContainer) {
			return fmt.Errorf("container %q: %w", sv.Name(), ErrVariableExists)
		}
		ns.containers[sv.Name()] = sv
	case EventVariable:
		if k.taken(ns, sv.Name(), (*namespace).hasEvent) {
			return fmt.Errorf("event variable %q: %w", sv.Name(), ErrVariableExists)
		}
		ns.events[sv.Name()] = sv
	default:
		return fmt.Errorf("register %q: %T: %w", v.Name(), v, ErrTypeMismatch)
	}
	b.bind(k)
	return nil
}

// taken reports whether name is visible from ns: in ns itself, in the
// common namespace, or, for the common namespace, in any owner namespace.
func (k *Keeper) taken(ns *namespace, name string, has func(*namespace, string) bool) bool {
	if has(ns, name) || has(k.common, name) {
		return true
	}
	if ns != k.common {
		return false
	}
	for _, other := range k.spaces {
		if has(other, name) {
			return true
		}
	}
	return false
}

// Lock closes registration and freezes every container schema. It is
// idempotent.
func (k *Keeper) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locked {
		return
	}
	k.locked = true

	events, containers := 0, 0
	for _, ns := range append([]*namespace{k.common}, k.spaces...) {
		for _, c := range ns.containers {
			c.Freeze()
		}
		events += len(ns.events)
		containers += len(ns.containers)
	}
	k.logger.Info("registry locked",
		"namespaces", len(k.spaces)+1,
		"event_variables", events,
		"containers", containers)
}

// Locked reports whether registration is closed.
func (k *Keeper) Locked() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.locked
}

// EventVariable returns the named event variable of owner, falling back
// to the common namespace.
func (k *Keeper) EventVariable(owner Cursor, name string) (EventVariable, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if ns := k.find(owner); ns != nil {
		if v, ok := ns.events[name]; ok {
			return v, nil
		}
	}
	if v, ok := k.common.events[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("event variable %q: %w", name, ErrVariableNotFound)
}

// EventVariables returns the common and owner's event variables, sorted
// by name.
func (k *Keeper) EventVariables(owner Cursor) []EventVariable {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var out []EventVariable
	for _, v := range k.common.events {
		out = append(out, v)
	}
	if ns := k.find(owner); ns != nil && ns != k.common {
		for _, v := range ns.events {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Container returns the named container of owner, falling back to the
// common namespace.
func (k *Keeper) Container(owner Cursor, name string) (Collection, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if ns := k.find(owner); ns != nil {
		if c, ok := ns.containers[name]; ok {
			return c, nil
		}
	}
	if c, ok := k.common.containers[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("container %q: %w", name, ErrContainerNotFound)
}

// Containers returns the common and owner's containers, sorted by name.
func (k *Keeper) Containers(owner Cursor) []Collection {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var out []Collection
	for _, c := range k.common.containers {
		out = append(out, c)
	}
	if ns := k.find(owner); ns != nil && ns != k.common {
		for _, c := range ns.containers {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Variables returns every variable visible to owner: event variables
// first, then containers.
func (k *Keeper) Variables(owner Cursor) []Variable {
	var out []Variable
	for _, v := range k.EventVariables(owner) {
		out = append(out, v)
	}
	for _, c := range k.Containers(owner) {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered variables across all namespaces.
func (k *Keeper) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	n := len(k.common.events) + len(k.common.containers)
	for _, ns := range k.spaces {
		n += len(ns.events) + len(ns.containers)
	}
	return n
}

// EventStorage returns the typed event variable of owner. A variable of a
// different type yields ErrTypeMismatch.
func EventStorage[T Value](k *Keeper, owner Cursor, name string) (*Storage[T], error) {
	v, err := k.EventVariable(owner, name)
	if err != nil {
		return nil, err
	}
	s, ok := v.(*Storage[T])
	if !ok {
		return nil, fmt.Errorf("event variable %q is %s, not %s: %w", name, v.Type(), TypeOf[T](), ErrTypeMismatch)
	}
	return s, nil
}

// EventStorages returns every event variable of type T visible to owner.
func EventStorages[T Value](k *Keeper, owner Cursor) []*Storage[T] {
	var out []*Storage[T]
	for _, v := range k.EventVariables(owner) {
		if s, ok := v.(*Storage[T]); ok {
			out = append(out, s)
		}
	}
	return out
}
