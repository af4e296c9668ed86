// Package store - Typed event variables
//
// LOCATION: internal/store/storage.go
//
// A Storage holds one named value per systematic variation. Values are
// written at most once per event and variation; reads are only meaningful
// while IsAvailable reports true.

package store

import (
	"fmt"
	"sort"

	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/systematics"
	"github.com/xtxerr/ntuple/internal/validation"
)

// =============================================================================
// Cursor
// =============================================================================

// Cursor is the event-identity source a variable reads its position from.
type Cursor interface {
	// Systematic returns the active variation.
	Systematic() *systematics.Set

	// Slot returns the variation whose event slot receives stores. It
	// differs from Systematic for weight-only variations, which share
	// the nominal slot.
	Slot() *systematics.Set

	// Nominal returns the reference variation.
	Nominal() *systematics.Set

	// EventSerial increases with every event. Zero means no event has
	// been started.
	EventSerial() uint64

	// SystematicGroup returns the group with the given name.
	SystematicGroup(name string) (*systematics.Group, error)
}

// =============================================================================
// Variable
// =============================================================================

// Variable is the common view on event variables and containers.
type Variable interface {
	Name() string

	// Type is the element type of an event variable, the zero value for
	// containers.
	Type() ElementType

	// Owner is the namespace the variable belongs to.
	Owner() Cursor

	IsCommon() bool
	IsParticleVariable() bool
	SaveTrees() bool
	SaveHistos() bool
	SaveVariations() bool

	// Group returns the systematic group tag, nil when untagged.
	Group() *systematics.Group
}

// EventVariable is a Variable holding one value per event.
type EventVariable interface {
	Variable

	// IsAvailable reports whether a value was stored for the current
	// event and variation.
	IsAvailable() bool

	// Current returns the stored value as its Go type. It fails with
	// ErrNotAvailable when nothing was stored for the current event.
	Current() (any, error)

	// HistoTemplates returns the histogram templates in name order.
	HistoTemplates() []HistoTemplate
}

// Options configures a new variable.
type Options struct {
	SaveTrees      bool
	SaveHistos     bool
	SaveVariations bool
	Common         bool
}

// DefaultOptions returns options saving to trees for every variation.
func DefaultOptions() Options {
	return Options{
		SaveTrees:      true,
		SaveVariations: true,
	}
}

// HistoTemplate describes a one-dimensional histogram booked per
// variation for an event variable.
type HistoTemplate struct {
	Name  string
	Title string
	Bins  int
	Min   float64
	Max   float64
}

// Validate checks the template binning.
func (t HistoTemplate) Validate() error {
	if t.Name == "" {
		return errors.NewMissingField("name")
	}
	if t.Bins <= 0 {
		return errors.NewInvalidValue("bins", t.Bins, "must be positive")
	}
	if t.Max <= t.Min {
		return errors.NewInvalidValue("max", t.Max, "must exceed min")
	}
	return nil
}

// =============================================================================
// base
// =============================================================================

// base carries the configuration shared by every kind of variable.
type base struct {
	name     string
	cursor   Cursor
	keeper   *Keeper
	particle bool

	saveTrees      bool
	saveHistos     bool
	saveVariations bool
	common         bool

	group     *systematics.Group
	templates map[string]HistoTemplate
}

func newBase(name string, cursor Cursor, particle bool, opts Options) base {
	return base{
		name:           name,
		cursor:         cursor,
		particle:       particle,
		saveTrees:      opts.SaveTrees,
		saveHistos:     opts.SaveHistos,
		saveVariations: opts.SaveVariations,
		common:         opts.Common,
	}
}

func (b *base) Name() string                { return b.name }
func (b *base) Owner() Cursor               { return b.cursor }
func (b *base) IsCommon() bool              { return b.common }
func (b *base) IsParticleVariable() bool    { return b.particle }
func (b *base) SaveTrees() bool             { return b.saveTrees }
func (b *base) SaveHistos() bool            { return b.saveHistos }
func (b *base) SaveVariations() bool        { return b.saveVariations }
func (b *base) Group() *systematics.Group   { return b.group }
func (b *base) bind(k *Keeper)              { b.keeper = k }
func (b *base) registered() bool            { return b.keeper != nil }
func (b *base) locked() bool                { return b.keeper != nil && b.keeper.Locked() }
func (b *base) slotKey() *systematics.Set   { return b.key(b.cursor.Slot()) }
func (b *base) activeKey() *systematics.Set { return b.key(b.cursor.Systematic()) }

func (b *base) key(set *systematics.Set) *systematics.Set {
	if b.common {
		return b.cursor.Nominal()
	}
	return set
}

func (b *base) checkMutable(what string) error {
	if b.locked() {
		return fmt.Errorf("%s of %q: %w", what, b.name, ErrLocked)
	}
	return nil
}

// SetSaveTrees controls whether the variable is written to trees.
func (b *base) SetSaveTrees(v bool) error {
	if err := b.checkMutable("save trees"); err != nil {
		return err
	}
	b.saveTrees = v
	return nil
}

// SetSaveHistos controls whether the variable is filled into histograms.
func (b *base) SetSaveHistos(v bool) error {
	if err := b.checkMutable("save histos"); err != nil {
		return err
	}
	b.saveHistos = v
	return nil
}

// SetSaveVariations controls whether the variable appears in trees of
// non-nominal variations.
func (b *base) SetSaveVariations(v bool) error {
	if err := b.checkMutable("save variations"); err != nil {
		return err
	}
	b.saveVariations = v
	return nil
}

// SetSystematicGroup tags the variable with an existing group. A variable
// is tagged at most once.
func (b *base) SetSystematicGroup(name string) error {
	if err := b.checkMutable("systematic group"); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("systematic group of %q: empty name: %w", b.name, errors.ErrInvalidName)
	}
	if b.group != nil {
		return fmt.Errorf("%q already belongs to group %q: %w", b.name, b.group.Name(), errors.ErrInvalidState)
	}
	g, err := b.cursor.SystematicGroup(name)
	if err != nil {
		return fmt.Errorf("systematic group of %q: %w", b.name, err)
	}
	b.group = g
	return nil
}

// AddHistoTemplate books a histogram of the variable. Template names are
// unique per variable.
func (b *base) AddHistoTemplate(t HistoTemplate) error {
	if err := b.checkMutable("histogram template"); err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("histogram template of %q: %w", b.name, err)
	}
	if _, exists := b.templates[t.Name]; exists {
		return fmt.Errorf("histogram %q of %q: %w", t.Name, b.name, ErrAlreadyExists)
	}
	if b.templates == nil {
		b.templates = make(map[string]HistoTemplate)
	}
	b.templates[t.Name] = t
	return nil
}

// HistoTemplates returns the booked templates ordered by name. Nothing is
// returned while histogram saving is off.
func (b *base) HistoTemplates() []HistoTemplate {
	if !b.saveHistos {
		return nil
	}
	out := make([]HistoTemplate, 0, len(b.templates))
	for _, t := range b.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// =============================================================================
// Storage
// =============================================================================

type slot[T Value] struct {
	value  T
	serial uint64
}

// Storage is a typed event variable.
type Storage[T Value] struct {
	base
	typ   ElementType
	slots map[*systematics.Set]*slot[T]
}

// NewStorage creates an unregistered event variable reading its position
// from cursor.
func NewStorage[T Value](name string, cursor Cursor, opts Options) (*Storage[T], error) {
	if err := validation.ValidateVariableName(name); err != nil {
		return nil, fmt.Errorf("event variable %q: %v: %w", name, err, errors.ErrInvalidName)
	}
	if cursor == nil {
		return nil, fmt.Errorf("event variable %q: %w", name, errors.NewMissingField("cursor"))
	}
	return &Storage[T]{
		base:  newBase(name, cursor, false, opts),
		typ:   TypeOf[T](),
		slots: make(map[*systematics.Set]*slot[T]),
	}, nil
}

// Type returns the element type of T.
func (s *Storage[T]) Type() ElementType { return s.typ }

// Store records v for the current event and variation. A second store
// before the next event fails with ErrAlreadyStored and keeps the first
// value.
func (s *Storage[T]) Store(v T) error {
	return s.storeAt(s.slotKey(), v)
}

// StoreConst records v in the nominal slot regardless of the active
// variation.
func (s *Storage[T]) StoreConst(v T) error {
	return s.storeAt(s.cursor.Nominal(), v)
}

func (s *Storage[T]) storeAt(key *systematics.Set, v T) error {
	serial := s.cursor.EventSerial()
	if serial == 0 {
		return fmt.Errorf("store %q: no event started: %w", s.name, errors.ErrInvalidState)
	}
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot[T]{}
		s.slots[key] = sl
	}
	if sl.serial == serial {
		return fmt.Errorf("store %q in %s: %w", s.name, key, ErrAlreadyStored)
	}
	sl.value = v
	sl.serial = serial
	return nil
}

// Value returns the last value stored in the current slot. The result is
// stale unless IsAvailable reports true.
func (s *Storage[T]) Value() T {
	if sl, ok := s.slots[s.slotKey()]; ok {
		return sl.value
	}
	var zero T
	return zero
}

// IsAvailable reports whether a value was stored for the current event in
// the current slot.
func (s *Storage[T]) IsAvailable() bool {
	sl, ok := s.slots[s.slotKey()]
	return ok && sl.serial != 0 && sl.serial == s.cursor.EventSerial()
}

// Get returns the current value and whether it is available.
func (s *Storage[T]) Get() (T, bool) {
	return s.Value(), s.IsAvailable()
}

// Current implements EventVariable.
func (s *Storage[T]) Current() (any, error) {
	if !s.IsAvailable() {
		return nil, fmt.Errorf("%q in %s: %w", s.name, s.slotKey(), ErrNotAvailable)
	}
	return s.Value(), nil
}
