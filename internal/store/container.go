// Package store - Container variables
//
// LOCATION: internal/store/container.go
//
// A ContainerStorage binds a named collection to one container per
// systematic variation. The element-level sub-branches are declared on the
// embedded SchemaBuilder before the first fill.

package store

import (
	"fmt"

	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/systematics"
	"github.com/xtxerr/ntuple/internal/validation"
	"github.com/xtxerr/ntuple/internal/xaod"
)

// =============================================================================
// Collection
// =============================================================================

// TreeContext is the view of an output tree used for sub-branch
// selection.
type TreeContext struct {
	Systematic *systematics.Set
	Group      *systematics.Group
}

// Collection is a Variable holding a container per variation.
type Collection interface {
	Variable

	// Container returns the container filled in the current event for
	// the active variation.
	Container() (xaod.Container, error)

	// FindContainer returns the container filled in the current event
	// for set, and false when none was filled.
	FindContainer(set *systematics.Set) (xaod.Container, bool)

	// SubBranches returns the sub-branches written to a tree with the
	// given context.
	SubBranches(ctx TreeContext) []SubBranch

	Schema() []SubBranch
	Freeze()
}

type systContainer struct {
	elems  xaod.Container
	serial uint64
}

// =============================================================================
// ContainerStorage
// =============================================================================

// ContainerStorage is a collection of decorated objects.
type ContainerStorage struct {
	base
	*SchemaBuilder

	containers map[*systematics.Set]*systContainer
}

// NewContainerStorage creates an unregistered container variable.
func NewContainerStorage(name string, cursor Cursor, opts Options) (*ContainerStorage, error) {
	if err := validation.ValidateVariableName(name); err != nil {
		return nil, fmt.Errorf("container %q: %v: %w", name, err, errors.ErrInvalidName)
	}
	if cursor == nil {
		return nil, fmt.Errorf("container %q: %w", name, errors.NewMissingField("cursor"))
	}
	return &ContainerStorage{
		base:          newBase(name, cursor, true, opts),
		SchemaBuilder: newSchemaBuilder(name),
		containers:    make(map[*systematics.Set]*systContainer),
	}, nil
}

// Type returns the zero element type; containers have per-branch types.
func (s *ContainerStorage) Type() ElementType { return ElementType{} }

// Fill binds c to the active variation for the current event. The first
// fill freezes the schema.
//
// For a tagged container and a variation that does not affect its group,
// the nominal container must already be filled in this event with the
// same elements in the same order. A rejected container is not bound.
func (s *ContainerStorage) Fill(c xaod.Container) error {
	serial := s.cursor.EventSerial()
	if serial == 0 {
		return fmt.Errorf("fill %q: no event started: %w", s.name, errors.ErrInvalidState)
	}
	s.Freeze()

	if err := s.checkConsistent(c); err != nil {
		return err
	}

	key := s.activeKey()
	sc, ok := s.containers[key]
	if !ok {
		sc = &systContainer{}
		s.containers[key] = sc
	}
	sc.elems = c
	sc.serial = serial
	return nil
}

// checkConsistent rejects c when the active variation leaves the
// container's group untouched but c is not the nominal container.
func (s *ContainerStorage) checkConsistent(c xaod.Container) error {
	if s.group == nil {
		return nil
	}
	current := s.cursor.Systematic()
	if current == s.cursor.Nominal() || s.group.IsAffectedBy(current) {
		return nil
	}
	nominal, ok := s.FindContainer(s.cursor.Nominal())
	if !ok {
		return fmt.Errorf("fill %q in %s: nominal container not filled in this event: %w",
			s.name, current, ErrInconsistentContainer)
	}
	if len(nominal) != len(c) {
		return fmt.Errorf("fill %q in %s: %d elements, nominal has %d: %w",
			s.name, current, len(c), len(nominal), ErrInconsistentContainer)
	}
	for i := range c {
		if c[i] != nominal[i] {
			return fmt.Errorf("fill %q in %s: element %d differs from nominal: %w",
				s.name, current, i, ErrInconsistentContainer)
		}
	}
	return nil
}

// FindContainer implements Collection.
func (s *ContainerStorage) FindContainer(set *systematics.Set) (xaod.Container, bool) {
	sc, ok := s.containers[s.key(set)]
	if !ok || sc.serial == 0 || sc.serial != s.cursor.EventSerial() {
		return nil, false
	}
	return sc.elems, true
}

// Container implements Collection.
func (s *ContainerStorage) Container() (xaod.Container, error) {
	c, ok := s.FindContainer(s.cursor.Systematic())
	if !ok {
		return nil, fmt.Errorf("%q in %s: %w", s.name, s.activeKey(), errors.ErrNoContainer)
	}
	return c, nil
}

// SubBranches implements Collection. A sub-branch is left out of a tree
// when
//   - it does not save variations and the tree is not nominal,
//   - the container's group differs from the tree's group, is not
//     affected by the tree's variation and the sub-branch is not piped,
//   - it is piped and the tree belongs to the container's own group.
func (s *ContainerStorage) SubBranches(ctx TreeContext) []SubBranch {
	nominal := ctx.Systematic == s.cursor.Nominal()
	var out []SubBranch
	for _, br := range s.Schema() {
		if !br.SaveVariations && !nominal {
			continue
		}
		if s.group != nil && s.group != ctx.Group && !s.group.IsAffectedBy(ctx.Systematic) && !br.Piped {
			continue
		}
		if s.group != nil && s.group == ctx.Group && br.Piped {
			continue
		}
		out = append(out, br)
	}
	return out
}

// =============================================================================
// ParticleStorage
// =============================================================================

// ParticleStorage is a container of particles. Besides the declared
// sub-branches it writes the four-momentum as pt, eta, phi and either the
// mass or the energy.
type ParticleStorage struct {
	*ContainerStorage
	storeMass bool
}

// NewParticleStorage creates an unregistered particle container.
func NewParticleStorage(name string, cursor Cursor, storeMass bool, opts Options) (*ParticleStorage, error) {
	cs, err := NewContainerStorage(name, cursor, opts)
	if err != nil {
		return nil, err
	}
	return &ParticleStorage{ContainerStorage: cs, storeMass: storeMass}, nil
}

// StoreMass reports whether the mass instead of the energy is written.
func (s *ParticleStorage) StoreMass() bool { return s.storeMass }

// SetStoreMass selects mass (true) or energy (false) as fourth component.
func (s *ParticleStorage) SetStoreMass(v bool) error {
	if s.Frozen() {
		return fmt.Errorf("store mass of %q: schema frozen: %w", s.name, ErrLocked)
	}
	s.storeMass = v
	return nil
}

// Fill binds c to the active variation. Every element must be a particle.
func (s *ParticleStorage) Fill(c xaod.Container) error {
	for i, el := range c {
		if _, ok := el.(xaod.Particle); !ok {
			return fmt.Errorf("fill %q: element %d is %T, not a particle: %w", s.name, i, el, ErrTypeMismatch)
		}
	}
	return s.ContainerStorage.Fill(c)
}

// SubBranches implements Collection. The four-momentum is written to the
// tree of the particle's own group, or when the particle's group is
// affected by the tree's variation.
func (s *ParticleStorage) SubBranches(ctx TreeContext) []SubBranch {
	out := s.ContainerStorage.SubBranches(ctx)
	if ctx.Group != s.group && (s.group == nil || !s.group.IsAffectedBy(ctx.Systematic)) {
		return out
	}
	fourth := momentum{"e", xaod.Particle.E}
	if s.storeMass {
		fourth = momentum{"m", xaod.Particle.M}
	}
	for _, m := range []momentum{
		{"pt", xaod.Particle.Pt},
		{"eta", xaod.Particle.Eta},
		{"phi", xaod.Particle.Phi},
		fourth,
	} {
		out = append(out, SubBranch{
			Name:           m.name,
			Type:           Scalar(KindFloat32),
			SaveVariations: true,
			read:           m.reader(),
		})
	}
	return out
}

type momentum struct {
	name string
	get  func(xaod.Particle) float64
}

func (m momentum) reader() Reader {
	return func(c xaod.Container) (any, error) {
		out := make([]float32, len(c))
		for i, el := range c {
			p, ok := el.(xaod.Particle)
			if !ok {
				return nil, fmt.Errorf("%s of element %d: %T is not a particle: %w", m.name, i, el, ErrTypeMismatch)
			}
			out[i] = float32(m.get(p))
		}
		return out, nil
	}
}
