package systematics

import (
	"fmt"

	"github.com/xtxerr/ntuple/internal/errors"
)

// Group is a named classification of variables by the object kind whose
// kinematic variations they follow. It routes variables to the subset of
// per-systematic trees in which they can actually change.
type Group struct {
	name   string
	object SelectionObject
	svc    *Service
}

// NewGroup creates a group for obj. Object kinds that carry no kinematic
// variations (Other, EventWeight, BTag) are rejected.
func NewGroup(name string, obj SelectionObject, svc *Service) (*Group, error) {
	if name == "" {
		return nil, fmt.Errorf("systematic group: empty name: %w", errors.ErrInvalidName)
	}
	switch obj {
	case Other, EventWeight, BTag:
		return nil, fmt.Errorf("systematic group %q on %s: %w", name, obj, errors.ErrInvalidObjectType)
	}
	if svc == nil {
		return nil, fmt.Errorf("systematic group %q: systematics service: %w", name, errors.ErrMissingField)
	}
	return &Group{name: name, object: obj, svc: svc}, nil
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Object returns the object kind the group follows.
func (g *Group) Object() SelectionObject { return g.object }

// IsAffectedBy reports whether set changes the group's object kind.
// The nominal variation only counts when it is the sole variation of the
// object kind, i.e. when no dedicated variation tree exists for it.
func (g *Group) IsAffectedBy(set *Set) bool {
	if g == nil || set == nil {
		return false
	}
	list := g.svc.Kinematic(g.object)
	if set.IsNominal() && len(list) != 1 {
		return false
	}
	return contains(list, set)
}
