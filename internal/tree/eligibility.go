package tree

import (
	"github.com/xtxerr/ntuple/internal/store"
	"github.com/xtxerr/ntuple/internal/systematics"
)

// selection describes an output tree when deciding which variables it
// carries.
type selection struct {
	// set is nil for the common tree.
	set     *systematics.Set
	nominal *systematics.Set
	group   *systematics.Group
	friends bool
}

// accepts reports whether v is written to the tree.
//
// Untagged particle containers pass the group filter of group trees; their
// sub-branches are filtered per branch instead.
func (s selection) accepts(v store.Variable) bool {
	if s.set == nil {
		return v.IsCommon()
	}
	if s.friends && v.IsCommon() {
		return false
	}
	if s.group != nil && v.Group() != s.group {
		return v.Group() == nil && v.IsParticleVariable()
	}
	if s.set != s.nominal {
		return v.SaveVariations()
	}
	if v.IsParticleVariable() {
		return true
	}
	if s.friends && v.Group() != nil {
		return v.Group().IsAffectedBy(s.set)
	}
	return true
}
