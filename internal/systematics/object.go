package systematics

import (
	"fmt"
	"strings"

	"github.com/xtxerr/ntuple/internal/errors"
)

// SelectionObject tags the physics object kind a variation acts on.
type SelectionObject int

const (
	Other         SelectionObject = 0
	Jet           SelectionObject = 2
	TrackParticle SelectionObject = 4
	Electron      SelectionObject = 6
	Photon        SelectionObject = 7
	Muon          SelectionObject = 8
	Tau           SelectionObject = 9
	BTag          SelectionObject = 102
	TruthParticle SelectionObject = 201
	MissingET     SelectionObject = 301
	EventWeight   SelectionObject = 302
	RecoParticle  SelectionObject = 960
	DiTau         SelectionObject = 980
)

var objectNames = map[SelectionObject]string{
	Other:         "Other",
	Jet:           "Jet",
	TrackParticle: "TrackParticle",
	Electron:      "Electron",
	Photon:        "Photon",
	Muon:          "Muon",
	Tau:           "Tau",
	BTag:          "BTag",
	TruthParticle: "TruthParticle",
	MissingET:     "MissingET",
	EventWeight:   "EventWeight",
	RecoParticle:  "RecoParticle",
	DiTau:         "DiTau",
}

// String returns the object name.
func (o SelectionObject) String() string {
	if name, ok := objectNames[o]; ok {
		return name
	}
	return fmt.Sprintf("SelectionObject(%d)", int(o))
}

// ParseSelectionObject parses an object name, case-insensitively.
func ParseSelectionObject(s string) (SelectionObject, error) {
	for obj, name := range objectNames {
		if strings.EqualFold(name, s) {
			return obj, nil
		}
	}
	return Other, fmt.Errorf("unknown selection object %q: %w", s, errors.ErrInvalidObjectType)
}

// kinematicObjects are the object kinds carrying their own list of
// kinematic variations.
var kinematicObjects = []SelectionObject{
	Electron, Muon, Photon, Tau, Jet, TruthParticle, MissingET, TrackParticle,
}

// weightObjects are the object kinds carrying their own list of weight
// variations.
var weightObjects = []SelectionObject{
	Electron, Muon, Photon, Tau, Jet, BTag, TruthParticle, MissingET, TrackParticle, EventWeight,
}

func isKinematicObject(o SelectionObject) bool {
	for _, k := range kinematicObjects {
		if k == o {
			return true
		}
	}
	return false
}

func isWeightObject(o SelectionObject) bool {
	for _, k := range weightObjects {
		if k == o {
			return true
		}
	}
	return false
}
