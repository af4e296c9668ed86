// Package systematics enumerates the systematic variations of a job and
// tracks which one is currently active.
//
// A Set is an opaque identity: two Sets are the same variation iff they are
// the same pointer. The Service interns every variation by name, so asking
// for the same name twice yields the same *Set.
//
// A Service is owned by one job and is not safe for concurrent use.
package systematics

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/logging"
	"github.com/xtxerr/ntuple/internal/validation"
)

// Set identifies one systematic variation. The nominal variation has an
// empty name.
type Set struct {
	name string
}

// Name returns the variation name, empty for nominal.
func (s *Set) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// IsNominal reports whether s is the reference variation.
func (s *Set) IsNominal() bool {
	return s != nil && s.name == ""
}

// String returns "Nominal" for the nominal variation and the name otherwise.
func (s *Set) String() string {
	if s == nil {
		return "<nil>"
	}
	if s.name == "" {
		return "Nominal"
	}
	return s.name
}

// ToolService is an external collaborator that must be told when the
// active variation changes, e.g. a calibration tool.
type ToolService interface {
	Name() string
	SetSystematic(set *Set) error
	ResetSystematic() error
}

// Options configures a Service.
type Options struct {
	// DoSyst enables non-nominal variations.
	DoSyst bool

	// DoWeights enables weight variations.
	DoWeights bool

	// IsData marks a collision-data job. Systematics are refused on data.
	IsData bool

	// Exclude lists variation names that are silently dropped.
	Exclude []string

	// Disabled lists object kinds that are not processed at all.
	Disabled []SelectionObject
}

// DefaultOptions returns options with variations enabled and di-taus and
// tracks disabled.
func DefaultOptions() Options {
	return Options{
		DoSyst:    true,
		DoWeights: true,
		Disabled:  []SelectionObject{DiTau, TrackParticle},
	}
}

// Service holds the variation lists per object kind.
type Service struct {
	opts   Options
	logger *slog.Logger

	nominal *Set
	current *Set
	all     []*Set
	byName  map[string]*Set

	kinematic map[SelectionObject][]*Set
	weight    map[SelectionObject][]*Set
	kinAll    []*Set
	weightAll []*Set

	disabled map[SelectionObject]bool
	excluded map[string]bool
	tools    []ToolService
	fixed    bool
}

// NewService creates a Service holding only the nominal variation.
func NewService(opts Options) *Service {
	nominal := &Set{}
	s := &Service{
		opts:      opts,
		logger:    logging.Component("systematics"),
		nominal:   nominal,
		all:       []*Set{nominal},
		byName:    map[string]*Set{"": nominal},
		kinematic: make(map[SelectionObject][]*Set),
		weight:    make(map[SelectionObject][]*Set),
		disabled:  make(map[SelectionObject]bool),
		excluded:  make(map[string]bool),
	}
	for _, obj := range opts.Disabled {
		s.disabled[obj] = true
	}
	for _, name := range opts.Exclude {
		s.excluded[name] = true
	}
	s.weight[EventWeight] = []*Set{nominal}
	return s
}

// Nominal returns the reference variation.
func (s *Service) Nominal() *Set { return s.nominal }

// Current returns the active variation, nil before the first SetSystematic.
func (s *Service) Current() *Set { return s.current }

// IsData reports whether the job runs on collision data.
func (s *Service) IsData() bool { return s.opts.IsData }

// Fixed reports whether the variation lists are frozen.
func (s *Service) Fixed() bool { return s.fixed }

// ProcessObject reports whether variations of the object kind are kept.
func (s *Service) ProcessObject(obj SelectionObject) bool {
	if obj == TruthParticle && s.opts.IsData {
		return false
	}
	return !s.disabled[obj]
}

// intern returns the unique Set for name.
func (s *Service) intern(name string) *Set {
	if set, ok := s.byName[name]; ok {
		return set
	}
	set := &Set{name: name}
	s.byName[name] = set
	s.all = append(s.all, set)
	return set
}

func (s *Service) skip(name string, weight bool) bool {
	if name == "" {
		return false
	}
	if !s.opts.DoSyst || s.excluded[name] {
		return true
	}
	return weight && !s.opts.DoWeights
}

// InsertKinematic declares a kinematic variation acting on obj. It returns
// nil without error when the variation is disabled by the options.
func (s *Service) InsertKinematic(name string, obj SelectionObject) (*Set, error) {
	if s.fixed {
		return nil, fmt.Errorf("insert kinematic systematic %q: %w", name, errors.ErrLocked)
	}
	if s.skip(name, false) {
		s.logger.Debug("systematic disabled", "name", name)
		return nil, nil
	}
	if name != "" {
		if err := validation.ValidateSystematicName(name); err != nil {
			return nil, fmt.Errorf("systematic %q: %v: %w", name, err, errors.ErrInvalidName)
		}
	}
	if !isKinematicObject(obj) {
		return nil, fmt.Errorf("kinematic systematic %q on %s: %w", name, obj, errors.ErrInvalidObjectType)
	}
	set := s.intern(name)
	if !s.ProcessObject(obj) {
		return set, nil
	}
	s.kinematic[obj] = s.appendSorted(s.kinematic[obj], set)
	return set, nil
}

// InsertWeight declares a weight variation acting on obj. It returns nil
// without error when the variation is disabled by the options.
func (s *Service) InsertWeight(name string, obj SelectionObject) (*Set, error) {
	if s.fixed {
		return nil, fmt.Errorf("insert weight systematic %q: %w", name, errors.ErrLocked)
	}
	if s.skip(name, true) {
		s.logger.Debug("systematic disabled", "name", name)
		return nil, nil
	}
	if name != "" {
		if err := validation.ValidateSystematicName(name); err != nil {
			return nil, fmt.Errorf("systematic %q: %v: %w", name, err, errors.ErrInvalidName)
		}
	}
	if !isWeightObject(obj) {
		return nil, fmt.Errorf("weight systematic %q on %s: %w", name, obj, errors.ErrInvalidObjectType)
	}
	set := s.intern(name)
	if !s.ProcessObject(obj) {
		return set, nil
	}
	s.weight[obj] = s.appendSorted(s.weight[obj], set)
	return set, nil
}

// appendSorted adds set and the nominal variation to list. Named variations
// are ordered by name, the nominal one comes last.
func (s *Service) appendSorted(list []*Set, set *Set) []*Set {
	if !contains(list, set) {
		list = append(list, set)
	}
	if !contains(list, s.nominal) {
		list = append(list, s.nominal)
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.IsNominal() {
			return false
		}
		if b.IsNominal() {
			return true
		}
		return a.name < b.name
	})
	return list
}

// Fix freezes the variation lists. Every processed object kind receives the
// nominal variation, and the combined kinematic list is ordered nominal
// first, then variations affecting only missing transverse momentum, then
// by name.
func (s *Service) Fix() error {
	if s.fixed {
		return nil
	}
	if s.opts.IsData && s.opts.DoSyst && len(s.all) > 1 {
		return fmt.Errorf("systematics requested on data: %w", errors.ErrInvalidConfig)
	}

	for _, obj := range kinematicObjects {
		if _, err := s.InsertKinematic("", obj); err != nil {
			return err
		}
		if s.opts.DoWeights {
			if _, err := s.InsertWeight("", obj); err != nil {
				return err
			}
		}
	}
	if s.opts.DoWeights && s.ProcessObject(BTag) {
		s.weight[BTag] = s.appendSorted(s.weight[BTag], s.nominal)
	}

	var kin []*Set
	for _, obj := range kinematicObjects {
		for _, set := range s.kinematic[obj] {
			if !contains(kin, set) {
				kin = append(kin, set)
			}
		}
	}
	sort.SliceStable(kin, func(i, j int) bool {
		a, b := kin[i], kin[j]
		switch {
		case a.IsNominal():
			return !b.IsNominal()
		case b.IsNominal():
			return false
		}
		am, bm := s.AffectsOnlyMET(a), s.AffectsOnlyMET(b)
		if am != bm {
			return am
		}
		return a.name < b.name
	})
	s.kinAll = kin

	weights := []*Set{s.nominal}
	for _, obj := range weightObjects {
		for _, set := range s.weight[obj] {
			if !contains(weights, set) {
				weights = append(weights, set)
			}
		}
	}
	s.weightAll = weights

	s.fixed = true
	s.logger.Info("systematics fixed",
		"kinematic", len(s.kinAll),
		"weight", len(s.weightAll))
	for _, set := range s.kinAll {
		s.logger.Debug("kinematic systematic", "name", set.String())
	}
	return nil
}

// Kinematic returns the kinematic variations acting on obj. For Other the
// combined list of all kinematic variations is returned.
func (s *Service) Kinematic(obj SelectionObject) []*Set {
	if obj == Other {
		return s.kinAll
	}
	return s.kinematic[obj]
}

// Weight returns the weight variations acting on obj. For Other the
// combined list of all weight variations is returned.
func (s *Service) Weight(obj SelectionObject) []*Set {
	if obj == Other {
		return s.weightAll
	}
	return s.weight[obj]
}

// All returns every interned variation in insertion order.
func (s *Service) All() []*Set { return s.all }

// Lookup returns the variation with the given name.
func (s *Service) Lookup(name string) (*Set, error) {
	if set, ok := s.byName[name]; ok {
		return set, nil
	}
	return nil, fmt.Errorf("%q: %w", name, errors.ErrSystematicNotFound)
}

// IsKinematic reports whether set changes object kinematics.
func (s *Service) IsKinematic(set *Set) bool {
	if set.IsNominal() {
		return true
	}
	for _, obj := range kinematicObjects {
		if contains(s.kinematic[obj], set) {
			return true
		}
	}
	return false
}

// AffectsOnlyMET reports whether set acts on missing transverse momentum
// and on no other object kind.
func (s *Service) AffectsOnlyMET(set *Set) bool {
	if set.IsNominal() || !contains(s.kinematic[MissingET], set) {
		return false
	}
	for _, obj := range kinematicObjects {
		if obj != MissingET && contains(s.kinematic[obj], set) {
			return false
		}
	}
	return true
}

// RegisterTool adds a collaborator notified on every variation change.
func (s *Service) RegisterTool(tool ToolService) error {
	if tool == nil {
		return fmt.Errorf("tool service: %w", errors.ErrMissingField)
	}
	for _, t := range s.tools {
		if t.Name() == tool.Name() {
			return fmt.Errorf("tool service %q: %w", tool.Name(), errors.ErrAlreadyExists)
		}
	}
	s.tools = append(s.tools, tool)
	return nil
}

// SetSystematic activates set. Switching to the active variation is a no-op.
func (s *Service) SetSystematic(set *Set) error {
	if set == s.current && set != nil {
		return nil
	}
	if set == nil {
		return fmt.Errorf("set systematic: nil variation: %w", errors.ErrSystematicNotFound)
	}
	if !s.fixed {
		return fmt.Errorf("set systematic %s: %w", set, errors.ErrNotInitialized)
	}
	if s.byName[set.name] != set {
		return fmt.Errorf("set systematic %s: unknown identity: %w", set, errors.ErrSystematicNotFound)
	}
	for _, tool := range s.tools {
		if err := tool.SetSystematic(set); err != nil {
			return fmt.Errorf("apply %s to %s: %w", set, tool.Name(), err)
		}
	}
	s.current = set
	return nil
}

// Reset returns every tool to its nominal configuration and activates the
// nominal variation.
func (s *Service) Reset() error {
	if s.current == s.nominal {
		return nil
	}
	for _, tool := range s.tools {
		if err := tool.ResetSystematic(); err != nil {
			return fmt.Errorf("reset %s: %w", tool.Name(), err)
		}
	}
	s.current = s.nominal
	return nil
}

func contains(list []*Set, set *Set) bool {
	for _, s := range list {
		if s == set {
			return true
		}
	}
	return false
}
