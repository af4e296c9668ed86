// Package tree writes event variables to output trees.
//
// A TreeBase owns one output tree, keyed by a systematic variation and
// optionally a systematic group. Trees without a variation are common
// trees. Trees are created through a Forest, which holds the friend graph
// and orders fills and write-out so that friends always come first.
//
// Lifecycle per tree:
//
//	Uninitialized --InitializeTree--> Initialized --FinalizeTree--> Written
package tree

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"

	"github.com/xtxerr/ntuple/config"
	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/storage"
	"github.com/xtxerr/ntuple/internal/store"
	"github.com/xtxerr/ntuple/internal/sync"
	"github.com/xtxerr/ntuple/internal/systematics"
)

// Identity branch names.
const (
	BranchMCChannel = "mcChannelNumber"
	BranchEventHash = "CommonEventHash"
)

// State is the lifecycle state of a tree.
type State uint8

const (
	StateUninitialized State = iota
	StateInitialized
	StateWritten
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateWritten:
		return "written"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Source is the event-identity source a tree reads from.
type Source interface {
	store.Cursor

	Keeper() *store.Keeper
	EventNumber() uint64
	RunNumber() uint32
	MCChannelNumber() uint32
	IsData() bool
	SetSystematic(set *systematics.Set) error
}

// TreeBase binds the eligible variables of one variation to one output
// tree.
type TreeBase struct {
	forest *Forest
	id     NodeID

	set   *systematics.Set
	group *systematics.Group
	name  string
	path  string

	logger *slog.Logger

	state    State
	out      *storage.Tree
	branches []branch
	columns  []int

	mcColumn   int
	hashColumn int

	eventID EventID
	filled  bool
	hash    uint64
}

func newTreeBase(f *Forest, id NodeID, set *systematics.Set, group *systematics.Group) *TreeBase {
	t := &TreeBase{
		forest:     f,
		id:         id,
		set:        set,
		group:      group,
		mcColumn:   -1,
		hashColumn: -1,
	}
	t.name = treeName(f.opts.TreeName, set, group)
	t.path = storage.JoinPath(f.opts.AnalysisName, t.name)
	t.logger = f.logger.With("tree", t.name)
	return t
}

// treeName returns the object name of a tree:
//
//	CommonTree_<tree>, SystGroup_<group>_<tree>, <tree>_Nominal, <tree>_<syst>
func treeName(base string, set *systematics.Set, group *systematics.Group) string {
	switch {
	case set == nil:
		return config.DefaultCommonTreePrefix + "_" + base
	case group != nil:
		return config.DefaultGroupTreePrefix + "_" + group.Name() + "_" + base
	case set.IsNominal():
		return base + "_" + config.DefaultNominalSuffix
	}
	return base + "_" + set.Name()
}

// ID returns the node of the tree in its forest.
func (t *TreeBase) ID() NodeID { return t.id }

// Name returns the object name of the tree.
func (t *TreeBase) Name() string { return t.name }

// Path returns the registration path, /<analysis>/<name>.
func (t *TreeBase) Path() string { return t.path }

// Systematic returns the variation of the tree, nil for the common tree.
func (t *TreeBase) Systematic() *systematics.Set { return t.set }

// Group returns the systematic group of the tree, or nil.
func (t *TreeBase) Group() *systematics.Group { return t.group }

// IsCommon reports whether the tree holds the common variables.
func (t *TreeBase) IsCommon() bool { return t.set == nil }

// State returns the lifecycle state.
func (t *TreeBase) State() State { return t.state }

// SchemaHash fingerprints the path and the ordered, typed branch list. It
// is zero before initialization.
func (t *TreeBase) SchemaHash() uint64 { return t.hash }

// Branches returns the branch names in column order. Identity branches
// come first.
func (t *TreeBase) Branches() []string {
	if t.out == nil {
		return nil
	}
	return t.out.Branches()
}

// Entries returns the number of rows written so far.
func (t *TreeBase) Entries() int64 {
	if t.out == nil {
		return 0
	}
	return t.out.Entries()
}

// Output returns the underlying output tree, nil before initialization
// and after release.
func (t *TreeBase) Output() *storage.Tree { return t.out }

func (t *TreeBase) hasFriends() bool { return len(t.forest.friends[t.id]) > 0 }

func (t *TreeBase) selection() selection {
	return selection{
		set:     t.set,
		nominal: t.forest.opts.Source.Nominal(),
		group:   t.group,
		friends: t.hasFriends(),
	}
}

// readSet is the variation container branches read from.
func (t *TreeBase) readSet() *systematics.Set {
	if t.set == nil {
		return t.forest.opts.Source.Nominal()
	}
	return t.set
}

// =============================================================================
// Initialize
// =============================================================================

// InitializeTree creates the output tree with the identity branches and
// one branch per eligible variable, ordered by name. The variable registry
// must be locked. The friends of the tree must be known at this point.
func (t *TreeBase) InitializeTree() error {
	if t.state != StateUninitialized {
		return fmt.Errorf("initialize %s: %w", t.name, errors.ErrAlreadyInitialized)
	}
	opts := t.forest.opts
	src := opts.Source
	if !src.Keeper().Locked() {
		return fmt.Errorf("initialize %s: variable registry still open: %w", t.name, errors.ErrInvalidState)
	}
	if t.group != nil && t.set != src.Nominal() {
		t.logger.Error("group tree paired with a variation", "systematic", t.set.String())
		return fmt.Errorf("initialize %s: %w", t.name, errors.ErrGroupNotNominal)
	}

	switch {
	case t.set == nil:
		t.logger.Info("tree stores the common event variables only")
	case t.set != src.Nominal():
		t.logger.Info("tree stores kinematic variation, weight variations are not stored", "systematic", t.set.String())
	case t.group != nil:
		t.logger.Info("tree stores the nominal branches of a systematic group", "group", t.group.Name())
	}

	branches, err := t.collect()
	if err != nil {
		return err
	}
	if len(branches) == 0 {
		t.logger.Error("tree has no branches")
		return fmt.Errorf("initialize %s: %w", t.name, errors.ErrEmptyBranchSet)
	}

	out, err := opts.Output.CreateTree(t.path)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", t.name, err)
	}

	friends := t.hasFriends()
	if !src.IsData() && (t.set == nil || (!friends && t.group == nil)) {
		if t.mcColumn, err = out.Branch(BranchMCChannel, reflect.TypeOf(uint32(0))); err != nil {
			return err
		}
	}
	if friends || t.set == nil || t.group != nil {
		if t.hashColumn, err = out.Branch(BranchEventHash, reflect.TypeOf([]uint64(nil))); err != nil {
			return err
		}
	}

	columns := make([]int, len(branches))
	for i, b := range branches {
		if columns[i], err = out.Branch(b.Name(), b.Type()); err != nil {
			t.logger.Error("could not set up branch", "branch", b.Name(), "error", err)
			return fmt.Errorf("initialize %s: %w", t.name, err)
		}
	}

	if err := out.Seal(); err != nil {
		return fmt.Errorf("initialize %s: %w", t.name, err)
	}
	if err := opts.Output.RegisterTree(out); err != nil {
		return fmt.Errorf("initialize %s: %w", t.name, err)
	}

	t.out = out
	t.branches = branches
	t.columns = columns
	t.hash = schemaHash(t.path, out.Columns(), t.friendPaths())
	t.state = StateInitialized

	out.SetMeta("schema_hash", fmt.Sprintf("%016x", t.hash))
	if t.set == nil {
		out.SetMeta("systematic", "common")
	} else {
		out.SetMeta("systematic", t.set.String())
	}
	if t.group != nil {
		out.SetMeta("group", t.group.Name())
	}

	t.logger.Info("tree initialized",
		"path", t.path,
		"branches", len(out.Columns()),
		"friends", len(t.forest.friends[t.id]))
	return nil
}

// collect builds the adapters of all eligible variables, sorted by name.
func (t *TreeBase) collect() ([]branch, error) {
	src := t.forest.opts.Source
	sel := t.selection()
	ctx := store.TreeContext{Systematic: t.readSet(), Group: t.group}

	var out []branch
	for _, v := range src.Keeper().Variables(src) {
		if !v.SaveTrees() || !sel.accepts(v) {
			continue
		}
		switch sv := v.(type) {
		case store.Collection:
			out = append(out, newContainerBranches(sv, ctx, t.readSet())...)
		case store.EventVariable:
			b, err := newEventBranch(sv)
			if err != nil {
				return nil, fmt.Errorf("initialize %s: %w", t.name, err)
			}
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// schemaHash covers the path, the ordered columns and the friend set.
func schemaHash(path string, columns []storage.Column, friends []string) uint64 {
	h := sync.NewHashBuilder().String(path).Int(len(columns))
	for _, c := range columns {
		h.String(c.Name).String(c.Type.String())
	}
	return h.Strings(friends).Build()
}

func (t *TreeBase) friendPaths() []string {
	var out []string
	for _, fid := range t.forest.friends[t.id] {
		out = append(out, t.forest.nodes[fid].path)
	}
	return out
}

// =============================================================================
// Fill
// =============================================================================

// FillTree writes the current event to the tree and to every tree it
// reaches through friends, friends first. Trees that already hold the
// event are skipped.
func (t *TreeBase) FillTree() error {
	return t.forest.Fill(t.id)
}

// fill writes one row for id. It reports false when the tree already
// holds the event. No row is written when any branch fails.
func (t *TreeBase) fill(id EventID) (bool, error) {
	if t.state != StateInitialized {
		return false, fmt.Errorf("fill %s: %s: %w", t.name, t.state, errors.ErrNotInitialized)
	}
	if t.filled && t.eventID == id {
		return false, nil
	}

	src := t.forest.opts.Source
	if t.mcColumn >= 0 {
		if err := t.out.Set(t.mcColumn, src.MCChannelNumber()); err != nil {
			return false, err
		}
	}
	if t.hashColumn >= 0 {
		if err := t.out.Set(t.hashColumn, []uint64{id[0], id[1]}); err != nil {
			return false, err
		}
	}
	for i, b := range t.branches {
		v, err := b.Value()
		if err != nil {
			t.logger.Warn("branch was not updated since the last fill",
				"branch", b.Name(),
				"systematic", src.Systematic().String(),
				"error", err)
			return false, fmt.Errorf("fill %s: %w", t.name, err)
		}
		if err := t.out.Set(t.columns[i], v); err != nil {
			return false, fmt.Errorf("fill %s: %w", t.name, err)
		}
	}
	if err := t.out.Fill(); err != nil {
		return false, fmt.Errorf("fill %s: %w", t.name, err)
	}
	t.eventID = id
	t.filled = true
	return true, nil
}

// =============================================================================
// Finalize
// =============================================================================

// FinalizeTree writes the tree and, before it, every tree reachable
// through friends. It is idempotent.
func (t *TreeBase) FinalizeTree() error {
	return t.forest.finalize(t.id)
}

// write persists the tree. The friends must be written already.
func (t *TreeBase) write() error {
	if t.state == StateWritten {
		return nil
	}
	if t.state != StateInitialized {
		return fmt.Errorf("finalize %s: %w", t.name, errors.ErrNotInitialized)
	}
	t.state = StateWritten

	output := t.forest.opts.Output
	if err := output.DeregisterTree(t.path); err != nil {
		t.logger.Error("failed to take the tree out of the output service", "error", err)
		return fmt.Errorf("finalize %s: %w", t.name, err)
	}
	for _, fid := range t.forest.friends[t.id] {
		fr := t.forest.nodes[fid]
		if fr.state != StateWritten {
			return fmt.Errorf("finalize %s: friend %s not written: %w", t.name, fr.name, errors.ErrInvalidState)
		}
		if err := t.out.AddFriend(fr.path); err != nil {
			t.logger.Error("failed to establish friendship", "friend", fr.name, "error", err)
			return fmt.Errorf("finalize %s: %w", t.name, err)
		}
	}
	if err := output.WriteTree(t.out); err != nil {
		return fmt.Errorf("finalize %s: %w", t.name, err)
	}
	t.logger.Info("tree written", "entries", t.out.Entries())

	// Common and group trees stay alive for the trees they are friends of.
	if t.hasFriends() || (t.set != nil && t.group == nil) {
		t.release()
	}
	return nil
}

func (t *TreeBase) release() {
	t.out.Release()
	t.branches = nil
	t.columns = nil
}
