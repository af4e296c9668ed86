package tree

import (
	"fmt"
	"log/slog"

	"github.com/xtxerr/ntuple/config"
	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/logging"
	"github.com/xtxerr/ntuple/internal/metrics"
	"github.com/xtxerr/ntuple/internal/storage"
	"github.com/xtxerr/ntuple/internal/systematics"
)

// NodeID indexes a tree in its forest.
type NodeID int

// Options configures a Forest.
type Options struct {
	Source Source
	Output *storage.Service

	// AnalysisName is the directory every tree is registered in.
	AnalysisName string

	// TreeName is the base name of the trees.
	TreeName string

	// Metrics receives fill counters. Nil disables metrics.
	Metrics *metrics.Sample
}

// DefaultOptions returns options with the default naming and no
// collaborators.
func DefaultOptions() Options {
	return Options{
		AnalysisName: config.DefaultAnalysisName,
		TreeName:     config.DefaultTreeName,
	}
}

// Stats holds fill statistics of a forest.
type Stats struct {
	Trees    int
	Fills    int64
	Skips    int64
	Failures int64
}

// Forest is the arena of trees of one job. Friend relations form a
// directed acyclic graph; a tree is always filled and written after all
// trees it reaches through friends.
type Forest struct {
	opts   Options
	logger *slog.Logger

	nodes   []*TreeBase
	friends [][]NodeID
	paths   map[string]NodeID

	initialized bool
	stats       Stats
}

// NewForest creates an empty forest.
func NewForest(opts Options) (*Forest, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("tree forest: %w", errors.NewMissingField("source"))
	}
	if opts.Output == nil {
		return nil, fmt.Errorf("tree forest: %w", errors.NewMissingField("output"))
	}
	if opts.AnalysisName == "" {
		opts.AnalysisName = config.DefaultAnalysisName
	}
	if opts.TreeName == "" {
		opts.TreeName = config.DefaultTreeName
	}
	return &Forest{
		opts:   opts,
		logger: logging.Component("tree"),
		paths:  make(map[string]NodeID),
	}, nil
}

// Add creates a tree for set and group. A nil set creates the common
// tree. Paths are unique.
func (f *Forest) Add(set *systematics.Set, group *systematics.Group) (NodeID, error) {
	if f.initialized {
		return -1, fmt.Errorf("add tree: %w", errors.ErrLocked)
	}
	id := NodeID(len(f.nodes))
	t := newTreeBase(f, id, set, group)
	if _, exists := f.paths[t.path]; exists {
		return -1, fmt.Errorf("add tree %s: %w", t.path, errors.ErrTreeExists)
	}
	f.nodes = append(f.nodes, t)
	f.friends = append(f.friends, nil)
	f.paths[t.path] = id
	return id, nil
}

// Node returns the tree of id.
func (f *Forest) Node(id NodeID) (*TreeBase, error) {
	if id < 0 || int(id) >= len(f.nodes) {
		return nil, fmt.Errorf("tree node %d: %w", id, errors.ErrTreeNotFound)
	}
	return f.nodes[id], nil
}

// Lookup returns the tree registered at path.
func (f *Forest) Lookup(path string) (*TreeBase, bool) {
	id, ok := f.paths[storage.JoinPath(path)]
	if !ok {
		return nil, false
	}
	return f.nodes[id], true
}

// Nodes returns all trees in creation order.
func (f *Forest) Nodes() []*TreeBase {
	out := make([]*TreeBase, len(f.nodes))
	copy(out, f.nodes)
	return out
}

// Len returns the number of trees.
func (f *Forest) Len() int { return len(f.nodes) }

// AddFriend makes friend a friend of parent. Adding an existing friend
// is a no-op; edges closing a cycle are rejected. Friends can only be
// added before initialization.
func (f *Forest) AddFriend(parent, friend NodeID) error {
	p, err := f.Node(parent)
	if err != nil {
		return err
	}
	fr, err := f.Node(friend)
	if err != nil {
		return err
	}
	if f.initialized || p.state != StateUninitialized {
		return fmt.Errorf("friend %s of %s: %w", fr.name, p.name, errors.ErrLocked)
	}
	if parent == friend || f.reaches(friend, parent) {
		return fmt.Errorf("friend %s of %s: %w", fr.name, p.name, errors.ErrCycle)
	}
	for _, id := range f.friends[parent] {
		if id == friend {
			return nil
		}
	}
	f.friends[parent] = append(f.friends[parent], friend)
	return nil
}

// Friends returns the friends of id in insertion order.
func (f *Forest) Friends(id NodeID) []NodeID {
	if id < 0 || int(id) >= len(f.friends) {
		return nil
	}
	out := make([]NodeID, len(f.friends[id]))
	copy(out, f.friends[id])
	return out
}

func (f *Forest) reaches(from, to NodeID) bool {
	seen := make(map[NodeID]bool)
	var visit func(NodeID) bool
	visit = func(n NodeID) bool {
		if n == to {
			return true
		}
		if seen[n] {
			return false
		}
		seen[n] = true
		for _, next := range f.friends[n] {
			if visit(next) {
				return true
			}
		}
		return false
	}
	return visit(from)
}

// order returns the trees reachable from roots, friends before the trees
// they belong to.
func (f *Forest) order(roots ...NodeID) []NodeID {
	seen := make(map[NodeID]bool)
	var out []NodeID
	var visit func(NodeID)
	visit = func(n NodeID) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, next := range f.friends[n] {
			visit(next)
		}
		out = append(out, n)
	}
	for _, r := range roots {
		visit(r)
	}
	return out
}

func (f *Forest) all() []NodeID {
	ids := make([]NodeID, len(f.nodes))
	for i := range ids {
		ids[i] = NodeID(i)
	}
	return ids
}

// Initialize initializes every tree, friends first, and closes the friend
// graph. The first failure aborts.
func (f *Forest) Initialize() error {
	if f.initialized {
		return fmt.Errorf("tree forest: %w", errors.ErrAlreadyInitialized)
	}
	for _, id := range f.order(f.all()...) {
		if err := f.nodes[id].InitializeTree(); err != nil {
			return err
		}
	}
	f.initialized = true
	f.logger.Info("tree forest initialized", "trees", len(f.nodes))
	return nil
}

// Initialized reports whether Initialize succeeded.
func (f *Forest) Initialized() bool { return f.initialized }

// =============================================================================
// Fill
// =============================================================================

// Fill writes the current event to the tree id and every tree it reaches
// through friends, friends first. Each tree is written at most once per
// event. The first failing tree aborts the fill; the trees before it keep
// their rows.
//
// Variation trees are filled with their variation active. The active
// variation of the source is restored afterwards.
func (f *Forest) Fill(id NodeID) error {
	if _, err := f.Node(id); err != nil {
		return err
	}
	return f.fill(f.order(id), true)
}

// FillAll writes the current event to every tree. Failing trees are
// skipped and their errors joined.
func (f *Forest) FillAll() error {
	return f.fill(f.order(f.all()...), false)
}

func (f *Forest) fill(ids []NodeID, stopOnError bool) error {
	src := f.opts.Source
	eid := NewEventID(src.EventNumber(), src.RunNumber(), src.MCChannelNumber(), src.IsData())
	active := src.Systematic()

	var errs []error
	for _, id := range ids {
		err := f.fillNode(f.nodes[id], eid)
		if err == nil {
			continue
		}
		errs = append(errs, err)
		if stopOnError {
			break
		}
	}

	if active != nil && src.Systematic() != active {
		if err := src.SetSystematic(active); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", active, err))
		}
	}
	return errors.Join(errs...)
}

func (f *Forest) fillNode(t *TreeBase, eid EventID) error {
	src := f.opts.Source
	if t.set != nil && t.set != src.Systematic() {
		if err := src.SetSystematic(t.set); err != nil {
			return fmt.Errorf("fill %s: %w", t.name, err)
		}
	}

	filled, err := t.fill(eid)
	switch {
	case err != nil:
		f.stats.Failures++
		f.opts.Metrics.TreeFailed(t.path, failureReason(err))
		return err
	case !filled:
		f.stats.Skips++
		f.opts.Metrics.TreeSkipped(t.path)
	default:
		f.stats.Fills++
		f.opts.Metrics.TreeFilled(t.path)
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, errors.ErrBackend):
		return metrics.ReasonBackend
	case errors.IsPerEvent(err):
		return metrics.ReasonStaleBranch
	}
	return metrics.ReasonOther
}

// Stats returns fill statistics.
func (f *Forest) Stats() Stats {
	s := f.stats
	s.Trees = len(f.nodes)
	return s
}

// =============================================================================
// Finalize
// =============================================================================

// Finalize writes every tree, friends first. The first failure aborts.
func (f *Forest) Finalize() error {
	for _, id := range f.order(f.all()...) {
		if err := f.nodes[id].write(); err != nil {
			return err
		}
	}
	f.logger.Info("all trees written",
		"trees", len(f.nodes),
		"fills", f.stats.Fills,
		"skips", f.stats.Skips,
		"failures", f.stats.Failures)
	return nil
}

func (f *Forest) finalize(id NodeID) error {
	for _, n := range f.order(id) {
		if err := f.nodes[n].write(); err != nil {
			return err
		}
	}
	return nil
}
