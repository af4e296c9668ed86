package tree

import (
	"reflect"
	"testing"

	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/eventinfo"
	"github.com/xtxerr/ntuple/internal/systematics"
)

func TestNewForest_MissingCollaborators(t *testing.T) {
	if _, err := NewForest(Options{}); !errors.Is(err, errors.ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
	fx := newFixture(t)
	if _, err := NewForest(Options{Source: fx.info}); !errors.Is(err, errors.ErrMissingField) {
		t.Errorf("expected ErrMissingField without output, got %v", err)
	}
}

func TestForest_AddAndFriends(t *testing.T) {
	fx := newFixture(t)
	// Trees with friends drop common variables, so the nominal and JER
	// trees need one of their own.
	if _, err := eventinfo.NewEventVariable[int32](fx.info, "N_Jets", true, true); err != nil {
		t.Fatalf("NewEventVariable: %v", err)
	}
	fx.lock(t)
	f := fx.forest(t)

	common, err := f.Add(nil, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	nominal, err := f.Add(fx.svc.Nominal(), nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	jer, err := f.Add(fx.jer, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := f.Add(fx.svc.Nominal(), nil); !errors.Is(err, errors.ErrTreeExists) {
		t.Errorf("expected ErrTreeExists, got %v", err)
	}

	tests := []struct {
		name           string
		parent, friend NodeID
		want           error
	}{
		{"nominal to common", nominal, common, nil},
		{"duplicate", nominal, common, nil},
		{"jer to nominal", jer, nominal, nil},
		{"self", common, common, errors.ErrCycle},
		{"back edge", common, jer, errors.ErrCycle},
		{"unknown node", nominal, NodeID(42), errors.ErrTreeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.AddFriend(tt.parent, tt.friend)
			if tt.want == nil && err != nil {
				t.Fatalf("AddFriend: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if got := f.Friends(nominal); !reflect.DeepEqual(got, []NodeID{common}) {
		t.Errorf("Friends(nominal) = %v", got)
	}
	if got := f.order(jer); !reflect.DeepEqual(got, []NodeID{common, nominal, jer}) {
		t.Errorf("order(jer) = %v", got)
	}

	if err := f.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := f.AddFriend(jer, common); !errors.Is(err, errors.ErrLocked) {
		t.Errorf("expected ErrLocked after Initialize, got %v", err)
	}
	if _, err := f.Add(nil, nil); !errors.Is(err, errors.ErrLocked) {
		t.Errorf("expected ErrLocked for Add after Initialize, got %v", err)
	}
	if err := f.Initialize(); !errors.Is(err, errors.ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
	if tb, ok := f.Lookup("XAMPP/CommonTree_Tree"); !ok || tb.ID() != common {
		t.Errorf("Lookup(common) = %v, %v", tb, ok)
	}
}

// commonLayout books a common tree and one tree per kinematic variation,
// each with the common tree as friend.
func commonLayout(t *testing.T, fx *fixture) (*Forest, *TreeBase, *TreeBase, *TreeBase) {
	t.Helper()
	f := fx.forest(t)
	common := fx.add(t, f, nil, nil)
	nominal := fx.add(t, f, fx.svc.Nominal(), nil)
	jer := fx.add(t, f, fx.jer, nil)
	for _, tb := range []*TreeBase{nominal, jer} {
		if err := f.AddFriend(tb.ID(), common.ID()); err != nil {
			t.Fatalf("AddFriend: %v", err)
		}
	}
	if err := f.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return f, common, nominal, jer
}

func TestForest_FriendOrder(t *testing.T) {
	fx := newFixture(t)
	met, err := eventinfo.NewEventVariable[float32](fx.info, "MET", true, true)
	if err != nil {
		t.Fatalf("NewEventVariable: %v", err)
	}
	fx.lock(t)
	f, common, nominal, jer := commonLayout(t, fx)

	if !contains(common.Branches(), "eventNumber") || contains(nominal.Branches(), "eventNumber") {
		t.Error("common variables should only be written to the common tree")
	}
	if contains(nominal.Branches(), BranchMCChannel) || !contains(common.Branches(), BranchMCChannel) {
		t.Error("mcChannelNumber belongs to the common tree when friends exist")
	}
	for _, tb := range []*TreeBase{common, nominal, jer} {
		if !contains(tb.Branches(), BranchEventHash) {
			t.Errorf("%s lacks the event hash", tb.Name())
		}
	}

	fx.begin(t, 11)
	if err := met.Store(40e3); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := nominal.FillTree(); err != nil {
		t.Fatalf("FillTree nominal: %v", err)
	}
	if err := fx.info.SetSystematic(fx.jer); err != nil {
		t.Fatalf("SetSystematic: %v", err)
	}
	if err := met.Store(42e3); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := jer.FillTree(); err != nil {
		t.Fatalf("FillTree jer: %v", err)
	}

	want := []string{common.Path(), nominal.Path(), jer.Path()}
	if got := fx.backend.Writes(); !reflect.DeepEqual(got, want) {
		t.Errorf("write order = %v, want %v", got, want)
	}
	if common.Entries() != 1 {
		t.Errorf("common tree entries = %d, want 1", common.Entries())
	}
	stats := f.Stats()
	if stats.Trees != 3 || stats.Fills != 3 || stats.Skips != 1 {
		t.Errorf("Stats() = %+v", stats)
	}

	hash := fx.backend.Column(common.Path(), BranchEventHash)
	want0 := NewEventID(11, 284500, 410470, false)
	if !reflect.DeepEqual(hash, []any{[]uint64{want0[0], want0[1]}}) {
		t.Errorf("CommonEventHash = %v", hash)
	}
}

func TestForest_FinalizeWritesFriendsFirst(t *testing.T) {
	fx := newFixture(t)
	met, err := eventinfo.NewEventVariable[float32](fx.info, "MET", true, true)
	if err != nil {
		t.Fatalf("NewEventVariable: %v", err)
	}
	fx.lock(t)
	f, common, nominal, jer := commonLayout(t, fx)

	fx.begin(t, 1)
	if err := met.Store(1); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := nominal.FillTree(); err != nil {
		t.Fatalf("FillTree: %v", err)
	}

	if err := nominal.FinalizeTree(); err != nil {
		t.Fatalf("FinalizeTree: %v", err)
	}
	if common.State() != StateWritten {
		t.Errorf("friend should be written with its parent, state %s", common.State())
	}
	if jer.State() != StateInitialized {
		t.Errorf("unrelated tree state = %s", jer.State())
	}
	if err := nominal.FinalizeTree(); err != nil {
		t.Errorf("second FinalizeTree: %v", err)
	}
	if err := f.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if got := fx.backend.Friends(nominal.Path()); !reflect.DeepEqual(got, []string{common.Path()}) {
		t.Errorf("friends of nominal = %v", got)
	}
	if !nominal.Output().Released() || !jer.Output().Released() {
		t.Error("trees with friends should be released after write-out")
	}
	if common.Output().Released() {
		t.Error("common tree should stay alive")
	}
	d := fx.output.Directory("/XAMPP")
	if len(d.Trees) != 0 || len(d.Written) != 3 {
		t.Errorf("Directory() = %+v", d)
	}
}

func TestForest_GroupTreeReadsNominal(t *testing.T) {
	fx := newFixture(t)
	jets, err := fx.info.CreateSystematicGroup("Jets", systematics.Jet)
	if err != nil {
		t.Fatalf("CreateSystematicGroup: %v", err)
	}
	nJets, err := eventinfo.NewEventVariable[int32](fx.info, "N_Jets", true, true)
	if err != nil {
		t.Fatalf("NewEventVariable: %v", err)
	}
	if err := nJets.SetSystematicGroup("Jets"); err != nil {
		t.Fatalf("SetSystematicGroup: %v", err)
	}
	met, err := eventinfo.NewEventVariable[float32](fx.info, "MET", true, true)
	if err != nil {
		t.Fatalf("NewEventVariable: %v", err)
	}
	fx.lock(t)

	f := fx.forest(t)
	common := fx.add(t, f, nil, nil)
	group := fx.add(t, f, fx.svc.Nominal(), jets)
	nominal := fx.add(t, f, fx.svc.Nominal(), nil)
	jer := fx.add(t, f, fx.jer, nil)
	for _, tb := range []*TreeBase{nominal, jer} {
		for _, fr := range []*TreeBase{common, group} {
			if err := f.AddFriend(tb.ID(), fr.ID()); err != nil {
				t.Fatalf("AddFriend: %v", err)
			}
		}
	}
	if err := f.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if group.Name() != "SystGroup_Jets_Tree" {
		t.Errorf("group tree name = %q", group.Name())
	}
	if contains(nominal.Branches(), "N_Jets") {
		t.Error("nominal tree should leave group variables to the group tree")
	}
	if !contains(group.Branches(), "N_Jets") || !contains(jer.Branches(), "N_Jets") {
		t.Error("N_Jets should be in the group tree and the JER tree")
	}

	fx.begin(t, 5)
	if err := nJets.Store(2); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := met.Store(10); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := fx.info.SetSystematic(fx.jer); err != nil {
		t.Fatalf("SetSystematic: %v", err)
	}
	if err := nJets.Store(3); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := met.Store(11); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := jer.FillTree(); err != nil {
		t.Fatalf("FillTree: %v", err)
	}

	if fx.info.Systematic() != fx.jer {
		t.Errorf("active variation not restored: %s", fx.info.Systematic())
	}
	if got := fx.backend.Column(group.Path(), "N_Jets"); !reflect.DeepEqual(got, []any{int32(2)}) {
		t.Errorf("group tree N_Jets = %v, want nominal [2]", got)
	}
	if got := fx.backend.Column(jer.Path(), "N_Jets"); !reflect.DeepEqual(got, []any{int32(3)}) {
		t.Errorf("JER tree N_Jets = %v, want [3]", got)
	}

	if err := fx.info.SetSystematic(fx.svc.Nominal()); err != nil {
		t.Fatalf("SetSystematic: %v", err)
	}
	if err := f.FillAll(); err != nil {
		t.Fatalf("FillAll: %v", err)
	}
	if nominal.Entries() != 1 || group.Entries() != 1 || common.Entries() != 1 {
		t.Errorf("entries: nominal %d, group %d, common %d", nominal.Entries(), group.Entries(), common.Entries())
	}
}

func TestForest_FillAllJoinsErrors(t *testing.T) {
	fx := newFixture(t)
	met, err := eventinfo.NewEventVariable[float32](fx.info, "MET", true, true)
	if err != nil {
		t.Fatalf("NewEventVariable: %v", err)
	}
	fx.lock(t)
	f, common, nominal, jer := commonLayout(t, fx)

	fx.begin(t, 1)
	if err := met.Store(1); err != nil {
		t.Fatalf("Store: %v", err)
	}
	err = f.FillAll()
	if !errors.Is(err, errors.ErrStaleBranch) {
		t.Fatalf("expected ErrStaleBranch for the unfilled variation, got %v", err)
	}
	if common.Entries() != 1 || nominal.Entries() != 1 || jer.Entries() != 0 {
		t.Errorf("entries: common %d, nominal %d, jer %d", common.Entries(), nominal.Entries(), jer.Entries())
	}
	if fx.info.Systematic() != fx.svc.Nominal() {
		t.Errorf("active variation = %s, want Nominal", fx.info.Systematic())
	}
}

var _ Source = (*eventinfo.Info)(nil)
