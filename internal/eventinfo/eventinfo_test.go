package eventinfo

import (
	"testing"

	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/store"
	"github.com/xtxerr/ntuple/internal/systematics"
)

func newInfo(t *testing.T, opts Options) *Info {
	t.Helper()
	if opts.Systematics == nil {
		svc := systematics.NewService(systematics.DefaultOptions())
		if _, err := svc.InsertKinematic("JET_JER__1up", systematics.Jet); err != nil {
			t.Fatalf("InsertKinematic: %v", err)
		}
		if _, err := svc.InsertWeight("MUON_EFF__1up", systematics.Muon); err != nil {
			t.Fatalf("InsertWeight: %v", err)
		}
		opts.Systematics = svc
	}
	if opts.Keeper == nil {
		opts.Keeper = store.NewKeeper()
	}
	info, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return info
}

func mcHeader(event uint64, weights ...float64) Header {
	return Header{
		EventNumber:     event,
		RunNumber:       284500,
		MCChannelNumber: 410470,
		IsSimulation:    true,
		MCEventWeights:  weights,
	}
}

func TestNew_MissingCollaborators(t *testing.T) {
	if _, err := New(Options{Keeper: store.NewKeeper()}); !errors.Is(err, errors.ErrMissingField) {
		t.Errorf("expected ErrMissingField without systematics, got %v", err)
	}
	svc := systematics.NewService(systematics.DefaultOptions())
	if _, err := New(Options{Systematics: svc}); !errors.Is(err, errors.ErrMissingField) {
		t.Errorf("expected ErrMissingField without keeper, got %v", err)
	}
}

func TestInfo_LockPhases(t *testing.T) {
	info := newInfo(t, DefaultOptions())

	if err := info.BeginEvent(mcHeader(1, 1)); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState before lock, got %v", err)
	}
	if _, err := NewEventVariable[int32](info, "N_Jets", true, true); err != nil {
		t.Fatalf("NewEventVariable: %v", err)
	}
	if err := info.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !info.Systematics().Fixed() {
		t.Error("Lock should fix the systematics")
	}
	if _, err := NewEventVariable[int32](info, "N_Leptons", true, true); !errors.Is(err, errors.ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
	if _, err := info.BookParticleStorage("Elec", false, true, true); !errors.Is(err, errors.ErrLocked) {
		t.Errorf("expected ErrLocked for container, got %v", err)
	}
	if _, err := info.CreateSystematicGroup("Jets", systematics.Jet); !errors.Is(err, errors.ErrLocked) {
		t.Errorf("expected ErrLocked for group, got %v", err)
	}
	if err := info.BeginEvent(mcHeader(1, 1)); err != nil {
		t.Errorf("BeginEvent after lock: %v", err)
	}
}

func TestInfo_IdentityVariables(t *testing.T) {
	info := newInfo(t, DefaultOptions())
	n := info.Keeper().Len()
	if _, err := NewEventVariable[uint64](info, "eventNumber", true, true); !errors.Is(err, errors.ErrVariableExists) {
		t.Errorf("booking a common identity name: expected ErrVariableExists, got %v", err)
	}
	if info.Keeper().Len() != n {
		t.Errorf("Len() = %d after rejected booking, want %d", info.Keeper().Len(), n)
	}
	if err := info.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := info.BeginEvent(mcHeader(42, 0.75)); err != nil {
		t.Fatalf("BeginEvent: %v", err)
	}

	evt, err := GetVariableStorage[uint64](info, "eventNumber")
	if err != nil {
		t.Fatalf("GetVariableStorage: %v", err)
	}
	if v, ok := evt.Get(); !ok || v != 42 {
		t.Errorf("eventNumber = (%d, %v), want (42, true)", v, ok)
	}
	w, err := GetVariableStorage[float64](info, "GenWeight")
	if err != nil {
		t.Fatalf("GetVariableStorage: %v", err)
	}
	if v, ok := w.Get(); !ok || v != 0.75 {
		t.Errorf("GenWeight = (%v, %v), want (0.75, true)", v, ok)
	}
	if !evt.IsCommon() {
		t.Error("identity variables are common")
	}
	if DoesVariableExist[float32](info, "eventNumber") {
		t.Error("wrong type should not exist")
	}
	if info.MCChannelNumber() != 410470 {
		t.Errorf("MCChannelNumber() = %d", info.MCChannelNumber())
	}
}

func TestInfo_SetSystematic(t *testing.T) {
	info := newInfo(t, DefaultOptions())
	njets, err := NewEventVariable[int32](info, "N_Jets", true, true)
	if err != nil {
		t.Fatalf("NewEventVariable: %v", err)
	}
	if err := info.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := info.BeginEvent(mcHeader(7, 1)); err != nil {
		t.Fatalf("BeginEvent: %v", err)
	}
	if !info.Systematic().IsNominal() {
		t.Fatalf("BeginEvent should activate nominal, got %s", info.Systematic())
	}
	if err := njets.Store(4); err != nil {
		t.Fatalf("Store: %v", err)
	}

	svc := info.Systematics()
	jer, _ := svc.Lookup("JET_JER__1up")
	muEff, _ := svc.Lookup("MUON_EFF__1up")

	if err := info.SetSystematic(jer); err != nil {
		t.Fatalf("SetSystematic: %v", err)
	}
	if info.Slot() != jer {
		t.Errorf("Slot() = %s, want %s", info.Slot(), jer)
	}
	if njets.IsAvailable() {
		t.Error("kinematic variation must not see the nominal value")
	}

	if err := info.SetSystematic(muEff); err != nil {
		t.Fatalf("SetSystematic: %v", err)
	}
	if info.Systematic() != muEff || info.Slot() != info.Nominal() {
		t.Errorf("weight variation: Systematic()=%s Slot()=%s", info.Systematic(), info.Slot())
	}
	if v, ok := njets.Get(); !ok || v != 4 {
		t.Errorf("weight variation reads (%d, %v), want (4, true)", v, ok)
	}
	if err := njets.Store(5); !errors.Is(err, errors.ErrAlreadyStored) {
		t.Errorf("expected ErrAlreadyStored in shared slot, got %v", err)
	}
	if err := info.SetSystematic(nil); err == nil {
		t.Error("expected error for nil variation")
	}
}

func TestInfo_GenWeight(t *testing.T) {
	tests := []struct {
		name     string
		strategy OutlierStrategy
		weights  []float64
		want     float64
		outlier  bool
	}{
		{"none keeps outlier", OutlierNone, []float64{250}, 250, false},
		{"ignore zeroes outlier", OutlierIgnore, []float64{-250}, 0, true},
		{"reset keeps sign", OutlierReset, []float64{-250}, -1, true},
		{"below threshold", OutlierReset, []float64{50}, 50, false},
		{"missing weight", OutlierIgnore, nil, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.OutlierStrategy = tt.strategy
			info := newInfo(t, opts)
			if err := info.Lock(); err != nil {
				t.Fatalf("Lock: %v", err)
			}
			if err := info.BeginEvent(mcHeader(1, tt.weights...)); err != nil {
				t.Fatalf("BeginEvent: %v", err)
			}
			if got := info.GenWeight(); got != tt.want {
				t.Errorf("GenWeight() = %v, want %v", got, tt.want)
			}
			if got := info.IsOutlierGenWeight(info.RawGenWeight()); got != tt.outlier {
				t.Errorf("IsOutlierGenWeight() = %v, want %v", got, tt.outlier)
			}
		})
	}
}

func TestParseOutlierStrategy(t *testing.T) {
	s, err := ParseOutlierStrategy("Reset")
	if err != nil || s != OutlierReset {
		t.Errorf("ParseOutlierStrategy(Reset) = (%v, %v)", s, err)
	}
	if _, err := ParseOutlierStrategy("drop"); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestInfo_SystematicGroups(t *testing.T) {
	info := newInfo(t, DefaultOptions())
	if _, err := info.CreateSystematicGroup("Jets", systematics.Jet); err != nil {
		t.Fatalf("CreateSystematicGroup: %v", err)
	}
	if _, err := info.CreateSystematicGroup("Jets", systematics.Electron); !errors.Is(err, errors.ErrGroupExists) {
		t.Errorf("expected ErrGroupExists, got %v", err)
	}
	if _, err := info.CreateSystematicGroup("Weights", systematics.EventWeight); !errors.Is(err, errors.ErrInvalidObjectType) {
		t.Errorf("expected ErrInvalidObjectType, got %v", err)
	}
	if _, err := info.GetSystematicGroup("Taus"); !errors.Is(err, errors.ErrGroupNotFound) {
		t.Errorf("expected ErrGroupNotFound, got %v", err)
	}
	if groups := info.SystematicGroups(); len(groups) != 1 || groups[0].Name() != "Jets" {
		t.Errorf("SystematicGroups() = %v", groups)
	}
}

func TestInfo_ContainersAndStorages(t *testing.T) {
	info := newInfo(t, DefaultOptions())
	if _, err := info.BookParticleStorage("Elec", false, true, true); err != nil {
		t.Fatalf("BookParticleStorage: %v", err)
	}
	if _, err := info.BookParticleStorage("Elec", true, true, true); !errors.Is(err, errors.ErrVariableExists) {
		t.Errorf("expected ErrVariableExists, got %v", err)
	}
	if _, err := info.BookCommonContainerStorage("Truth", false); err != nil {
		t.Fatalf("BookCommonContainerStorage: %v", err)
	}
	if _, err := info.GetParticleStorage("Truth"); !errors.Is(err, errors.ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}
	if _, err := info.GetContainerStorage("Muons"); !errors.Is(err, errors.ErrContainerNotFound) {
		t.Errorf("expected ErrContainerNotFound, got %v", err)
	}
	meff, err := NewEventVariable[float32](info, "Meff", false, true)
	if err != nil {
		t.Fatalf("NewEventVariable: %v", err)
	}
	if err := meff.SetSaveHistos(true); err != nil {
		t.Fatalf("SetSaveHistos: %v", err)
	}

	if _, err := info.GetStorages(OutputTree | OutputHisto); !errors.Is(err, errors.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	histos, err := info.GetStorages(OutputHisto)
	if err != nil {
		t.Fatalf("GetStorages: %v", err)
	}
	if len(histos) != 1 || histos[0].Name() != "Meff" {
		t.Errorf("histo storages = %v", histos)
	}
	trees, err := info.GetStorages(OutputTree)
	if err != nil {
		t.Fatalf("GetStorages: %v", err)
	}
	for _, v := range trees {
		if v.Name() == "Meff" || v.Name() == "Truth" {
			t.Errorf("%s is not saved to trees", v.Name())
		}
	}
}
