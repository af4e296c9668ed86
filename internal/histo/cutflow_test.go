package histo

import (
	"reflect"
	"testing"

	"github.com/xtxerr/ntuple/internal/errors"
)

func newCutFlow(t *testing.T, name string, cuts ...string) *CutFlow {
	t.Helper()
	c, err := NewCutFlow(name)
	if err != nil {
		t.Fatalf("NewCutFlow: %v", err)
	}
	for _, cut := range cuts {
		if _, err := c.AddCut(cut); err != nil {
			t.Fatalf("AddCut: %v", err)
		}
	}
	return c
}

func TestCutFlow_AddCut(t *testing.T) {
	c := newCutFlow(t, "SR", "Initial", "Trigger")
	i, err := c.AddCut("TwoLeptons")
	if err != nil {
		t.Fatalf("AddCut: %v", err)
	}
	if i != 2 {
		t.Errorf("AddCut index = %d, want 2", i)
	}
	if _, err := c.AddCut("Trigger"); !errors.IsAlreadyExists(err) {
		t.Errorf("duplicate AddCut = %v", err)
	}
	if _, err := c.AddCut(""); !errors.IsValidation(err) {
		t.Errorf("empty AddCut = %v", err)
	}
	if got, want := c.Cuts(), []string{"Initial", "Trigger", "TwoLeptons"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Cuts() = %v, want %v", got, want)
	}
	if idx, ok := c.Index("Trigger"); !ok || idx != 1 {
		t.Errorf("Index(Trigger) = %d, %v", idx, ok)
	}
	if _, err := NewCutFlow("bad name"); !errors.IsValidation(err) {
		t.Errorf("NewCutFlow with space = %v", err)
	}
}

func TestCutFlow_Pass(t *testing.T) {
	fx := newFixture(t, false)
	fx.lock(t)

	h := fx.histoBase(t, fx.svc.Nominal(), DefaultOptions())
	sr := newCutFlow(t, "SR", "Initial", "Trigger", "TwoLeptons")
	if err := h.RegisterCutFlow(sr); err != nil {
		t.Fatalf("RegisterCutFlow: %v", err)
	}
	if err := h.RegisterCutFlow(newCutFlow(t, "SR", "Other")); !errors.IsAlreadyExists(err) {
		t.Errorf("duplicate RegisterCutFlow = %v", err)
	}
	if _, err := sr.AddCut("Late"); !errors.Is(err, errors.ErrLocked) {
		t.Errorf("AddCut after registration = %v", err)
	}
	if err := h.RegisterCutFlow(newCutFlow(t, "Empty")); !errors.IsValidation(err) {
		t.Errorf("RegisterCutFlow without cuts = %v", err)
	}
	if err := h.InitializeHistos(); err != nil {
		t.Fatalf("InitializeHistos: %v", err)
	}

	// registered after initialization
	cr := newCutFlow(t, "CR", "Initial")
	if err := h.RegisterCutFlow(cr); err != nil {
		t.Fatalf("RegisterCutFlow: %v", err)
	}
	if got := h.CutFlows(); !reflect.DeepEqual(got, []string{"SR", "CR"}) {
		t.Errorf("CutFlows() = %v", got)
	}

	fx.begin(t, 1, 2)
	for _, cut := range []int{0, 1, 2} {
		if err := sr.Pass(h, cut); err != nil {
			t.Fatalf("Pass(%d): %v", cut, err)
		}
	}
	fx.begin(t, 2, 0.5)
	for _, cut := range []int{0, 1} {
		if err := sr.Pass(h, cut); err != nil {
			t.Fatalf("Pass(%d): %v", cut, err)
		}
	}

	raw, weighted, err := h.CutFlowHistos("SR")
	if err != nil {
		t.Fatalf("CutFlowHistos: %v", err)
	}
	wantRaw := []float64{2, 2, 1}
	wantWeighted := []float64{2.5, 2.5, 2}
	for i := range wantRaw {
		if got := raw.Binning.Bins[i].SumW(); got != wantRaw[i] {
			t.Errorf("raw bin %d = %v, want %v", i, got, wantRaw[i])
		}
		if got := weighted.Binning.Bins[i].SumW(); !near(got, wantWeighted[i]) {
			t.Errorf("weighted bin %d = %v, want %v", i, got, wantWeighted[i])
		}
	}
	if raw.Annotation()["cuts"] != "Initial;Trigger;TwoLeptons" {
		t.Errorf("cuts annotation = %v", raw.Annotation()["cuts"])
	}
	for _, p := range []string{
		"/XAMPP/Nominal/InfoHistograms/SR_CutFlow",
		"/XAMPP/Nominal/InfoHistograms/SR_CutFlow_weighted",
		"/XAMPP/Nominal/InfoHistograms/CR_CutFlow",
	} {
		if _, ok := fx.output.Histo(p); !ok {
			t.Errorf("%s not registered", p)
		}
	}

	if err := sr.Pass(h, 3); !errors.IsValidation(err) {
		t.Errorf("Pass out of range = %v", err)
	}
	other := newCutFlow(t, "Other", "Initial")
	if err := other.Pass(h, 0); !errors.IsNotFound(err) {
		t.Errorf("Pass of unregistered cutflow = %v", err)
	}
}

func TestCutFlow_WritingDisabled(t *testing.T) {
	fx := newFixture(t, false)
	fx.lock(t)

	opts := DefaultOptions()
	opts.WriteCutFlow = false
	h := fx.histoBase(t, fx.svc.Nominal(), opts)
	sr := newCutFlow(t, "SR", "Initial")
	if err := h.RegisterCutFlow(sr); err != nil {
		t.Fatalf("RegisterCutFlow: %v", err)
	}
	if err := h.InitializeHistos(); err != nil {
		t.Fatalf("InitializeHistos: %v", err)
	}
	fx.begin(t, 1, 1)
	if err := sr.Pass(h, 0); err != nil {
		t.Errorf("Pass: %v", err)
	}
	raw, weighted, err := h.CutFlowHistos("SR")
	if err != nil {
		t.Fatalf("CutFlowHistos: %v", err)
	}
	if raw != nil || weighted != nil {
		t.Error("cutflow histograms booked while writing is disabled")
	}
}

func TestCutFlow_WrittenOnClose(t *testing.T) {
	fx := newFixture(t, false)
	fx.lock(t)

	h := fx.histoBase(t, fx.svc.Nominal(), DefaultOptions())
	sr := newCutFlow(t, "SR", "Initial")
	if err := h.RegisterCutFlow(sr); err != nil {
		t.Fatalf("RegisterCutFlow: %v", err)
	}
	if err := h.InitializeHistos(); err != nil {
		t.Fatalf("InitializeHistos: %v", err)
	}
	fx.begin(t, 1, 1)
	if err := sr.Pass(h, 0); err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if err := h.FinalizeHistos(); err != nil {
		t.Fatalf("FinalizeHistos: %v", err)
	}
	if err := sr.Pass(h, 0); !errors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("Pass after finalize = %v", err)
	}
	if err := fx.output.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	hist := fx.backend.Histo("/XAMPP/Nominal/InfoHistograms/SR_CutFlow")
	if hist == nil {
		t.Fatal("cutflow not written")
	}
	if hist.Entries() != 1 {
		t.Errorf("entries = %d, want 1", hist.Entries())
	}
}
