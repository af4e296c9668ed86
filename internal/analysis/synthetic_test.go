package analysis

import (
	"context"
	"io"
	"math"
	"reflect"
	"testing"

	"github.com/xtxerr/ntuple/internal/storage/config"
	"github.com/xtxerr/ntuple/internal/xaod"
)

func drain(t *testing.T, src Source) []*Event {
	t.Helper()
	var out []*Event
	for {
		ev, err := src.Next(context.Background())
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, ev)
	}
}

func TestSyntheticSource_Deterministic(t *testing.T) {
	a := drain(t, NewSyntheticSource(ttbar))
	b := drain(t, NewSyntheticSource(ttbar))
	if len(a) != ttbar.Events {
		t.Fatalf("events = %d, want %d", len(a), ttbar.Events)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("same sample produced different events")
	}

	other := ttbar
	other.Seed = 2
	c := drain(t, NewSyntheticSource(other))
	if reflect.DeepEqual(a, c) {
		t.Error("different seeds produced identical events")
	}
}

func TestSyntheticSource_Header(t *testing.T) {
	sample := ttbar
	sample.Events = 250
	events := drain(t, NewSyntheticSource(sample))

	for i, ev := range events {
		h := ev.Header
		if h.EventNumber != uint64(i+1) {
			t.Fatalf("event %d: number %d", i, h.EventNumber)
		}
		if h.RunNumber != sample.Run || h.MCChannelNumber != sample.DSID {
			t.Errorf("event %d: run %d channel %d", i, h.RunNumber, h.MCChannelNumber)
		}
		if !h.IsSimulation || len(h.MCEventWeights) != 2 {
			t.Errorf("event %d: simulation %v weights %v", i, h.IsSimulation, h.MCEventWeights)
		}
	}
	if lb := events[len(events)-1].Header.LumiBlock; lb != 3 {
		t.Errorf("last lumi block = %d, want 3", lb)
	}

	data := config.SampleConfig{Name: "data", Run: 276262, IsData: true, Events: 5}
	for _, ev := range drain(t, NewSyntheticSource(data)) {
		if ev.Header.IsSimulation || ev.Header.MCChannelNumber != 0 || ev.Header.MCEventWeights != nil {
			t.Errorf("data event carries simulation fields: %+v", ev.Header)
		}
	}
}

func TestSyntheticSource_Objects(t *testing.T) {
	for _, ev := range drain(t, NewSyntheticSource(ttbar)) {
		jets := ev.Objects[JetCollection]
		if len(jets) > maxJets {
			t.Fatalf("%d jets", len(jets))
		}
		prev := 0.0
		for i, el := range jets {
			p := el.(xaod.Particle)
			if i > 0 && p.Pt() > prev {
				t.Errorf("event %d: jets not ordered by pt", ev.Header.EventNumber)
			}
			prev = p.Pt()
			if _, ok := xaod.Decoration[float32](el, DecorJVT); !ok {
				t.Errorf("event %d: jet without %s", ev.Header.EventNumber, DecorJVT)
			}
		}
		for _, el := range ev.Objects[MuonCollection] {
			q, ok := xaod.Decoration[int32](el, DecorCharge)
			if !ok || (q != 1 && q != -1) {
				t.Errorf("event %d: muon charge %d, %v", ev.Header.EventNumber, q, ok)
			}
		}
	}
}

func TestSyntheticSource_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSyntheticSource(ttbar).Next(ctx); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDiJet_Selection(t *testing.T) {
	j, backend := newJob(t, testConfig(t), ttbar, NewDiJet(DefaultDiJetOptions()), nil)
	if err := j.Run(context.Background(), NewSyntheticSource(ttbar)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	s, err := j.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if s.Events != int64(ttbar.Events) {
		t.Errorf("events = %d, want %d", s.Events, ttbar.Events)
	}

	nJets := backend.Column("/XAMPP/Tree_Nominal", "N_Jets")
	if len(nJets) == 0 || len(nJets) > ttbar.Events {
		t.Fatalf("nominal rows = %d", len(nJets))
	}
	for i, v := range nJets {
		if n := v.(int32); n < 2 {
			t.Errorf("row %d: %d jets passed the selection", i, n)
		}
	}

	if common := len(backend.Rows("/XAMPP/CommonTree_Tree")); common < len(nJets) {
		t.Errorf("common rows %d < nominal rows %d", common, len(nJets))
	}
	if s.Output.Histos == 0 {
		t.Error("no histograms written")
	}
}

func TestDiJet_JetScale(t *testing.T) {
	j, _ := newJob(t, testConfig(t), ttbar, NewDiJet(DefaultDiJetOptions()), nil)
	a := j.analyzer.(*DiJet)
	svc := j.Systematics()

	tests := []struct {
		name string
		want float64
	}{
		{"", 1},
		{"JET_JER__1up", 1.02},
		{"MUON_SCALE__1down", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := svc.Lookup(tt.name)
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if got := a.jetScale(svc, set); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("jetScale = %v, want %v", got, tt.want)
			}
		})
	}

	jet := xaod.NewParticle(100e3, 0.5, 1, 10e3)
	xaod.Decorate(jet, DecorJVT, float32(0.9))
	scaled := scaleJets(xaod.Container{jet}, 1.02)
	p := scaled[0].(xaod.Particle)
	if math.Abs(p.Pt()-102e3) > 1e-6 {
		t.Errorf("scaled pt = %v", p.Pt())
	}
	if v, ok := xaod.Decoration[float32](scaled[0], DecorJVT); !ok || v != 0.9 {
		t.Errorf("decoration lost: %v, %v", v, ok)
	}
	if _, err := j.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}
