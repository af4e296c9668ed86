package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/xtxerr/ntuple/internal/eventinfo"
	"github.com/xtxerr/ntuple/internal/histo"
	"github.com/xtxerr/ntuple/internal/store"
	"github.com/xtxerr/ntuple/internal/systematics"
	"github.com/xtxerr/ntuple/internal/xaod"
)

// Cuts of the dijet cutflow.
const (
	CutInitial = iota
	CutTwoJets
	CutLeadingJetPt
)

// DiJetOptions configures a DiJet analyzer.
type DiJetOptions struct {
	// LeadingJetPt is the leading-jet threshold in MeV.
	LeadingJetPt float64

	// JetScaleShift is the relative jet-momentum shift of the up and
	// down variations acting on jets.
	JetScaleShift float64

	// Group tags the jet variables with a systematic group of that name
	// when the job defines one.
	Group string
}

// DefaultDiJetOptions returns a 50 GeV leading-jet cut, a 2% jet scale
// shift and the group "Jets".
func DefaultDiJetOptions() DiJetOptions {
	return DiJetOptions{
		LeadingJetPt:  50e3,
		JetScaleShift: 0.02,
		Group:         "Jets",
	}
}

// DiJet selects events with at least two jets. It is the analyzer of the
// synthetic samples.
type DiJet struct {
	opts DiJetOptions

	nJets     *store.Storage[int32]
	nBJets    *store.Storage[int32]
	ht        *store.Storage[float32]
	leadingPt *store.Storage[float32]
	jetWeight *store.Storage[float64]
	muoWeight *store.Storage[float64]

	jets  *store.ParticleStorage
	muons *store.ParticleStorage

	cutflow *histo.CutFlow
}

// NewDiJet creates a DiJet analyzer.
func NewDiJet(opts DiJetOptions) *DiJet {
	return &DiJet{opts: opts}
}

// Book implements Analyzer.
func (a *DiJet) Book(j *Job) error {
	info := j.Info()
	var err error

	if a.nJets, err = eventinfo.NewEventVariable[int32](info, "N_Jets", true, true); err != nil {
		return err
	}
	if a.nBJets, err = eventinfo.NewEventVariable[int32](info, "N_BJets", true, false); err != nil {
		return err
	}
	if a.ht, err = eventinfo.NewEventVariable[float32](info, "Ht", true, true); err != nil {
		return err
	}
	if a.leadingPt, err = eventinfo.NewEventVariable[float32](info, "LeadingJet_pt", true, true); err != nil {
		return err
	}
	if a.jetWeight, err = eventinfo.NewEventVariable[float64](info, "JetWeight", true, true); err != nil {
		return err
	}
	if a.muoWeight, err = eventinfo.NewEventVariable[float64](info, "MuoWeight", true, true); err != nil {
		return err
	}

	templates := []struct {
		v   interface{ AddHistoTemplate(store.HistoTemplate) error }
		tpl store.HistoTemplate
	}{
		{a.nJets, store.HistoTemplate{Name: "N_Jets", Title: "jet multiplicity", Bins: 10, Min: 0, Max: 10}},
		{a.ht, store.HistoTemplate{Name: "Ht", Title: "scalar sum of jet pt [MeV]", Bins: 50, Min: 0, Max: 1e6}},
		{a.leadingPt, store.HistoTemplate{Name: "LeadingJet_pt", Title: "leading jet pt [MeV]", Bins: 50, Min: 0, Max: 5e5}},
	}
	for _, t := range templates {
		if err := t.v.AddHistoTemplate(t.tpl); err != nil {
			return err
		}
	}
	for _, s := range []interface{ SetSaveHistos(bool) error }{a.nJets, a.ht, a.leadingPt} {
		if err := s.SetSaveHistos(true); err != nil {
			return err
		}
	}

	if a.jets, err = info.BookParticleStorage(JetCollection, false, true, true); err != nil {
		return err
	}
	if err := a.jets.SaveFloat(DecorJVT, true); err != nil {
		return err
	}
	if err := a.jets.SaveChar(DecorBJet, false); err != nil {
		return err
	}
	if a.muons, err = info.BookParticleStorage(MuonCollection, true, true, true); err != nil {
		return err
	}
	if err := a.muons.SaveInt(DecorCharge, false); err != nil {
		return err
	}
	if err := a.muons.PipeToAllTrees(DecorCharge); err != nil {
		return err
	}

	if a.opts.Group != "" {
		if _, err := info.SystematicGroup(a.opts.Group); err == nil {
			if err := a.jets.SetSystematicGroup(a.opts.Group); err != nil {
				return err
			}
			if err := a.nJets.SetSystematicGroup(a.opts.Group); err != nil {
				return err
			}
		}
	}

	if a.cutflow, err = histo.NewCutFlow("DiJet"); err != nil {
		return err
	}
	for _, cut := range []string{"Initial", "TwoJets", "LeadingJetPt"} {
		if _, err := a.cutflow.AddCut(cut); err != nil {
			return err
		}
	}
	return j.AddCutFlow(a.cutflow)
}

// Process implements Analyzer.
func (a *DiJet) Process(j *Job, ev *Event) (bool, error) {
	set := j.Info().Systematic()

	jets := ev.Objects[JetCollection]
	if scale := a.jetScale(j.Systematics(), set); scale != 1 {
		jets = scaleJets(jets, scale)
	}
	if err := a.jets.Fill(jets); err != nil {
		return false, err
	}
	muons := ev.Objects[MuonCollection]
	if err := a.muons.Fill(muons); err != nil {
		return false, err
	}

	var ht, leading float64
	var nB int32
	for i, el := range jets {
		p, ok := el.(xaod.Particle)
		if !ok {
			return false, fmt.Errorf("jet %d is not a particle", i)
		}
		ht += p.Pt()
		leading = math.Max(leading, p.Pt())
		if b, _ := xaod.Decoration[int8](el, DecorBJet); b != 0 {
			nB++
		}
	}
	n := int32(len(jets))

	if err := storeAll(
		func() error { return a.nJets.Store(n) },
		func() error { return a.nBJets.Store(nB) },
		func() error { return a.ht.Store(float32(ht)) },
		func() error { return a.leadingPt.Store(float32(leading)) },
		func() error { return a.jetWeight.Store(1 - 0.01*float64(nB)) },
		func() error { return a.muoWeight.Store(math.Pow(0.98, float64(len(muons)))) },
	); err != nil {
		return false, err
	}

	h := j.Histos(set)
	pass := func(cut int) error {
		if h == nil {
			return nil
		}
		return a.cutflow.Pass(h, cut)
	}
	if err := pass(CutInitial); err != nil {
		return false, err
	}
	if n < 2 {
		return false, nil
	}
	if err := pass(CutTwoJets); err != nil {
		return false, err
	}
	if leading > a.opts.LeadingJetPt {
		if err := pass(CutLeadingJetPt); err != nil {
			return false, err
		}
	}
	return true, nil
}

// jetScale returns the momentum scale of set: 1 ± JetScaleShift for the
// up and down variations acting on jets, 1 otherwise.
func (a *DiJet) jetScale(svc *systematics.Service, set *systematics.Set) float64 {
	if set.IsNominal() {
		return 1
	}
	for _, s := range svc.Kinematic(systematics.Jet) {
		if s != set {
			continue
		}
		switch {
		case strings.HasSuffix(set.Name(), "__1up"):
			return 1 + a.opts.JetScaleShift
		case strings.HasSuffix(set.Name(), "__1down"):
			return 1 - a.opts.JetScaleShift
		}
	}
	return 1
}

func scaleJets(jets xaod.Container, scale float64) xaod.Container {
	out := make(xaod.Container, 0, len(jets))
	for _, el := range jets {
		p, ok := el.(xaod.Particle)
		if !ok {
			out = append(out, el)
			continue
		}
		q := xaod.NewParticle(p.Pt()*scale, p.Eta(), p.Phi(), p.M()*scale)
		if v, ok := xaod.Decoration[float32](el, DecorJVT); ok {
			xaod.Decorate(q, DecorJVT, v)
		}
		if v, ok := xaod.Decoration[int8](el, DecorBJet); ok {
			xaod.Decorate(q, DecorBJet, v)
		}
		out = append(out, q)
	}
	return out
}

func storeAll(fns ...func() error) error {
	for _, fn := range fns {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
