package analysis

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/xtxerr/ntuple/internal/eventinfo"
	"github.com/xtxerr/ntuple/internal/storage/config"
	"github.com/xtxerr/ntuple/internal/xaod"
)

// Collection names produced by the synthetic source.
const (
	JetCollection  = "Jets"
	MuonCollection = "Muons"
)

// Decorations set on synthetic objects.
const (
	DecorJVT    = "jvt"
	DecorBJet   = "isBJet"
	DecorCharge = "charge"
)

const (
	eventsPerLumiBlock = 100
	maxJets            = 6
	maxMuons           = 3
)

// SyntheticSource generates reproducible events for a sample. The same
// sample configuration always yields the same events.
type SyntheticSource struct {
	sample config.SampleConfig
	rng    *rand.Rand
	next   int
}

// NewSyntheticSource creates a source of sample.Events events seeded by
// sample.Seed.
func NewSyntheticSource(sample config.SampleConfig) *SyntheticSource {
	seed := uint64(sample.Seed)
	return &SyntheticSource{
		sample: sample,
		rng:    rand.New(rand.NewPCG(seed, seed^uint64(sample.DSID)<<32|uint64(sample.Run))),
	}
}

// Next implements Source.
func (s *SyntheticSource) Next(ctx context.Context) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= s.sample.Events {
		return nil, io.EOF
	}
	s.next++

	mu := float32(20 + 30*s.rng.Float64())
	h := eventinfo.Header{
		EventNumber:                    uint64(s.next),
		RunNumber:                      s.sample.Run,
		LumiBlock:                      uint32((s.next-1)/eventsPerLumiBlock + 1),
		BCID:                           uint32(s.rng.IntN(3564)),
		AverageInteractionsPerCrossing: mu,
		ActualInteractionsPerCrossing:  mu + float32(s.rng.NormFloat64()),
		IsSimulation:                   !s.sample.IsData,
	}
	if !s.sample.IsData {
		h.MCChannelNumber = s.sample.DSID
		w := 1 + 0.2*s.rng.NormFloat64()
		if s.rng.IntN(10) == 0 {
			w = -w
		}
		h.MCEventWeights = []float64{w, w * (1 + 0.05*s.rng.NormFloat64())}
	}

	return &Event{
		Header: h,
		Objects: map[string]xaod.Container{
			JetCollection:  s.jets(),
			MuonCollection: s.muons(),
		},
	}, nil
}

func (s *SyntheticSource) particle(ptMin, ptScale, etaMax, mass float64) *xaod.FourMomentum {
	return xaod.NewParticle(
		ptMin+ptScale*s.rng.ExpFloat64(),
		etaMax*(2*s.rng.Float64()-1),
		math.Pi*(2*s.rng.Float64()-1),
		mass,
	)
}

// jets returns up to maxJets jets ordered by descending pt.
func (s *SyntheticSource) jets() xaod.Container {
	n := s.rng.IntN(maxJets + 1)
	pts := make([]float64, n)
	for i := range pts {
		pts[i] = 20e3 + 40e3*s.rng.ExpFloat64()
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(pts)))

	out := make(xaod.Container, 0, n)
	for _, pt := range pts {
		j := xaod.NewParticle(pt, 2.5*(2*s.rng.Float64()-1), math.Pi*(2*s.rng.Float64()-1), 5e3+10e3*s.rng.Float64())
		xaod.Decorate(j, DecorJVT, float32(s.rng.Float64()))
		var b int8
		if s.rng.IntN(5) == 0 {
			b = 1
		}
		xaod.Decorate(j, DecorBJet, b)
		out = append(out, j)
	}
	return out
}

func (s *SyntheticSource) muons() xaod.Container {
	n := s.rng.IntN(maxMuons + 1)
	out := make(xaod.Container, 0, n)
	for i := 0; i < n; i++ {
		m := s.particle(10e3, 25e3, 2.7, 105.658)
		charge := int32(1)
		if s.rng.IntN(2) == 0 {
			charge = -1
		}
		xaod.Decorate(m, DecorCharge, charge)
		out = append(out, m)
	}
	return out
}
