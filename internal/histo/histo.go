// Package histo fills histograms for one systematic variation.
//
// A HistoBase computes the combined event weight of its variation as the
// product of the registered weight variables, books the histogram
// templates of every variable saved to histograms and keeps the cutflow
// histograms. Histograms are registered with the output service under
// /<analysis>/<variation>/ and written when the service closes.
//
// Lifecycle:
//
//	Uninitialized --InitializeHistos--> Initialized --FinalizeHistos--> Finalized
package histo

import (
	"fmt"
	"log/slog"

	"go-hep.org/x/hep/hbook"

	"github.com/xtxerr/ntuple/config"
	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/eventinfo"
	"github.com/xtxerr/ntuple/internal/logging"
	"github.com/xtxerr/ntuple/internal/storage"
	"github.com/xtxerr/ntuple/internal/store"
	"github.com/xtxerr/ntuple/internal/systematics"
)

// WeightNames are the event weights multiplied into the histogram weight
// when they are booked as float64 variables.
var WeightNames = []string{
	"GenWeight",
	"EleWeight",
	"MuoWeight",
	"PhoWeight",
	"TauWeight",
	"JetWeight",
	"muWeight",
}

// State is the lifecycle state of a HistoBase.
type State uint8

const (
	StateUninitialized State = iota
	StateInitialized
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateFinalized:
		return "finalized"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Options configures a HistoBase.
type Options struct {
	// Output receives the histograms. It may be nil when neither
	// histograms nor cutflows are written.
	Output *storage.Service

	// AnalysisName is the root directory of the histograms.
	AnalysisName string

	WriteHistos  bool
	WriteCutFlow bool
}

// DefaultOptions returns options writing histograms and cutflows below
// the default analysis directory.
func DefaultOptions() Options {
	return Options{
		AnalysisName: config.DefaultAnalysisName,
		WriteHistos:  true,
		WriteCutFlow: true,
	}
}

type variableHisto struct {
	v   store.EventVariable
	h   *hbook.H1D
	tpl store.HistoTemplate
}

// HistoBase binds the histograms of one variation to the event stream.
type HistoBase struct {
	info   *eventinfo.Info
	set    *systematics.Set
	opts   Options
	logger *slog.Logger

	state State

	weights []*store.Storage[float64]
	weight  float64
	weight2 float64
	serial  uint64

	variables []variableHisto
	cutflows  map[string]*cutFlowHistos
	flowOrder []string
	histos    map[string]*hbook.H1D
}

// New creates the histogram binder of set.
func New(info *eventinfo.Info, set *systematics.Set, opts Options) (*HistoBase, error) {
	if info == nil {
		return nil, fmt.Errorf("histo base: %w", errors.NewMissingField("event info"))
	}
	if set == nil {
		return nil, fmt.Errorf("histo base: %w", errors.NewMissingField("systematic"))
	}
	if opts.Output == nil && (opts.WriteHistos || opts.WriteCutFlow) {
		return nil, fmt.Errorf("histo base %s: %w", set, errors.NewMissingField("output"))
	}
	if opts.AnalysisName == "" {
		opts.AnalysisName = config.DefaultAnalysisName
	}
	h := &HistoBase{
		info:     info,
		set:      set,
		opts:     opts,
		weight:   1,
		weight2:  1,
		cutflows: make(map[string]*cutFlowHistos),
		histos:   make(map[string]*hbook.H1D),
	}
	h.logger = logging.Component("histo").With("systematic", h.Name())
	return h, nil
}

// Name returns the directory of the variation, "Nominal" for the
// nominal one.
func (h *HistoBase) Name() string { return h.set.String() }

// Systematic returns the variation of the binder.
func (h *HistoBase) Systematic() *systematics.Set { return h.set }

// State returns the lifecycle state.
func (h *HistoBase) State() State { return h.state }

// Identifier returns the MC channel number of simulated jobs and the run
// number of data jobs.
func (h *HistoBase) Identifier() uint32 {
	if h.info.IsData() {
		return h.info.RunNumber()
	}
	return h.info.MCChannelNumber()
}

// Path returns the registration path of a histogram of this variation.
func (h *HistoBase) Path(parts ...string) string {
	return storage.JoinPath(append([]string{h.opts.AnalysisName, h.Name()}, parts...)...)
}

// InitializeHistos collects the event weights and books the histogram
// templates of every variable saved to histograms. The registry must be
// locked.
func (h *HistoBase) InitializeHistos() error {
	if h.state != StateUninitialized {
		return fmt.Errorf("initialize histograms %s: %w", h.Name(), errors.ErrAlreadyInitialized)
	}
	if !h.info.Locked() {
		return fmt.Errorf("initialize histograms %s: registry still open: %w", h.Name(), errors.ErrInvalidState)
	}

	for _, name := range WeightNames {
		err := h.AppendWeight(name)
		if err != nil && !errors.IsNotFound(err) && !errors.Is(err, errors.ErrTypeMismatch) {
			return err
		}
	}

	h.state = StateInitialized

	if h.opts.WriteHistos {
		if err := h.bookVariables(); err != nil {
			return err
		}
	} else {
		h.logger.Info("histogram writing disabled")
	}

	for _, name := range h.flowOrder {
		if err := h.bookCutFlow(h.cutflows[name]); err != nil {
			return err
		}
	}

	h.logger.Debug("histograms initialized",
		"weights", len(h.weights),
		"variables", len(h.variables),
		"cutflows", len(h.flowOrder))
	return nil
}

func (h *HistoBase) bookVariables() error {
	vars, err := h.info.GetStorages(eventinfo.OutputHisto)
	if err != nil {
		return err
	}
	for _, v := range vars {
		ev, ok := v.(store.EventVariable)
		if !ok {
			continue
		}
		if !h.set.IsNominal() && !ev.SaveVariations() {
			continue
		}
		for _, tpl := range ev.HistoTemplates() {
			hist, err := h.Book1D(h.Path(ev.Name(), tpl.Name), tpl.Title, tpl.Bins, tpl.Min, tpl.Max)
			if err != nil {
				return err
			}
			h.variables = append(h.variables, variableHisto{v: ev, h: hist, tpl: tpl})
		}
	}
	return nil
}

// AppendWeight multiplies the float64 variable name into the event
// weight. Weights are ignored on data; appending a weight twice has no
// effect.
func (h *HistoBase) AppendWeight(name string) error {
	if h.state == StateFinalized {
		return fmt.Errorf("append weight %q: %w", name, errors.ErrInvalidState)
	}
	if h.info.IsData() {
		return nil
	}
	s, err := eventinfo.GetVariableStorage[float64](h.info, name)
	if err != nil {
		return err
	}
	for _, w := range h.weights {
		if w == s {
			return nil
		}
	}
	h.weights = append(h.weights, s)
	return nil
}

// Weights returns the names of the multiplied weights.
func (h *HistoBase) Weights() []string {
	out := make([]string, 0, len(h.weights))
	for _, w := range h.weights {
		out = append(out, w.Name())
	}
	return out
}

// UpdateWeight recomputes the event weight once per event. Data events
// have weight 1.
func (h *HistoBase) UpdateWeight() error {
	if h.state == StateUninitialized {
		return fmt.Errorf("update weight %s: %w", h.Name(), errors.ErrNotInitialized)
	}
	if h.info.IsData() {
		return nil
	}
	serial := h.info.EventSerial()
	if serial == h.serial {
		return nil
	}
	w := 1.0
	for _, s := range h.weights {
		v, ok := s.Get()
		if !ok {
			return fmt.Errorf("weight %q in %s: %w", s.Name(), h.Name(), errors.ErrNotAvailable)
		}
		w *= v
	}
	h.weight = w
	h.weight2 = w * w
	h.serial = serial
	return nil
}

// Weight returns the event weight of the last update.
func (h *HistoBase) Weight() float64 { return h.weight }

// Weight2 returns the squared event weight of the last update.
func (h *HistoBase) Weight2() float64 { return h.weight2 }

// Book1D creates a histogram and registers it at path when histograms
// are written.
func (h *HistoBase) Book1D(path, title string, bins int, min, max float64) (*hbook.H1D, error) {
	return h.book(path, title, bins, min, max, h.opts.WriteHistos)
}

func (h *HistoBase) book(path, title string, bins int, min, max float64, register bool) (*hbook.H1D, error) {
	if h.state == StateFinalized {
		return nil, fmt.Errorf("book %s: %w", path, errors.ErrInvalidState)
	}
	tpl := store.HistoTemplate{Name: path, Title: title, Bins: bins, Min: min, Max: max}
	if err := tpl.Validate(); err != nil {
		return nil, fmt.Errorf("book %s: %w", path, err)
	}
	p := storage.JoinPath(path)
	if _, exists := h.histos[p]; exists {
		return nil, errors.NewAlreadyExists("histogram", p)
	}

	hist := hbook.NewH1D(bins, min, max)
	if title != "" {
		hist.Annotation()["title"] = title
	}
	if register {
		if err := h.opts.Output.RegisterHisto(p, hist); err != nil {
			return nil, err
		}
	}
	h.histos[p] = hist
	return hist, nil
}

// Histo returns a histogram booked by this binder.
func (h *HistoBase) Histo(path string) (*hbook.H1D, bool) {
	hist, ok := h.histos[storage.JoinPath(path)]
	return hist, ok
}

// FillHistos fills the variable histograms with the current event. The
// active variation must be the one of the binder. Variables without a
// value in this event are left out.
func (h *HistoBase) FillHistos() error {
	if h.state != StateInitialized {
		return fmt.Errorf("fill histograms %s: %w", h.Name(), errors.ErrNotInitialized)
	}
	if active := h.info.Systematic(); active != h.set {
		return fmt.Errorf("fill histograms %s while %s is active: %w", h.Name(), active, errors.ErrInvalidState)
	}
	if err := h.UpdateWeight(); err != nil {
		return err
	}
	for _, vh := range h.variables {
		if !vh.v.IsAvailable() {
			continue
		}
		val, err := vh.v.Current()
		if err != nil {
			return err
		}
		for _, x := range values(val) {
			vh.h.Fill(x, h.weight)
		}
	}
	return nil
}

// FinalizeHistos closes the binder. The output service writes the
// registered histograms when it is closed.
func (h *HistoBase) FinalizeHistos() error {
	switch h.state {
	case StateUninitialized:
		return fmt.Errorf("finalize histograms %s: %w", h.Name(), errors.ErrNotInitialized)
	case StateFinalized:
		return nil
	}
	h.state = StateFinalized
	h.logger.Info("histograms finalized",
		"histograms", len(h.histos),
		"cutflows", len(h.flowOrder))
	return nil
}

// values flattens a variable value into histogram entries.
func values(v any) []float64 {
	switch x := v.(type) {
	case float64:
		return []float64{x}
	case float32:
		return []float64{float64(x)}
	case int32:
		return []float64{float64(x)}
	case int8:
		return []float64{float64(x)}
	case uint32:
		return []float64{float64(x)}
	case uint64:
		return []float64{float64(x)}
	case int64:
		return []float64{float64(x)}
	case bool:
		if x {
			return []float64{1}
		}
		return []float64{0}
	case []float64:
		return x
	case []float32:
		return convert(x)
	case []int32:
		return convert(x)
	case []int8:
		return convert(x)
	case []uint32:
		return convert(x)
	case []uint64:
		return convert(x)
	case []int64:
		return convert(x)
	case []bool:
		out := make([]float64, len(x))
		for i, b := range x {
			if b {
				out[i] = 1
			}
		}
		return out
	}
	return nil
}

func convert[T float32 | int32 | int8 | uint32 | uint64 | int64](in []T) []float64 {
	out := make([]float64, len(in))
	for i, x := range in {
		out[i] = float64(x)
	}
	return out
}
