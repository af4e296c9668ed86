// Package metadata keeps the bookkeeping needed to normalise the output
// trees: processed events, sums of generator weights and cross-sections
// per simulated dataset, and event and luminosity-block counts per data
// run. The bookkeeping is written as one tree at the end of the job.
package metadata

import (
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"sort"
	"strconv"

	"github.com/xtxerr/ntuple/config"
	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/eventinfo"
	"github.com/xtxerr/ntuple/internal/logging"
	"github.com/xtxerr/ntuple/internal/storage"
	"github.com/xtxerr/ntuple/internal/wire"
)

// Process ids. Id 0 is the inclusive sample; generator-weight variation
// i is booked under VariationOffset + i.
const (
	ProcessInclusive uint32 = 0
	VariationOffset  uint32 = 1000
)

// InclusiveName is the process name of the inclusive sample.
const InclusiveName = "Nominal_Inclusive"

// Options configures a Tree.
type Options struct {
	Output       *storage.Service
	AnalysisName string
	TreeName     string

	// CrossSections is consulted once per dataset and process. Nil
	// leaves the cross-section columns at zero.
	CrossSections CrossSectionDB

	// Luminosity is written to every simulated entry, in pb^-1.
	Luminosity float64

	// FillVariationWeights books every generator weight beyond the
	// first as its own process.
	FillVariationWeights bool
}

// DefaultOptions returns options writing /<analysis>/MetaDataTree.
func DefaultOptions() Options {
	return Options{
		AnalysisName: config.DefaultAnalysisName,
		TreeName:     config.DefaultMetaDataTreeName,
	}
}

// MCEntry is the bookkeeping of one process of a simulated dataset.
type MCEntry struct {
	DSID        uint32
	Period      uint32
	ProcessID   uint32
	ProcessName string

	XSection             float64
	XSectionRelErrorDown float64
	XSectionRelErrorUp   float64
	HasXSectionErrors    bool
	KFactor              float64
	FilterEfficiency     float64
	Luminosity           float64

	TotalEvents     uint64
	ProcessedEvents uint64
	SumW            float64
	SumW2           float64

	loaded   bool
	bookkept bool
}

// RunEntry is the bookkeeping of one data run.
type RunEntry struct {
	Run             uint32
	TotalEvents     uint64
	ProcessedEvents uint64

	ProcessedLumiBlocks []uint32
	TotalLumiBlocks     []uint32
}

type mcKey struct {
	dsid, period, process uint32
}

type runState struct {
	run       uint32
	total     uint64
	processed uint64
	blocks    map[uint32]struct{}
	seen      map[uint32]struct{}
	bookkept  bool
}

// Bookkeeper carries the totals of a simulated input file, counted
// before any selection.
type Bookkeeper struct {
	DSID   uint32
	Period uint32
	Events uint64
	SumW   float64
	SumW2  float64
}

// LumiBlockRange carries the luminosity blocks of a data input file.
type LumiBlockRange struct {
	Run    uint32
	First  uint32
	Last   uint32
	Events uint64
}

// Tree accumulates the meta-data of one job.
type Tree struct {
	info   *eventinfo.Info
	opts   Options
	logger *slog.Logger

	mc   map[mcKey]*MCEntry
	runs map[uint32]*runState

	finalized bool
}

// New creates the meta-data bookkeeping of info.
func New(info *eventinfo.Info, opts Options) (*Tree, error) {
	if info == nil {
		return nil, fmt.Errorf("meta-data: %w", errors.NewMissingField("event info"))
	}
	if opts.Output == nil {
		return nil, fmt.Errorf("meta-data: %w", errors.NewMissingField("output"))
	}
	if opts.AnalysisName == "" {
		opts.AnalysisName = config.DefaultAnalysisName
	}
	if opts.TreeName == "" {
		opts.TreeName = config.DefaultMetaDataTreeName
	}
	return &Tree{
		info:   info,
		opts:   opts,
		logger: logging.Component("metadata"),
		mc:     make(map[mcKey]*MCEntry),
		runs:   make(map[uint32]*runState),
	}, nil
}

// Path returns the registration path of the meta-data tree.
func (t *Tree) Path() string {
	return storage.JoinPath(t.opts.AnalysisName, t.opts.TreeName)
}

// BeginEvent counts the current event of info. A simulated event in a
// data job, or the reverse, is a configuration error.
func (t *Tree) BeginEvent() error {
	if t.finalized {
		return fmt.Errorf("meta-data event: %w", errors.ErrInvalidState)
	}
	if t.info.IsMC() == t.info.IsData() {
		return errors.NewValidation("input", fmt.Sprintf("job is_data=%v but event %d has simulation=%v",
			t.info.IsData(), t.info.EventNumber(), t.info.IsMC()))
	}
	if t.info.IsData() {
		r := t.run(t.info.RunNumber())
		lb := t.info.Header().LumiBlock
		r.processed++
		r.seen[lb] = struct{}{}
		if !r.bookkept {
			r.total++
			r.blocks[lb] = struct{}{}
		}
		return nil
	}

	t.addEvent(t.entry(ProcessInclusive), t.info.GenWeight())
	if t.opts.FillVariationWeights {
		for i := 1; i < len(t.info.Header().MCEventWeights); i++ {
			t.addEvent(t.entry(VariationOffset+uint32(i)), t.info.GenWeightAt(i))
		}
	}
	return nil
}

func (t *Tree) addEvent(e *MCEntry, w float64) {
	e.ProcessedEvents++
	if !e.loaded {
		t.loadCrossSection(e)
	}
	if e.bookkept {
		return
	}
	e.TotalEvents++
	e.SumW += w
	e.SumW2 += w * w
}

// loadCrossSection is best-effort: a failed lookup leaves zeros.
func (t *Tree) loadCrossSection(e *MCEntry) {
	e.loaded = true
	e.Luminosity = t.opts.Luminosity
	e.XSectionRelErrorDown, e.XSectionRelErrorUp = -1, -1
	if t.opts.CrossSections == nil {
		return
	}
	xs, err := t.opts.CrossSections.Lookup(e.DSID)
	if err != nil {
		t.logger.Warn("no cross-section, using 0", "dsid", e.DSID, "process", e.ProcessID, "error", err)
		return
	}
	e.XSection = xs.XSection
	e.KFactor = xs.KFactor
	e.FilterEfficiency = xs.FilterEfficiency
	if xs.HasUncertainties() {
		e.HasXSectionErrors = true
		e.XSectionRelErrorDown = xs.RelUncertaintyDown
		e.XSectionRelErrorUp = xs.RelUncertaintyUp
	}
	t.logger.Info("cross-section set",
		"dsid", e.DSID,
		"process", e.ProcessID,
		"xsec_times_k_times_eff", e.XSection*e.KFactor*e.FilterEfficiency)
}

func (t *Tree) entry(process uint32) *MCEntry {
	return t.mcEntry(t.info.MCChannelNumber(), t.info.RunNumber(), process)
}

func (t *Tree) mcEntry(dsid, period, process uint32) *MCEntry {
	key := mcKey{dsid: dsid, period: period, process: process}
	if e, ok := t.mc[key]; ok {
		return e
	}
	e := &MCEntry{DSID: dsid, Period: period, ProcessID: process, ProcessName: processName(process)}
	t.mc[key] = e
	t.logger.Info("new simulated dataset entry", "dsid", dsid, "period", period, "process", process)
	return e
}

func processName(id uint32) string {
	if id == ProcessInclusive {
		return InclusiveName
	}
	return strconv.FormatUint(uint64(id), 10)
}

func (t *Tree) run(run uint32) *runState {
	if r, ok := t.runs[run]; ok {
		return r
	}
	r := &runState{
		run:    run,
		blocks: make(map[uint32]struct{}),
		seen:   make(map[uint32]struct{}),
	}
	t.runs[run] = r
	t.logger.Info("new data run entry", "run", run)
	return r
}

// SubtractEvent removes the raw generator weight at index of the current
// event from the sums. Index 0 is the inclusive sample. It does nothing
// in data jobs.
func (t *Tree) SubtractEvent(index int) error {
	if t.info.IsData() {
		return nil
	}
	if t.finalized {
		return fmt.Errorf("subtract event: %w", errors.ErrInvalidState)
	}
	if index < 0 || (index > 0 && index >= len(t.info.Header().MCEventWeights)) {
		return errors.NewInvalidValue("weight index", index, "out of range")
	}
	process := ProcessInclusive
	if index > 0 {
		process = VariationOffset + uint32(index)
	}
	w := t.info.RawGenWeightAt(index)
	t.logger.Warn("subtracting event from the sum of weights",
		"event", t.info.EventNumber(),
		"dsid", t.info.MCChannelNumber(),
		"index", index)
	e := t.entry(process)
	e.SumW -= w
	e.SumW2 -= w * w
	return nil
}

// AddBookkeeper adds the totals of a simulated input file. Events of a
// bookkept dataset no longer add to its totals.
func (t *Tree) AddBookkeeper(b Bookkeeper) error {
	if t.info.IsData() {
		return errors.NewValidation("bookkeeper", "simulated totals in a data job")
	}
	e := t.mcEntry(b.DSID, b.Period, ProcessInclusive)
	e.TotalEvents += b.Events
	e.SumW += b.SumW
	e.SumW2 += b.SumW2
	e.bookkept = true
	return nil
}

// AddLumiBlocks adds the luminosity blocks of a data input file. Events
// of a bookkept run no longer add to its totals.
func (t *Tree) AddLumiBlocks(r LumiBlockRange) error {
	if !t.info.IsData() {
		return errors.NewValidation("lumi blocks", "luminosity blocks in a simulated job")
	}
	if r.Last < r.First {
		return errors.NewInvalidValue("lumi block range", fmt.Sprintf("%d-%d", r.First, r.Last), "last before first")
	}
	st := t.run(r.Run)
	st.total += r.Events
	for lb := r.First; ; lb++ {
		st.blocks[lb] = struct{}{}
		if lb == r.Last {
			break
		}
	}
	st.bookkept = true
	return nil
}

// MC returns the simulated entries ordered by dataset, period and
// process.
func (t *Tree) MC() []MCEntry {
	out := make([]MCEntry, 0, len(t.mc))
	for _, e := range t.mc {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DSID != b.DSID {
			return a.DSID < b.DSID
		}
		if a.Period != b.Period {
			return a.Period < b.Period
		}
		return a.ProcessID < b.ProcessID
	})
	return out
}

// Runs returns the data entries ordered by run.
func (t *Tree) Runs() []RunEntry {
	out := make([]RunEntry, 0, len(t.runs))
	for _, r := range t.runs {
		out = append(out, RunEntry{
			Run:                 r.run,
			TotalEvents:         r.total,
			ProcessedEvents:     r.processed,
			ProcessedLumiBlocks: sortedBlocks(r.seen),
			TotalLumiBlocks:     sortedBlocks(r.blocks),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Run < out[j].Run })
	return out
}

func sortedBlocks(set map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(set))
	for lb := range set {
		out = append(out, lb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// Write-out
// =============================================================================

// Columns of the meta-data tree.
var columns = []storage.Column{
	{Name: "isData", Type: reflect.TypeOf(false)},
	{Name: "mcChannelNumber", Type: reflect.TypeOf(uint32(0))},
	{Name: "runNumber", Type: reflect.TypeOf(uint32(0))},
	{Name: "ProcessID", Type: reflect.TypeOf(uint32(0))},
	{Name: "ProcessName", Type: reflect.TypeOf("")},
	{Name: "xSection", Type: reflect.TypeOf(float64(0))},
	{Name: "xSection_RelErrorDown", Type: reflect.TypeOf(float64(0))},
	{Name: "xSection_RelErrorUp", Type: reflect.TypeOf(float64(0))},
	{Name: "xSection_has_Uncertainties", Type: reflect.TypeOf(false)},
	{Name: "kFactor", Type: reflect.TypeOf(float64(0))},
	{Name: "FilterEfficiency", Type: reflect.TypeOf(float64(0))},
	{Name: "prwLuminosity", Type: reflect.TypeOf(float64(0))},
	{Name: "TotalEvents", Type: reflect.TypeOf(uint64(0))},
	{Name: "ProcessedEvents", Type: reflect.TypeOf(uint64(0))},
	{Name: "TotalSumW", Type: reflect.TypeOf(float64(0))},
	{Name: "TotalSumW2", Type: reflect.TypeOf(float64(0))},
	{Name: "ProcessedLumiBlocks", Type: reflect.TypeOf([]uint32(nil))},
	{Name: "TotalLumiBlocks", Type: reflect.TypeOf([]uint32(nil))},
}

// Finalize validates the sums and writes the meta-data tree. Non-finite
// sums of weights abort the write-out.
func (t *Tree) Finalize() error {
	if t.finalized {
		return nil
	}
	mc := t.MC()
	runs := t.Runs()
	for _, e := range mc {
		if err := checkFinite(e); err != nil {
			return fmt.Errorf("meta-data of dataset %d process %d: %w", e.DSID, e.ProcessID, err)
		}
	}
	t.finalized = true

	out, err := t.opts.Output.CreateTree(t.Path())
	if err != nil {
		return err
	}
	for _, col := range columns {
		if _, err := out.Branch(col.Name, col.Type); err != nil {
			return err
		}
	}
	if err := out.Seal(); err != nil {
		return err
	}

	for _, e := range mc {
		row := []any{
			false, e.DSID, e.Period, e.ProcessID, e.ProcessName,
			e.XSection, e.XSectionRelErrorDown, e.XSectionRelErrorUp, e.HasXSectionErrors,
			e.KFactor, e.FilterEfficiency, e.Luminosity,
			e.TotalEvents, e.ProcessedEvents, e.SumW, e.SumW2,
			nil, nil,
		}
		if err := fill(out, row); err != nil {
			return err
		}
		t.logger.Info("meta-data written",
			"dsid", e.DSID,
			"process", e.ProcessName,
			"sum_w", e.SumW,
			"sum_w2", e.SumW2,
			"total_events", e.TotalEvents,
			"processed_events", e.ProcessedEvents)
		if err := t.record(map[string]any{
			"dsid":             e.DSID,
			"period":           e.Period,
			"process":          e.ProcessName,
			"xsec":             e.XSection,
			"kfactor":          e.KFactor,
			"filter_eff":       e.FilterEfficiency,
			"total_events":     e.TotalEvents,
			"processed_events": e.ProcessedEvents,
			"sum_w":            e.SumW,
			"sum_w2":           e.SumW2,
		}); err != nil {
			return err
		}
	}
	for _, r := range runs {
		row := []any{
			true, uint32(0), r.Run, ProcessInclusive, "",
			0.0, 0.0, 0.0, false,
			0.0, 0.0, 0.0,
			r.TotalEvents, r.ProcessedEvents, 0.0, 0.0,
			r.ProcessedLumiBlocks, r.TotalLumiBlocks,
		}
		if err := fill(out, row); err != nil {
			return err
		}
		t.logger.Info("meta-data written",
			"run", r.Run,
			"total_events", r.TotalEvents,
			"processed_events", r.ProcessedEvents)
		if err := t.record(map[string]any{
			"run":                   r.Run,
			"total_events":          r.TotalEvents,
			"processed_events":      r.ProcessedEvents,
			"processed_lumi_blocks": len(r.ProcessedLumiBlocks),
		}); err != nil {
			return err
		}
	}
	return t.opts.Output.WriteTree(out)
}

func (t *Tree) record(fields map[string]any) error {
	fields["tree"] = t.Path()
	return t.opts.Output.Record(wire.KindMetaData, fields)
}

func checkFinite(e MCEntry) error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"TotalSumW", e.SumW},
		{"TotalSumW2", e.SumW2},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return errors.NewInvalidValue(f.name, f.v, "not finite")
		}
	}
	return nil
}

func fill(out *storage.Tree, row []any) error {
	for i, v := range row {
		if err := out.Set(i, v); err != nil {
			return err
		}
	}
	return out.Fill()
}
