package analysis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	defaults "github.com/xtxerr/ntuple/config"
	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/eventinfo"
	"github.com/xtxerr/ntuple/internal/histo"
	"github.com/xtxerr/ntuple/internal/logging"
	"github.com/xtxerr/ntuple/internal/metadata"
	"github.com/xtxerr/ntuple/internal/metrics"
	"github.com/xtxerr/ntuple/internal/storage"
	"github.com/xtxerr/ntuple/internal/storage/aggregate"
	"github.com/xtxerr/ntuple/internal/storage/config"
	"github.com/xtxerr/ntuple/internal/store"
	"github.com/xtxerr/ntuple/internal/systematics"
	"github.com/xtxerr/ntuple/internal/tree"
	"github.com/xtxerr/ntuple/internal/wire"
)

// Options configures a Job.
type Options struct {
	// Sample is the sample the job processes.
	Sample config.SampleConfig

	Analyzer Analyzer

	// Backend overrides the backend built from the output configuration.
	Backend storage.Backend

	// Metrics receives the counters of the job. Nil disables metrics.
	Metrics *metrics.Collector

	// CrossSections overrides the table named in the meta-data
	// configuration.
	CrossSections metadata.CrossSectionDB
}

// Summary reports the outcome of a job.
type Summary struct {
	Sample string

	Events int64

	// SkippedSystematics counts event and variation pairs dropped after
	// a per-event error.
	SkippedSystematics int64

	Trees  tree.Stats
	Output storage.ServiceStats

	// Weights summarises the event weights per variation.
	Weights []aggregate.Result

	// Entries holds the row counts read back from the written trees.
	// Only set by Verify.
	Entries map[string]int64
}

// Job processes the events of one sample.
type Job struct {
	cfg    *config.Config
	sample config.SampleConfig
	opts   Options
	logger *slog.Logger

	svc      *systematics.Service
	info     *eventinfo.Info
	output   *storage.Service
	forest   *tree.Forest
	meta     *metadata.Tree
	weights  *aggregate.Manager
	metrics  *metrics.Sample
	analyzer Analyzer

	// kinematic lists the variations processed per event, nominal first.
	kinematic []*systematics.Set
	trees     map[*systematics.Set]tree.NodeID
	histos    map[*systematics.Set]*histo.HistoBase
	cutflows  []*histo.CutFlow

	events    int64
	skipped   int64
	finalized bool

	// entries holds the row counts read back by Verify.
	entries map[string]int64
}

// New sets up a job: it creates the variations and groups of cfg, lets
// the analyzer book its variables, locks the registry and initializes
// the trees and histograms. Any failure is a configuration error.
func New(cfg *config.Config, opts Options) (*Job, error) {
	if cfg == nil {
		return nil, errors.NewMissingField("config")
	}
	if opts.Analyzer == nil {
		return nil, errors.NewMissingField("analyzer")
	}
	isData := cfg.Analysis.IsData || opts.Sample.IsData

	ctx := logging.ContextWithSample(context.Background(), opts.Sample.Name)
	j := &Job{
		cfg:      cfg,
		sample:   opts.Sample,
		opts:     opts,
		logger:   logging.WithContext(ctx).With("component", "analysis"),
		weights:  aggregate.NewManagerWithAccuracy(percentileAccuracy(cfg)),
		metrics:  opts.Metrics.Sample(opts.Sample.Name),
		analyzer: opts.Analyzer,
		trees:    make(map[*systematics.Set]tree.NodeID),
		histos:   make(map[*systematics.Set]*histo.HistoBase),
	}

	if err := j.setupSystematics(isData); err != nil {
		return nil, err
	}
	if err := j.setupEventInfo(); err != nil {
		return nil, err
	}
	if err := j.analyzer.Book(j); err != nil {
		return nil, fmt.Errorf("book: %w", err)
	}
	if err := j.info.Lock(); err != nil {
		return nil, err
	}
	j.kinematic = j.svc.Kinematic(systematics.Other)
	j.recordBooked()

	if err := j.setupOutput(); err != nil {
		return nil, err
	}
	if err := j.setup(); err != nil {
		return nil, errors.Join(err, j.output.Close())
	}

	j.logger.Info("job ready",
		"is_data", isData,
		"kinematic_systematics", len(j.kinematic),
		"trees", j.treeCount(),
		"cutflows", len(j.cutflows),
		"backend", j.output.Backend().Name())
	return j, nil
}

func percentileAccuracy(cfg *config.Config) float64 {
	if !cfg.Percentile.Enabled {
		return 0
	}
	return cfg.Percentile.Accuracy
}

func (j *Job) setupSystematics(isData bool) error {
	sc := j.cfg.Systematics
	opts := systematics.Options{
		DoSyst:    sc.Enabled,
		DoWeights: sc.WeightsEnabled,
		IsData:    isData,
		Exclude:   sc.Exclude,
	}
	for _, name := range sc.DisableObjects {
		obj, err := systematics.ParseSelectionObject(name)
		if err != nil {
			return fmt.Errorf("systematics.disable_objects: %w", err)
		}
		opts.Disabled = append(opts.Disabled, obj)
	}
	j.svc = systematics.NewService(opts)

	if isData || !sc.Enabled {
		return nil
	}
	insert := func(list []config.VariationConfig, add func(string, systematics.SelectionObject) (*systematics.Set, error)) error {
		for _, v := range list {
			for _, name := range v.Objects {
				obj, err := systematics.ParseSelectionObject(name)
				if err != nil {
					return fmt.Errorf("variation %s: %w", v.Name, err)
				}
				if _, err := add(v.Name, obj); err != nil {
					return fmt.Errorf("variation %s: %w", v.Name, err)
				}
			}
		}
		return nil
	}
	if err := insert(sc.Kinematic, j.svc.InsertKinematic); err != nil {
		return err
	}
	if sc.WeightsEnabled {
		return insert(sc.Weight, j.svc.InsertWeight)
	}
	return nil
}

func (j *Job) setupEventInfo() error {
	strategy, err := eventinfo.ParseOutlierStrategy(j.cfg.GenWeight.OutlierStrategy)
	if err != nil {
		return err
	}
	j.info, err = eventinfo.New(eventinfo.Options{
		Name:             j.sample.Name,
		Systematics:      j.svc,
		Keeper:           store.NewKeeper(),
		OutlierStrategy:  strategy,
		OutlierThreshold: j.cfg.GenWeight.OutlierThreshold,
	})
	if err != nil {
		return err
	}
	for _, g := range j.cfg.Groups {
		obj, err := systematics.ParseSelectionObject(g.Object)
		if err != nil {
			return fmt.Errorf("group %s: %w", g.Name, err)
		}
		if _, err := j.info.CreateSystematicGroup(g.Name, obj); err != nil {
			return err
		}
	}
	return nil
}

func (j *Job) recordBooked() {
	counts := map[string]int{"event": 0, "container": 0, "common": 0}
	for _, v := range j.info.Keeper().Variables(j.info) {
		switch {
		case v.IsCommon():
			counts["common"]++
		case v.IsParticleVariable():
			counts["container"]++
		default:
			counts["event"]++
		}
	}
	for kind, n := range counts {
		j.metrics.VariablesBooked(kind, n)
	}
	j.logger.Info("variables booked",
		"event", counts["event"],
		"container", counts["container"],
		"common", counts["common"])
}

func (j *Job) setupOutput() error {
	backend := j.opts.Backend
	if backend == nil {
		var err error
		if backend, err = NewBackend(j.cfg, j.sample.Name); err != nil {
			return err
		}
	}
	var opts storage.Options
	if j.cfg.Output.Manifest && j.cfg.Output.Dir != "" {
		opts.ManifestPath = j.cfg.ManifestPath(j.sample.Name, defaults.DefaultManifestName)
	}
	output, err := storage.New(opts, backend)
	if err != nil {
		return errors.Join(err, backend.Close())
	}
	j.output = output
	return nil
}

// setup creates the tree forest, the histogram binders and the meta-data
// bookkeeping.
func (j *Job) setup() error {
	an := j.cfg.Analysis
	if an.WriteTrees {
		if err := j.setupTrees(); err != nil {
			return err
		}
	}

	hopts := histo.Options{
		Output:       j.output,
		AnalysisName: an.Name,
		WriteHistos:  an.WriteHistos,
		WriteCutFlow: an.WriteCutflow,
	}
	for _, set := range j.kinematic {
		h, err := histo.New(j.info, set, hopts)
		if err != nil {
			return err
		}
		for _, c := range j.cutflows {
			if err := h.RegisterCutFlow(c); err != nil {
				return err
			}
		}
		if err := h.InitializeHistos(); err != nil {
			return err
		}
		j.histos[set] = h
	}

	if j.cfg.MetaData.Enabled {
		xs := j.opts.CrossSections
		if xs == nil && j.cfg.MetaData.CrossSections != "" {
			table, err := metadata.LoadCrossSections(j.cfg.MetaData.CrossSections)
			if err != nil {
				return err
			}
			xs = table
		}
		meta, err := metadata.New(j.info, metadata.Options{
			Output:        j.output,
			AnalysisName:  an.Name,
			TreeName:      j.cfg.MetaData.TreeName,
			CrossSections: xs,
		})
		if err != nil {
			return err
		}
		j.meta = meta
	}
	return nil
}

// setupTrees books the common tree, one tree per group and one tree per
// kinematic variation. Every variation tree has the common and the group
// trees as friends.
func (j *Job) setupTrees() error {
	f, err := tree.NewForest(tree.Options{
		Source:       j.info,
		Output:       j.output,
		AnalysisName: j.cfg.Analysis.Name,
		TreeName:     j.cfg.Analysis.TreeName,
		Metrics:      j.metrics,
	})
	if err != nil {
		return err
	}

	var friends []tree.NodeID
	if j.cfg.Analysis.WriteCommonTree {
		id, err := f.Add(nil, nil)
		if err != nil {
			return err
		}
		friends = append(friends, id)
	}
	for _, g := range j.info.SystematicGroups() {
		id, err := f.Add(j.svc.Nominal(), g)
		if err != nil {
			return err
		}
		friends = append(friends, id)
	}
	for _, set := range j.kinematic {
		id, err := f.Add(set, nil)
		if err != nil {
			return err
		}
		for _, fr := range friends {
			if err := f.AddFriend(id, fr); err != nil {
				return err
			}
		}
		j.trees[set] = id
	}
	if err := f.Initialize(); err != nil {
		return err
	}
	j.forest = f
	return nil
}

func (j *Job) treeCount() int {
	if j.forest == nil {
		return 0
	}
	return j.forest.Len()
}

// =============================================================================
// Accessors
// =============================================================================

// Info returns the event info the analyzer books and stores through.
func (j *Job) Info() *eventinfo.Info { return j.info }

// Systematics returns the systematics service of the job.
func (j *Job) Systematics() *systematics.Service { return j.svc }

// Sample returns the sample of the job.
func (j *Job) Sample() config.SampleConfig { return j.sample }

// Output returns the output service.
func (j *Job) Output() *storage.Service { return j.output }

// Forest returns the tree forest, nil when trees are not written.
func (j *Job) Forest() *tree.Forest { return j.forest }

// MetaData returns the meta-data bookkeeping, nil when disabled.
func (j *Job) MetaData() *metadata.Tree { return j.meta }

// Histos returns the histogram binder of set. It is nil during booking
// and for weight-only variations.
func (j *Job) Histos(set *systematics.Set) *histo.HistoBase { return j.histos[set] }

// AddCutFlow registers c with the histogram binder of every kinematic
// variation. It is only allowed while booking.
func (j *Job) AddCutFlow(c *histo.CutFlow) error {
	if j.info.Locked() {
		return fmt.Errorf("cutflow %s: %w", c.Name(), errors.ErrLocked)
	}
	for _, existing := range j.cutflows {
		if existing.Name() == c.Name() {
			return errors.NewAlreadyExists("cutflow", c.Name())
		}
	}
	j.cutflows = append(j.cutflows, c)
	return nil
}

// =============================================================================
// Event loop
// =============================================================================

// Run processes every event of src.
func (j *Job) Run(ctx context.Context, src Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := src.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		if err := j.ProcessEvent(ctx, ev); err != nil {
			return err
		}
	}
}

// ProcessEvent runs the analyzer for every kinematic variation of ev and
// fills the trees and histograms of the selected ones. A per-event error
// skips the variation; any other error aborts.
func (j *Job) ProcessEvent(ctx context.Context, ev *Event) error {
	if j.finalized {
		return fmt.Errorf("process event: %w", errors.ErrInvalidState)
	}
	start := time.Now()
	if err := j.info.BeginEvent(ev.Header); err != nil {
		return err
	}
	if j.meta != nil {
		if err := j.meta.BeginEvent(); err != nil {
			return err
		}
	}

	ctx = logging.ContextWithEvent(logging.ContextWithSample(ctx, j.sample.Name), ev.Header.EventNumber)
	for _, set := range j.kinematic {
		err := j.processSystematic(ev, set)
		switch {
		case err == nil:
		case errors.IsConfiguration(err):
			logging.WithContext(logging.ContextWithSystematic(ctx, set.String())).
				Error("configuration error, aborting", "error", err)
			return fmt.Errorf("event %d, %s: %w", ev.Header.EventNumber, set, err)
		case errors.IsPerEvent(err):
			j.skipped++
			j.metrics.SystematicFailed(set.String())
			logging.WithContext(logging.ContextWithSystematic(ctx, set.String())).
				Warn("skipping systematic", "error", err)
		default:
			return fmt.Errorf("event %d, %s: %w", ev.Header.EventNumber, set, err)
		}
	}

	j.events++
	j.metrics.EventProcessed(time.Since(start))
	return nil
}

func (j *Job) processSystematic(ev *Event, set *systematics.Set) error {
	if err := j.info.SetSystematic(set); err != nil {
		return err
	}
	pass, err := j.analyzer.Process(j, ev)
	if err != nil || !pass {
		return err
	}

	if h := j.histos[set]; h != nil {
		if err := h.FillHistos(); err != nil {
			return err
		}
		j.weights.Add(set.String(), h.Weight())
	}
	if id, ok := j.trees[set]; ok {
		return j.forest.Fill(id)
	}
	return nil
}

// =============================================================================
// Finalize
// =============================================================================

// Finalize writes the trees, histograms and meta-data, records the weight
// summaries in the manifest and closes the output. The output is closed
// even when an earlier step fails; all errors are joined.
func (j *Job) Finalize() (*Summary, error) {
	if j.finalized {
		return j.Summary(), nil
	}
	j.finalized = true

	var errs []error
	if j.forest != nil {
		if err := j.forest.Finalize(); err != nil {
			errs = append(errs, fmt.Errorf("write trees: %w", err))
		}
	}
	for _, set := range j.kinematic {
		if err := j.histos[set].FinalizeHistos(); err != nil {
			errs = append(errs, err)
		}
	}
	if j.meta != nil {
		if err := j.meta.Finalize(); err != nil {
			errs = append(errs, fmt.Errorf("write meta-data: %w", err))
		}
	}
	for _, res := range j.weights.Results() {
		fields := res.Fields()
		fields["sample"] = j.sample.Name
		if err := j.output.Record(wire.KindSummary, fields); err != nil {
			errs = append(errs, err)
		}
	}
	if err := j.output.Close(); err != nil {
		errs = append(errs, err)
	}

	s := j.Summary()
	if err := errors.Join(errs...); err != nil {
		j.logger.Error("job finalized with errors", "error", err)
		return s, err
	}
	j.logger.Info("job finalized",
		"events", s.Events,
		"skipped_systematics", s.SkippedSystematics,
		"trees_written", s.Output.Written,
		"entries", s.Output.Entries,
		"histograms", s.Output.Histos)
	return s, nil
}

// Summary returns the current statistics of the job.
func (j *Job) Summary() *Summary {
	s := &Summary{
		Sample:             j.sample.Name,
		Events:             j.events,
		SkippedSystematics: j.skipped,
		Output:             j.output.Stats(),
		Weights:            j.weights.Results(),
		Entries:            j.entries,
	}
	if j.forest != nil {
		s.Trees = j.forest.Stats()
	}
	return s
}
