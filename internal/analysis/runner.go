package analysis

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/logging"
	"github.com/xtxerr/ntuple/internal/metrics"
	"github.com/xtxerr/ntuple/internal/storage"
	"github.com/xtxerr/ntuple/internal/storage/config"
	"github.com/xtxerr/ntuple/internal/storage/query"
)

// RunOptions configures RunSample and RunSamples.
type RunOptions struct {
	// NewAnalyzer creates the analyzer of one job. Defaults to a DiJet
	// analyzer with default options.
	NewAnalyzer func() Analyzer

	// NewSource creates the event source of a sample. Defaults to a
	// SyntheticSource.
	NewSource func(sample config.SampleConfig) Source

	Metrics *metrics.Collector

	// Verify reads the written trees back after the job and compares
	// the row counts. Only Parquet output can be read back.
	Verify bool
}

func (o RunOptions) withDefaults() RunOptions {
	if o.NewAnalyzer == nil {
		o.NewAnalyzer = func() Analyzer { return NewDiJet(DefaultDiJetOptions()) }
	}
	if o.NewSource == nil {
		o.NewSource = func(s config.SampleConfig) Source { return NewSyntheticSource(s) }
	}
	return o
}

// RunSample runs one job over sample. The job is finalized even when the
// event loop fails.
func RunSample(ctx context.Context, cfg *config.Config, sample config.SampleConfig, opts RunOptions) (*Summary, error) {
	opts = opts.withDefaults()
	job, err := New(cfg, Options{
		Sample:   sample,
		Analyzer: opts.NewAnalyzer(),
		Metrics:  opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("sample %s: setup: %w", sample.Name, err)
	}

	runErr := job.Run(ctx, opts.NewSource(sample))
	summary, finErr := job.Finalize()
	if err := errors.Join(runErr, finErr); err != nil {
		return summary, fmt.Errorf("sample %s: %w", sample.Name, err)
	}

	if opts.Verify {
		if err := job.Verify(ctx); err != nil {
			return summary, fmt.Errorf("sample %s: verify: %w", sample.Name, err)
		}
		summary = job.Summary()
	}
	return summary, nil
}

// RunSamples runs one isolated job per configured sample, at most
// cfg.Workers at a time. Summaries are returned in sample order; the
// first failure cancels the jobs not yet finished.
func RunSamples(ctx context.Context, cfg *config.Config, opts RunOptions) ([]*Summary, error) {
	if len(cfg.Samples) == 0 {
		return nil, errors.NewValidation("samples", "no samples configured")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	summaries := make([]*Summary, len(cfg.Samples))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, sample := range cfg.Samples {
		g.Go(func() error {
			s, err := RunSample(ctx, cfg, sample, opts)
			summaries[i] = s
			return err
		})
	}
	if err := g.Wait(); err != nil {
		logging.Warn("samples processed with errors", "samples", len(cfg.Samples), "workers", cfg.Workers, "error", err)
		return summaries, err
	}
	logging.Info("samples processed", "samples", len(cfg.Samples), "workers", cfg.Workers)
	return summaries, nil
}

// Verify reads the trees written by a finalized job back through DuckDB
// and compares their row counts with the written ones. It does nothing
// for output that is not Parquet.
func (j *Job) Verify(ctx context.Context) error {
	if !j.finalized {
		return fmt.Errorf("verify: %w", errors.ErrInvalidState)
	}
	if j.output.Backend().Name() != "parquet" {
		j.logger.Debug("skipping read-back", "backend", j.output.Backend().Name())
		return nil
	}

	q, err := query.New(j.cfg.SampleDir(j.sample.Name), query.Options{})
	if err != nil {
		return err
	}
	defer q.Close()

	entries := make(map[string]int64)
	for _, p := range j.output.Directory(j.cfg.Analysis.Name).Written {
		want, _ := j.output.Entries(p)
		dir, name, err := storage.SplitPath(p)
		if err != nil {
			return err
		}
		got, err := q.TreeEntries(ctx, dir, name)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("tree %s: read back %d rows, wrote %d: %w", p, got, want, errors.ErrBackend)
		}
		entries[p] = got
	}
	j.entries = entries

	if j.meta != nil && !j.svc.IsData() {
		norms, err := q.Normalisations(ctx, j.cfg.Analysis.Name, j.cfg.MetaData.TreeName)
		if err != nil {
			return err
		}
		for _, n := range norms {
			j.logger.Info("normalisation",
				"dsid", n.DSID,
				"processed_events", n.ProcessedEvents,
				"sum_w", n.SumW,
				"lumi_weight", n.LumiWeight())
		}
	}
	j.logger.Info("output verified", "trees", len(entries))
	return nil
}
