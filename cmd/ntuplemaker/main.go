// ntuplemaker runs the dijet analysis over synthetic samples and writes
// one n-tuple per sample.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	defaults "github.com/xtxerr/ntuple/config"
	"github.com/xtxerr/ntuple/internal/analysis"
	"github.com/xtxerr/ntuple/internal/logging"
	"github.com/xtxerr/ntuple/internal/metrics"
	"github.com/xtxerr/ntuple/internal/storage/config"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	outDir := flag.String("out", "", "output directory (overrides config)")
	format := flag.String("format", "", "output format: parquet, root, memory (overrides config)")
	events := flag.Int("events", 0, "events per sample (overrides config)")
	workers := flag.Int("workers", 0, "samples processed concurrently (overrides config)")
	metricsAddr := flag.String("metrics-listen", "", "serve Prometheus metrics on this address while running")
	verify := flag.Bool("verify", false, "read written Parquet trees back and compare row counts")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	builtin := false
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = config.DefaultConfig()
		builtin = true
	}

	// CLI overrides
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if *format != "" {
		cfg.Output.Format = *format
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if len(cfg.Samples) == 0 {
		cfg.Samples = []config.SampleConfig{{
			Name:   "mc16_ttbar",
			DSID:   410470,
			Run:    284500,
			Events: defaults.DefaultEventsPerSample,
			Seed:   1,
		}}
	}
	if *events > 0 {
		for i := range cfg.Samples {
			cfg.Samples[i].Events = *events
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)
	logging.Info("ntuplemaker starting",
		"version", Version,
		"samples", len(cfg.Samples),
		"workers", cfg.Workers,
		"format", cfg.Output.Format,
		"output", cfg.Output.Dir)
	if builtin {
		logging.Warn("config file not found, using built-in defaults", "path", *cfgPath)
	}
	for _, s := range cfg.Samples {
		logging.Debug("sample", "name", s.Name, "dsid", s.DSID, "run", s.Run, "events", s.Events, "data", s.IsData)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		logging.Error("create output directory", "error", err)
		os.Exit(1)
	}

	opts := analysis.RunOptions{Verify: *verify}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts.Metrics = metrics.New(cfg.Metrics.Namespace, reg)

		if *metricsAddr != "" {
			log := logging.With("component", "metrics", "addr", *metricsAddr)
			srv := &http.Server{
				Addr:              *metricsAddr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server", "error", err)
				}
			}()
			defer srv.Close()
			log.Info("serving metrics")
		}
	}

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	summaries, err := analysis.RunSamples(ctx, cfg, opts)
	printSummaries(summaries)
	if err != nil {
		logging.Error("run failed", "error", err, "elapsed", time.Since(start))
		os.Exit(1)
	}
	logging.Info("done", "elapsed", time.Since(start))
}

func printSummaries(summaries []*analysis.Summary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SAMPLE\tEVENTS\tSKIPPED\tTREES\tENTRIES\tHISTOS\tSUM W")
	for _, s := range summaries {
		if s == nil {
			continue
		}
		var sumW float64
		for _, r := range s.Weights {
			if r.Name == "Nominal" {
				sumW = r.Sum
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%.4g\n",
			s.Sample, s.Events, s.SkippedSystematics,
			s.Output.Written, s.Output.Entries, s.Output.Histos, sumW)
	}
	w.Flush()
}
