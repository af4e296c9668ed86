// Package metrics exports Prometheus counters for analysis jobs.
//
// A Collector is created once per process and registered with a
// prometheus.Registerer. Every job records through a Sample handle, which
// labels all series with the sample name. A nil *Sample records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure reasons.
const (
	ReasonStaleBranch = "stale_branch"
	ReasonBackend     = "backend"
	ReasonOther       = "other"
)

// Collector holds the metric vectors shared by all samples.
type Collector struct {
	// treeFills counts rows written per tree.
	// Labels: sample, tree
	treeFills *prometheus.CounterVec

	// treeSkips counts fills skipped because the event was already written.
	// Labels: sample, tree
	treeSkips *prometheus.CounterVec

	// treeFailures counts fills aborted before the row was written.
	// Labels: sample, tree, reason
	treeFailures *prometheus.CounterVec

	// events counts processed events.
	// Labels: sample
	events *prometheus.CounterVec

	// systematicFailures counts event/systematic pairs that were skipped.
	// Labels: sample, systematic
	systematicFailures *prometheus.CounterVec

	// booked tracks the number of booked variables by kind.
	// Labels: sample, kind (event, container, common)
	booked *prometheus.GaugeVec

	// eventDuration measures the processing time of one event across all
	// systematics.
	// Labels: sample
	eventDuration *prometheus.HistogramVec
}

// New creates a collector registered with reg. A nil reg leaves the
// metrics unregistered.
func New(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		treeFills: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tree",
			Name:      "fills_total",
			Help:      "Rows written per output tree",
		}, []string{"sample", "tree"}),

		treeSkips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tree",
			Name:      "duplicate_fills_total",
			Help:      "Fills skipped because the event was already written to the tree",
		}, []string{"sample", "tree"}),

		treeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tree",
			Name:      "failed_fills_total",
			Help:      "Fills aborted before the row was written",
		}, []string{"sample", "tree", "reason"}),

		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "events_total",
			Help:      "Processed events",
		}, []string{"sample"}),

		systematicFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "systematic_failures_total",
			Help:      "Event and systematic pairs skipped after a per-event error",
		}, []string{"sample", "systematic"}),

		booked: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "booked_variables",
			Help:      "Variables booked in the registry",
		}, []string{"sample", "kind"}),

		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "event_duration_seconds",
			Help:      "Processing time of one event across all systematics",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"sample"}),
	}
}

// Sample returns a handle labelling all series with name.
func (c *Collector) Sample(name string) *Sample {
	if c == nil {
		return nil
	}
	return &Sample{c: c, name: name}
}

// Sample records the metrics of one sample.
type Sample struct {
	c    *Collector
	name string
}

// TreeFilled records one written row.
func (s *Sample) TreeFilled(tree string) {
	if s == nil {
		return
	}
	s.c.treeFills.WithLabelValues(s.name, tree).Inc()
}

// TreeSkipped records one skipped duplicate fill.
func (s *Sample) TreeSkipped(tree string) {
	if s == nil {
		return
	}
	s.c.treeSkips.WithLabelValues(s.name, tree).Inc()
}

// TreeFailed records one aborted fill.
func (s *Sample) TreeFailed(tree, reason string) {
	if s == nil {
		return
	}
	s.c.treeFailures.WithLabelValues(s.name, tree, reason).Inc()
}

// EventProcessed records one processed event and its duration.
func (s *Sample) EventProcessed(d time.Duration) {
	if s == nil {
		return
	}
	s.c.events.WithLabelValues(s.name).Inc()
	s.c.eventDuration.WithLabelValues(s.name).Observe(d.Seconds())
}

// SystematicFailed records one skipped event and systematic pair.
func (s *Sample) SystematicFailed(systematic string) {
	if s == nil {
		return
	}
	s.c.systematicFailures.WithLabelValues(s.name, systematic).Inc()
}

// VariablesBooked sets the number of booked variables of one kind.
func (s *Sample) VariablesBooked(kind string, n int) {
	if s == nil {
		return
	}
	s.c.booked.WithLabelValues(s.name, kind).Set(float64(n))
}
