// Package analysis runs analysis jobs.
//
// A Job owns every collaborator of one sample: the systematics service,
// the event info with its variable registry, the output service, the tree
// forest, one histogram binder per kinematic variation, the meta-data
// bookkeeping and the weight summaries. Its lifecycle is
//
//	New (setup, Analyzer.Book, lock, trees and histograms initialized)
//	  -> Run / ProcessEvent for every event and kinematic variation
//	  -> Finalize (trees, histograms, meta-data and manifest written)
//
// Errors returned while processing are classified with the predicates of
// internal/errors: configuration errors abort the job, per-event errors
// skip the current variation of the current event.
package analysis

import (
	"context"

	"github.com/xtxerr/ntuple/internal/eventinfo"
	"github.com/xtxerr/ntuple/internal/xaod"
)

// Event is the input of one event: its identity and the reconstructed
// objects by collection name.
type Event struct {
	Header  eventinfo.Header
	Objects map[string]xaod.Container
}

// Source produces the events of a sample.
type Source interface {
	// Next returns the next event, or io.EOF after the last one.
	Next(ctx context.Context) (*Event, error)
}

// Analyzer is the physics code of a job.
type Analyzer interface {
	// Book declares variables, containers and cutflows. It runs once,
	// before the job is locked.
	Book(j *Job) error

	// Process computes the variables of the active variation for ev and
	// reports whether the event is selected for the output.
	Process(j *Job, ev *Event) (bool, error)
}
