// Package eventinfo is the event-identity source of an analysis job.
//
// An Info owns the current event header and the active systematic
// variation, and is the namespace every analysis module books its
// variables in. Booking is open until Lock; events can only be started
// afterwards.
//
// Weight-only variations do not change the event content, so they share
// the nominal event slot: a variable stored under the nominal variation
// reads back unchanged while a weight variation is active.
package eventinfo

import (
	"fmt"
	"log/slog"

	"github.com/xtxerr/ntuple/config"
	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/logging"
	"github.com/xtxerr/ntuple/internal/store"
	"github.com/xtxerr/ntuple/internal/systematics"
)

// Header is the identity and bookkeeping record of one event.
type Header struct {
	EventNumber     uint64
	RunNumber       uint32
	MCChannelNumber uint32
	LumiBlock       uint32
	BCID            uint32

	AverageInteractionsPerCrossing float32
	ActualInteractionsPerCrossing  float32

	// IsSimulation marks Monte-Carlo events.
	IsSimulation bool

	// MCEventWeights are the generator weights, the first being the
	// nominal one.
	MCEventWeights []float64
}

// OutputElement selects the output a variable is requested for.
type OutputElement uint8

const (
	OutputTree OutputElement = 1 << iota
	OutputHisto
)

// Options configures an Info.
type Options struct {
	// Name labels the namespace in log output.
	Name string

	Systematics *systematics.Service
	Keeper      *store.Keeper

	OutlierStrategy  OutlierStrategy
	OutlierThreshold float64
}

// DefaultOptions returns options without collaborators and the default
// generator-weight treatment.
func DefaultOptions() Options {
	return Options{
		Name:             "EventInfo",
		OutlierStrategy:  OutlierNone,
		OutlierThreshold: config.DefaultOutlierThreshold,
	}
}

// Info implements store.Cursor.
type Info struct {
	name   string
	svc    *systematics.Service
	keeper *store.Keeper
	logger *slog.Logger

	outlier   OutlierStrategy
	threshold float64

	header  Header
	serial  uint64
	current *systematics.Set
	slot    *systematics.Set
	locked  bool

	groups     map[string]*systematics.Group
	groupOrder []string

	// common identity variables
	eventNumber *store.Storage[uint64]
	runNumber   *store.Storage[uint32]
	lumiBlock   *store.Storage[uint32]
	bcid        *store.Storage[uint32]
	averageMu   *store.Storage[float32]
	actualMu    *store.Storage[float32]
	genWeight   *store.Storage[float64]
}

var _ store.Cursor = (*Info)(nil)

// New creates an Info and books the common identity variables.
func New(opts Options) (*Info, error) {
	if opts.Systematics == nil {
		return nil, fmt.Errorf("event info: %w", errors.NewMissingField("systematics"))
	}
	if opts.Keeper == nil {
		return nil, fmt.Errorf("event info: %w", errors.NewMissingField("keeper"))
	}
	if opts.OutlierThreshold <= 0 {
		opts.OutlierThreshold = config.DefaultOutlierThreshold
	}
	if opts.Name == "" {
		opts.Name = "EventInfo"
	}
	i := &Info{
		name:      opts.Name,
		svc:       opts.Systematics,
		keeper:    opts.Keeper,
		logger:    logging.Component("eventinfo").With("info", opts.Name),
		outlier:   opts.OutlierStrategy,
		threshold: opts.OutlierThreshold,
		groups:    make(map[string]*systematics.Group),
	}
	if err := i.bookIdentity(); err != nil {
		return nil, err
	}
	if !i.svc.IsData() {
		i.logger.Info("generator weight treatment",
			"outlier_strategy", i.outlier.String(),
			"threshold", i.threshold)
	}
	return i, nil
}

func (i *Info) bookIdentity() error {
	var err error
	if i.eventNumber, err = NewCommonVariable[uint64](i, "eventNumber", true); err != nil {
		return err
	}
	if i.runNumber, err = NewCommonVariable[uint32](i, "runNumber", true); err != nil {
		return err
	}
	if i.lumiBlock, err = NewCommonVariable[uint32](i, "lumiBlock", true); err != nil {
		return err
	}
	if i.bcid, err = NewCommonVariable[uint32](i, "bcid", true); err != nil {
		return err
	}
	if i.averageMu, err = NewCommonVariable[float32](i, "averageInteractionsPerCrossing", true); err != nil {
		return err
	}
	if i.actualMu, err = NewCommonVariable[float32](i, "actualInteractionsPerCrossing", true); err != nil {
		return err
	}
	if i.genWeight, err = NewCommonVariable[float64](i, "GenWeight", !i.svc.IsData()); err != nil {
		return err
	}
	return nil
}

// Name returns the namespace label.
func (i *Info) Name() string { return i.name }

// Systematics returns the systematics service.
func (i *Info) Systematics() *systematics.Service { return i.svc }

// Keeper returns the variable registry.
func (i *Info) Keeper() *store.Keeper { return i.keeper }

// Logger returns the info logger with the active variation attached.
func (i *Info) Logger() *slog.Logger {
	return i.logger.With("systematic", i.current.String(), "event", i.header.EventNumber)
}

// =============================================================================
// Lifecycle
// =============================================================================

// Lock fixes the systematics and closes booking for the whole registry.
func (i *Info) Lock() error {
	if i.locked {
		return nil
	}
	if !i.svc.Fixed() {
		if err := i.svc.Fix(); err != nil {
			return fmt.Errorf("lock %s: %w", i.name, err)
		}
	}
	i.keeper.Lock()
	i.locked = true
	return nil
}

// Locked reports whether booking is closed.
func (i *Info) Locked() bool { return i.locked }

// BeginEvent starts a new event, activates the nominal variation and
// stores the identity variables.
func (i *Info) BeginEvent(h Header) error {
	if !i.locked {
		return fmt.Errorf("begin event %d: booking still open: %w", h.EventNumber, errors.ErrInvalidState)
	}
	i.header = h
	i.serial++
	i.current = nil
	i.slot = nil
	if err := i.SetSystematic(i.svc.Nominal()); err != nil {
		return err
	}
	return errors.Join(
		i.eventNumber.StoreConst(h.EventNumber),
		i.runNumber.StoreConst(h.RunNumber),
		i.lumiBlock.StoreConst(h.LumiBlock),
		i.bcid.StoreConst(h.BCID),
		i.averageMu.StoreConst(h.AverageInteractionsPerCrossing),
		i.actualMu.StoreConst(h.ActualInteractionsPerCrossing),
		i.genWeight.StoreConst(i.GenWeight()),
	)
}

// SetSystematic activates set. A weight-only variation keeps the event
// content of the nominal variation.
func (i *Info) SetSystematic(set *systematics.Set) error {
	if set == i.current && set != nil {
		return nil
	}
	if err := i.svc.SetSystematic(set); err != nil {
		return err
	}
	i.current = set
	i.slot = set
	if !i.svc.IsKinematic(set) {
		i.logger.Warn("systematic does not affect kinematics, using nominal event content",
			"systematic", set.String())
		i.slot = i.svc.Nominal()
	}
	return nil
}

// =============================================================================
// store.Cursor
// =============================================================================

// Systematic returns the active variation.
func (i *Info) Systematic() *systematics.Set { return i.current }

// Slot returns the variation whose event content is active.
func (i *Info) Slot() *systematics.Set {
	if i.slot == nil {
		return i.svc.Nominal()
	}
	return i.slot
}

// Nominal returns the reference variation.
func (i *Info) Nominal() *systematics.Set { return i.svc.Nominal() }

// EventSerial counts the events started so far.
func (i *Info) EventSerial() uint64 { return i.serial }

// =============================================================================
// Event identity
// =============================================================================

// Header returns the current event header.
func (i *Info) Header() Header { return i.header }

// EventNumber returns the current event number.
func (i *Info) EventNumber() uint64 { return i.header.EventNumber }

// RunNumber returns the current run number.
func (i *Info) RunNumber() uint32 { return i.header.RunNumber }

// IsMC reports whether the current event is simulated.
func (i *Info) IsMC() bool { return i.header.IsSimulation }

// IsData reports whether the job runs on collision data.
func (i *Info) IsData() bool { return i.svc.IsData() }

// MCChannelNumber returns the dataset identifier of a simulated event,
// falling back to the run number when the channel is unset. It is zero
// for collision data.
func (i *Info) MCChannelNumber() uint32 {
	if !i.IsMC() {
		return 0
	}
	if i.header.MCChannelNumber != 0 {
		return i.header.MCChannelNumber
	}
	return i.header.RunNumber
}

// =============================================================================
// Systematic groups
// =============================================================================

// CreateSystematicGroup defines a group for obj. Names are unique.
func (i *Info) CreateSystematicGroup(name string, obj systematics.SelectionObject) (*systematics.Group, error) {
	if i.locked {
		return nil, fmt.Errorf("systematic group %q: %w", name, errors.ErrLocked)
	}
	if _, exists := i.groups[name]; exists {
		return nil, fmt.Errorf("systematic group %q: %w", name, errors.ErrGroupExists)
	}
	g, err := systematics.NewGroup(name, obj, i.svc)
	if err != nil {
		return nil, err
	}
	i.groups[name] = g
	i.groupOrder = append(i.groupOrder, name)
	i.logger.Info("systematic group created", "group", name, "object", obj.String())
	return g, nil
}

// SystematicGroup implements store.Cursor.
func (i *Info) SystematicGroup(name string) (*systematics.Group, error) {
	if g, ok := i.groups[name]; ok {
		return g, nil
	}
	return nil, fmt.Errorf("systematic group %q: %w", name, errors.ErrGroupNotFound)
}

// GetSystematicGroup returns the group with the given name.
func (i *Info) GetSystematicGroup(name string) (*systematics.Group, error) {
	return i.SystematicGroup(name)
}

// SystematicGroups returns the groups in creation order.
func (i *Info) SystematicGroups() []*systematics.Group {
	out := make([]*systematics.Group, 0, len(i.groupOrder))
	for _, name := range i.groupOrder {
		out = append(out, i.groups[name])
	}
	return out
}
