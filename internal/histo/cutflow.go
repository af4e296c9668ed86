package histo

import (
	"fmt"
	"strings"

	"go-hep.org/x/hep/hbook"

	"github.com/xtxerr/ntuple/internal/errors"
	"github.com/xtxerr/ntuple/internal/validation"
)

// cutFlowDir is the directory of the cutflow histograms of a variation.
const cutFlowDir = "InfoHistograms"

// CutFlow is a named, ordered list of cuts. Bin i of its histograms
// counts the events passing cut i.
type CutFlow struct {
	name   string
	cuts   []string
	index  map[string]int
	frozen bool
}

// NewCutFlow creates an empty cutflow.
func NewCutFlow(name string) (*CutFlow, error) {
	if err := validation.ValidateVariableName(name); err != nil {
		return nil, fmt.Errorf("cutflow %q: %v: %w", name, err, errors.ErrInvalidName)
	}
	return &CutFlow{name: name, index: make(map[string]int)}, nil
}

// Name returns the cutflow name.
func (c *CutFlow) Name() string { return c.name }

// AddCut appends a cut and returns its index. Cuts cannot be added once
// the cutflow is registered.
func (c *CutFlow) AddCut(name string) (int, error) {
	if c.frozen {
		return -1, fmt.Errorf("add cut %q to %s: %w", name, c.name, errors.ErrLocked)
	}
	if name == "" {
		return -1, errors.NewMissingField("cut name")
	}
	if _, exists := c.index[name]; exists {
		return -1, errors.NewAlreadyExists("cut", name)
	}
	c.index[name] = len(c.cuts)
	c.cuts = append(c.cuts, name)
	return len(c.cuts) - 1, nil
}

// Cuts returns the cut names in order.
func (c *CutFlow) Cuts() []string {
	return append([]string(nil), c.cuts...)
}

// Index returns the position of a cut.
func (c *CutFlow) Index(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// Pass counts the current event in bin cut of the cutflow histograms of
// h. The weighted histogram receives the event weight of h.
func (c *CutFlow) Pass(h *HistoBase, cut int) error {
	if cut < 0 || cut >= len(c.cuts) {
		return errors.NewInvalidValue("cut", cut, fmt.Sprintf("%s has %d cuts", c.name, len(c.cuts)))
	}
	ch, ok := h.cutflows[c.name]
	if !ok || ch.flow != c {
		return errors.NewNotFound("cutflow", c.name)
	}
	if h.state != StateInitialized {
		return fmt.Errorf("cutflow %s in %s: %w", c.name, h.Name(), errors.ErrNotInitialized)
	}
	if ch.raw == nil {
		return nil
	}
	if active := h.info.Systematic(); active != h.set {
		return fmt.Errorf("cutflow %s in %s while %s is active: %w", c.name, h.Name(), active, errors.ErrInvalidState)
	}
	if err := h.UpdateWeight(); err != nil {
		return err
	}
	x := float64(cut) + 0.5
	ch.raw.Fill(x, 1)
	ch.weighted.Fill(x, h.Weight())
	return nil
}

type cutFlowHistos struct {
	flow     *CutFlow
	raw      *hbook.H1D
	weighted *hbook.H1D
}

// RegisterCutFlow attaches c to the binder and freezes its cuts. A
// cutflow name can be registered once.
func (h *HistoBase) RegisterCutFlow(c *CutFlow) error {
	if c == nil {
		return errors.NewMissingField("cutflow")
	}
	if h.state == StateFinalized {
		return fmt.Errorf("register cutflow %s: %w", c.name, errors.ErrInvalidState)
	}
	if _, exists := h.cutflows[c.name]; exists {
		return errors.NewAlreadyExists("cutflow", c.name)
	}
	if len(c.cuts) == 0 {
		return errors.NewValidation("cutflow", fmt.Sprintf("%s has no cuts", c.name))
	}
	c.frozen = true

	ch := &cutFlowHistos{flow: c}
	if h.state == StateInitialized {
		if err := h.bookCutFlow(ch); err != nil {
			return err
		}
	}
	h.cutflows[c.name] = ch
	h.flowOrder = append(h.flowOrder, c.name)
	return nil
}

// CutFlows returns the names of the registered cutflows.
func (h *HistoBase) CutFlows() []string {
	return append([]string(nil), h.flowOrder...)
}

// CutFlowHistos returns the raw and weighted histograms of a cutflow.
// Both are nil when cutflow writing is disabled.
func (h *HistoBase) CutFlowHistos(name string) (raw, weighted *hbook.H1D, err error) {
	ch, ok := h.cutflows[name]
	if !ok {
		return nil, nil, errors.NewNotFound("cutflow", name)
	}
	return ch.raw, ch.weighted, nil
}

func (h *HistoBase) bookCutFlow(ch *cutFlowHistos) error {
	if !h.opts.WriteCutFlow {
		return nil
	}
	n := len(ch.flow.cuts)
	labels := strings.Join(ch.flow.cuts, ";")

	raw, err := h.book(h.Path(cutFlowDir, ch.flow.name+"_CutFlow"), ch.flow.name, n, 0, float64(n), true)
	if err != nil {
		return err
	}
	weighted, err := h.book(h.Path(cutFlowDir, ch.flow.name+"_CutFlow_weighted"), ch.flow.name, n, 0, float64(n), true)
	if err != nil {
		return err
	}
	raw.Annotation()["cuts"] = labels
	weighted.Annotation()["cuts"] = labels
	ch.raw, ch.weighted = raw, weighted
	return nil
}
