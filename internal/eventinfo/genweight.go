package eventinfo

import (
	"fmt"
	"math"
	"strings"

	"github.com/xtxerr/ntuple/internal/errors"
)

// OutlierStrategy selects the treatment of generator weights whose
// magnitude exceeds the outlier threshold.
type OutlierStrategy int

const (
	// OutlierNone keeps every weight as is.
	OutlierNone OutlierStrategy = iota
	// OutlierIgnore sets outlier weights to zero.
	OutlierIgnore
	// OutlierReset replaces outlier weights by their sign.
	OutlierReset
)

var outlierNames = map[OutlierStrategy]string{
	OutlierNone:   "none",
	OutlierIgnore: "ignore",
	OutlierReset:  "reset",
}

func (s OutlierStrategy) String() string {
	if name, ok := outlierNames[s]; ok {
		return name
	}
	return fmt.Sprintf("OutlierStrategy(%d)", int(s))
}

// ParseOutlierStrategy parses "none", "ignore" or "reset".
func ParseOutlierStrategy(name string) (OutlierStrategy, error) {
	for s, n := range outlierNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return OutlierNone, errors.NewInvalidValue("outlier_strategy", name, "must be none, ignore or reset")
}

// RawGenWeight returns the first generator weight of the current event,
// or 1 on data and when the event carries no weight.
func (i *Info) RawGenWeight() float64 {
	return i.RawGenWeightAt(0)
}

// RawGenWeightAt returns the generator weight at idx, or 1 when absent.
func (i *Info) RawGenWeightAt(idx int) float64 {
	if i.svc.IsData() || idx < 0 || idx >= len(i.header.MCEventWeights) {
		i.logger.Debug("no generator weight, using 1", "index", idx, "event", i.header.EventNumber)
		return 1
	}
	return i.header.MCEventWeights[idx]
}

// IsOutlierGenWeight reports whether w is treated as an outlier.
func (i *Info) IsOutlierGenWeight(w float64) bool {
	return i.outlier != OutlierNone && math.Abs(w) > i.threshold
}

// GenWeight returns the first generator weight after outlier treatment.
func (i *Info) GenWeight() float64 {
	return i.GenWeightAt(0)
}

// GenWeightAt returns the generator weight at idx after outlier treatment.
func (i *Info) GenWeightAt(idx int) float64 {
	w := i.RawGenWeightAt(idx)
	if !i.IsOutlierGenWeight(w) {
		return w
	}
	switch i.outlier {
	case OutlierIgnore:
		return 0
	case OutlierReset:
		return math.Copysign(1, w)
	}
	return w
}
