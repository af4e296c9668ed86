package metadata

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/ntuple/internal/errors"
)

// CrossSection holds the normalisation inputs of one simulated dataset.
type CrossSection struct {
	// XSection is the production cross-section in pb.
	XSection float64 `yaml:"xsec"`

	KFactor          float64 `yaml:"kfactor"`
	FilterEfficiency float64 `yaml:"filter_eff"`

	// Relative uncertainties of the cross-section. Zero means unknown.
	RelUncertaintyUp   float64 `yaml:"rel_unc_up"`
	RelUncertaintyDown float64 `yaml:"rel_unc_down"`
}

// HasUncertainties reports whether any relative uncertainty is known.
func (c CrossSection) HasUncertainties() bool {
	return c.RelUncertaintyUp > 0 || c.RelUncertaintyDown > 0
}

// Validate checks that every number is finite and non-negative.
func (c CrossSection) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"xsec", c.XSection},
		{"kfactor", c.KFactor},
		{"filter_eff", c.FilterEfficiency},
		{"rel_unc_up", c.RelUncertaintyUp},
		{"rel_unc_down", c.RelUncertaintyDown},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return errors.NewInvalidValue(f.name, f.v, "must be finite and non-negative")
		}
	}
	return nil
}

// CrossSectionDB looks up the cross-section of a dataset.
type CrossSectionDB interface {
	Lookup(dsid uint32) (CrossSection, error)
}

// CrossSections is an in-memory cross-section table keyed by dataset id.
type CrossSections map[uint32]CrossSection

// Lookup implements CrossSectionDB.
func (c CrossSections) Lookup(dsid uint32) (CrossSection, error) {
	xs, ok := c[dsid]
	if !ok {
		return CrossSection{}, errors.NewNotFound("cross-section", fmt.Sprint(dsid))
	}
	return xs, nil
}

// LoadCrossSections reads a cross-section table from a YAML file:
//
//	410470:
//	  xsec: 729.77
//	  kfactor: 1.1398
//	  filter_eff: 0.5438
func LoadCrossSections(path string) (CrossSections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cross-sections: %w", err)
	}
	return ParseCrossSections(data)
}

// ParseCrossSections decodes and validates a YAML cross-section table.
func ParseCrossSections(data []byte) (CrossSections, error) {
	table := make(CrossSections)
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse cross-sections: %w", err)
	}
	var errs []error
	for dsid, xs := range table {
		if err := xs.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("dataset %d: %w", dsid, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("validate cross-sections: %w", err)
	}
	return table, nil
}
