// Package xaod models the event objects handed to container storages:
// decorated objects, particles with a four-momentum, and containers of
// either.
//
// Decorations are named, typed attributes attached to an object instance.
// Reading a decoration with the wrong type reports it as missing.
package xaod

import "math"

// Element is one entry of a container.
type Element interface {
	// Decorations returns the attribute set of the element.
	Decorations() *Decorations
}

// Particle is an element with a four-momentum. Energies and momenta are
// in MeV.
type Particle interface {
	Element
	Pt() float64
	Eta() float64
	Phi() float64
	M() float64
	E() float64
}

// Container is an ordered collection of elements.
type Container []Element

// Decorations holds named attributes.
type Decorations struct {
	values map[string]any
}

// Set attaches or replaces the attribute name.
func (d *Decorations) Set(name string, v any) {
	if d.values == nil {
		d.values = make(map[string]any)
	}
	d.values[name] = v
}

// Has reports whether the attribute exists.
func (d *Decorations) Has(name string) bool {
	_, ok := d.values[name]
	return ok
}

// Get returns the raw attribute value.
func (d *Decorations) Get(name string) (any, bool) {
	v, ok := d.values[name]
	return v, ok
}

// Decoration returns the typed attribute of el.
func Decoration[T any](el Element, name string) (T, bool) {
	var zero T
	if el == nil {
		return zero, false
	}
	raw, ok := el.Decorations().Get(name)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// Decorate attaches a typed attribute to el.
func Decorate[T any](el Element, name string, v T) {
	el.Decorations().Set(name, v)
}

// Object is a plain decorated element without kinematics.
type Object struct {
	decorations Decorations
}

// NewObject creates an empty object.
func NewObject() *Object { return &Object{} }

// Decorations implements Element.
func (o *Object) Decorations() *Decorations { return &o.decorations }

// FourMomentum is a particle defined by (pt, eta, phi, m).
type FourMomentum struct {
	decorations Decorations
	pt, eta     float64
	phi, m      float64
}

// NewParticle creates a particle from transverse momentum, pseudorapidity,
// azimuth and mass.
func NewParticle(pt, eta, phi, m float64) *FourMomentum {
	return &FourMomentum{pt: pt, eta: eta, phi: phi, m: m}
}

// Decorations implements Element.
func (p *FourMomentum) Decorations() *Decorations { return &p.decorations }

// Pt returns the transverse momentum.
func (p *FourMomentum) Pt() float64 { return p.pt }

// Eta returns the pseudorapidity.
func (p *FourMomentum) Eta() float64 { return p.eta }

// Phi returns the azimuthal angle.
func (p *FourMomentum) Phi() float64 { return p.phi }

// M returns the invariant mass.
func (p *FourMomentum) M() float64 { return p.m }

// E returns the energy, sqrt(|p|^2 + m^2).
func (p *FourMomentum) E() float64 {
	pz := p.pt * math.Sinh(p.eta)
	p2 := p.pt*p.pt + pz*pz
	return math.Sqrt(p2 + p.m*p.m)
}
