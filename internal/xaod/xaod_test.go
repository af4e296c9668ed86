package xaod

import (
	"math"
	"testing"
)

func TestDecoration_Typed(t *testing.T) {
	el := NewParticle(25000, 0.5, 1.0, 511)
	Decorate(el, "charge", float32(-1))
	Decorate(el, "signal", int8(1))

	charge, ok := Decoration[float32](el, "charge")
	if !ok || charge != -1 {
		t.Errorf("charge = (%v, %v), want (-1, true)", charge, ok)
	}
	if _, ok := Decoration[float64](el, "charge"); ok {
		t.Error("wrong type should report missing")
	}
	if _, ok := Decoration[int8](el, "isolated"); ok {
		t.Error("absent decoration should report missing")
	}
	if !el.Decorations().Has("signal") {
		t.Error("expected signal decoration")
	}
}

func TestDecoration_NilElement(t *testing.T) {
	if _, ok := Decoration[float32](nil, "charge"); ok {
		t.Error("nil element should report missing")
	}
}

func TestFourMomentum_Energy(t *testing.T) {
	p := NewParticle(3, 0, 0, 4)
	if math.Abs(p.E()-5) > 1e-12 {
		t.Errorf("E() = %v, want 5", p.E())
	}

	boosted := NewParticle(10, 1.2, 0, 0)
	want := 10 * math.Cosh(1.2)
	if math.Abs(boosted.E()-want) > 1e-9 {
		t.Errorf("E() = %v, want %v", boosted.E(), want)
	}
}
