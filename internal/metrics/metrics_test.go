package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Sample(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New("ntuple", reg)

	ttbar := c.Sample("ttbar")
	ttbar.TreeFilled("/XAMPP/Tree_Nominal")
	ttbar.TreeFilled("/XAMPP/Tree_Nominal")
	ttbar.TreeSkipped("/XAMPP/CommonTree_Tree")
	ttbar.TreeFailed("/XAMPP/Tree_Nominal", ReasonStaleBranch)
	ttbar.SystematicFailed("JET_JER__1up")
	ttbar.EventProcessed(time.Millisecond)
	ttbar.VariablesBooked("event", 7)

	c.Sample("zjets").TreeFilled("/XAMPP/Tree_Nominal")

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"fills", testutil.ToFloat64(c.treeFills.WithLabelValues("ttbar", "/XAMPP/Tree_Nominal")), 2},
		{"other sample", testutil.ToFloat64(c.treeFills.WithLabelValues("zjets", "/XAMPP/Tree_Nominal")), 1},
		{"skips", testutil.ToFloat64(c.treeSkips.WithLabelValues("ttbar", "/XAMPP/CommonTree_Tree")), 1},
		{"failures", testutil.ToFloat64(c.treeFailures.WithLabelValues("ttbar", "/XAMPP/Tree_Nominal", ReasonStaleBranch)), 1},
		{"systematic failures", testutil.ToFloat64(c.systematicFailures.WithLabelValues("ttbar", "JET_JER__1up")), 1},
		{"events", testutil.ToFloat64(c.events.WithLabelValues("ttbar")), 1},
		{"booked", testutil.ToFloat64(c.booked.WithLabelValues("ttbar", "event")), 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if n := testutil.CollectAndCount(c.eventDuration); n != 1 {
		t.Errorf("event duration series = %d, want 1", n)
	}
}

func TestSample_NilIsNoop(t *testing.T) {
	var c *Collector
	s := c.Sample("ttbar")
	if s != nil {
		t.Fatal("nil collector should give a nil sample")
	}
	s.TreeFilled("tree")
	s.TreeSkipped("tree")
	s.TreeFailed("tree", ReasonOther)
	s.EventProcessed(time.Second)
	s.SystematicFailed("Nominal")
	s.VariablesBooked("event", 1)
}

func TestNew_Unregistered(t *testing.T) {
	a := New("ntuple", nil)
	b := New("ntuple", nil)
	a.Sample("x").TreeFilled("t")
	if got := testutil.ToFloat64(b.treeFills.WithLabelValues("x", "t")); got != 0 {
		t.Errorf("unregistered collectors should be independent, got %v", got)
	}
}
