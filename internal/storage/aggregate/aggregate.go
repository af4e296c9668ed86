package aggregate

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
)

// WeightSummary maintains running statistics of the event weights of one
// systematic. It supports optional percentile calculation using DDSketch.
type WeightSummary struct {
	mu sync.Mutex

	name string

	// Running statistics
	count    int64
	negative int64
	sum      float64
	sumW2    float64
	min      float64
	max      float64

	// DDSketch for percentiles (nil if disabled)
	sketch   *ddsketch.DDSketch
	accuracy float64
}

// Result is a snapshot of a WeightSummary.
type Result struct {
	Name     string
	Count    int64
	Negative int64
	Sum      float64
	SumW2    float64
	Min      float64
	Max      float64
	Mean     float64

	// Percentiles, nil when disabled or empty.
	P50 *float64
	P90 *float64
	P99 *float64
}

// HasPercentiles reports whether percentiles were calculated.
func (r Result) HasPercentiles() bool {
	return r.P50 != nil
}

// Fields returns the result as manifest record fields.
func (r Result) Fields() map[string]any {
	f := map[string]any{
		"systematic": r.Name,
		"count":      r.Count,
		"negative":   r.Negative,
		"sum_w":      r.Sum,
		"sum_w2":     r.SumW2,
		"min":        r.Min,
		"max":        r.Max,
		"mean":       r.Mean,
	}
	if r.HasPercentiles() {
		f["p50"] = *r.P50
		f["p90"] = *r.P90
		f["p99"] = *r.P99
	}
	return f
}

// New creates a summary. Percentiles use a relative accuracy of 1%.
func New(name string, enablePercentile bool) *WeightSummary {
	if !enablePercentile {
		return newSummary(name, 0)
	}
	return newSummary(name, 0.01)
}

// NewWithAccuracy creates a summary with custom percentile accuracy.
func NewWithAccuracy(name string, accuracy float64) *WeightSummary {
	return newSummary(name, accuracy)
}

func newSummary(name string, accuracy float64) *WeightSummary {
	s := &WeightSummary{
		name:     name,
		min:      math.MaxFloat64,
		max:      -math.MaxFloat64,
		accuracy: accuracy,
	}
	s.sketch = s.newSketch()
	return s
}

func (s *WeightSummary) newSketch() *ddsketch.DDSketch {
	if s.accuracy <= 0 {
		return nil
	}
	sketch, err := ddsketch.NewDefaultDDSketch(s.accuracy)
	if err != nil {
		return nil
	}
	return sketch
}

// Name returns the systematic name of the summary.
func (s *WeightSummary) Name() string {
	return s.name
}

// Add adds one event weight.
func (s *WeightSummary) Add(w float64) {
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += w
	s.sumW2 += w * w
	if w < 0 {
		s.negative++
	}
	if w < s.min {
		s.min = w
	}
	if w > s.max {
		s.max = w
	}

	if s.sketch != nil {
		s.sketch.Add(w)
	}
}

// Count returns the number of weights added.
func (s *WeightSummary) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// IsEmpty returns true if no weights have been added.
func (s *WeightSummary) IsEmpty() bool {
	return s.Count() == 0
}

// Result returns a snapshot of the summary.
func (s *WeightSummary) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := Result{
		Name:     s.name,
		Count:    s.count,
		Negative: s.negative,
		Sum:      s.sum,
		SumW2:    s.sumW2,
	}

	if s.count > 0 {
		result.Mean = s.sum / float64(s.count)
		result.Min = s.min
		result.Max = s.max
	}

	// Calculate percentiles if enabled and we have data
	if s.sketch != nil && s.count > 0 {
		p50, _ := s.sketch.GetValueAtQuantile(0.50)
		p90, _ := s.sketch.GetValueAtQuantile(0.90)
		p99, _ := s.sketch.GetValueAtQuantile(0.99)
		result.P50, result.P90, result.P99 = &p50, &p90, &p99
	}

	return result
}

// Reset clears the summary.
func (s *WeightSummary) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count = 0
	s.negative = 0
	s.sum = 0
	s.sumW2 = 0
	s.min = math.MaxFloat64
	s.max = -math.MaxFloat64

	// DDSketch doesn't have a Clear method
	s.sketch = s.newSketch()
}

// Merge combines another summary into this one.
func (s *WeightSummary) Merge(other *WeightSummary) {
	if other == nil || other == s || other.Count() == 0 {
		return
	}

	s.mu.Lock()
	other.mu.Lock()
	defer s.mu.Unlock()
	defer other.mu.Unlock()

	s.count += other.count
	s.negative += other.negative
	s.sum += other.sum
	s.sumW2 += other.sumW2

	if other.min < s.min {
		s.min = other.min
	}
	if other.max > s.max {
		s.max = other.max
	}

	// Merge sketches
	if s.sketch != nil && other.sketch != nil {
		s.sketch.MergeWith(other.sketch)
	}
}
