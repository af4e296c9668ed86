package aggregate

import (
	"sort"
	"sync"
)

// Manager keeps one WeightSummary per systematic.
type Manager struct {
	mu sync.RWMutex

	summaries map[string]*WeightSummary
	accuracy  float64

	stats ManagerStats
}

// ManagerStats holds manager statistics.
type ManagerStats struct {
	WeightsProcessed int64
	Summaries        int
}

// NewManager creates a manager. Percentiles use a relative accuracy of 1%
// when enabled.
func NewManager(percentileEnabled bool) *Manager {
	if percentileEnabled {
		return NewManagerWithAccuracy(0.01)
	}
	return NewManagerWithAccuracy(0)
}

// NewManagerWithAccuracy creates a manager with custom percentile
// accuracy. An accuracy of 0 disables percentiles.
func NewManagerWithAccuracy(accuracy float64) *Manager {
	return &Manager{
		summaries: make(map[string]*WeightSummary),
		accuracy:  accuracy,
	}
}

// Add records one event weight for a systematic.
func (m *Manager) Add(systematic string, w float64) {
	m.summary(systematic).Add(w)

	m.mu.Lock()
	m.stats.WeightsProcessed++
	m.mu.Unlock()
}

func (m *Manager) summary(systematic string) *WeightSummary {
	m.mu.RLock()
	s, ok := m.summaries[systematic]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.summaries[systematic]; ok {
		return s
	}
	s = newSummary(systematic, m.accuracy)
	m.summaries[systematic] = s
	return s
}

// Summary returns the summary of a systematic, or nil.
func (m *Manager) Summary(systematic string) *WeightSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summaries[systematic]
}

// Results returns the results of all summaries ordered by systematic name.
func (m *Manager) Results() []Result {
	m.mu.RLock()
	names := make([]string, 0, len(m.summaries))
	for name := range m.summaries {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	out := make([]Result, 0, len(names))
	for _, name := range names {
		out = append(out, m.Summary(name).Result())
	}
	return out
}

// Stats returns manager statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := m.stats
	stats.Summaries = len(m.summaries)
	return stats
}
