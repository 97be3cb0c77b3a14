// Package stats implements the per-metric online accumulator held by
// RuntimeService (spec §4.6): raw (not centered) moment sums m1..m4 plus
// count/first/last/min/max, mutated only by the loop thread and read by
// GetReport under the shared lock.
package stats

import (
	"math"
	"sync"

	"github.com/hpcgov/rtd/internal/rterrors"
)

// metric holds one named metric's online accumulators.
type metric struct {
	count      uint64
	first      float64
	last       float64
	min        float64
	max        float64
	m1, m2, m3, m4 float64
}

// Stats accumulates samples across an ordered, fixed set of metric names
// for the lifetime of one agent instantiation.
type Stats struct {
	mu      sync.Mutex
	names   []string
	index   map[string]int
	metrics []metric
}

// New creates a Stats accumulator for the given ordered metric names.
func New(metricNames []string) *Stats {
	names := append([]string(nil), metricNames...)
	idx := make(map[string]int, len(names))
	ms := make([]metric, len(names))
	for i, n := range names {
		idx[n] = i
		ms[i] = metric{min: math.NaN(), max: math.NaN(), first: math.NaN(), last: math.NaN()}
	}
	return &Stats{names: names, index: idx, metrics: ms}
}

// MetricNames returns the ordered metric name list this Stats was built with.
func (s *Stats) MetricNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

// Update folds one sample vector into the accumulators. len(sample) must
// equal len(metric_names), per spec §3's invariant; violation is Invalid.
func (s *Stats) Update(sample []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(sample) != len(s.names) {
		return rterrors.New(rterrors.Invalid, "sample length does not match metric_names length")
	}
	for i, v := range sample {
		m := &s.metrics[i]
		if m.count == 0 {
			m.first = v
			m.min = v
			m.max = v
		} else {
			if v < m.min || math.IsNaN(m.min) {
				m.min = v
			}
			if v > m.max || math.IsNaN(m.max) {
				m.max = v
			}
		}
		m.last = v
		m.count++
		p := v
		m.m1 += p
		p *= v
		m.m2 += p
		p *= v
		m.m3 += p
		p *= v
		m.m4 += p
	}
	return nil
}

// Snapshot is a read-only view of one metric's accumulators and derived
// statistics, returned by GetReport.
type Snapshot struct {
	Name  string  `json:"name"`
	Count uint64  `json:"count"`
	First float64 `json:"first"`
	Last  float64 `json:"last"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
}

// Snapshot returns the current derived view of every metric, in order.
func (s *Stats) Snapshot() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, len(s.names))
	for i, name := range s.names {
		m := s.metrics[i]
		snap := Snapshot{Name: name, Count: m.count, First: m.first, Last: m.last, Min: m.min, Max: m.max}
		if m.count == 0 {
			snap.First, snap.Last, snap.Min, snap.Max = math.NaN(), math.NaN(), math.NaN(), math.NaN()
			snap.Mean, snap.Std = math.NaN(), math.NaN()
		} else {
			snap.Mean = m.m1 / float64(m.count)
			if m.count > 1 {
				n := float64(m.count)
				snap.Std = math.Sqrt((m.m2 - m.m1*m.m1/n) / (n - 1))
			} else {
				snap.Std = math.NaN()
			}
		}
		out[i] = snap
	}
	return out
}

// Skew is declared by spec §4.6 but not yet implemented.
func (s *Stats) Skew(metricName string) (float64, error) {
	return math.NaN(), rterrors.New(rterrors.NotImplemented, "Skew is not implemented")
}

// Kurtosis is declared by spec §4.6 but not yet implemented.
func (s *Stats) Kurtosis(metricName string) (float64, error) {
	return math.NaN(), rterrors.New(rterrors.NotImplemented, "Kurtosis is not implemented")
}

// LinearFit is declared by spec §4.6 but not yet implemented.
func (s *Stats) LinearFit(metricName string) (slope, intercept float64, err error) {
	return math.NaN(), math.NaN(), rterrors.New(rterrors.NotImplemented, "LinearFit is not implemented")
}
