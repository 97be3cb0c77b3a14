package balancer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hpcgov/rtd/internal/freqlimit"
)

// fakeModel reports a single all-core tradeoff at a fixed frequency for
// every core, enough to exercise the balancer without exercising a real
// TRL/SST-TF model's own logic.
type fakeModel struct {
	hpCount uint
	hz      float64
	lpHz    float64
	updates [][]float64
}

func (f *fakeModel) UpdateMaxFrequencyEstimates(observed []float64) {
	f.updates = append(f.updates, append([]float64(nil), observed...))
}

func (f *fakeModel) GetCoreFrequencyLimits(core int) []freqlimit.Tradeoff {
	return []freqlimit.Tradeoff{{HPCount: f.hpCount, Hz: f.hz}}
}

func (f *fakeModel) GetCoreLowPriorityFrequency(core int) float64 {
	return f.lpHz
}

// TestS1OneLagger implements spec scenario S1 ("balancer, one lagger").
func TestS1OneLagger(t *testing.T) {
	model := &fakeModel{hpCount: 4, hz: 3.0e9, lpHz: 1.0e9}
	b := New(0, 1, nil, 1.0e9, 3.0e9, model)

	times := []float64{1, 1, 2, 1}
	controls := []float64{3.0e9, 3.0e9, 3.0e9, 3.0e9}
	achieved := []float64{3.0e9, 3.0e9, 3.0e9, 3.0e9}
	maxFreqs := achieved

	got := b.Balance(times, controls, achieved, maxFreqs)

	assert.Equal(t, []float64{1.5e9, 1.5e9, 3.0e9, 1.5e9}, got)
}

// TestS2ResetRule implements spec scenario S2 ("balancer, reset rule"):
// when no core's previous control frequency was at the ceiling, every
// core resets to the maximum so the next iteration has a clean baseline.
func TestS2ResetRule(t *testing.T) {
	model := &fakeModel{hpCount: 4, hz: 5.0e9, lpHz: 1.0e9}
	b := New(0, 1, nil, 1.0e9, 5.0e9, model)

	times := []float64{4, 3, 2, 1}
	controls := []float64{4.0e9, 3.0e9, 2.0e9, 1.0e9}
	achieved := controls
	maxFreqs := controls

	got := b.Balance(times, controls, achieved, maxFreqs)

	assert.Equal(t, []float64{5.0e9, 5.0e9, 5.0e9, 5.0e9}, got)
}

// TestS3NegativeTimes implements spec scenario S3 ("balancer, negative
// times"): negative region times are not treated as unrecorded (only NaN
// is) and still participate in the lagginess sort and target-time math.
func TestS3NegativeTimes(t *testing.T) {
	model := &fakeModel{hpCount: 4, hz: 4.0e9, lpHz: 0.9e9}
	b := New(0, 1, nil, 0.9e9, 4.0e9, model)

	times := []float64{-1, -2, -3, -4}
	controls := []float64{4.0e9, 1.0e9, 1.0e9, 1.0e9}
	achieved := controls
	maxFreqs := controls

	got := b.Balance(times, controls, achieved, maxFreqs)

	assert.Equal(t, []float64{4.0e9, 2.0e9, 3.0e9, 4.0e9}, got)
}

// TestIgnoredDomainIsSkipped implements invariant 4: an ignored core
// index never receives a new control frequency.
func TestIgnoredDomainIsSkipped(t *testing.T) {
	model := &fakeModel{hpCount: 4, hz: 3.0e9, lpHz: 1.0e9}
	ignore := func(idx int) bool { return idx == 2 }
	b := New(0, 1, ignore, 1.0e9, 3.0e9, model)

	times := []float64{1, 1, 2, 1}
	controls := []float64{3.0e9, 3.0e9, 2.5e9, 3.0e9}
	achieved := []float64{3.0e9, 3.0e9, 3.0e9, 3.0e9}
	maxFreqs := achieved

	got := b.Balance(times, controls, achieved, maxFreqs)

	assert.Equal(t, 2.5e9, got[2], "ignored domain's control frequency must pass through unchanged")
}

// TestNaNTimeSortsToEnd implements invariant 3: a core with an unrecorded
// (NaN) region time never becomes the balancing reference.
func TestNaNTimeSortsToEnd(t *testing.T) {
	model := &fakeModel{hpCount: 3, hz: 3.0e9, lpHz: 1.0e9}
	b := New(0, 1, nil, 1.0e9, 3.0e9, model)

	nan := 0.0
	nan = nan / nan

	times := []float64{nan, 2, 1}
	controls := []float64{3.0e9, 3.0e9, 3.0e9}
	achieved := []float64{3.0e9, 3.0e9, 3.0e9}
	maxFreqs := achieved

	got := b.Balance(times, controls, achieved, maxFreqs)

	assert.True(t, got[0] == 3.0e9 || got[0] != got[0], "NaN-time domain keeps a default, never drives the target")
	assert.Equal(t, 3.0e9, got[1])
}
