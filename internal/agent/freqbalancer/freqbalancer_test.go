package freqbalancer

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcgov/rtd/internal/freqlimit"
	"github.com/hpcgov/rtd/internal/hwio"
	"github.com/hpcgov/rtd/internal/policy"
)

type fakeBackend struct {
	mem map[uint32]uint64
}

func newFakeBackend() *fakeBackend { return &fakeBackend{mem: make(map[uint32]uint64)} }

func (f *fakeBackend) Open([]int) error { return nil }
func (f *fakeBackend) Close() error     { return nil }
func (f *fakeBackend) ReadDirect(cpu int, offset uint32) (uint64, error) {
	return f.mem[offset], nil
}
func (f *fakeBackend) WriteDirect(cpu int, offset uint32, value uint64) error {
	f.mem[offset] = value
	return nil
}
func (f *fakeBackend) SystemWriteMask(uint32) (uint64, error) { return ^uint64(0), nil }
func (f *fakeBackend) ExecuteReads(ops []hwio.BatchReadOp) error {
	for i := range ops {
		ops[i].Value = f.mem[ops[i].Offset]
	}
	return nil
}
func (f *fakeBackend) ExecuteWrites(ops []hwio.BatchWriteOp) error {
	for _, op := range ops {
		f.mem[op.Offset] = op.Value
	}
	return nil
}

func TestRejectsPolicyDisablingBothControls(t *testing.T) {
	backend := newFakeBackend()
	hw := hwio.New(backend, []int{0}, nil)
	_, err := New(policy.Policy{
		Agent: policy.AgentFrequencyBalancer, PeriodSeconds: 1,
		Params: []float64{math.NaN(), 0, 0},
	}, hw)
	require.Error(t, err)
}

// TestDefaultSamplerDrivesCoresToCutoff exercises the "unknown/invalid
// region hash" fast-adjustment rule (spec §4.4): with no region
// instrumentation wired, every core is treated as a non-application
// region and driven to the cutoff frequency every tick.
func TestDefaultSamplerDrivesCoresToCutoff(t *testing.T) {
	backend := newFakeBackend()
	hw := hwio.New(backend, []int{0}, nil)
	a, err := New(policy.Policy{Agent: policy.AgentFrequencyBalancer, PeriodSeconds: 1}, hw)
	require.NoError(t, err)

	_, err = a.Update(context.Background())
	require.NoError(t, err)

	raw := backend.mem[msrIA32PerfCtl]
	ratio := (raw & perfCtlRatioMask) >> 8
	assert.Less(t, ratio*uint64(busClockHz), uint64(frequencyMaxHz),
		"with no region instrumentation the core must be held below max, at the cutoff frequency")
}

// stepSampler reports a fixed hash/hint per core and advances its
// epoch counter by one on every call, letting a test force an epoch
// boundary deterministically.
type stepSampler struct {
	hash  uint64
	epoch float64
}

func (s *stepSampler) Sample(int) RegionSample { return RegionSample{Hash: s.hash} }
func (s *stepSampler) EpochCount() float64 {
	s.epoch++
	return s.epoch
}

func TestEpochBoundaryInvokesBalancer(t *testing.T) {
	backend := newFakeBackend()
	hw := hwio.New(backend, []int{0, 1}, nil)
	topo := freqlimit.Topology{CoresInPackage: [][]int{{0, 1}}}
	sampler := &stepSampler{hash: 42}

	a, err := NewWithSampler(policy.Policy{Agent: policy.AgentFrequencyBalancer, PeriodSeconds: 1}, hw, topo, sampler)
	require.NoError(t, err)

	for i := 0; i < minimumEpochsForNewEpochControl+1; i++ {
		_, err := a.Update(context.Background())
		require.NoError(t, err)
	}

	// A real region hash keeps the core out of the "invalid hash" cutoff
	// path, so its control frequency must remain a valid, finite value.
	assert.False(t, math.IsNaN(a.lastCtlFrequency[0]))
	assert.GreaterOrEqual(t, a.lastCtlFrequency[0], frequencyMinHz)
	assert.LessOrEqual(t, a.lastCtlFrequency[0], frequencyMaxHz)
}
