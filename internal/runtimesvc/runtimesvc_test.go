package runtimesvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestSetPolicyReturnsPrevious(t *testing.T) {
	s := NewSharedState()
	prev, err := s.SetPolicy(policy.Policy{Agent: policy.AgentMonitor, PeriodSeconds: 1})
	require.NoError(t, err)
	assert.Equal(t, policy.AgentNone, prev.Agent)

	prev2, err := s.SetPolicy(policy.Policy{Agent: policy.AgentNone, PeriodSeconds: 0})
	require.NoError(t, err)
	assert.Equal(t, policy.AgentMonitor, prev2.Agent)
}

func TestSetPolicyRejectsInvalid(t *testing.T) {
	s := NewSharedState()
	_, err := s.SetPolicy(policy.Policy{Agent: "bogus"})
	require.Error(t, err)
}

func TestAddRemoveChildHost(t *testing.T) {
	s := NewSharedState()
	ts := s.AddChildHost("http://child-1:9000")
	assert.Equal(t, "http://child-1:9000", ts.URL)
	assert.Contains(t, s.ChildHosts(), "http://child-1:9000")

	s.RemoveChildHost("http://child-1:9000")
	assert.NotContains(t, s.ChildHosts(), "http://child-1:9000")
}

// TestPolicyVisibleAtNextIteration exercises spec §8's invariant 6: once
// SetPolicy returns, one subsequent loop iteration boundary suffices for
// the new policy to take effect.
func TestPolicyVisibleAtNextIteration(t *testing.T) {
	backend := newFakeBackend()
	hw := hwio.New(backend, []int{0}, nil)
	s := NewSharedState()
	loop := NewLoop(s, hw)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	_, err := s.SetPolicy(policy.Policy{Agent: policy.AgentMonitor, PeriodSeconds: 0.01})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(s.GetReport().Metrics) > 0
	}, time.Second, time.Millisecond, "loop must pick up the published policy and start accumulating stats")

	report := s.GetReport()
	assert.Equal(t, policy.AgentMonitor, report.Policy.Agent)

	cancel()
	<-done
}

// TestZeroPeriodStopsLoopCleanly exercises spec §5's documented shutdown
// mechanism: publishing a policy whose period is 0 makes the loop exit.
func TestZeroPeriodStopsLoopCleanly(t *testing.T) {
	backend := newFakeBackend()
	hw := hwio.New(backend, []int{0}, nil)
	s := NewSharedState()
	loop := NewLoop(s, hw)

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	_, err := s.SetPolicy(policy.Policy{Agent: policy.AgentNone, PeriodSeconds: 0})
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after a period-0 policy was published")
	}
}

func TestLoopNeverStartedIsIdle(t *testing.T) {
	backend := newFakeBackend()
	hw := hwio.New(backend, []int{0}, nil)
	s := NewSharedState()
	loop := NewLoop(s, hw)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := loop.Run(ctx)
	assert.NoError(t, err, "loop waiting for a never-published policy must exit cleanly on context cancellation")
}
