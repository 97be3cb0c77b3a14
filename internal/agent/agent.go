// Package agent defines the Agent contract every control strategy
// implements (spec §4.4) and the closed-switch constructor that selects
// one from a Policy, grounded on the original_source's make_agent
// plugin-factory pattern (PluginFactory::make_plugin dispatch) reduced
// to a compile-time tagged-variant switch per spec.md §9.
package agent

import (
	"context"
	"time"

	"github.com/hpcgov/rtd/internal/agent/closmap"
	"github.com/hpcgov/rtd/internal/agent/freqbalancer"
	"github.com/hpcgov/rtd/internal/agent/monitor"
	"github.com/hpcgov/rtd/internal/agent/powercap"
	"github.com/hpcgov/rtd/internal/hwio"
	"github.com/hpcgov/rtd/internal/policy"
	"github.com/hpcgov/rtd/internal/rterrors"
)

// Agent is the shape every control strategy implements (spec §4.4): a
// name, a loop cadence, the policy it was built from, and a per-tick
// Update that both applies control writes and returns a sample vector
// matching MetricNames.
type Agent interface {
	Name() policy.AgentName
	Period() time.Duration
	Profile() string
	Params() []float64
	MetricNames() []string
	Update(ctx context.Context) ([]float64, error)
}

// New builds the Agent selected by p.Agent, wired against hw. This is
// the only place that switches on policy.AgentName; every caller holds
// an Agent interface value afterward.
func New(p policy.Policy, hw *hwio.HardwareIO) (Agent, error) {
	switch p.Agent {
	case policy.AgentNone:
		return newNoop(p), nil
	case policy.AgentMonitor:
		return monitor.New(p, hw)
	case policy.AgentPowerGovernor:
		return powercap.New(p, hw)
	case policy.AgentFrequencyBalancer:
		return freqbalancer.New(p, hw)
	case policy.AgentClosMap:
		return closmap.New(p, hw)
	default:
		return nil, rterrors.New(rterrors.AgentUnsupported, "unsupported agent: "+string(p.Agent))
	}
}

// noop is the agent.none agent: it holds the loop open (e.g. while
// period_seconds is being changed) without touching hardware.
type noop struct {
	p policy.Policy
}

func newNoop(p policy.Policy) *noop { return &noop{p: p} }

func (a *noop) Name() policy.AgentName         { return policy.AgentNone }
func (a *noop) Period() time.Duration          { return secondsToDuration(a.p.PeriodSeconds) }
func (a *noop) Profile() string                { return a.p.Profile }
func (a *noop) Params() []float64              { return a.p.Params }
func (a *noop) MetricNames() []string          { return nil }
func (a *noop) Update(context.Context) ([]float64, error) { return nil, nil }

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
