// Package powercap implements the package-power-limit agent (spec
// §4.4's "Power-cap agent"), grounded on
// original_source/src/PowerGovernorAgent.cpp: a bounded circular buffer
// of observed package power, a median-filtered convergence test after
// m_min_num_converged samples, and a per-tick adjustable power-limit
// control write.
package powercap

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/hpcgov/rtd/internal/hwio"
	"github.com/hpcgov/rtd/internal/policy"
	"github.com/hpcgov/rtd/internal/rterrors"
)

const (
	msrRaplPowerUnit    = 0x606
	msrPkgEnergyStatus  = 0x611
	msrPkgPowerLimit    = 0x610
	powerLimitFieldMask = 0x7FFF // RAPL PL1 power-limit field (15 bits)

	circularBufferSize = 16
	minNumConverged    = 15

	// Platform power-budget bounds (CPU_POWER_MIN_AVAIL/MAX_AVAIL/
	// CPU_POWER_LIMIT_DEFAULT signals in the original): no topology
	// discovery is wired in yet, so these are the conservative defaults
	// a single-package desktop/server part reports.
	minAvailWatts = 10.0
	maxAvailWatts = 300.0
	tdpWatts      = 150.0
)

var metricNames = []string{"power W", "is_converged"}

// circularBuffer is a fixed-capacity ring buffer of float64 samples,
// grounded on geopm::CircularBuffer<double>'s insert/make_vector shape.
type circularBuffer struct {
	data []float64
	next int
	full bool
}

func newCircularBuffer(capacity int) *circularBuffer {
	return &circularBuffer{data: make([]float64, capacity)}
}

func (c *circularBuffer) insert(v float64) {
	c.data[c.next] = v
	c.next = (c.next + 1) % len(c.data)
	if c.next == 0 {
		c.full = true
	}
}

func (c *circularBuffer) size() int {
	if c.full {
		return len(c.data)
	}
	return c.next
}

func (c *circularBuffer) median() float64 {
	n := c.size()
	if n == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), c.data[:n]...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Agent is the power-cap controller: it observes package power, feeds a
// circular buffer, and writes a clamped power-limit control every tick.
type Agent struct {
	p      policy.Policy
	hw     *hwio.HardwareIO
	cpu    int
	target float64 // clamped watt budget, fixed for this agent instance

	energySlot int
	powerSlot  int

	haveRapl         bool
	energyUnitJoules float64
	powerUnitWatts   float64

	buf *circularBuffer

	haveSample     bool
	lastEnergy     uint64
	lastSampleTime time.Time
}

// New constructs a power-cap Agent for the reference CPU/package (core 0).
func New(p policy.Policy, hw *hwio.HardwareIO) (*Agent, error) {
	if err := policy.Validate(p); err != nil {
		return nil, err
	}

	target := tdpWatts
	if len(p.Params) > 0 && !math.IsNaN(p.Params[0]) {
		target = p.Params[0]
	}
	if target < minAvailWatts {
		target = minAvailWatts
	} else if target > maxAvailWatts {
		target = maxAvailWatts
	}

	a := &Agent{p: p, hw: hw, cpu: 0, target: target, buf: newCircularBuffer(circularBufferSize)}

	var err error
	if a.energySlot, err = hw.AddRead(a.cpu, msrPkgEnergyStatus); err != nil {
		return nil, err
	}
	if a.powerSlot, err = hw.AddWrite(a.cpu, msrPkgPowerLimit); err != nil {
		return nil, err
	}

	if raw, err := hw.Read(a.cpu, msrRaplPowerUnit); err == nil {
		energyExp := (raw >> 8) & 0x1F
		powerExp := raw & 0xF
		a.energyUnitJoules = 1.0 / float64(uint64(1)<<energyExp)
		a.powerUnitWatts = 1.0 / float64(uint64(1)<<powerExp)
		a.haveRapl = true
	}

	return a, nil
}

func (a *Agent) Name() policy.AgentName { return policy.AgentPowerGovernor }
func (a *Agent) Period() time.Duration  { return time.Duration(a.p.PeriodSeconds * float64(time.Second)) }
func (a *Agent) Profile() string        { return a.p.Profile }
func (a *Agent) Params() []float64      { return []float64{a.target} }
func (a *Agent) MetricNames() []string  { return metricNames }

// Update samples package energy to derive instantaneous power, feeds
// the circular buffer, and writes the clamped power-limit control.
func (a *Agent) Update(ctx context.Context) ([]float64, error) {
	if err := a.hw.ReadBatch(); err != nil {
		return nil, rterrors.Wrap(rterrors.Runtime, "powercap agent read_batch failed", err)
	}
	energy, err := a.hw.Sample(a.energySlot)
	if err != nil {
		return nil, rterrors.Wrap(rterrors.Runtime, "powercap agent sample failed", err)
	}

	now := time.Now()
	if a.haveRapl && a.haveSample {
		elapsed := now.Sub(a.lastSampleTime).Seconds()
		if elapsed > 0 {
			delta := deltaCounter(energy, a.lastEnergy)
			power := float64(delta) * a.energyUnitJoules / elapsed
			a.buf.insert(power)
		}
	}
	a.lastEnergy = energy
	a.lastSampleTime = now
	a.haveSample = true

	if err := a.enforcePowerLimit(); err != nil {
		return nil, err
	}

	if a.buf.size() <= minNumConverged {
		return []float64{math.NaN(), 0}, nil
	}

	median := a.buf.median()
	isConverged := 0.0
	if median <= a.target {
		isConverged = 1.0
	}
	return []float64{median, isConverged}, nil
}

func (a *Agent) enforcePowerLimit() error {
	if !a.haveRapl {
		return nil
	}
	units := uint64(a.target / a.powerUnitWatts)
	if err := a.hw.Adjust(a.powerSlot, units&powerLimitFieldMask, powerLimitFieldMask); err != nil {
		return rterrors.Wrap(rterrors.Runtime, "powercap agent adjust failed", err)
	}
	if err := a.hw.WriteBatch(); err != nil {
		return rterrors.Wrap(rterrors.Runtime, "powercap agent write_batch failed", err)
	}
	return nil
}

func deltaCounter(cur, prev uint64) uint64 {
	if cur >= prev {
		return cur - prev
	}
	return (math.MaxUint64 - prev) + cur + 1
}
