// Package monitor implements the read-only telemetry agent (spec
// §4.4's "Monitor agent"), grounded on original_source/src/MonitorAgent.cpp's
// shape: do_write_batch() is always false (no control writes) and
// sample_platform() is the only per-tick work.
package monitor

import (
	"context"
	"math"
	"time"

	"github.com/hpcgov/rtd/internal/hwio"
	"github.com/hpcgov/rtd/internal/policy"
	"github.com/hpcgov/rtd/internal/rterrors"
)

// Real Intel RAPL/MSR offsets the monitor reads from a single reference
// CPU (core 0, package 0) to populate the energy/power/frequency
// metrics. Graphics-domain registers aren't backed by any implemented
// backend, so gpu-* metrics always report NaN (spec §4.4: "NaN for
// unavailable metrics").
const (
	msrRaplPowerUnit     = 0x606
	msrPkgEnergyStatus   = 0x611
	msrDramEnergyStatus  = 0x619
	msrIA32MPerf         = 0xE7
	msrIA32APerf         = 0xE8
	msrIA32PerfStatus    = 0x198

	baseClockHz = 100.0e6 // Intel bus clock used to scale IA32_PERF_STATUS ratio
)

var metricNames = []string{
	"cpu-energy J", "gpu-energy J", "dram-energy J",
	"cpu-power W", "gpu-power W", "dram-power W",
	"cpu-freq Hz", "cpu-freq %", "gpu-freq Hz", "gpu-freq %",
}

// Agent is the read-only monitor: every tick it batch-reads energy,
// aperf/mperf, and perf-status counters from the reference CPU and
// derives the ten metrics above. It never writes to hardware.
type Agent struct {
	p  policy.Policy
	hw *hwio.HardwareIO

	cpu int

	pkgEnergySlot  int
	dramEnergySlot int
	mperfSlot      int
	aperfSlot      int
	perfStatusSlot int

	haveRapl bool
	energyUnitJoules float64

	haveSample     bool
	lastPkgEnergy  uint64
	lastDramEnergy uint64
	lastMPerf      uint64
	lastAPerf      uint64
	lastSampleTime time.Time
}

// New constructs a monitor Agent bound to the reference CPU (core 0).
func New(p policy.Policy, hw *hwio.HardwareIO) (*Agent, error) {
	if err := policy.Validate(p); err != nil {
		return nil, err
	}
	a := &Agent{p: p, hw: hw, cpu: 0}

	var err error
	if a.pkgEnergySlot, err = hw.AddRead(a.cpu, msrPkgEnergyStatus); err != nil {
		return nil, err
	}
	if a.dramEnergySlot, err = hw.AddRead(a.cpu, msrDramEnergyStatus); err != nil {
		return nil, err
	}
	if a.mperfSlot, err = hw.AddRead(a.cpu, msrIA32MPerf); err != nil {
		return nil, err
	}
	if a.aperfSlot, err = hw.AddRead(a.cpu, msrIA32APerf); err != nil {
		return nil, err
	}
	if a.perfStatusSlot, err = hw.AddRead(a.cpu, msrIA32PerfStatus); err != nil {
		return nil, err
	}

	if raw, err := hw.Read(a.cpu, msrRaplPowerUnit); err == nil {
		// Bits 12:8 hold the energy status unit as 1/2^x joules.
		exponent := (raw >> 8) & 0x1F
		a.energyUnitJoules = 1.0 / float64(uint64(1)<<exponent)
		a.haveRapl = true
	}

	return a, nil
}

func (a *Agent) Name() policy.AgentName { return policy.AgentMonitor }
func (a *Agent) Period() time.Duration  { return time.Duration(a.p.PeriodSeconds * float64(time.Second)) }
func (a *Agent) Profile() string        { return a.p.Profile }
func (a *Agent) Params() []float64      { return a.p.Params }
func (a *Agent) MetricNames() []string  { return metricNames }

// Update reads the batch and derives the monitor's sample vector.
// Individual metrics that can't be computed (energy and power when the
// RAPL unit could not be read at construction, power and frequency on
// the first tick, or the GPU domain entirely) report NaN rather than
// failing the whole update.
func (a *Agent) Update(ctx context.Context) ([]float64, error) {
	if err := a.hw.ReadBatch(); err != nil {
		return nil, rterrors.Wrap(rterrors.Runtime, "monitor agent read_batch failed", err)
	}

	pkgEnergy, err1 := a.hw.Sample(a.pkgEnergySlot)
	dramEnergy, err2 := a.hw.Sample(a.dramEnergySlot)
	mperf, err3 := a.hw.Sample(a.mperfSlot)
	aperf, err4 := a.hw.Sample(a.aperfSlot)
	perfStatus, err5 := a.hw.Sample(a.perfStatusSlot)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return nil, rterrors.New(rterrors.Runtime, "monitor agent: incomplete batch sample")
	}

	now := time.Now()

	cpuEnergyJ := math.NaN()
	dramEnergyJ := math.NaN()
	cpuPowerW := math.NaN()
	dramPowerW := math.NaN()
	if a.haveRapl {
		cpuEnergyJ = float64(pkgEnergy) * a.energyUnitJoules
		dramEnergyJ = float64(dramEnergy) * a.energyUnitJoules
		if a.haveSample {
			elapsed := now.Sub(a.lastSampleTime).Seconds()
			if elapsed > 0 {
				cpuPowerW = float64(deltaCounter(pkgEnergy, a.lastPkgEnergy)) * a.energyUnitJoules / elapsed
				dramPowerW = float64(deltaCounter(dramEnergy, a.lastDramEnergy)) * a.energyUnitJoules / elapsed
			}
		}
	}

	// Current frequency ratio = (aperf_delta / mperf_delta) * the
	// nominal ratio encoded in IA32_PERF_STATUS bits 8:15, scaled by the
	// bus clock (standard Intel "effective frequency" derivation).
	cpuFreqHz := math.NaN()
	cpuFreqPct := math.NaN()
	nominalRatio := float64((perfStatus>>8)&0xFF)
	nominalHz := nominalRatio * baseClockHz
	if a.haveSample && nominalHz > 0 {
		mperfDelta := deltaCounter(mperf, a.lastMPerf)
		aperfDelta := deltaCounter(aperf, a.lastAPerf)
		if mperfDelta > 0 {
			cpuFreqHz = nominalHz * float64(aperfDelta) / float64(mperfDelta)
			cpuFreqPct = 100.0 * cpuFreqHz / nominalHz
		}
	}

	a.lastPkgEnergy, a.lastDramEnergy = pkgEnergy, dramEnergy
	a.lastMPerf, a.lastAPerf = mperf, aperf
	a.lastSampleTime = now
	a.haveSample = true

	return []float64{
		cpuEnergyJ, math.NaN(), dramEnergyJ,
		cpuPowerW, math.NaN(), dramPowerW,
		cpuFreqHz, cpuFreqPct, math.NaN(), math.NaN(),
	}, nil
}

// deltaCounter handles a single counter wraparound (64-bit MSR
// counters wrap rather than saturate).
func deltaCounter(cur, prev uint64) uint64 {
	if cur >= prev {
		return cur - prev
	}
	return (math.MaxUint64 - prev) + cur + 1
}
