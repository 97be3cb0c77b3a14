// Package closmap implements the region-to-class-of-service mapping
// agent (spec §4.4's "ClosMap agent"), grounded on
// original_source/src/ClosMapAgent.cpp: per-tick it reads each core's
// current region hash, looks it up in the policy's hash->CLOS map, and
// writes the mapped (or default) class of service. A non-NaN uncore
// frequency in the policy overrides the package's saved init min/max
// ratio; reverting to NaN restores it within a single Agent's lifetime.
// runtimesvc.Loop.Run constructs a fresh Agent on every policy change
// rather than updating one in place, so a new Agent's "init" values are
// whatever the previous Agent last wrote: restore-to-pre-override is out
// of scope across a policy change, only within one.
package closmap

import (
	"context"
	"math"
	"time"

	"github.com/hpcgov/rtd/internal/hwio"
	"github.com/hpcgov/rtd/internal/policy"
	"github.com/hpcgov/rtd/internal/rterrors"
	"github.com/hpcgov/rtd/internal/topo"
)

const (
	// IA32_PQR_ASSOC: bits 63:32 hold the class-of-service ID a core is
	// currently associated with (the same association register real
	// SST-CP/CAT platforms expose core priority through).
	msrPQRAssoc      = 0xC8F
	pqrClosFieldMask = 0xFFFFFFFF00000000
	pqrClosShift     = 32

	// MSR_UNCORE_RATIO_LIMIT: bits 6:0 max ratio, bits 14:8 min ratio.
	msrUncoreRatioLimit = 0x620
	uncoreMaxRatioMask  = 0x7F
	uncoreMinRatioMask  = 0x7F00
	uncoreMinRatioShift = 8

	busClockHz = 100.0e6

	closMin = 0
	closMax = 3
)

var metricNames []string // ClosMap is control-only; no telemetry metrics.

// RegionSample is one core's region-tracking telemetry for a tick.
type RegionSample struct {
	Hash uint64
}

// RegionSampler is the out-of-scope external collaborator (spec §1)
// supplying per-core region hash; see internal/agent/freqbalancer's
// RegionSampler for the sibling definition this agent independently
// duck-types against.
type RegionSampler interface {
	Sample(core int) RegionSample
}

// HashInvalid marks a core whose last observed region hash is unknown.
const HashInvalid = ^uint64(0)

// NoRegionSampler reports every core as unmarked, so every core is
// driven to the policy's default CLOS on every tick.
type NoRegionSampler struct{}

func (NoRegionSampler) Sample(int) RegionSample { return RegionSample{Hash: HashInvalid} }

// Agent is the clos-map controller.
type Agent struct {
	p       policy.Policy
	hw      *hwio.HardwareIO
	topo    policy.ClosMapPolicy
	sampler RegionSampler

	cores       []int
	closSlot    []int
	lastHash    []uint64
	lastClos    []int
	hashToClos  map[uint64]int

	uncoreSlot       int
	uncoreInitMin    uint64
	uncoreInitMax    uint64
	uncoreOverridden bool
	lastUncoreFreq   float64
}

// New constructs a clos-map Agent for every core on the node (discovered
// via internal/topo, falling back to the single reference core when
// discovery fails) using a default (no-op) RegionSampler. Use
// NewWithSampler to inject a real sampler or an explicit core set.
func New(p policy.Policy, hw *hwio.HardwareIO) (*Agent, error) {
	cores := []int{0}
	if layout, err := topo.Discover(); err == nil {
		flat := make([]int, 0, layout.CoreCount())
		for _, pkgCores := range layout.CoresInPackage {
			flat = append(flat, pkgCores...)
		}
		if len(flat) > 0 {
			cores = flat
		}
	}
	return NewWithSampler(p, hw, cores, NoRegionSampler{})
}

// NewWithSampler constructs a clos-map Agent for the given core set and
// region sampler.
func NewWithSampler(p policy.Policy, hw *hwio.HardwareIO, cores []int, sampler RegionSampler) (*Agent, error) {
	cmp, err := policy.DecodeClosMap(p)
	if err != nil {
		return nil, err
	}
	if err := policy.ValidateClosMapPolicy(p, cmp); err != nil {
		return nil, err
	}
	if cmp.DefaultClos < closMin || cmp.DefaultClos > closMax {
		return nil, rterrors.New(rterrors.Invalid, "clos_map default_clos out of range")
	}

	hashToClos := make(map[uint64]int, len(cmp.Entries))
	for _, e := range cmp.Entries {
		hashToClos[e.RegionHash] = e.ClosID
	}

	a := &Agent{
		p: p, hw: hw, topo: cmp, sampler: sampler,
		cores:      append([]int(nil), cores...),
		closSlot:   make([]int, len(cores)),
		lastHash:   make([]uint64, len(cores)),
		lastClos:   make([]int, len(cores)),
		hashToClos: hashToClos,
		lastUncoreFreq: math.NaN(),
	}
	for i := range a.lastClos {
		a.lastClos[i] = -1 // force the first write
	}

	for i, core := range cores {
		slot, err := hw.AddWrite(core, msrPQRAssoc)
		if err != nil {
			return nil, err
		}
		a.closSlot[i] = slot
	}

	var err2 error
	if a.uncoreSlot, err2 = hw.AddWrite(cores[0], msrUncoreRatioLimit); err2 != nil {
		return nil, err2
	}
	if raw, err := hw.Read(cores[0], msrUncoreRatioLimit); err == nil {
		a.uncoreInitMin = (raw & uncoreMinRatioMask) >> uncoreMinRatioShift
		a.uncoreInitMax = raw & uncoreMaxRatioMask
	}

	return a, nil
}

func (a *Agent) Name() policy.AgentName { return policy.AgentClosMap }
func (a *Agent) Period() time.Duration  { return time.Duration(a.p.PeriodSeconds * float64(time.Second)) }
func (a *Agent) Profile() string        { return a.p.Profile }
func (a *Agent) Params() []float64      { return a.p.Params }
func (a *Agent) MetricNames() []string  { return metricNames }

// Update samples each core's current region hash, assigns the mapped
// (or default) class of service, and applies any uncore frequency
// override, returning no telemetry (this agent is control-only).
func (a *Agent) Update(ctx context.Context) ([]float64, error) {
	dirty := false
	for i, core := range a.cores {
		sample := a.sampler.Sample(core)
		a.lastHash[i] = sample.Hash

		clos, ok := a.hashToClos[sample.Hash]
		if !ok {
			clos = a.topo.DefaultClos
		}
		if a.lastClos[i] != clos {
			a.lastClos[i] = clos
			value := uint64(clos) << pqrClosShift
			if err := a.hw.Adjust(a.closSlot[i], value, pqrClosFieldMask); err != nil {
				return nil, rterrors.Wrap(rterrors.Runtime, "clos_map agent adjust failed", err)
			}
			dirty = true
		}
	}

	uncoreChanged := a.lastUncoreFreq != a.topo.UncoreFreq &&
		!(math.IsNaN(a.lastUncoreFreq) && math.IsNaN(a.topo.UncoreFreq))
	if uncoreChanged {
		if !math.IsNaN(a.topo.UncoreFreq) {
			ratio := uint64(a.topo.UncoreFreq / busClockHz)
			value := (ratio << uncoreMinRatioShift & uncoreMinRatioMask) | (ratio & uncoreMaxRatioMask)
			if err := a.hw.Adjust(a.uncoreSlot, value, uncoreMinRatioMask|uncoreMaxRatioMask); err != nil {
				return nil, rterrors.Wrap(rterrors.Runtime, "clos_map agent uncore adjust failed", err)
			}
			a.uncoreOverridden = true
		} else if a.uncoreOverridden {
			value := (a.uncoreInitMin << uncoreMinRatioShift & uncoreMinRatioMask) | (a.uncoreInitMax & uncoreMaxRatioMask)
			if err := a.hw.Adjust(a.uncoreSlot, value, uncoreMinRatioMask|uncoreMaxRatioMask); err != nil {
				return nil, rterrors.Wrap(rterrors.Runtime, "clos_map agent uncore restore failed", err)
			}
			a.uncoreOverridden = false
		}
		a.lastUncoreFreq = a.topo.UncoreFreq
		dirty = true
	}

	if dirty {
		if err := a.hw.WriteBatch(); err != nil {
			return nil, rterrors.Wrap(rterrors.Runtime, "clos_map agent write_batch failed", err)
		}
	}

	return nil, nil
}
