// Package freqbalancer implements the frequency-balancing agent (spec
// §4.4's "Frequency-balancer agent"), grounded on
// original_source/src/FrequencyBalancerAgent.cpp: per-tick fast
// inter-epoch frequency adjustment driven by region hash/hint state,
// with a FrequencyTimeBalancer invocation at detected epoch boundaries
// and optional SST-TF class-of-service assignment.
package freqbalancer

import (
	"context"
	"math"
	"time"

	"github.com/hpcgov/rtd/internal/balancer"
	"github.com/hpcgov/rtd/internal/freqlimit"
	"github.com/hpcgov/rtd/internal/freqlimit/sst"
	"github.com/hpcgov/rtd/internal/freqlimit/trl"
	"github.com/hpcgov/rtd/internal/hwio"
	"github.com/hpcgov/rtd/internal/policy"
	"github.com/hpcgov/rtd/internal/rterrors"
	"github.com/hpcgov/rtd/internal/topo"
)

// Epoch-detection and hint-debounce constants (spec §4.4), named after
// the original_source #define constants.
const (
	minimumWaitPeriodsForNewEpochControl = 5
	minimumEpochsForNewEpochControl      = 3
	networkHintMinimumSampleLength       = 3
	nonNetworkHintMinimumSampleLength    = 1
)

// HashInvalid marks a core whose last observed region hash is unknown,
// mirroring GEOPM_REGION_HASH_INVALID.
const HashInvalid = ^uint64(0)

// RegionSample is one core's region-tracking telemetry for a tick.
type RegionSample struct {
	Hash        uint64
	NetworkHint bool
}

// RegionSampler is the out-of-scope external collaborator (spec §1:
// "process/region aggregation ... used only through the contracts
// listed in §6") this agent consumes but does not own: it supplies
// per-core region hash/hint and an application-defined epoch counter.
type RegionSampler interface {
	Sample(core int) RegionSample
	// EpochCount returns the cumulative application epoch count, or NaN
	// if no epoch instrumentation is available.
	EpochCount() float64
}

// NoRegionSampler is the default RegionSampler: it reports every core
// as having no region instrumentation (invalid hash, no epoch
// boundaries), so the agent runs permanently in the fast inter-epoch
// adjustment path driving every core to its cutoff frequency.
type NoRegionSampler struct{}

func (NoRegionSampler) Sample(int) RegionSample { return RegionSample{Hash: HashInvalid} }
func (NoRegionSampler) EpochCount() float64     { return math.NaN() }

const (
	msrIA32MPerf  = 0xE7
	msrIA32APerf  = 0xE8
	msrIA32PerfCtl = 0x199
	perfCtlRatioMask = 0xFF00
	busClockHz       = 100.0e6

	uncertaintyWindowSeconds = 0.005 // M_UNCERTAINTY_WINDOW_SECONDS = 1x M_WAIT_SEC
)

// Frequency bounds: no topology/capability discovery is wired yet, so
// these are fixed defaults. The minimum and step match
// internal/config.Default; the maximum (3.5 GHz) is above
// config.Default's MaxFrequencyHz (3.0 GHz).
const (
	frequencyMinHz  = 1.0e9
	frequencyMaxHz  = 3.5e9
	frequencyStepHz = 1.0e8
	frequencyStickerHz = 2.2e9
)

type epochState struct {
	acnt, mcnt                 float64
	currentEpochMaxFrequencyHz float64
	lastEpochMaxFrequencyHz    float64
	lastEpochFrequencyHz       float64
	lastEpochNetworkTime       float64
	lastEpochNonNetworkTimeDiff float64
}

// Agent is the frequency-balancer control strategy.
type Agent struct {
	p    policy.Policy
	hw   *hwio.HardwareIO
	topo freqlimit.Topology

	sampler RegionSampler
	model   freqlimit.Model
	bal     *balancer.Balancer

	useFrequencyLimits bool
	useSSTTF           bool

	mperfSlot []int
	aperfSlot []int
	freqSlot  []int

	lastHash          []uint64
	networkHintLen    []int
	nonNetworkHintLen []int
	lastCtlFrequency  []float64
	lastCtlClos       []int
	epochs            []epochState

	lastEpochCount float64
	epochWaitCount int
	lastUpdateTime time.Time
	handleNewEpoch bool
}

func coreCount(topo freqlimit.Topology) int { return topo.CoreCount() }

// New constructs a frequency-balancer Agent using a default (no-op)
// RegionSampler and the node's real package/core layout, discovered via
// internal/topo. Falls back to a single-core topology when discovery
// fails (e.g. /proc/cpuinfo unavailable, as in some test sandboxes).
// Use NewWithSampler to inject an explicit topology or a real sampler.
func New(p policy.Policy, hw *hwio.HardwareIO) (*Agent, error) {
	layout, err := topo.Discover()
	if err != nil {
		layout = freqlimit.Topology{CoresInPackage: [][]int{{0}}}
	}
	return NewWithSampler(p, hw, layout, NoRegionSampler{})
}

// NewWithSampler constructs a frequency-balancer Agent for the given
// topology and region sampler.
func NewWithSampler(p policy.Policy, hw *hwio.HardwareIO, topo freqlimit.Topology, sampler RegionSampler) (*Agent, error) {
	if err := policy.Validate(p); err != nil {
		return nil, err
	}
	useFreqLimits := true
	useSSTTF := false
	if len(p.Params) > 1 && !math.IsNaN(p.Params[1]) {
		useFreqLimits = p.Params[1] != 0
	}
	if len(p.Params) > 2 && !math.IsNaN(p.Params[2]) {
		useSSTTF = p.Params[2] != 0
	}
	if !useFreqLimits && !useSSTTF {
		return nil, rterrors.New(rterrors.Invalid, "frequency_balancer policy must allow at least one of frequency limits or SST-TF")
	}

	n := coreCount(topo)
	a := &Agent{
		p: p, hw: hw, topo: topo, sampler: sampler,
		useFrequencyLimits: useFreqLimits,
		useSSTTF:           useSSTTF,
		mperfSlot:          make([]int, n),
		aperfSlot:          make([]int, n),
		freqSlot:           make([]int, n),
		lastHash:           make([]uint64, n),
		networkHintLen:     make([]int, n),
		nonNetworkHintLen:  make([]int, n),
		lastCtlFrequency:   make([]float64, n),
		lastCtlClos:        make([]int, n),
		epochs:             make([]epochState, n),
		lastEpochCount:     math.NaN(),
		epochWaitCount:     minimumEpochsForNewEpochControl,
	}

	var sstModel *sst.Model
	if useSSTTF {
		sstModel = sst.New(topo, sst.Config{AllCoreTurboHz: frequencyMaxHz, StickerHz: frequencyStickerHz})
		a.model = sstModel
	} else {
		a.model = trl.New(topo, frequencyMaxHz, frequencyStickerHz)
	}

	ignore := func(core int) bool {
		return core < 0 || core >= len(a.lastHash) ||
			a.lastHash[core] == HashInvalid
	}
	a.bal = balancer.New(uncertaintyWindowSeconds, len(topo.CoresInPackage), ignore, frequencyMinHz, frequencyMaxHz, a.model)

	for core := 0; core < n; core++ {
		a.lastCtlFrequency[core] = frequencyMaxHz
		a.epochs[core].currentEpochMaxFrequencyHz = frequencyMinHz
		a.epochs[core].lastEpochMaxFrequencyHz = math.NaN()
		a.epochs[core].lastEpochFrequencyHz = math.NaN()

		var err error
		if a.mperfSlot[core], err = hw.AddRead(core, msrIA32MPerf); err != nil {
			return nil, err
		}
		if a.aperfSlot[core], err = hw.AddRead(core, msrIA32APerf); err != nil {
			return nil, err
		}
		if a.freqSlot[core], err = hw.AddWrite(core, msrIA32PerfCtl); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *Agent) Name() policy.AgentName { return policy.AgentFrequencyBalancer }
func (a *Agent) Period() time.Duration  { return time.Duration(a.p.PeriodSeconds * float64(time.Second)) }
func (a *Agent) Profile() string        { return a.p.Profile }
func (a *Agent) Params() []float64      { return a.p.Params }
func (a *Agent) MetricNames() []string  { return nil }

// Update samples aperf/mperf and region hash/hint per core, detects
// epoch boundaries, and writes the resulting per-core frequency
// controls (and, if enabled, CLOS assignment).
func (a *Agent) Update(ctx context.Context) ([]float64, error) {
	if err := a.hw.ReadBatch(); err != nil {
		return nil, rterrors.Wrap(rterrors.Runtime, "frequency_balancer agent read_batch failed", err)
	}

	n := len(a.lastHash)
	for core := 0; core < n; core++ {
		sample := a.sampler.Sample(core)
		a.lastHash[core] = sample.Hash
		if sample.NetworkHint {
			a.networkHintLen[core]++
			a.nonNetworkHintLen[core] = 0
		} else {
			a.networkHintLen[core] = 0
			a.nonNetworkHintLen[core]++
		}

		mperf, err1 := a.hw.Sample(a.mperfSlot[core])
		aperf, err2 := a.hw.Sample(a.aperfSlot[core])
		if err1 != nil || err2 != nil {
			return nil, rterrors.New(rterrors.Runtime, "frequency_balancer agent: incomplete batch sample")
		}

		prevAcnt, prevMcnt := a.epochs[core].acnt, a.epochs[core].mcnt
		a.epochs[core].acnt = float64(aperf)
		a.epochs[core].mcnt = float64(mperf)
		mcntDelta := a.epochs[core].mcnt - prevMcnt
		if mcntDelta > 0 {
			freq := (a.epochs[core].acnt - prevAcnt) / mcntDelta * frequencyStickerHz
			if freq > a.epochs[core].currentEpochMaxFrequencyHz {
				a.epochs[core].currentEpochMaxFrequencyHz = freq
			}
		}
	}

	epochCount := a.sampler.EpochCount()
	countedEpochs := epochCount - a.lastEpochCount
	now := time.Now()
	if !math.IsNaN(epochCount) && !math.IsNaN(a.lastEpochCount) && countedEpochs >= float64(a.epochWaitCount) {
		elapsed := now.Sub(a.lastUpdateTime).Seconds()
		if elapsed < float64(minimumWaitPeriodsForNewEpochControl)*a.Period().Seconds() {
			a.epochWaitCount++
		} else {
			for core := 0; core < n; core++ {
				e := &a.epochs[core]
				networkTimeDiff := 0.0 // no TIME_HINT_NETWORK signal wired; treat as 0
				e.lastEpochNonNetworkTimeDiff = math.Max(0, elapsed-networkTimeDiff) / countedEpochs
				e.lastEpochFrequencyHz = e.currentEpochMaxFrequencyHz
				e.lastEpochMaxFrequencyHz, e.currentEpochMaxFrequencyHz = e.currentEpochMaxFrequencyHz, frequencyMinHz
			}
			a.lastUpdateTime = now
			a.lastEpochCount = epochCount
			a.epochWaitCount = minimumEpochsForNewEpochControl
			a.handleNewEpoch = true
		}
	} else if math.IsNaN(a.lastEpochCount) {
		a.lastEpochCount = epochCount
	}

	frequencyByCore := append([]float64(nil), a.lastCtlFrequency...)
	if a.handleNewEpoch {
		a.handleNewEpoch = false
		times := make([]float64, n)
		achieved := make([]float64, n)
		maxFreqs := make([]float64, n)
		for core := 0; core < n; core++ {
			times[core] = a.epochs[core].lastEpochNonNetworkTimeDiff
			achieved[core] = a.epochs[core].lastEpochFrequencyHz
			maxFreqs[core] = a.epochs[core].lastEpochMaxFrequencyHz
		}
		frequencyByCore = a.bal.Balance(times, a.lastCtlFrequency, achieved, maxFreqs)
		for core := range frequencyByCore {
			if a.lastCtlFrequency[core] > frequencyByCore[core] {
				frequencyByCore[core] = math.Ceil(frequencyByCore[core]/frequencyStepHz) * frequencyStepHz
			} else {
				frequencyByCore[core] = math.Floor(frequencyByCore[core]/frequencyStepHz) * frequencyStepHz
			}
		}
		a.lastCtlFrequency = frequencyByCore
	}

	immediate := append([]float64(nil), frequencyByCore...)
	for _, cores := range a.topo.CoresInPackage {
		hpNotWaiting := 0
		for _, core := range cores {
			switch {
			case a.lastHash[core] == HashInvalid:
				immediate[core] = a.bal.GetCutoffFrequency(core)
			case a.networkHintLen[core] >= networkHintMinimumSampleLength:
				immediate[core] = a.bal.GetCutoffFrequency(core)
			case immediate[core] >= frequencyMaxHz:
				hpNotWaiting++
			}
		}
		if hpNotWaiting == 0 {
			for _, core := range cores {
				if a.lastHash[core] != HashInvalid &&
					a.nonNetworkHintLen[core] >= nonNetworkHintMinimumSampleLength {
					immediate[core] = frequencyMaxHz
				}
			}
		}
	}

	if a.useSSTTF {
		for core := 0; core < n; core++ {
			if immediate[core] > a.bal.GetCutoffFrequency(core) {
				a.lastCtlClos[core] = sst.HighPriority
			} else {
				a.lastCtlClos[core] = sst.LowPriority
			}
		}
		if m, ok := a.model.(*sst.Model); ok {
			m.SetCoreClos(a.lastCtlClos)
		}
	}

	if a.useFrequencyLimits {
		for core := 0; core < n; core++ {
			ratio := uint64(immediate[core] / busClockHz)
			if err := a.hw.Adjust(a.freqSlot[core], (ratio<<8)&perfCtlRatioMask, perfCtlRatioMask); err != nil {
				return nil, rterrors.Wrap(rterrors.Runtime, "frequency_balancer agent adjust failed", err)
			}
		}
		if err := a.hw.WriteBatch(); err != nil {
			return nil, rterrors.Wrap(rterrors.Runtime, "frequency_balancer agent write_batch failed", err)
		}
	}

	return nil, nil
}
