// Package sst implements the SST-TF (Speed Select Technology - Turbo
// Frequency) frequency-limit model: firmware bucket tables keyed by
// high-priority core count, with per-core instruction-set license
// inference from observed frequency, grounded on
// original_source/src/SSTFrequencyLimitDetector.cpp.
package sst

import "github.com/hpcgov/rtd/internal/freqlimit"

// Bucket is one firmware-reported (hp_core_count, frequency) row for one
// instruction-set license level.
type Bucket struct {
	HPCores   uint
	SSEHz     float64
	AVX2Hz    float64
	AVX512Hz  float64
}

// Config carries the firmware-reported constants the model is built
// from (spec §4.2): bucket table ordered ascending by HPCores, the
// per-license low-priority frequencies, the all-core turbo frequency
// used when the HP core count exceeds every bucket, and the sticker
// frequency used when SST-TF is disabled for a package.
type Config struct {
	Buckets              []Bucket
	LowPrioritySSEHz     float64
	LowPriorityAVX2Hz    float64
	LowPriorityAVX512Hz  float64
	AllCoreTurboHz       float64
	StickerHz            float64
}

// Model implements freqlimit.Model with SST-TF bucket-table inference.
// Per-core CLOS association, needed to count high-priority cores per
// package, and per-package SST-TF enablement are supplied separately via
// SetCoreClos/SetPackageEnabled since they are agent-owned control state
// rather than observed telemetry (spec §4.4's frequency-balancer agent
// assigns CLOS; this model only consumes it).
type Model struct {
	topo   freqlimit.Topology
	cfg    Config

	coreClos   []int  // HIGH_PRIORITY=0 .. LOW_PRIORITY=3, per core
	pkgEnabled []bool // SST-TF enabled, per package

	tradeoffs [][]freqlimit.Tradeoff
	lpFreq    []float64
}

// Priority levels mirror SSTFrequencyLimitDetector.cpp's Priorities enum.
const (
	HighPriority       = 0
	MediumHighPriority = 1
	MediumLowPriority  = 2
	LowPriority        = 3
)

// New constructs an SST-TF model. Every core starts at the all-core
// tradeoff using cfg.AllCoreTurboHz until the first
// UpdateMaxFrequencyEstimates call.
func New(topo freqlimit.Topology, cfg Config) *Model {
	n := topo.CoreCount()
	m := &Model{
		topo:       topo,
		cfg:        cfg,
		coreClos:   make([]int, n),
		pkgEnabled: make([]bool, len(topo.CoresInPackage)),
		tradeoffs:  make([][]freqlimit.Tradeoff, n),
		lpFreq:     make([]float64, n),
	}
	for _, cores := range topo.CoresInPackage {
		for _, core := range cores {
			m.tradeoffs[core] = []freqlimit.Tradeoff{{HPCount: uint(len(cores)), Hz: cfg.AllCoreTurboHz}}
			m.lpFreq[core] = cfg.StickerHz
		}
	}
	return m
}

// SetCoreClos records the current CLOS association per core, used to
// count high-priority cores per package on the next update.
func (m *Model) SetCoreClos(perCoreClos []int) {
	copy(m.coreClos, perCoreClos)
}

// SetPackageEnabled records whether SST-TF is enabled per package.
func (m *Model) SetPackageEnabled(perPackageEnabled []bool) {
	copy(m.pkgEnabled, perPackageEnabled)
}

func (m *Model) hpTradeoffs(field func(Bucket) float64) []freqlimit.Tradeoff {
	out := make([]freqlimit.Tradeoff, len(m.cfg.Buckets))
	for i, b := range m.cfg.Buckets {
		out[i] = freqlimit.Tradeoff{HPCount: b.HPCores, Hz: field(b)}
	}
	return out
}

func (m *Model) UpdateMaxFrequencyEstimates(observedPerCoreHz []float64) {
	for pkgIdx, cores := range m.topo.CoresInPackage {
		if len(cores) == 0 {
			continue
		}
		if pkgIdx < len(m.pkgEnabled) && m.pkgEnabled[pkgIdx] {
			m.updateEnabledPackage(cores, observedPerCoreHz)
		} else {
			m.updateDisabledPackage(cores, observedPerCoreHz)
		}
	}
}

func (m *Model) updateEnabledPackage(cores []int, observed []float64) {
	hpCount := 0
	for _, core := range cores {
		if m.coreClos[core] <= MediumHighPriority {
			hpCount++
		}
	}

	var sseFreq, avx2Freq, avx512Freq float64
	bucketIdx := -1
	for i, b := range m.cfg.Buckets {
		if uint(hpCount) <= b.HPCores {
			bucketIdx = i
			break
		}
	}
	if bucketIdx < 0 {
		sseFreq = m.cfg.AllCoreTurboHz
		avx2Freq = m.cfg.AllCoreTurboHz
		avx512Freq = m.cfg.AllCoreTurboHz
	} else {
		b := m.cfg.Buckets[bucketIdx]
		sseFreq, avx2Freq, avx512Freq = b.SSEHz, b.AVX2Hz, b.AVX512Hz
	}

	sseTradeoffs := m.hpTradeoffs(func(b Bucket) float64 { return b.SSEHz })
	avx2Tradeoffs := m.hpTradeoffs(func(b Bucket) float64 { return b.AVX2Hz })
	avx512Tradeoffs := m.hpTradeoffs(func(b Bucket) float64 { return b.AVX512Hz })

	for _, core := range cores {
		observedHz := observed[core]
		// Two neighboring bins in the SST-TF table might or might not be
		// equal, so check both (original_source comment, reproduced).
		switch {
		case observedHz > avx2Freq || observedHz >= sseFreq:
			m.tradeoffs[core] = sseTradeoffs
			m.lpFreq[core] = m.cfg.LowPrioritySSEHz
		case observedHz > avx512Freq || observedHz >= avx2Freq:
			m.tradeoffs[core] = avx2Tradeoffs
			m.lpFreq[core] = m.cfg.LowPriorityAVX2Hz
		default:
			m.tradeoffs[core] = avx512Tradeoffs
			m.lpFreq[core] = m.cfg.LowPriorityAVX512Hz
		}
	}
}

func (m *Model) updateDisabledPackage(cores []int, observed []float64) {
	maxHz := observed[cores[0]]
	for _, core := range cores[1:] {
		if observed[core] > maxHz {
			maxHz = observed[core]
		}
	}
	for _, core := range cores {
		m.tradeoffs[core] = []freqlimit.Tradeoff{{HPCount: uint(len(cores)), Hz: maxHz}}
		m.lpFreq[core] = m.cfg.StickerHz
	}
}

func (m *Model) GetCoreFrequencyLimits(core int) []freqlimit.Tradeoff {
	return m.tradeoffs[core]
}

func (m *Model) GetCoreLowPriorityFrequency(core int) float64 {
	return m.lpFreq[core]
}
