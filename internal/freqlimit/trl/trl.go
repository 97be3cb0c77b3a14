// Package trl implements the TRL (Turbo Ratio Limit) frequency-limit
// model: a single package-wide tradeoff point reused for every core in
// the package, grounded on
// original_source/src/TRLFrequencyLimitDetector.cpp.
package trl

import "github.com/hpcgov/rtd/internal/freqlimit"

// Model estimates, per package, max_hz = max(observed per core in
// package) and reports it as the single tradeoff
// [(cores_in_package, max_hz)] for every core in that package; the
// low-priority frequency is always the sticker frequency (spec §4.2).
type Model struct {
	topo       freqlimit.Topology
	stickerHz  float64
	maxHz      float64 // initial assumption before the first estimate
	coreToPkg  []int
	tradeoffs  [][]freqlimit.Tradeoff
	lpFreq     []float64
}

// New constructs a TRL model. maxHz seeds every core's initial tradeoff
// before the first UpdateMaxFrequencyEstimates call (spec §4.2: "Initially
// assume we can reach single-core turbo limits").
func New(topo freqlimit.Topology, maxHz, stickerHz float64) *Model {
	n := topo.CoreCount()
	m := &Model{
		topo:      topo,
		stickerHz: stickerHz,
		maxHz:     maxHz,
		coreToPkg: make([]int, n),
		tradeoffs: make([][]freqlimit.Tradeoff, n),
		lpFreq:    make([]float64, n),
	}
	for pkgIdx, cores := range topo.CoresInPackage {
		for _, core := range cores {
			m.coreToPkg[core] = pkgIdx
			m.tradeoffs[core] = []freqlimit.Tradeoff{{HPCount: uint(len(cores)), Hz: maxHz}}
			m.lpFreq[core] = stickerHz
		}
	}
	return m
}

func (m *Model) UpdateMaxFrequencyEstimates(observedPerCoreHz []float64) {
	for _, cores := range m.topo.CoresInPackage {
		if len(cores) == 0 {
			continue
		}
		maxHz := observedPerCoreHz[cores[0]]
		for _, core := range cores[1:] {
			if observedPerCoreHz[core] > maxHz {
				maxHz = observedPerCoreHz[core]
			}
		}
		for _, core := range cores {
			m.tradeoffs[core] = []freqlimit.Tradeoff{{HPCount: uint(len(cores)), Hz: maxHz}}
			m.lpFreq[core] = m.stickerHz
		}
	}
}

func (m *Model) GetCoreFrequencyLimits(core int) []freqlimit.Tradeoff {
	return m.tradeoffs[core]
}

func (m *Model) GetCoreLowPriorityFrequency(core int) float64 {
	return m.lpFreq[core]
}
