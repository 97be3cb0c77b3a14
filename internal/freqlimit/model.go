// Package freqlimit defines the FrequencyLimitModel contract (spec
// §4.2): refreshing per-core maximum-achievable-frequency estimates from
// an observation window and reporting the tradeoff curve between
// high-priority core count and achievable frequency. Two
// implementations live in the trl and sst subpackages.
package freqlimit

// Tradeoff is one (hp_count, achievable_hz) point on a core's tradeoff
// curve (spec §3's FrequencyLimit entity).
type Tradeoff struct {
	HPCount uint
	Hz      float64
}

// Model is the common contract both the TRL and SST-TF detectors satisfy.
type Model interface {
	// UpdateMaxFrequencyEstimates refreshes internal estimates from the
	// most recent per-core observation window, indexed by core.
	UpdateMaxFrequencyEstimates(observedPerCoreHz []float64)
	// GetCoreFrequencyLimits returns core's tradeoff points, sorted by
	// increasing HPCount with frequencies monotonically non-increasing
	// in HPCount (spec §3 invariant).
	GetCoreFrequencyLimits(core int) []Tradeoff
	// GetCoreLowPriorityFrequency returns core's low-priority frequency.
	GetCoreLowPriorityFrequency(core int) float64
}

// Topology describes the package/core layout a Model needs to group
// cores for per-package frequency estimation.
type Topology struct {
	// CoresInPackage maps package index to the core indices it contains.
	CoresInPackage [][]int
}

// CoreCount returns the total number of cores across all packages.
func (t Topology) CoreCount() int {
	n := 0
	for _, cores := range t.CoresInPackage {
		n += len(cores)
	}
	return n
}
