// Package balancer implements the frequency-time balancer (spec §4.3):
// given each core's observed region time, achieved frequency, and
// previous control frequency, it redistributes frequency headroom so
// that lagging cores get more of it, grounded on
// original_source/src/FrequencyTimeBalancer.cpp's
// balance_frequencies_by_time.
package balancer

import (
	"math"
	"sort"

	"github.com/hpcgov/rtd/internal/freqlimit"
)

// Balancer redistributes per-core frequency controls by balancing
// observed region time across subdomain groups (e.g. packages).
type Balancer struct {
	uncertaintyWindowSeconds float64
	subdomainGroupCount      int
	ignoreDomain             func(idx int) bool
	minFrequencyHz           float64
	maxFrequencyHz           float64
	model                    freqlimit.Model

	targetTimes      []float64
	cutoffFrequencies []float64
}

// New constructs a Balancer. ignoreDomain, when non-nil, reports
// whether a core index should be excluded from balancing (e.g. an
// offline core); a nil func never ignores.
func New(
	uncertaintyWindowSeconds float64,
	subdomainGroupCount int,
	ignoreDomain func(idx int) bool,
	minFrequencyHz, maxFrequencyHz float64,
	model freqlimit.Model,
) *Balancer {
	if ignoreDomain == nil {
		ignoreDomain = func(int) bool { return false }
	}
	return &Balancer{
		uncertaintyWindowSeconds: uncertaintyWindowSeconds,
		subdomainGroupCount:      subdomainGroupCount,
		ignoreDomain:             ignoreDomain,
		minFrequencyHz:           minFrequencyHz,
		maxFrequencyHz:           maxFrequencyHz,
		model:                    model,
		targetTimes:              fillNaN(subdomainGroupCount),
		cutoffFrequencies:        fillNaN(subdomainGroupCount),
	}
}

func fillNaN(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// GetTargetTimes returns the last-computed per-group balance target time.
func (b *Balancer) GetTargetTimes() []float64 {
	return b.targetTimes
}

// GetCutoffFrequency returns the low-priority cutoff frequency the
// underlying model reports for core.
func (b *Balancer) GetCutoffFrequency(core int) float64 {
	return b.model.GetCoreLowPriorityFrequency(core)
}

// Balance computes the new per-core desired control frequencies. All
// four slices must be the same length, indexed by core.
func (b *Balancer) Balance(
	previousTimes, previousControlFrequencies, previousAchievedFrequencies, previousMaxFrequencies []float64,
) []float64 {
	b.model.UpdateMaxFrequencyEstimates(previousMaxFrequencies)

	domainCountPerGroup := len(previousControlFrequencies) / b.subdomainGroupCount
	desiredFrequencies := append([]float64(nil), previousControlFrequencies...)

	idx := make([]int, len(previousTimes))
	for i := range idx {
		idx[i] = i
	}

	// Argsort each group by decreasing lagginess: cycles-in-region
	// (time * achieved frequency), not raw time. Unrecorded/ignored
	// domains sort to the end.
	for g := 0; g < b.subdomainGroupCount; g++ {
		lo, hi := g*domainCountPerGroup, (g+1)*domainCountPerGroup
		group := idx[lo:hi]
		sort.SliceStable(group, func(i, j int) bool {
			lhs, rhs := group[i], group[j]
			lhsOut := math.IsNaN(previousTimes[lhs]) || b.ignoreDomain(lhs)
			rhsOut := math.IsNaN(previousTimes[rhs]) || b.ignoreDomain(rhs)
			if lhsOut {
				return false
			}
			if rhsOut {
				return true
			}
			return previousTimes[lhs]*previousAchievedFrequencies[lhs] >
				previousTimes[rhs]*previousAchievedFrequencies[rhs]
		})
	}

	for g := 0; g < b.subdomainGroupCount; g++ {
		lo, hi := g*domainCountPerGroup, (g+1)*domainCountPerGroup

		anyAtMax := false
		for _, f := range previousControlFrequencies[lo:hi] {
			if f >= b.maxFrequencyHz {
				anyAtMax = true
				break
			}
		}
		if !anyAtMax {
			// No core was unlimited last iteration: reset to baseline so
			// the next iteration has a better-informed decision.
			for i := lo; i < hi; i++ {
				desiredFrequencies[i] = b.maxFrequencyHz
			}
			continue
		}

		laggerTime := previousTimes[idx[lo]]

		// Reference core: the slowest recently-unlimited index, so we
		// don't balance against a frequency-limited core whose limit may
		// have been set too low.
		referenceCoreIdx := idx[lo]
		for _, i := range idx[lo:hi] {
			if !b.ignoreDomain(i) && previousControlFrequencies[i] >= b.maxFrequencyHz {
				referenceCoreIdx = i
				break
			}
		}

		balanceTargetTime := previousTimes[referenceCoreIdx]
		hpFrequenciesByCoreCount := b.model.GetCoreFrequencyLimits(referenceCoreIdx)
		referenceLPFrequency := b.GetCutoffFrequency(referenceCoreIdx)
		referenceCoreHPCutoff := b.minFrequencyHz

		for _, tradeoff := range hpFrequenciesByCoreCount {
			hpCount := tradeoff.HPCount
			hpFrequency := tradeoff.Hz

			laggiestHighPriorityTime := laggerTime * previousAchievedFrequencies[idx[lo]] / hpFrequency
			if int(hpCount) < domainCountPerGroup {
				laggiestLPIdx := idx[lo+int(hpCount)]
				laggiestLowPriorityTime := previousTimes[laggiestLPIdx] *
					previousAchievedFrequencies[laggiestLPIdx] / referenceLPFrequency
				predictedLongPole := math.Max(laggiestLowPriorityTime, laggiestHighPriorityTime)
				if predictedLongPole < balanceTargetTime {
					balanceTargetTime = predictedLongPole
					referenceCoreHPCutoff = referenceLPFrequency
				}
			} else if laggiestHighPriorityTime < balanceTargetTime {
				balanceTargetTime = laggiestHighPriorityTime
				referenceCoreHPCutoff = referenceLPFrequency
			}
		}

		b.cutoffFrequencies[g] = referenceCoreHPCutoff
		b.targetTimes[g] = balanceTargetTime

		maxGroupFrequency := b.minFrequencyHz
		for i := lo; i < hi; i++ {
			ctlIdx := idx[i]
			desiredFrequency := previousAchievedFrequencies[ctlIdx] * previousTimes[ctlIdx] / b.targetTimes[g]
			isLP := desiredFrequency <= referenceCoreHPCutoff
			desiredFrequency += desiredFrequency * b.uncertaintyWindowSeconds / balanceTargetTime
			if isLP {
				desiredFrequency = math.Min(desiredFrequency, referenceCoreHPCutoff)
			}

			if !b.ignoreDomain(ctlIdx) && !math.IsNaN(desiredFrequency) {
				desiredFrequencies[ctlIdx] = clamp(desiredFrequency, b.minFrequencyHz, b.maxFrequencyHz)
				if desiredFrequencies[ctlIdx] > maxGroupFrequency {
					maxGroupFrequency = desiredFrequencies[ctlIdx]
				}
			}
		}

		if maxGroupFrequency < b.maxFrequencyHz {
			// Nobody reached the ceiling: scale the group up so the
			// highest-frequency core in it sits at the maximum allowed
			// frequency. Cores above the cutoff scale freely; cores at or
			// below it are scaled too but stay capped at the cutoff.
			frequencyScale := b.maxFrequencyHz / maxGroupFrequency
			for i := lo; i < hi; i++ {
				orderedCtlIdx := idx[i]
				if b.ignoreDomain(orderedCtlIdx) || math.IsNaN(desiredFrequencies[orderedCtlIdx]) {
					continue
				}
				if desiredFrequencies[orderedCtlIdx] > referenceCoreHPCutoff {
					desiredFrequencies[orderedCtlIdx] = clamp(
						desiredFrequencies[orderedCtlIdx]*frequencyScale, b.minFrequencyHz, b.maxFrequencyHz)
				} else {
					desiredFrequencies[orderedCtlIdx] = math.Min(referenceCoreHPCutoff,
						math.Max(b.minFrequencyHz, desiredFrequencies[orderedCtlIdx]*frequencyScale))
				}
			}
		}
	}

	return desiredFrequencies
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
