package sst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcgov/rtd/internal/freqlimit"
)

// TestS6BucketInference implements spec scenario S6: with HP-core-count
// bucket table {2->3.6, 3->3.3, 4->3.0} (SSE), {2->3.5, ...} (AVX2),
// {2->3.4, ...} (AVX512), HP count = 2 (bucket 0), observed core0 = 3.55
// GHz, core1 = 3.2 GHz: core0 -> SSE tradeoffs with LP = LP_SSE; core1 ->
// AVX512 tradeoffs with LP = LP_AVX512.
func TestS6BucketInference(t *testing.T) {
	cfg := Config{
		Buckets: []Bucket{
			{HPCores: 2, SSEHz: 3.6e9, AVX2Hz: 3.5e9, AVX512Hz: 3.4e9},
			{HPCores: 3, SSEHz: 3.3e9, AVX2Hz: 3.2e9, AVX512Hz: 3.1e9},
			{HPCores: 4, SSEHz: 3.0e9, AVX2Hz: 2.9e9, AVX512Hz: 2.8e9},
		},
		LowPrioritySSEHz:    2.0e9,
		LowPriorityAVX2Hz:   1.9e9,
		LowPriorityAVX512Hz: 1.8e9,
		AllCoreTurboHz:      2.5e9,
		StickerHz:           2.2e9,
	}
	topo := freqlimit.Topology{CoresInPackage: [][]int{{0, 1}}}
	m := New(topo, cfg)
	m.SetPackageEnabled([]bool{true})
	// HP count = 2: both cores at HIGH_PRIORITY (<= MEDIUM_HIGH_PRIORITY).
	m.SetCoreClos([]int{HighPriority, HighPriority})

	m.UpdateMaxFrequencyEstimates([]float64{3.55e9, 3.2e9})

	core0 := m.GetCoreFrequencyLimits(0)
	require.Len(t, core0, 3)
	assert.Equal(t, 3.6e9, core0[0].Hz)
	assert.Equal(t, 2.0e9, m.GetCoreLowPriorityFrequency(0))

	core1 := m.GetCoreFrequencyLimits(1)
	require.Len(t, core1, 3)
	assert.Equal(t, 3.4e9, core1[0].Hz)
	assert.Equal(t, 1.8e9, m.GetCoreLowPriorityFrequency(1))
}

func TestTradeoffsSortedByHPCountAscending(t *testing.T) {
	cfg := Config{
		Buckets: []Bucket{
			{HPCores: 2, SSEHz: 3.6e9},
			{HPCores: 4, SSEHz: 3.0e9},
		},
		AllCoreTurboHz: 2.5e9,
	}
	topo := freqlimit.Topology{CoresInPackage: [][]int{{0}}}
	m := New(topo, cfg)
	m.SetPackageEnabled([]bool{true})
	m.SetCoreClos([]int{HighPriority})
	m.UpdateMaxFrequencyEstimates([]float64{3.6e9})

	limits := m.GetCoreFrequencyLimits(0)
	for i := 1; i < len(limits); i++ {
		assert.True(t, limits[i-1].HPCount < limits[i].HPCount)
		assert.True(t, limits[i-1].Hz >= limits[i].Hz)
	}
}

func TestDisabledPackageFallsBackToObservedMax(t *testing.T) {
	cfg := Config{StickerHz: 2.2e9}
	topo := freqlimit.Topology{CoresInPackage: [][]int{{0, 1}}}
	m := New(topo, cfg)
	m.SetPackageEnabled([]bool{false})

	m.UpdateMaxFrequencyEstimates([]float64{3.0e9, 3.4e9})

	for _, core := range []int{0, 1} {
		limits := m.GetCoreFrequencyLimits(core)
		require.Len(t, limits, 1)
		assert.Equal(t, 3.4e9, limits[0].Hz)
		assert.Equal(t, 2.2e9, m.GetCoreLowPriorityFrequency(core))
	}
}
