package trl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcgov/rtd/internal/freqlimit"
)

func TestInitialEstimateIsSingleCoreTurbo(t *testing.T) {
	topo := freqlimit.Topology{CoresInPackage: [][]int{{0, 1}}}
	m := New(topo, 4.0e9, 2.0e9)
	limits := m.GetCoreFrequencyLimits(0)
	require.Len(t, limits, 1)
	assert.Equal(t, uint(2), limits[0].HPCount)
	assert.Equal(t, 4.0e9, limits[0].Hz)
}

func TestUpdateTakesMaxObservedAcrossPackage(t *testing.T) {
	topo := freqlimit.Topology{CoresInPackage: [][]int{{0, 1, 2}}}
	m := New(topo, 4.0e9, 2.0e9)
	m.UpdateMaxFrequencyEstimates([]float64{3.0e9, 3.8e9, 2.9e9})

	for _, core := range []int{0, 1, 2} {
		limits := m.GetCoreFrequencyLimits(core)
		require.Len(t, limits, 1)
		assert.Equal(t, uint(3), limits[0].HPCount)
		assert.Equal(t, 3.8e9, limits[0].Hz)
		assert.Equal(t, 2.0e9, m.GetCoreLowPriorityFrequency(core))
	}
}

func TestPackagesAreIndependent(t *testing.T) {
	topo := freqlimit.Topology{CoresInPackage: [][]int{{0, 1}, {2, 3}}}
	m := New(topo, 4.0e9, 2.0e9)
	m.UpdateMaxFrequencyEstimates([]float64{3.0e9, 3.2e9, 1.0e9, 1.5e9})

	assert.Equal(t, 3.2e9, m.GetCoreFrequencyLimits(0)[0].Hz)
	assert.Equal(t, 1.5e9, m.GetCoreFrequencyLimits(2)[0].Hz)
}
