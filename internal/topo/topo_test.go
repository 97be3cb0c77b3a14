package topo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoPackageCPUInfo = `processor	: 0
vendor_id	: GenuineIntel
physical id	: 0
core id		: 0

processor	: 1
vendor_id	: GenuineIntel
physical id	: 0
core id		: 1

processor	: 2
vendor_id	: GenuineIntel
physical id	: 1
core id		: 0

processor	: 3
vendor_id	: GenuineIntel
physical id	: 1
core id		: 1
`

func TestParseGroupsCoresByPackage(t *testing.T) {
	top, err := Parse(twoPackageCPUInfo)
	require.NoError(t, err)
	require.Len(t, top.CoresInPackage, 2)
	assert.Equal(t, []int{0, 1}, top.CoresInPackage[0])
	assert.Equal(t, []int{2, 3}, top.CoresInPackage[1])
	assert.Equal(t, 4, top.CoreCount())
}

const noPhysicalIDCPUInfo = `processor	: 0
vendor_id	: GenuineIntel

processor	: 1
vendor_id	: GenuineIntel
`

func TestParseFallsBackToSinglePackage(t *testing.T) {
	top, err := Parse(noPhysicalIDCPUInfo)
	require.NoError(t, err)
	require.Len(t, top.CoresInPackage, 1)
	assert.Equal(t, []int{0, 1}, top.CoresInPackage[0])
}

func TestParseRejectsEmptyInput(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)
}

func TestMaxLicenseLevel(t *testing.T) {
	assert.Equal(t, "AVX512", Features{HasAVX2: true, HasAVX512: true}.MaxLicenseLevel())
	assert.Equal(t, "AVX2", Features{HasAVX2: true}.MaxLicenseLevel())
	assert.Equal(t, "SSE", Features{}.MaxLicenseLevel())
}

func TestDetectFeaturesReturnsPlausibleValues(t *testing.T) {
	f := DetectFeatures()
	assert.GreaterOrEqual(t, f.LogicalCores, 1)
}
