package policy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcgov/rtd/internal/rterrors"
)

func TestValidateRejectsNegativePeriod(t *testing.T) {
	err := Validate(Policy{Agent: AgentMonitor, PeriodSeconds: -1})
	require.Error(t, err)
	assert.True(t, rterrors.Is(err, rterrors.Invalid))
}

func TestValidateAcceptsZeroPeriod(t *testing.T) {
	err := Validate(Policy{Agent: AgentMonitor, PeriodSeconds: 0})
	assert.NoError(t, err)
}

func TestValidateRejectsUnknownAgent(t *testing.T) {
	err := Validate(Policy{Agent: "bogus", PeriodSeconds: 1})
	require.Error(t, err)
	assert.True(t, rterrors.Is(err, rterrors.Invalid))
}

func TestDecodeClosMapRejectsOddParams(t *testing.T) {
	_, err := DecodeClosMap(Policy{Agent: AgentClosMap, Params: []float64{1, 2, 3}})
	require.Error(t, err)
}

func TestDecodeClosMapRejectsNaNHashWithConcreteClos(t *testing.T) {
	_, err := DecodeClosMap(Policy{
		Agent:  AgentClosMap,
		Params: []float64{math.NaN(), 3, 0, 0},
	})
	require.Error(t, err)
}

func TestValidateClosMapRejectsDuplicateHash(t *testing.T) {
	p := Policy{Agent: AgentClosMap, PeriodSeconds: 1}
	c := ClosMapPolicy{
		Entries: []ClosMapEntry{
			{RegionHash: 42, ClosID: 1},
			{RegionHash: 42, ClosID: 2},
		},
		DefaultClos: 0,
		UncoreFreq:  math.NaN(),
	}
	err := ValidateClosMapPolicy(p, c)
	require.Error(t, err)
}

func TestDecodeClosMapHappyPath(t *testing.T) {
	c, err := DecodeClosMap(Policy{
		Agent:  AgentClosMap,
		Params: []float64{10, 1, 20, 2, 0, math.NaN()},
	})
	require.NoError(t, err)
	assert.Len(t, c.Entries, 2)
	assert.Equal(t, uint64(10), c.Entries[0].RegionHash)
	assert.Equal(t, 1, c.Entries[0].ClosID)
	assert.True(t, math.IsNaN(c.UncoreFreq))
}
