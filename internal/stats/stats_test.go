package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcgov/rtd/internal/rterrors"
)

func TestZeroCountYieldsNaN(t *testing.T) {
	s := New([]string{"cpu-power W"})
	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, math.IsNaN(snap[0].Mean))
	assert.True(t, math.IsNaN(snap[0].Min))
	assert.Equal(t, uint64(0), snap[0].Count)
}

func TestUpdateRejectsWrongLength(t *testing.T) {
	s := New([]string{"a", "b"})
	err := s.Update([]float64{1})
	require.Error(t, err)
	assert.True(t, rterrors.Is(err, rterrors.Invalid))
}

func TestMeanAndStdMatchKnownSeries(t *testing.T) {
	s := New([]string{"x"})
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		require.NoError(t, s.Update([]float64{v}))
	}
	snap := s.Snapshot()[0]
	assert.Equal(t, uint64(8), snap.Count)
	assert.InDelta(t, 5.0, snap.Mean, 1e-9)
	assert.InDelta(t, 2.13809, snap.Std, 1e-4)
	assert.Equal(t, 2.0, snap.First)
	assert.Equal(t, 9.0, snap.Last)
	assert.Equal(t, 2.0, snap.Min)
	assert.Equal(t, 9.0, snap.Max)
}

func TestSingleSampleStdIsNaN(t *testing.T) {
	s := New([]string{"x"})
	require.NoError(t, s.Update([]float64{3}))
	snap := s.Snapshot()[0]
	assert.True(t, math.IsNaN(snap.Std))
}

func TestUnimplementedHigherMoments(t *testing.T) {
	s := New([]string{"x"})
	_, err := s.Skew("x")
	assert.True(t, rterrors.Is(err, rterrors.NotImplemented))
	_, err = s.Kurtosis("x")
	assert.True(t, rterrors.Is(err, rterrors.NotImplemented))
	_, _, err = s.LinearFit("x")
	assert.True(t, rterrors.Is(err, rterrors.NotImplemented))
}
