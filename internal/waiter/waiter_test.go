package waiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFirstWaitReturnsImmediately(t *testing.T) {
	w := New(50 * time.Millisecond)
	start := time.Now()
	err := w.Wait(context.Background())
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestSecondWaitHoldsThePeriod(t *testing.T) {
	w := New(30 * time.Millisecond)
	require := context.Background()
	_ = w.Wait(require)

	start := time.Now()
	err := w.Wait(require)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestZeroPeriodNeverBlocks(t *testing.T) {
	w := New(0)
	start := time.Now()
	err := w.Wait(context.Background())
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Millisecond)
}

func TestWaitRespectsCancellation(t *testing.T) {
	w := New(time.Hour)
	_ = w.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := w.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
