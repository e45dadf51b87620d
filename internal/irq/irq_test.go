package irq

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTrigger(t *testing.T) {
	tests := []struct {
		flags uint32
		mode  Mode
		pol   Polarity
	}{
		{0, LevelTriggered, ActiveHigh},
		{1, EdgeTriggered, ActiveHigh},
		{2, EdgeTriggered, ActiveLow},
		{4, LevelTriggered, ActiveHigh},
		{8, LevelTriggered, ActiveLow},
		{0xff01, EdgeTriggered, ActiveHigh},
	}
	for _, tt := range tests {
		mode, pol, err := DecodeTrigger(tt.flags)
		require.NoError(t, err, "flags 0x%x", tt.flags)
		assert.Equal(t, tt.mode, mode, "flags 0x%x", tt.flags)
		assert.Equal(t, tt.pol, pol, "flags 0x%x", tt.flags)
	}

	for _, bad := range []uint32{3, 5, 0xc, 0xf} {
		_, _, err := DecodeTrigger(bad)
		assert.ErrorIs(t, err, ErrInvalidTrigger, "flags 0x%x", bad)
	}
}

func TestValidCells(t *testing.T) {
	assert.False(t, ValidCells(0))
	assert.True(t, ValidCells(1))
	assert.True(t, ValidCells(4))
	assert.False(t, ValidCells(5))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	var hits atomic.Int32
	require.NoError(t, r.Install(30, func(uint32) { hits.Add(1) }))
	assert.ErrorIs(t, r.Install(30, func(uint32) {}), ErrAlreadyInstalled)

	require.NoError(t, r.Raise(30))
	assert.Equal(t, int32(1), hits.Load())
	assert.ErrorIs(t, r.Raise(31), ErrNotInstalled)

	require.NoError(t, r.Free(30))
	assert.ErrorIs(t, r.Free(30), ErrNotInstalled)
	assert.ErrorIs(t, r.Raise(30), ErrNotInstalled)
}

func TestRegistry_HandlerMayFreeItself(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Install(59, func(id uint32) {
		assert.NoError(t, r.Free(id))
	}))
	require.NoError(t, r.Raise(59))
	assert.ErrorIs(t, r.Raise(59), ErrNotInstalled)
}

func TestWaiter(t *testing.T) {
	t.Run("delivered", func(t *testing.T) {
		r := NewRegistry()
		w := NewWaiter()
		require.NoError(t, r.Install(59, w.Handler()))
		w.Arm()

		go func() { _ = r.Raise(59) }()
		assert.NoError(t, w.Wait(context.Background(), time.Second))
		require.NoError(t, r.Free(59))
	})

	t.Run("timeout", func(t *testing.T) {
		w := NewWaiter()
		w.Arm()
		assert.ErrorIs(t, w.Wait(context.Background(), 10*time.Millisecond), ErrTimeout)
		assert.ErrorIs(t, w.Signal(), ErrSpurious, "timed out waiter is disarmed")
	})

	t.Run("cancelled", func(t *testing.T) {
		w := NewWaiter()
		w.Arm()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, w.Wait(ctx, 0), context.Canceled)
	})

	t.Run("spurious", func(t *testing.T) {
		w := NewWaiter()
		assert.ErrorIs(t, w.Signal(), ErrSpurious)

		w.Arm()
		require.NoError(t, w.Signal())
		assert.ErrorIs(t, w.Signal(), ErrSpurious, "second delivery")
		assert.NoError(t, w.Wait(context.Background(), time.Second))
	})

	t.Run("rearm drops stale delivery", func(t *testing.T) {
		w := NewWaiter()
		w.Arm()
		require.NoError(t, w.Signal())
		w.Arm()
		assert.ErrorIs(t, w.Wait(context.Background(), 10*time.Millisecond), ErrTimeout)
	})
}
