package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWakeSignalIsBinary(t *testing.T) {
	w := NewWakeSignal()

	assert.True(t, w.Raise())
	assert.False(t, w.Raise(), "second raise must not count")
	assert.True(t, w.Pending())

	require.NoError(t, w.Wait(t.Context()))
	assert.False(t, w.Pending())

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Wait(ctx), context.DeadlineExceeded)
}

func TestWakeSignalWakesWaiter(t *testing.T) {
	w := NewWakeSignal()
	done := make(chan error, 1)
	go func() { done <- w.Wait(t.Context()) }()

	time.Sleep(5 * time.Millisecond)
	w.Raise()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken")
	}
}

func TestWakeSignalClear(t *testing.T) {
	w := NewWakeSignal()
	w.Raise()
	w.Clear()
	assert.False(t, w.Pending())
	w.Clear()
}
