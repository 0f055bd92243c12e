package receiver

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskManagerCancelWithoutTask(t *testing.T) {
	m := NewTaskManager(quietLogger())
	assert.False(t, m.Cancel("volume-notify"))
	assert.False(t, m.Running("volume-notify"))
	require.NoError(t, m.Shutdown(time.Second))
}

func TestTaskManagerStartReplacesTask(t *testing.T) {
	m := NewTaskManager(quietLogger())

	var cancelled atomic.Int32
	blocking := func(ctx context.Context) {
		<-ctx.Done()
		cancelled.Add(1)
	}

	m.Start(t.Context(), "job", blocking)
	m.Start(t.Context(), "job", blocking)

	require.Eventually(t, func() bool { return cancelled.Load() == 1 }, time.Second, time.Millisecond)
	assert.True(t, m.Running("job"))

	assert.True(t, m.Cancel("job"))
	assert.False(t, m.Running("job"))
	require.Eventually(t, func() bool { return cancelled.Load() == 2 }, time.Second, time.Millisecond)
	assert.False(t, m.Cancel("job"))
}

func TestTaskManagerTaskFinishesOnItsOwn(t *testing.T) {
	m := NewTaskManager(quietLogger())

	done := make(chan struct{})
	m.Start(t.Context(), "once", func(context.Context) { close(done) })
	<-done

	require.Eventually(t, func() bool { return !m.Running("once") }, time.Second, time.Millisecond)
}

func TestTaskManagerShutdown(t *testing.T) {
	m := NewTaskManager(quietLogger())
	for _, name := range []string{"a", "b", "c"} {
		m.Start(t.Context(), name, func(ctx context.Context) { <-ctx.Done() })
	}
	require.NoError(t, m.Shutdown(time.Second))
	assert.False(t, m.Running("a"))

	stuck := NewTaskManager(quietLogger())
	release := make(chan struct{})
	stuck.Start(t.Context(), "stuck", func(context.Context) { <-release })
	require.Error(t, stuck.Shutdown(10*time.Millisecond))
	close(release)
	require.NoError(t, stuck.Shutdown(time.Second))
}
