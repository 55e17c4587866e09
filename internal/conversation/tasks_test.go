package conversation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskSetRunsAndForgets(t *testing.T) {
	ts := newTaskSet(context.Background())
	var ran atomic.Int32
	require.True(t, ts.after(time.Millisecond, func(context.Context) { ran.Add(1) }))

	require.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return ts.pending() == 0 }, time.Second, time.Millisecond)
	ts.stop()
}

func TestTaskSetStopCancelsPending(t *testing.T) {
	ts := newTaskSet(context.Background())
	var ran atomic.Int32
	ts.after(time.Hour, func(context.Context) { ran.Add(1) })
	ts.after(time.Hour, func(context.Context) { ran.Add(1) })
	assert.Equal(t, 2, ts.pending())

	ts.stop()

	assert.Zero(t, ts.pending())
	assert.False(t, ts.after(time.Millisecond, func(context.Context) { ran.Add(1) }))
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, ran.Load())
}

func TestTaskSetStopWaitsForRunningCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ts := newTaskSet(ctx)
	entered := make(chan struct{})
	var finished atomic.Bool
	ts.after(0, func(ctx context.Context) {
		close(entered)
		<-ctx.Done()
		finished.Store(true)
	})
	<-entered

	cancel()
	ts.stop()

	assert.True(t, finished.Load())
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleep(context.Background(), time.Millisecond))
	assert.NoError(t, sleep(context.Background(), 0))
}
