package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLoopWaitsForInFlightTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var finished atomic.Bool

	stopped := runLoop(ctx, time.Hour, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		// Cleanup after cancellation, like releasing a lock.
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	})

	<-started
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.True(t, finished.Load(), "stopped closed before the tick returned")
}

func TestRunLoopTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var ticks atomic.Int32

	stopped := runLoop(ctx, 10*time.Millisecond, func(context.Context) { ticks.Add(1) })
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-stopped
}
