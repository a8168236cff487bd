package poll_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/respiro/gateway/internal/poll"
)

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	_, err := poll.New(0, func(context.Context) {})
	assert.ErrorIs(t, err, poll.ErrInvalidInterval)

	_, err = poll.New(-time.Second, func(context.Context) {})
	assert.ErrorIs(t, err, poll.ErrInvalidInterval)
}

func TestImmediateAndPeriodicInvocation(t *testing.T) {
	var count int64
	p, err := poll.New(50*time.Millisecond, func(context.Context) {
		atomic.AddInt64(&count, 1)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	defer p.Stop()

	// Invoked once right away, well before the first tick.
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&count) >= 1
	}, 40*time.Millisecond, time.Millisecond)

	// And again on subsequent ticks.
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&count) >= 3
	}, time.Second, 10*time.Millisecond)
}

func TestStartDoesNotBlockOnSlowCallback(t *testing.T) {
	release := make(chan struct{})
	p, err := poll.New(time.Hour, func(ctx context.Context) {
		select {
		case <-release:
		case <-ctx.Done():
		}
	})
	require.NoError(t, err)
	defer close(release)

	start := time.Now()
	p.Start(context.Background())
	assert.Less(t, time.Since(start), 50*time.Millisecond,
		"Start must return without waiting for the first invocation")
	p.Stop()
}

func TestNoInvocationAfterStop(t *testing.T) {
	var count int64
	p, err := poll.New(20*time.Millisecond, func(context.Context) {
		atomic.AddInt64(&count, 1)
	})
	require.NoError(t, err)

	p.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	settled := atomic.LoadInt64(&count)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, atomic.LoadInt64(&count), "callback fired after Stop")
}

func TestTriggerRespectsLiveness(t *testing.T) {
	var count int64
	p, err := poll.New(time.Hour, func(context.Context) {
		atomic.AddInt64(&count, 1)
	})
	require.NoError(t, err)

	// Before Start: no-op.
	p.Trigger()
	assert.Equal(t, int64(0), atomic.LoadInt64(&count))

	p.Start(context.Background())
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&count) == 1
	}, time.Second, time.Millisecond)

	p.Trigger()
	assert.Equal(t, int64(2), atomic.LoadInt64(&count))

	p.Stop()
	p.Trigger()
	assert.Equal(t, int64(2), atomic.LoadInt64(&count), "Trigger after Stop must not invoke")
}

func TestSetFuncSwapsPerInvocation(t *testing.T) {
	var first, second int64
	p, err := poll.New(30*time.Millisecond, func(context.Context) {
		atomic.AddInt64(&first, 1)
	})
	require.NoError(t, err)

	p.Start(context.Background())
	defer p.Stop()

	p.SetFunc(func(context.Context) {
		atomic.AddInt64(&second, 1)
	})

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&second) >= 2
	}, time.Second, 5*time.Millisecond)

	// The first callback only ran for the immediate invocation (and
	// possibly one in-flight tick); it stops accumulating once swapped.
	got := atomic.LoadInt64(&first)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, got, atomic.LoadInt64(&first))
}

func TestContextCancelStopsPolling(t *testing.T) {
	var count int64
	p, err := poll.New(20*time.Millisecond, func(context.Context) {
		atomic.AddInt64(&count, 1)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	time.Sleep(30 * time.Millisecond)
	settled := atomic.LoadInt64(&count)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, atomic.LoadInt64(&count))
}
