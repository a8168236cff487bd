package refresh_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/respiro/gateway/internal/cache"
	"github.com/respiro/gateway/internal/config"
	"github.com/respiro/gateway/internal/refresh"
)

func TestCountdownFiresAfterExactlyIntervalTicks(t *testing.T) {
	for _, interval := range config.RefreshIntervals {
		fired := 0
		c, err := refresh.NewCountdown(interval, true, func() { fired++ })
		require.NoError(t, err)

		for i := 0; i < interval-1; i++ {
			c.Tick()
		}
		assert.Equal(t, 0, fired, "interval %d: fired early", interval)
		assert.Equal(t, 1, c.Snapshot().Remaining)

		c.Tick()
		assert.Equal(t, 1, fired, "interval %d: should fire exactly once", interval)
		assert.Equal(t, interval, c.Snapshot().Remaining, "interval %d: should reset", interval)
	}
}

func TestCountdownRejectsUnknownInterval(t *testing.T) {
	_, err := refresh.NewCountdown(45, true, nil)
	assert.Error(t, err)

	c, err := refresh.NewCountdown(30, true, nil)
	require.NoError(t, err)
	assert.Error(t, c.SetInterval(0))
	assert.Error(t, c.SetInterval(45))
}

func TestSetIntervalResetsImmediately(t *testing.T) {
	c, err := refresh.NewCountdown(30, true, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		c.Tick()
	}
	assert.Equal(t, 20, c.Snapshot().Remaining)

	require.NoError(t, c.SetInterval(60))
	snap := c.Snapshot()
	assert.Equal(t, 60, snap.IntervalSec)
	assert.Equal(t, 60, snap.Remaining, "no partial-tick carry-over")
}

func TestDisabledCountdownFreezes(t *testing.T) {
	fired := 0
	c, err := refresh.NewCountdown(15, false, func() { fired++ })
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		c.Tick()
	}
	assert.Equal(t, 0, fired)
	assert.Equal(t, 15, c.Snapshot().Remaining)
}

func TestDisableMidCountParksAtInterval(t *testing.T) {
	c, err := refresh.NewCountdown(15, true, nil)
	require.NoError(t, err)

	c.Tick()
	c.Tick()
	assert.Equal(t, 13, c.Snapshot().Remaining)

	c.SetEnabled(false)
	assert.Equal(t, 15, c.Snapshot().Remaining)

	c.SetEnabled(true)
	c.Tick()
	assert.Equal(t, 14, c.Snapshot().Remaining)
}

func TestRefresherInvalidatesKeysAndResetsCountdown(t *testing.T) {
	qc := cache.New(10)
	qc.Set("status", []byte(`1`), time.Hour)
	qc.Set("forecast", []byte(`2`), time.Hour)
	qc.Set("other", []byte(`3`), time.Hour)

	triggered := 0
	r := refresh.NewRefresher(qc, []string{"status", "forecast"}, func() { triggered++ })
	c, err := refresh.NewCountdown(30, true, r.AutoRefresh)
	require.NoError(t, err)
	r.Bind(c)

	c.Tick()
	c.Tick()
	r.Refresh()

	_, fresh, _ := qc.Get("status")
	assert.False(t, fresh)
	_, fresh, _ = qc.Get("forecast")
	assert.False(t, fresh)
	_, fresh, _ = qc.Get("other")
	assert.True(t, fresh, "keys outside the refresh set stay fresh")

	assert.Equal(t, 30, c.Snapshot().Remaining, "manual refresh resets the countdown")
	assert.Equal(t, 1, triggered)
}

func TestAutoRefreshOnZero(t *testing.T) {
	qc := cache.New(10)
	qc.Set("status", []byte(`1`), time.Hour)

	r := refresh.NewRefresher(qc, []string{"status"}, nil)
	c, err := refresh.NewCountdown(15, true, r.AutoRefresh)
	require.NoError(t, err)
	r.Bind(c)

	for i := 0; i < 15; i++ {
		c.Tick()
	}

	_, fresh, ok := qc.Get("status")
	assert.True(t, ok)
	assert.False(t, fresh)
	assert.Equal(t, 15, c.Snapshot().Remaining)
}
