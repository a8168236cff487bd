// Package refresh implements the auto-refresh machinery: a one-second
// countdown that, on reaching zero, invalidates a fixed set of query-cache
// keys so the next read refetches from the orchestrator.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/respiro/gateway/internal/config"
)

// Snapshot is the externally visible countdown state.
type Snapshot struct {
	Enabled     bool `json:"enabled"`
	IntervalSec int  `json:"interval_sec"`
	Remaining   int  `json:"remaining_sec"`
}

// Countdown is a pure interval timer: while enabled it decrements once per
// Tick, fires its onZero callback when the count reaches zero, and resets
// to the interval. It knows nothing about caches; the Refresher supplies
// the onZero behavior.
type Countdown struct {
	mu        sync.Mutex
	interval  int
	remaining int
	enabled   bool
	onZero    func()
}

func NewCountdown(intervalSec int, enabled bool, onZero func()) (*Countdown, error) {
	if !config.ValidRefreshInterval(intervalSec) {
		return nil, fmt.Errorf("refresh: interval %d not in %v", intervalSec, config.RefreshIntervals)
	}
	return &Countdown{
		interval:  intervalSec,
		remaining: intervalSec,
		enabled:   enabled,
		onZero:    onZero,
	}, nil
}

// Tick advances the countdown by one second. Disabled countdowns do not
// decrement. When the count reaches zero the callback fires exactly once
// and the count resets to the interval.
func (c *Countdown) Tick() {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.remaining--
	fire := c.remaining <= 0
	if fire {
		c.remaining = c.interval
	}
	onZero := c.onZero
	c.mu.Unlock()

	// Fired outside the lock: the callback typically calls back into the
	// refresher, which may Reset this countdown.
	if fire && onZero != nil {
		onZero()
	}
}

// SetInterval switches to a new interval from the allowed set and resets
// the remaining count to it immediately, with no partial-tick carry-over.
func (c *Countdown) SetInterval(sec int) error {
	if !config.ValidRefreshInterval(sec) {
		return fmt.Errorf("refresh: interval %d not in %v", sec, config.RefreshIntervals)
	}
	c.mu.Lock()
	c.interval = sec
	c.remaining = sec
	c.mu.Unlock()
	return nil
}

// SetEnabled starts or freezes the countdown. Disabling parks the count at
// the full interval value; re-enabling counts down from there.
func (c *Countdown) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	if !enabled {
		c.remaining = c.interval
	}
	c.mu.Unlock()
}

// Reset restores the remaining count to the interval value.
func (c *Countdown) Reset() {
	c.mu.Lock()
	c.remaining = c.interval
	c.mu.Unlock()
}

// Snapshot returns the current state.
func (c *Countdown) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Enabled: c.enabled, IntervalSec: c.interval, Remaining: c.remaining}
}

// Run drives Tick on a one-second ticker until ctx is cancelled.
func (c *Countdown) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}
