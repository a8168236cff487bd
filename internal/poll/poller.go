// Package poll provides the fixed-interval polling loop that keeps the
// query cache warm: invoke a callback immediately, then once per period,
// until torn down.
package poll

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInvalidInterval is returned by New for a zero or negative period.
var ErrInvalidInterval = errors.New("poll: interval must be positive")

// Func is a single poll invocation. Slow invocations may overlap the next
// tick; the poller does not serialize them, but every invocation receives
// the poller's context so shutdown cancels in-flight work.
type Func func(ctx context.Context)

// Poller invokes a callback immediately on Start and then on every interval
// tick until Stop or context cancellation. The callback may be swapped at
// any time without resetting the tick cadence.
type Poller struct {
	interval time.Duration

	mu      sync.Mutex
	fn      Func
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

func New(interval time.Duration, fn Func) (*Poller, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Poller{interval: interval, fn: fn}, nil
}

// SetFunc replaces the callback. The running timer is untouched: the next
// tick simply invokes the new function.
func (p *Poller) SetFunc(fn Func) {
	p.mu.Lock()
	p.fn = fn
	p.mu.Unlock()
}

// Start begins polling. The first invocation fires asynchronously right
// away, then every interval. Start itself never blocks on the callback, so
// a slow upstream cannot stall the caller's startup path. Start is a no-op
// if the poller was already started or stopped.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.stopped || p.ctx != nil {
		p.mu.Unlock()
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	runCtx := p.ctx
	p.mu.Unlock()

	go func() {
		p.invoke(runCtx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.invoke(runCtx)
			}
		}
	}()
}

// Trigger performs one immediate invocation, subject to the same liveness
// guard as timed ticks. Safe to call before Start or after Stop (no-op).
func (p *Poller) Trigger() {
	p.mu.Lock()
	runCtx := p.ctx
	p.mu.Unlock()
	if runCtx == nil {
		return
	}
	p.invoke(runCtx)
}

// Stop ends polling. No callback fires after Stop returns; an in-flight
// invocation is cancelled via its context rather than awaited.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Poller) invoke(ctx context.Context) {
	// Liveness check: never invoke once torn down.
	select {
	case <-ctx.Done():
		return
	default:
	}

	p.mu.Lock()
	fn := p.fn
	stopped := p.stopped
	p.mu.Unlock()

	if stopped || fn == nil {
		return
	}
	fn(ctx)
}
