package refresh

import (
	"log"

	"github.com/respiro/gateway/internal/cache"
)

// Refresher connects the countdown to the query cache: it owns the fixed
// list of keys the dashboard views depend on and invalidates them when the
// countdown fires or on manual request.
type Refresher struct {
	cache     *cache.QueryCache
	keys      []string
	countdown *Countdown
	onRefresh func() // optional, e.g. trigger the cache-warming poller
}

func NewRefresher(qc *cache.QueryCache, keys []string, onRefresh func()) *Refresher {
	return &Refresher{cache: qc, keys: keys, onRefresh: onRefresh}
}

// Bind attaches the countdown whose zero-crossing drives automatic
// refreshes. The countdown's onZero should be r.autoRefresh.
func (r *Refresher) Bind(c *Countdown) { r.countdown = c }

// AutoRefresh is the countdown's onZero hook: invalidate only. The
// countdown already reset itself before firing.
func (r *Refresher) AutoRefresh() {
	r.invalidate()
}

// Refresh performs a manual refresh: invalidate the key set and reset the
// countdown, independent of timer state.
func (r *Refresher) Refresh() {
	r.invalidate()
	if r.countdown != nil {
		r.countdown.Reset()
	}
}

// Keys returns the key set a refresh invalidates.
func (r *Refresher) Keys() []string { return r.keys }

func (r *Refresher) invalidate() {
	if r.cache != nil {
		r.cache.Invalidate(r.keys...)
	}
	log.Printf("[refresh] invalidated cached queries: %v", r.keys)
	if r.onRefresh != nil {
		r.onRefresh()
	}
}
