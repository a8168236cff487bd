// Package cache holds the gateway's query cache: fetched upstream payloads
// keyed by logical resource names. Invalidation is the only write the
// refresh machinery performs; handlers and the poller repopulate entries.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	data      []byte
	ttl       time.Duration
	createdAt time.Time
	stale     bool // set by Invalidate
}

// QueryCache caches upstream payloads under string keys with per-entry TTL.
// An entry past its TTL (or explicitly invalidated) is still served as stale
// until the grace period (2x TTL) runs out, then dropped.
type QueryCache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	maxEntries int
}

func New(maxEntries int) *QueryCache {
	c := &QueryCache{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
	}
	return c
}

// StartCleanup runs periodic expiry until done is closed.
func (c *QueryCache) StartCleanup(done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.cleanup()
			}
		}
	}()
}

// Get returns the cached payload for key. fresh reports whether the entry is
// within its TTL and not invalidated; ok reports whether anything usable
// (fresh or stale-within-grace) was found.
func (c *QueryCache) Get(key string) (data []byte, fresh bool, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, found := c.entries[key]
	if !found {
		return nil, false, false
	}
	age := time.Since(e.createdAt)
	if age > 3*e.ttl {
		return nil, false, false
	}
	fresh = !e.stale && age <= e.ttl
	return e.data, fresh, true
}

// Set stores a payload under key with the given TTL, replacing any prior
// entry (and clearing its stale mark).
func (c *QueryCache) Set(key string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict oldest if at capacity
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		var oldestKey string
		var oldestTime time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.createdAt.Before(oldestTime) {
				oldestKey = k
				oldestTime = e.createdAt
			}
		}
		if oldestKey != "" {
			delete(c.entries, oldestKey)
		}
	}

	c.entries[key] = &entry{
		data:      data,
		ttl:       ttl,
		createdAt: time.Now(),
	}
}

// Invalidate marks the named entries stale. The data stays available for
// stale serving; the next Get reports fresh=false so the caller refetches.
func (c *QueryCache) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if e, ok := c.entries[key]; ok {
			e.stale = true
		}
	}
}

func (c *QueryCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.entries {
		if now.Sub(e.createdAt) > 3*e.ttl {
			delete(c.entries, k)
		}
	}
}

// Stats returns cache occupancy.
func (c *QueryCache) Stats() (size int, maxSize int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), c.maxEntries
}
