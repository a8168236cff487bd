package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/respiro/gateway/internal/config"
)

// limiter applies a token bucket per caller. Dashboards poll on short
// intervals, so the bucket refills continuously rather than per window.
type limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

func newLimiter(requestsPerMin, burstSize int) *limiter {
	return &limiter{
		buckets: make(map[string]*bucket),
		rate:    float64(requestsPerMin) / 60.0,
		burst:   burstSize,
	}
}

func (l *limiter) allow(caller string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[caller]
	if !ok {
		b = &bucket{tokens: float64(l.burst), lastSeen: now}
		l.buckets[caller] = b
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * l.rate
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.lastSeen = now

	if b.tokens < 1.0 {
		return false
	}
	b.tokens -= 1.0
	return true
}

// sweep drops buckets idle for five minutes so one-off callers do not
// accumulate forever.
func (l *limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-5 * time.Minute)
	for caller, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, caller)
		}
	}
}

// RateLimit returns middleware enforcing a per-caller token bucket. Callers
// are identified by API key when one is presented, remote address otherwise.
func RateLimit(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	l := newLimiter(cfg.RequestsPerMin, cfg.BurstSize)

	// RateLimit is called once at startup, so a process-lifetime sweep
	// goroutine is fine.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			l.sweep()
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || exempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			caller := extractAPIKey(r)
			if caller == "" {
				caller = r.RemoteAddr
			}

			if !l.allow(caller) {
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
