// Package action wraps remote agent operations (run forecast cycle, run
// enforcement, build accountability report) with the loading/error/result
// state the dashboard shows, cache invalidation, and notifications.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/respiro/gateway/internal/cache"
	"github.com/respiro/gateway/internal/notify"
)

// Func performs the remote action and returns the orchestrator's response
// payload.
type Func func(ctx context.Context) (json.RawMessage, error)

// Snapshot is the externally visible runner state.
type Snapshot struct {
	Name       string          `json:"name"`
	IsLoading  bool            `json:"is_loading"`
	Error      string          `json:"error,omitempty"`
	LastResult json.RawMessage `json:"last_result,omitempty"`
	LastRun    string          `json:"last_run,omitempty"` // RFC3339, empty if never run
}

// Runner executes one named remote action at a time. On success it stores
// the result, invalidates the configured cache keys, and raises a success
// notification; on failure it stores a normalized error and raises a
// failure notification. It never retries.
type Runner struct {
	name     string
	fn       Func
	keys     []string // cache keys invalidated on success
	cache    *cache.QueryCache
	notifier notify.Notifier

	// Optional outcome callbacks.
	OnSuccess func(result json.RawMessage)
	OnFailure func(err error)

	mu         sync.Mutex
	isLoading  bool
	lastErr    error
	lastResult json.RawMessage
	lastRun    time.Time
}

func NewRunner(name string, fn Func, keys []string, qc *cache.QueryCache, n notify.Notifier) *Runner {
	return &Runner{name: name, fn: fn, keys: keys, cache: qc, notifier: n}
}

// Name returns the action name.
func (r *Runner) Name() string { return r.name }

// Execute runs the action. Concurrent calls are not serialized; the caller
// is expected to hold off while IsLoading reports true.
func (r *Runner) Execute(ctx context.Context) (json.RawMessage, error) {
	r.mu.Lock()
	r.isLoading = true
	r.lastErr = nil
	r.mu.Unlock()

	result, err := r.run(ctx)

	r.mu.Lock()
	r.isLoading = false
	r.lastRun = time.Now()
	if err != nil {
		r.lastErr = err
	} else {
		r.lastResult = result
	}
	r.mu.Unlock()

	if err != nil {
		if r.notifier != nil {
			r.notifier.Error(r.name+" failed", err.Error())
		}
		if r.OnFailure != nil {
			r.OnFailure(err)
		}
		return nil, err
	}

	// Invalidate only after a successful run; a failed action must leave
	// the cache untouched.
	if r.cache != nil && len(r.keys) > 0 {
		r.cache.Invalidate(r.keys...)
	}
	if r.notifier != nil {
		r.notifier.Success(r.name+" completed", "data will refresh shortly")
	}
	if r.OnSuccess != nil {
		r.OnSuccess(result)
	}
	return result, nil
}

// run invokes the action and normalizes panics into errors, so a misbehaving
// action surfaces like any other failure.
func (r *Runner) run(ctx context.Context) (result json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = normalize(rec)
		}
	}()
	result, err = r.fn(ctx)
	if err != nil {
		err = normalize(err)
	}
	return result, err
}

// IsLoading reports whether an execution is in flight.
func (r *Runner) IsLoading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isLoading
}

// Reset clears loading, error, and result state.
func (r *Runner) Reset() {
	r.mu.Lock()
	r.isLoading = false
	r.lastErr = nil
	r.lastResult = nil
	r.lastRun = time.Time{}
	r.mu.Unlock()
}

// Snapshot returns the current state.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		Name:       r.name,
		IsLoading:  r.isLoading,
		LastResult: r.lastResult,
	}
	if r.lastErr != nil {
		s.Error = r.lastErr.Error()
	}
	if !r.lastRun.IsZero() {
		s.LastRun = r.lastRun.UTC().Format(time.RFC3339)
	}
	return s
}

// normalize coerces any thrown value into an error with a message.
func normalize(v any) error {
	switch e := v.(type) {
	case error:
		return e
	default:
		return fmt.Errorf("%v", e)
	}
}
