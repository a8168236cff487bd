// Package metrics collects request counters, latency percentiles, and an
// event feed for the gateway, and exposes them in Prometheus text format.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// EventEntry records a system event (agent run, refresh, upstream failure).
type EventEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`  // info, warn, error
	Source    string `json:"source"` // action, refresh, upstream, chat
	Message   string `json:"message"`
}

// Snapshot is a point-in-time JSON view of the collector.
type Snapshot struct {
	UptimeSec          float64          `json:"uptime_sec"`
	RequestsTotal      int64            `json:"requests_total"`
	RequestsByResource map[string]int64 `json:"requests_by_resource"`
	ErrorsTotal        int64            `json:"errors_total"`
	CacheHits          int64            `json:"cache_hits"`
	CacheMisses        int64            `json:"cache_misses"`
	ActiveRequests     int64            `json:"active_requests"`
	LatencyP50Ms       float64          `json:"latency_p50_ms"`
	LatencyP95Ms       float64          `json:"latency_p95_ms"`
	Events             []EventEntry     `json:"events"`
}

// Metrics is the gateway's metrics collector.
type Metrics struct {
	mu sync.RWMutex

	RequestsTotal      int64
	RequestsByResource map[string]*int64
	ErrorsTotal        int64
	CacheHits          int64
	CacheMisses        int64
	ActiveRequests     int64

	latencies latencyRing

	// Event log (ring buffer of last 200 entries)
	eventLog [200]EventEntry
	eventIdx int
	eventCnt int

	startTime time.Time
}

type latencyRing struct {
	samples [1000]float64
	idx     int
	count   int
}

func (lr *latencyRing) add(ms float64) {
	lr.samples[lr.idx%len(lr.samples)] = ms
	lr.idx++
	if lr.count < len(lr.samples) {
		lr.count++
	}
}

func (lr *latencyRing) percentile(p float64) float64 {
	if lr.count == 0 {
		return 0
	}
	sorted := make([]float64, lr.count)
	start := 0
	if lr.idx > len(lr.samples) {
		start = lr.idx % len(lr.samples)
	}
	for i := 0; i < lr.count; i++ {
		sorted[i] = lr.samples[(start+i)%len(lr.samples)]
	}
	sort.Float64s(sorted)
	rank := p / 100.0 * float64(lr.count-1)
	return sorted[int(math.Round(rank))]
}

// New creates a new Metrics collector.
func New() *Metrics {
	return &Metrics{
		RequestsByResource: make(map[string]*int64),
		startTime:          time.Now(),
	}
}

// RecordRequest records one completed proxy request.
func (m *Metrics) RecordRequest(resource string, durationMs float64, isError bool) {
	atomic.AddInt64(&m.RequestsTotal, 1)
	if isError {
		atomic.AddInt64(&m.ErrorsTotal, 1)
	}

	m.mu.Lock()
	counter, ok := m.RequestsByResource[resource]
	if !ok {
		counter = new(int64)
		m.RequestsByResource[resource] = counter
	}
	m.latencies.add(durationMs)
	m.mu.Unlock()

	atomic.AddInt64(counter, 1)
}

func (m *Metrics) RecordCacheHit()  { atomic.AddInt64(&m.CacheHits, 1) }
func (m *Metrics) RecordCacheMiss() { atomic.AddInt64(&m.CacheMisses, 1) }

func (m *Metrics) IncrActive() { atomic.AddInt64(&m.ActiveRequests, 1) }
func (m *Metrics) DecrActive() { atomic.AddInt64(&m.ActiveRequests, -1) }

// AddEvent appends to the event ring.
func (m *Metrics) AddEvent(level, source, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventLog[m.eventIdx%len(m.eventLog)] = EventEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Source:    source,
		Message:   message,
	}
	m.eventIdx++
	if m.eventCnt < len(m.eventLog) {
		m.eventCnt++
	}
}

// GetSnapshot returns the current state for JSON endpoints.
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byResource := make(map[string]int64, len(m.RequestsByResource))
	for name, c := range m.RequestsByResource {
		byResource[name] = atomic.LoadInt64(c)
	}

	events := make([]EventEntry, 0, m.eventCnt)
	start := 0
	if m.eventIdx > len(m.eventLog) {
		start = m.eventIdx % len(m.eventLog)
	}
	for i := 0; i < m.eventCnt; i++ {
		events = append(events, m.eventLog[(start+i)%len(m.eventLog)])
	}

	return Snapshot{
		UptimeSec:          time.Since(m.startTime).Seconds(),
		RequestsTotal:      atomic.LoadInt64(&m.RequestsTotal),
		RequestsByResource: byResource,
		ErrorsTotal:        atomic.LoadInt64(&m.ErrorsTotal),
		CacheHits:          atomic.LoadInt64(&m.CacheHits),
		CacheMisses:        atomic.LoadInt64(&m.CacheMisses),
		ActiveRequests:     atomic.LoadInt64(&m.ActiveRequests),
		LatencyP50Ms:       m.latencies.percentile(50),
		LatencyP95Ms:       m.latencies.percentile(95),
		Events:             events,
	}
}

// Handler serves the collector in Prometheus text exposition format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		uptime := time.Since(m.startTime).Seconds()
		fmt.Fprintf(w, "# HELP respiro_uptime_seconds Gateway uptime in seconds\n")
		fmt.Fprintf(w, "respiro_uptime_seconds %f\n\n", uptime)

		fmt.Fprintf(w, "# HELP respiro_requests_total Total number of requests\n")
		fmt.Fprintf(w, "# TYPE respiro_requests_total counter\n")
		fmt.Fprintf(w, "respiro_requests_total %d\n\n", atomic.LoadInt64(&m.RequestsTotal))

		fmt.Fprintf(w, "# HELP respiro_errors_total Total number of errors\n")
		fmt.Fprintf(w, "# TYPE respiro_errors_total counter\n")
		fmt.Fprintf(w, "respiro_errors_total %d\n\n", atomic.LoadInt64(&m.ErrorsTotal))

		fmt.Fprintf(w, "# HELP respiro_active_requests Current in-flight requests\n")
		fmt.Fprintf(w, "# TYPE respiro_active_requests gauge\n")
		fmt.Fprintf(w, "respiro_active_requests %d\n\n", atomic.LoadInt64(&m.ActiveRequests))

		fmt.Fprintf(w, "# HELP respiro_cache_hits_total Query cache hits\n")
		fmt.Fprintf(w, "# TYPE respiro_cache_hits_total counter\n")
		fmt.Fprintf(w, "respiro_cache_hits_total %d\n\n", atomic.LoadInt64(&m.CacheHits))

		fmt.Fprintf(w, "# HELP respiro_cache_misses_total Query cache misses\n")
		fmt.Fprintf(w, "# TYPE respiro_cache_misses_total counter\n")
		fmt.Fprintf(w, "respiro_cache_misses_total %d\n\n", atomic.LoadInt64(&m.CacheMisses))

		fmt.Fprintf(w, "# HELP respiro_requests_by_resource_total Requests per resource\n")
		fmt.Fprintf(w, "# TYPE respiro_requests_by_resource_total counter\n")
		m.mu.RLock()
		names := make([]string, 0, len(m.RequestsByResource))
		for name := range m.RequestsByResource {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "respiro_requests_by_resource_total{resource=%q} %d\n",
				name, atomic.LoadInt64(m.RequestsByResource[name]))
		}
		fmt.Fprintf(w, "\n")

		p50 := m.latencies.percentile(50)
		p95 := m.latencies.percentile(95)
		m.mu.RUnlock()

		fmt.Fprintf(w, "# HELP respiro_latency_p50_ms Request latency p50\n")
		fmt.Fprintf(w, "# TYPE respiro_latency_p50_ms gauge\n")
		fmt.Fprintf(w, "respiro_latency_p50_ms %f\n\n", p50)

		fmt.Fprintf(w, "# HELP respiro_latency_p95_ms Request latency p95\n")
		fmt.Fprintf(w, "# TYPE respiro_latency_p95_ms gauge\n")
		fmt.Fprintf(w, "respiro_latency_p95_ms %f\n", p95)
	}
}
