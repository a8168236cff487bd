package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/respiro/gateway/internal/action"
	"github.com/respiro/gateway/internal/cache"
	"github.com/respiro/gateway/internal/chat"
	"github.com/respiro/gateway/internal/history"
	"github.com/respiro/gateway/internal/metrics"
	"github.com/respiro/gateway/internal/refresh"
	"github.com/respiro/gateway/internal/upstream"
)

// Cache lifetimes per resource. The Cache-Control header advertises the
// same max-age with a stale-while-revalidate grace of double that.
const (
	statusTTL   = 30 * time.Second
	forecastTTL = 60 * time.Second
	sensorsTTL  = 60 * time.Second
	logsTTL     = 10 * time.Second

	defaultLogLimit = 50
)

type Handler struct {
	upstream  *upstream.Client
	cache     *cache.QueryCache // nil if disabled
	metrics   *metrics.Metrics  // nil if disabled
	history   *history.Store    // nil if disabled
	refresher *refresh.Refresher
	countdown *refresh.Countdown
	runners   map[string]*action.Runner
	providers map[string]func() (chat.Streamer, error)
}

func NewHandler(
	up *upstream.Client,
	qc *cache.QueryCache,
	m *metrics.Metrics,
	hist *history.Store,
	refresher *refresh.Refresher,
	countdown *refresh.Countdown,
	runners []*action.Runner,
	providers map[string]func() (chat.Streamer, error),
) *Handler {
	byName := make(map[string]*action.Runner, len(runners))
	for _, r := range runners {
		byName[r.Name()] = r
	}
	return &Handler{
		upstream:  up,
		cache:     qc,
		metrics:   m,
		history:   hist,
		refresher: refresher,
		countdown: countdown,
		runners:   byName,
		providers: providers,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/forecast", h.handleForecast)
	mux.HandleFunc("/api/sensors", h.handleSensors)
	mux.HandleFunc("/api/logs", h.handleLogs)
	mux.HandleFunc("/api/agents", h.handleAgents)
	mux.HandleFunc("/api/agents/run/", h.handleAgentRun)
	mux.HandleFunc("/api/agents/reset/", h.handleAgentReset)
	mux.HandleFunc("/api/refresh", h.handleRefresh)
	mux.HandleFunc("/api/refresh/interval", h.handleRefreshInterval)
	mux.HandleFunc("/api/refresh/enabled", h.handleRefreshEnabled)
	mux.HandleFunc("/api/respiro/chat", h.handleChat("openai"))
	mux.HandleFunc("/api/respiro/chat/gemini", h.handleChat("gemini"))
	mux.HandleFunc("/api/respiro/chat/claude", h.handleChat("anthropic"))
	mux.HandleFunc("/api/history", h.handleHistory)
	mux.HandleFunc("/api/metrics", h.handleMetricsJSON)
	mux.HandleFunc("/health", h.handleHealth)
}

// fetchFunc retrieves a payload from the orchestrator.
type fetchFunc func() (json.RawMessage, error)

// failFunc renders the resource-specific failure response.
type failFunc func(w http.ResponseWriter, err error)

// serveResource implements the shared proxy flow: query cache first, fetch
// on miss, relay with caching headers, resource-specific fallback on
// failure. transform (optional) rewrites the payload before caching.
func (h *Handler) serveResource(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration,
	fetch fetchFunc, transform func(json.RawMessage) (json.RawMessage, error), fail failFunc) {

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	if h.metrics != nil {
		h.metrics.IncrActive()
		defer h.metrics.DecrActive()
	}

	if h.cache != nil && key != "" {
		if data, fresh, ok := h.cache.Get(key); ok && fresh {
			if h.metrics != nil {
				h.metrics.RecordCacheHit()
				h.metrics.RecordRequest(key, float64(time.Since(start).Milliseconds()), false)
			}
			if h.history != nil {
				h.history.AddRequest(key, http.StatusOK, float64(time.Since(start).Milliseconds()), true, nil)
			}
			writeCached(w, data, ttl, "HIT")
			return
		}
		if h.metrics != nil {
			h.metrics.RecordCacheMiss()
		}
	}

	payload, err := fetch()
	if err == nil && transform != nil {
		payload, err = transform(payload)
	}

	durationMs := float64(time.Since(start).Milliseconds())
	if err != nil {
		log.Printf("[api] %s fetch failed: %v", key, err)

		// A stale entry within its grace window still beats the error
		// payload; only the refetch failed, the data merely aged. A 404
		// is the orchestrator saying the data is gone, so it wins over
		// whatever we cached.
		if h.cache != nil && key != "" && !errors.Is(err, upstream.ErrNotFound) {
			if data, _, ok := h.cache.Get(key); ok {
				if h.metrics != nil {
					h.metrics.RecordRequest(key, durationMs, false)
				}
				if h.history != nil {
					h.history.AddRequest(key, http.StatusOK, durationMs, true, err)
				}
				writeCached(w, data, ttl, "STALE")
				return
			}
		}

		if h.metrics != nil {
			h.metrics.RecordRequest(key, durationMs, true)
		}
		rec := &statusRecorder{ResponseWriter: w}
		fail(rec, err)
		if h.history != nil {
			h.history.AddRequest(key, rec.status, durationMs, false, err)
		}
		return
	}

	if h.cache != nil && key != "" {
		h.cache.Set(key, payload, ttl)
	}
	if h.metrics != nil {
		h.metrics.RecordRequest(key, durationMs, false)
	}
	if h.history != nil {
		h.history.AddRequest(key, http.StatusOK, durationMs, false, nil)
	}
	writeCached(w, payload, ttl, "MISS")
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.serveResource(w, r, "status", statusTTL,
		func() (json.RawMessage, error) { return h.upstream.Status(r.Context()) },
		nil,
		func(w http.ResponseWriter, err error) {
			// The status view always has a full shape to render, so every
			// failure mode gets the default-state payload instead of a
			// minimal error body.
			writeJSON(w, http.StatusServiceUnavailable, defaultStatusPayload())
		})
}

func (h *Handler) handleForecast(w http.ResponseWriter, r *http.Request) {
	h.serveResource(w, r, "forecast", forecastTTL,
		func() (json.RawMessage, error) { return h.upstream.Forecast(r.Context()) },
		nil,
		func(w http.ResponseWriter, err error) {
			if errors.Is(err, upstream.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "Forecast data not available"})
				return
			}
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error":   "Forecast data unavailable",
				"message": err.Error(),
			})
		})
}

func (h *Handler) handleSensors(w http.ResponseWriter, r *http.Request) {
	h.serveResource(w, r, "sensors", sensorsTTL,
		func() (json.RawMessage, error) { return h.upstream.Sensors(r.Context()) },
		augmentSensorPayload,
		func(w http.ResponseWriter, err error) {
			if errors.Is(err, upstream.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "Sensor data not available"})
				return
			}
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error":   "Sensor data unavailable",
				"message": err.Error(),
			})
		})
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	// Only the default page is worth caching; ad-hoc limits bypass it.
	key := ""
	if limit == defaultLogLimit {
		key = "logs"
	}

	h.serveResource(w, r, key, logsTTL,
		func() (json.RawMessage, error) {
			data, err := h.upstream.Logs(r.Context(), limit)
			if errors.Is(err, upstream.ErrNotFound) {
				// No logs yet is an empty page, not an error.
				return json.Marshal(map[string]any{"logs": []any{}, "count": 0})
			}
			return data, err
		},
		nil,
		func(w http.ResponseWriter, err error) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"logs": []any{}, "count": 0})
		})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "History is disabled"})
		return
	}

	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	requests, err := h.history.RecentRequests(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	actions, err := h.history.RecentActions(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"actions":  actions,
	})
}

func (h *Handler) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.metrics == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Metrics are disabled"})
		return
	}
	writeJSON(w, http.StatusOK, h.metrics.GetSnapshot())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	result := map[string]any{
		"status":   "ok",
		"upstream": h.upstream.BaseURL(),
	}
	if h.cache != nil {
		size, maxSize := h.cache.Stats()
		result["cache"] = map[string]int{"size": size, "max_size": maxSize}
	}
	if h.countdown != nil {
		result["refresh"] = h.countdown.Snapshot()
	}
	writeJSON(w, http.StatusOK, result)
}

// defaultStatusPayload is what the status view renders when the
// orchestrator is unreachable: every field null, status unknown.
func defaultStatusPayload() map[string]any {
	return map[string]any{
		"status":              "unknown",
		"current_aqi":         nil,
		"dominant_pollutant":  nil,
		"active_agents":       nil,
		"last_forecast_cycle": nil,
		"last_enforcement":    nil,
		"last_report":         nil,
		"forecast_available":  false,
		"sensors_online":      nil,
	}
}

// writeCached relays a successful payload with the resource's public cache
// directive and an X-Cache marker.
func writeCached(w http.ResponseWriter, data []byte, ttl time.Duration, cacheState string) {
	maxAge := int(ttl.Seconds())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control",
		fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d", maxAge, 2*maxAge))
	w.Header().Set("X-Cache", cacheState)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusRecorder captures the status a failFunc writes so it can be logged
// to history.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
