package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/respiro/gateway/internal/action"
	"github.com/respiro/gateway/internal/api"
	"github.com/respiro/gateway/internal/cache"
	"github.com/respiro/gateway/internal/chat"
	"github.com/respiro/gateway/internal/config"
	"github.com/respiro/gateway/internal/notify"
	"github.com/respiro/gateway/internal/refresh"
	"github.com/respiro/gateway/internal/upstream"
)

// fakeOrchestrator scripts per-path responses for the proxied resources.
type fakeOrchestrator struct {
	mu        sync.Mutex
	responses map[string]scripted
	hits      map[string]int
}

type scripted struct {
	status int
	body   string
	gate   chan struct{} // when set, the response waits for the gate to close
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		responses: make(map[string]scripted),
		hits:      make(map[string]int),
	}
}

func (f *fakeOrchestrator) set(path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[path] = scripted{status: status, body: body}
}

func (f *fakeOrchestrator) setGated(path string, status int, body string) chan struct{} {
	gate := make(chan struct{})
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[path] = scripted{status: status, body: body, gate: gate}
	return gate
}

func (f *fakeOrchestrator) hitCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeOrchestrator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	resp, ok := f.responses[r.URL.Path]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if resp.gate != nil {
		<-resp.gate
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	fmt.Fprint(w, resp.body)
}

type harness struct {
	orch    *fakeOrchestrator
	mux     *http.ServeMux
	cache   *cache.QueryCache
	runners map[string]*action.Runner
}

func newHarness(t *testing.T, providers map[string]func() (chat.Streamer, error)) *harness {
	t.Helper()

	orch := newFakeOrchestrator()
	srv := httptest.NewServer(orch)
	t.Cleanup(srv.Close)

	up := upstream.New(config.UpstreamConfig{BaseURL: srv.URL, TimeoutSec: 5, MaxRetries: 0})
	qc := cache.New(16)

	refresher := refresh.NewRefresher(qc, []string{"status", "forecast"}, nil)
	countdown, err := refresh.NewCountdown(30, true, refresher.AutoRefresh)
	require.NoError(t, err)
	refresher.Bind(countdown)

	notifier := notify.NewLogNotifier(nil)
	runners := []*action.Runner{
		action.NewRunner(upstream.AgentForecastCycle, func(ctx context.Context) (json.RawMessage, error) {
			return up.RunAgent(ctx, upstream.AgentForecastCycle)
		}, []string{"status", "forecast"}, qc, notifier),
	}

	h := api.NewHandler(up, qc, nil, nil, refresher, countdown, runners, providers)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	byName := make(map[string]*action.Runner)
	for _, r := range runners {
		byName[r.Name()] = r
	}

	return &harness{orch: orch, mux: mux, cache: qc, runners: byName}
}

func (h *harness) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (h *harness) post(path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	h.mux.ServeHTTP(rec, req)
	return rec
}

func TestStatusCachingHeaders(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.set("/status", http.StatusOK, `{"status":"running","current_aqi":87}`)

	rec := h.get("/api/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, "public, max-age=30, stale-while-revalidate=60", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"status":"running","current_aqi":87}`, rec.Body.String())

	rec = h.get("/api/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, 1, h.orch.hitCount("/status"), "second request must be served from cache")
}

func TestStatusFailureReturnsDefaultPayload(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.set("/status", http.StatusInternalServerError, "orchestrator down")

	rec := h.get("/api/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "unknown", payload["status"])
	assert.Nil(t, payload["current_aqi"])
	assert.Nil(t, payload["active_agents"])
	assert.Equal(t, false, payload["forecast_available"])
}

func TestStaleEntryServedWhenUpstreamFails(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.set("/status", http.StatusOK, `{"status":"running","current_aqi":87}`)

	h.get("/api/status")
	h.cache.Invalidate("status")

	h.orch.set("/status", http.StatusInternalServerError, "orchestrator down")

	rec := h.get("/api/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "STALE", rec.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"status":"running","current_aqi":87}`, rec.Body.String())
}

func TestStaleEntryDoesNotMaskNotFound(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.set("/forecast", http.StatusOK, `{"horizon_hours":24}`)

	h.get("/api/forecast")
	h.cache.Invalidate("forecast")

	h.orch.set("/forecast", http.StatusNotFound, "gone")

	rec := h.get("/api/forecast")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Forecast data not available"}`, rec.Body.String())
}

func TestForecastNotFound(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.get("/api/forecast")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Forecast data not available"}`, rec.Body.String())
}

func TestForecastUpstreamFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.set("/forecast", http.StatusInternalServerError, "boom")

	rec := h.get("/api/forecast")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "Forecast data unavailable", payload["error"])
	assert.NotEmpty(t, payload["message"])
}

func TestSensorsDataQuality(t *testing.T) {
	h := newHarness(t, nil)

	newest := time.Now().UTC().Add(-3 * time.Hour).Format(time.RFC3339)
	older := time.Now().UTC().Add(-8 * time.Hour).Format(time.RFC3339)
	h.orch.set("/sensors", http.StatusOK, fmt.Sprintf(`{
		"stations": [
			{"id":"s1","timestamp":%q},
			{"id":"s2","timestamp":%q},
			{"id":"s3"},
			{"id":"s4"},
			{"id":"s5"}
		]
	}`, newest, older))

	rec := h.get("/api/sensors")
	assert.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		DataQuality struct {
			Completeness float64 `json:"completeness"`
			AgeHours     float64 `json:"age_hours"`
		} `json:"data_quality"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 0.5, payload.DataQuality.Completeness)
	assert.InDelta(t, 3.0, payload.DataQuality.AgeHours, 0.05, "age follows the newest station")
}

func TestSensorsCompletenessCapped(t *testing.T) {
	h := newHarness(t, nil)

	stations := make([]string, 12)
	for i := range stations {
		stations[i] = fmt.Sprintf(`{"id":"s%d"}`, i)
	}
	h.orch.set("/sensors", http.StatusOK,
		fmt.Sprintf(`{"stations":[%s]}`, joinJSON(stations)))

	rec := h.get("/api/sensors")
	assert.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	dq := payload["data_quality"].(map[string]any)
	assert.Equal(t, 1.0, dq["completeness"])
	assert.Equal(t, 0.0, dq["age_hours"], "no timestamps means zero age")
}

func joinJSON(parts []string) string {
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(p)
	}
	return buf.String()
}

func TestLogsNotFoundIsEmptyPage(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.get("/api/logs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"logs":[],"count":0}`, rec.Body.String())
}

func TestLogsUpstreamFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.set("/logs", http.StatusInternalServerError, "boom")

	rec := h.get("/api/logs")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"logs":[],"count":0}`, rec.Body.String())
}

func TestLogsCustomLimitBypassesCache(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.set("/logs", http.StatusOK, `{"logs":[{"msg":"a"}],"count":1}`)

	h.get("/api/logs?limit=5")
	h.get("/api/logs?limit=5")
	assert.Equal(t, 2, h.orch.hitCount("/logs"), "non-default limits must not be cached")
}

func TestAgentRunSuccess(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.set("/status", http.StatusOK, `{"status":"running"}`)
	h.orch.set("/agents/forecast-cycle/run", http.StatusOK, `{"cycle_id":42}`)

	// Prime the cache so the run has something to invalidate.
	h.get("/api/status")
	_, fresh, ok := h.cache.Get("status")
	require.True(t, ok && fresh)

	rec := h.post("/api/agents/run/forecast-cycle", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "completed", payload["status"])
	assert.Equal(t, "forecast-cycle", payload["action"])
	assert.Equal(t, map[string]any{"cycle_id": float64(42)}, payload["result"])

	_, fresh, ok = h.cache.Get("status")
	assert.True(t, ok)
	assert.False(t, fresh, "a completed run invalidates the status cache")
}

func TestAgentRunFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.set("/agents/forecast-cycle/run", http.StatusInternalServerError, "agent crashed")

	rec := h.post("/api/agents/run/forecast-cycle", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "forecast-cycle failed", payload["error"])
	assert.NotEmpty(t, payload["message"])
}

func TestAgentRunUnknown(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.post("/api/agents/run/launch-missiles", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentRunConflict(t *testing.T) {
	h := newHarness(t, nil)
	gate := h.orch.setGated("/agents/forecast-cycle/run", http.StatusOK, `{"cycle_id":1}`)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.post("/api/agents/run/forecast-cycle", "")
	}()

	require.Eventually(t, func() bool {
		return h.runners["forecast-cycle"].IsLoading()
	}, time.Second, 5*time.Millisecond)

	rec := h.post("/api/agents/run/forecast-cycle", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"forecast-cycle is already running"}`, rec.Body.String())

	close(gate)
	<-done
}

func TestAgentsListing(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.get("/api/agents")
	assert.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Agents []action.Snapshot `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Agents, 1)
	assert.Equal(t, "forecast-cycle", payload.Agents[0].Name)
	assert.False(t, payload.Agents[0].IsLoading)
}

func TestManualRefresh(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.set("/status", http.StatusOK, `{"status":"running"}`)
	h.get("/api/status")

	rec := h.post("/api/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Status string   `json:"status"`
		Keys   []string `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "refreshed", payload.Status)
	assert.Equal(t, []string{"status", "forecast"}, payload.Keys)

	_, fresh, ok := h.cache.Get("status")
	assert.True(t, ok)
	assert.False(t, fresh)
}

func TestRefreshIntervalValidation(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.post("/api/refresh/interval", `{"interval_sec":45}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.post("/api/refresh/interval", `{"interval_sec":60}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var snap refresh.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 60, snap.IntervalSec)
	assert.Equal(t, 60, snap.Remaining)
}

func TestRefreshEnabledToggle(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.post("/api/refresh/enabled", `{"enabled":false}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var snap refresh.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.False(t, snap.Enabled)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.get("/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload["status"])
	assert.NotEmpty(t, payload["upstream"])
}

// scriptedStreamer emits a fixed sequence of deltas.
type scriptedStreamer struct {
	deltas []string
}

func (s *scriptedStreamer) Name() string { return "scripted" }

func (s *scriptedStreamer) Stream(ctx context.Context, msgs []chat.Message, handler chat.StreamHandler) error {
	for _, d := range s.deltas {
		handler.OnDelta(d)
	}
	handler.OnDone()
	return nil
}

func TestChatMissingCredential(t *testing.T) {
	providers := map[string]func() (chat.Streamer, error){
		"openai": func() (chat.Streamer, error) {
			s, err := chat.NewOpenAI(chat.Options{})
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}
	h := newHarness(t, providers)

	rec := h.post("/api/respiro/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t,
		`{"error":"OPENAI_API_KEY missing: set it in the environment to enable chat"}`,
		rec.Body.String())
}

func TestChatValidation(t *testing.T) {
	providers := map[string]func() (chat.Streamer, error){
		"openai": func() (chat.Streamer, error) { return &scriptedStreamer{}, nil },
	}
	h := newHarness(t, providers)

	rec := h.post("/api/respiro/chat", `{"messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.post("/api/respiro/chat", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.get("/api/respiro/chat")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestChatStreamsEvents(t *testing.T) {
	providers := map[string]func() (chat.Streamer, error){
		"openai": func() (chat.Streamer, error) {
			return &scriptedStreamer{deltas: []string{"Hello", " world"}}, nil
		},
	}
	h := newHarness(t, providers)

	rec := h.post("/api/respiro/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t,
		"data: {\"delta\":\"Hello\"}\n\ndata: {\"delta\":\" world\"}\n\ndata: [DONE]\n\n",
		rec.Body.String())
}

func TestChatUnknownProvider(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.post("/api/respiro/chat/claude", `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
