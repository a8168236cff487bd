package api

import (
	"context"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/respiro/gateway/internal/action"
)

// agentRunTimeout bounds a remote agent run. Forecast cycles can be slow;
// anything past this is reported as a failure rather than held open.
const agentRunTimeout = 120 * time.Second

func (h *Handler) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshots := make([]action.Snapshot, 0, len(h.runners))
	for _, runner := range h.runners {
		snapshots = append(snapshots, runner.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })

	writeJSON(w, http.StatusOK, map[string]any{"agents": snapshots})
}

func (h *Handler) handleAgentRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/agents/run/")
	runner, ok := h.runners[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown agent action: " + name})
		return
	}

	// One authoritative run at a time; the dashboard disables the button,
	// the gateway enforces it.
	if runner.IsLoading() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": name + " is already running"})
		return
	}

	log.Printf("[agents] running %s", name)

	ctx, cancel := context.WithTimeout(r.Context(), agentRunTimeout)
	defer cancel()

	start := time.Now()
	result, err := runner.Execute(ctx)
	durationMs := float64(time.Since(start).Milliseconds())

	if h.history != nil {
		h.history.AddAction(name, err == nil, durationMs, err)
	}

	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":   name + " failed",
			"message": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "completed",
		"action": name,
		"result": result,
	})
}

func (h *Handler) handleAgentReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/agents/reset/")
	runner, ok := h.runners[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown agent action: " + name})
		return
	}

	runner.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "action": name})
}
