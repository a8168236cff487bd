package api

import (
	"encoding/json"
	"net/http"
)

// handleRefresh reports the countdown (GET) or performs a manual refresh
// (POST): invalidate the configured keys and reset the countdown,
// independent of timer state.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.countdown.Snapshot())
	case http.MethodPost:
		h.refresher.Refresh()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "refreshed",
			"keys":      h.refresher.Keys(),
			"countdown": h.countdown.Snapshot(),
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleRefreshInterval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		IntervalSec int `json:"interval_sec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	if err := h.countdown.SetInterval(req.IntervalSec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, h.countdown.Snapshot())
}

func (h *Handler) handleRefreshEnabled(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	h.countdown.SetEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, h.countdown.Snapshot())
}
