package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/respiro/gateway/internal/chat"
)

const maxChatBodySize = 1 * 1024 * 1024

type chatRequest struct {
	Messages []chat.Message `json:"messages"`
}

// handleChat returns the streaming chat handler for one provider. The
// provider is constructed per request so credential state is checked before
// anything goes upstream.
func (h *Handler) handleChat(provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		build, ok := h.providers[provider]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown chat provider: " + provider})
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxChatBodySize))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
			return
		}
		r.Body.Close()

		var req chatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON in request body"})
			return
		}
		if len(req.Messages) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messages field is required"})
			return
		}

		streamer, err := build()
		if err != nil {
			var missing *chat.MissingCredentialError
			if errors.As(err, &missing) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": missing.Error()})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			log.Printf("[chat] ResponseWriter does not support Flusher")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		sink := &sseSink{w: w, flusher: flusher}
		if err := streamer.Stream(r.Context(), req.Messages, sink); err != nil {
			log.Printf("[chat] %s stream failed: %v", streamer.Name(), err)
			// Headers are gone; surface the failure in-band and end the
			// stream.
			sink.writeEvent(map[string]string{"error": err.Error()})
		}
	}
}

// sseSink relays model deltas to the client as server-sent events:
// data: {"delta":...} per chunk, data: [DONE] on completion.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	failed  bool
}

func (s *sseSink) OnDelta(text string) {
	s.writeEvent(map[string]string{"delta": text})
}

func (s *sseSink) OnDone() {
	if s.failed {
		return
	}
	io.WriteString(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}

func (s *sseSink) writeEvent(payload any) {
	if s.failed {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.failed = true
		return
	}
	if _, err := s.w.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
		s.failed = true
		return
	}
	s.flusher.Flush()
}
