// Package middleware holds the HTTP middleware the gateway chains in front
// of its mux.
package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError emits the JSON error shape every middleware rejection uses.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// exempt reports whether a path skips auth and rate limiting; health
// checks and metric scrapers must always get through.
func exempt(path string) bool {
	return path == "/health" || path == "/metrics"
}
