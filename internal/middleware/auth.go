package middleware

import (
	"net/http"
	"strings"

	"github.com/respiro/gateway/internal/config"
)

// Auth returns middleware that validates API keys from the Authorization
// header. Mutating endpoints (agent runs, refresh controls) require keys
// from the admin_keys list.
func Auth(cfg config.AuthConfig) func(http.Handler) http.Handler {
	keySet := make(map[string]bool, len(cfg.Keys)+len(cfg.AdminKeys))
	for _, k := range cfg.Keys {
		keySet[k] = true
	}
	for _, k := range cfg.AdminKeys {
		keySet[k] = true
	}

	adminSet := make(map[string]bool, len(cfg.AdminKeys))
	for _, k := range cfg.AdminKeys {
		adminSet[k] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || exempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key := extractAPIKey(r)
			if key == "" || !keySet[key] {
				writeError(w, http.StatusUnauthorized, "Invalid or missing API key")
				return
			}

			if requiresAdmin(r) && !adminSet[key] {
				writeError(w, http.StatusForbidden, "Admin access required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requiresAdmin gates the endpoints that change remote or gateway state.
func requiresAdmin(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/agents/run/") {
		return true
	}
	if strings.HasPrefix(r.URL.Path, "/api/refresh") && r.Method != http.MethodGet {
		return true
	}
	return false
}

func extractAPIKey(r *http.Request) string {
	// Check Authorization: Bearer <key>
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Check X-API-Key header
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}
