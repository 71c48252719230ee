package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKey returns middleware that admits only requests carrying key as a
// Bearer token or in the X-API-Key header. Operator routes (deposits, audit,
// reconciliation) sit behind it. An empty key rejects every request, so
// those routes stay closed until a key is configured.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				writeError(w, http.StatusForbidden, "admin_disabled", "admin api is disabled")
				return
			}

			token := extractToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing authentication token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}
