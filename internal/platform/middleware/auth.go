// Package middleware holds HTTP middleware for the admin surface.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"vigil/internal/credentials"
)

// CredentialSource hands out the current privileged credential handle. The
// store re-checks validity on every call, so a revoked or invalidated
// credential stops authorizing requests immediately.
type CredentialSource interface {
	Client(tier credentials.Tier) (*credentials.Client, error)
}

// RequirePrivileged gates the admin surface behind the privileged-tier
// credential presented as a bearer token. Deployments without a privileged
// credential get an explicitly disabled admin surface rather than an open
// one.
func RequirePrivileged(source CredentialSource, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, err := source.Client(credentials.TierPrivileged)
			if err != nil {
				logger.WarnContext(r.Context(), "admin surface unavailable", "error", err)
				deny(w, http.StatusServiceUnavailable, "admin surface disabled")
				return
			}

			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(r.Context(), "admin request missing bearer token", "path", r.URL.Path)
				deny(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(client.Material())) != 1 {
				logger.WarnContext(r.Context(), "admin request with invalid credential", "path", r.URL.Path)
				deny(w, http.StatusUnauthorized, "invalid credential")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
