package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const defaultAdminTokenHeader = "X-Admin-Token"

// AdminTokenAuthConfig controls shared-token authentication for admin endpoints.
type AdminTokenAuthConfig struct {
	Token      string
	HeaderName string
	// OnRejected is called with "missing" or "invalid" for refused requests.
	OnRejected func(r *http.Request, reason string)
}

// AdminTokenAuthMiddleware validates a shared admin token from request
// headers. A bearer Authorization header is accepted as well.
func AdminTokenAuthMiddleware(cfg AdminTokenAuthConfig) (func(http.Handler) http.Handler, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("admin auth token is required")
	}
	headerName := strings.TrimSpace(cfg.HeaderName)
	if headerName == "" {
		headerName = defaultAdminTokenHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := strings.TrimSpace(r.Header.Get(headerName))
			if provided == "" {
				if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					provided = strings.TrimSpace(bearer)
				}
			}
			if provided == "" {
				reject(cfg, w, r, "missing")
				return
			}
			if !constantTimeTokenMatch(provided, token) {
				reject(cfg, w, r, "invalid")
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

func reject(cfg AdminTokenAuthConfig, w http.ResponseWriter, r *http.Request, reason string) {
	if cfg.OnRejected != nil {
		cfg.OnRejected(r, reason)
	}
	writeAdminUnauthorized(w)
}

func constantTimeTokenMatch(provided string, expected string) bool {
	providedDigest := sha256.Sum256([]byte(provided))
	expectedDigest := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(providedDigest[:], expectedDigest[:]) == 1
}

func writeAdminUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprint(w, `{"error":"unauthorized"}`)
}
