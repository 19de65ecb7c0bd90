// ABOUTME: HTTP middleware for bearer authentication on API endpoints
// ABOUTME: Accepts gateway-issued JWTs or static API keys and adds the principal to context

package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/glimpse-gateway/internal/fault"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware creates an HTTP middleware that authenticates requests.
//
// The bearer credential is tried as a JWT first, then as a static API key.
// When enabled is false every request passes through as anonymous; this is
// for local development only. The logger may be nil to disable auth failure
// logging.
func Middleware(verifier TokenVerifier, keys *KeyStore, enabled bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				p := &Principal{ID: "dev", Method: "anonymous"}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
				return
			}

			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				logAuthFailure(logger, r, "token_extraction_failed", errMsg)
				writeUnauthorized(w, errMsg)
				return
			}

			if verifier != nil {
				if sub, err := verifier.Verify(token); err == nil {
					p := &Principal{ID: sub, Method: "jwt"}
					next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
					return
				}
			}

			if keys != nil {
				if name, ok := keys.Validate(token); ok {
					p := &Principal{ID: name, Method: "api_key"}
					next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
					return
				}
			}

			logAuthFailure(logger, r, "credential_rejected", "not a valid token or API key")
			writeUnauthorized(w, "invalid credential")
		})
	}
}

// logAuthFailure logs an authentication failure with request context.
func logAuthFailure(logger *slog.Logger, r *http.Request, reason, detail string) {
	if logger == nil {
		return
	}
	logger.Warn("http auth failure",
		"reason", reason,
		"detail", detail,
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)
}

// writeUnauthorized emits the gateway's structured error envelope. The auth
// middleware runs before the API layer, so it writes the envelope itself.
func writeUnauthorized(w http.ResponseWriter, message string) {
	fe := fault.New(fault.KindUnauthorized, message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"kind":       string(fe.Kind),
			"message":    fe.Message,
			"suggestion": fe.Suggestion,
		},
	})
}
