// ABOUTME: Structured observability events and the HTTP middleware stack
// ABOUTME: Request-correlation IDs (ULID), CORS, and panic recovery live here

package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"
)

// requestIDHeader is echoed on every response and accepted on requests so
// callers can correlate their own logs with the gateway's.
const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// withRequestID returns a context carrying the request-correlation id.
func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext retrieves the request-correlation id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Events emits the gateway's structured observability events. Every event
// carries the request-correlation id so a request can be traced end to end.
type Events struct {
	logger *slog.Logger
}

// NewEvents creates an event sink over the given logger.
func NewEvents(logger *slog.Logger) *Events {
	if logger == nil {
		logger = slog.Default()
	}
	return &Events{logger: logger}
}

// RequestAdmitted fires after auth and both rate limiters have passed.
func (e *Events) RequestAdmitted(requestID, principal, provider string, stream bool) {
	e.logger.Info("request_admitted",
		"request_id", requestID,
		"principal", principal,
		"provider", provider,
		"stream", stream,
	)
}

// UpstreamCallStarted fires immediately before the model call.
func (e *Events) UpstreamCallStarted(requestID, provider string) {
	e.logger.Info("upstream_call_started",
		"request_id", requestID,
		"provider", provider,
	)
}

// UpstreamCallCompleted fires when the model call ends, either way.
func (e *Events) UpstreamCallCompleted(requestID, provider, model string, latency time.Duration, err error) {
	if err != nil {
		e.logger.Warn("upstream_call_completed",
			"request_id", requestID,
			"provider", provider,
			"model", model,
			"latency_ms", latency.Milliseconds(),
			"error", err,
		)
		return
	}
	e.logger.Info("upstream_call_completed",
		"request_id", requestID,
		"provider", provider,
		"model", model,
		"latency_ms", latency.Milliseconds(),
	)
}

// RequestRejected fires when a request ends before any upstream call.
func (e *Events) RequestRejected(requestID, kind, message string) {
	e.logger.Info("request_rejected",
		"request_id", requestID,
		"kind", kind,
		"message", message,
	)
}

// requestIDMiddleware assigns each request a ULID (or adopts the caller's)
// and echoes it in the response headers.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = ulid.Make().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}

// corsMiddleware answers preflight requests and marks responses as
// cross-origin readable. The API is bearer-authenticated, so a permissive
// origin policy is safe.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware converts a handler panic into a structured 500 instead
// of tearing down the connection.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				logger.Error("handler panic",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
					"stack", string(debug.Stack()),
				)
				writeEnvelope(w, r, http.StatusInternalServerError, errorBody{
					Kind:    "internal",
					Message: "internal server error",
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
