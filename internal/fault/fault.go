// ABOUTME: Shared error taxonomy for the gateway: machine-readable kinds with suggestions.
// ABOUTME: Every cross-component failure is classified here so the API layer can map it uniformly.

package fault

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind categorizes gateway errors.
type Kind string

const (
	KindInvalidImage         Kind = "invalid_image"
	KindUnsupportedProvider  Kind = "unsupported_provider"
	KindInvalidCustomConfig  Kind = "invalid_custom_config"
	KindConversationNotFound Kind = "conversation_not_found"
	KindRateLimited          Kind = "rate_limited"
	KindUnauthorized         Kind = "unauthorized"
	KindUpstreamUnreachable  Kind = "upstream_unreachable"
	KindUpstreamTimeout      Kind = "upstream_timeout"
	KindUpstreamRejected     Kind = "upstream_rejected"
	KindSpeechFailed         Kind = "speech_generation_failed"
	KindStorageFailure       Kind = "storage_failure"
)

// Error carries the kind plus enough context to build a useful caller response.
type Error struct {
	Kind       Kind
	Provider   string // upstream vendor name, when one was involved
	Message    string
	Suggestion string
	RetryAfter time.Duration // non-zero only for rate_limited
	wrapped    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.wrapped)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// New builds an Error explicitly. The suggestion defaults from the kind
// unless overridden with WithSuggestion.
func New(kind Kind, message string, opts ...Option) *Error {
	e := &Error{Kind: kind, Message: message, Suggestion: defaultSuggestion(kind)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wrap classifies an underlying error under the given kind.
// If err is already a *Error it is returned unchanged.
func Wrap(err error, kind Kind) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: kind, Message: err.Error(), Suggestion: defaultSuggestion(kind), wrapped: err}
}

// Option mutates an Error during construction.
type Option func(*Error)

// WithProvider records which upstream vendor produced the failure.
func WithProvider(name string) Option {
	return func(e *Error) { e.Provider = name }
}

// WithSuggestion overrides the default human-readable suggestion.
func WithSuggestion(s string) Option {
	return func(e *Error) { e.Suggestion = s }
}

// WithRetryAfter sets the retry-after hint.
func WithRetryAfter(d time.Duration) Option {
	return func(e *Error) { e.RetryAfter = d }
}

// WithWrapped attaches an underlying error.
func WithWrapped(err error) Option {
	return func(e *Error) { e.wrapped = err }
}

func classify(kind Kind) func(error) bool {
	return func(err error) bool {
		if err == nil {
			return false
		}
		var fe *Error
		if errors.As(err, &fe) {
			return fe.Kind == kind
		}
		return false
	}
}

// Helper predicates for common handling patterns.
var (
	IsRateLimited         = classify(KindRateLimited)
	IsUnauthorized        = classify(KindUnauthorized)
	IsConversationMissing = classify(KindConversationNotFound)
	IsUpstreamTimeout     = classify(KindUpstreamTimeout)
	IsUpstreamUnreachable = classify(KindUpstreamUnreachable)
	IsSpeechFailure       = classify(KindSpeechFailed)
	IsStorageFailure      = classify(KindStorageFailure)
)

// KindOf extracts the kind from an error chain, or "" if none is present.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// RetryAfterOf extracts the retry-after hint from an error chain.
func RetryAfterOf(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}

// HTTPStatus maps a kind to the status code the API layer returns for it.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidImage, KindInvalidCustomConfig:
		return http.StatusBadRequest
	case KindUnsupportedProvider:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConversationNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamUnreachable, KindUpstreamRejected:
		return http.StatusBadGateway
	case KindSpeechFailed, KindStorageFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func defaultSuggestion(kind Kind) string {
	switch kind {
	case KindInvalidImage:
		return "send a valid base64-encoded JPEG, PNG, GIF, or WebP image under the size limit"
	case KindUnsupportedProvider:
		return "use one of the provider ids returned by GET /api/v1/models"
	case KindInvalidCustomConfig:
		return "custom providers need an absolute http(s) base_url, an api_key, and a model_name"
	case KindConversationNotFound:
		return "the conversation expired or never existed; omit conversation_id to start a new one"
	case KindRateLimited:
		return "slow down and retry after the indicated interval"
	case KindUnauthorized:
		return "supply a valid bearer token or API key in the Authorization header"
	case KindUpstreamUnreachable:
		return "check network connectivity and credentials"
	case KindUpstreamTimeout:
		return "the provider took too long; retry, or try a different provider"
	case KindUpstreamRejected:
		return "the provider rejected the request; check the vendor message and model name"
	case KindSpeechFailed:
		return "the text result is unaffected; retry with tts_enabled if audio is required"
	case KindStorageFailure:
		return "check the audio storage path and disk space"
	default:
		return ""
	}
}
