// ABOUTME: Tests for the error taxonomy: wrapping, predicates, and status mapping.
// ABOUTME: Verifies errors.Is/As behavior through wrapped chains.

package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultSuggestion(t *testing.T) {
	err := New(KindUpstreamUnreachable, "connection refused")

	assert.Equal(t, KindUpstreamUnreachable, err.Kind)
	assert.Equal(t, "connection refused", err.Message)
	assert.Contains(t, err.Suggestion, "check network connectivity")
}

func TestNew_Options(t *testing.T) {
	inner := errors.New("dial tcp: i/o timeout")
	err := New(KindUpstreamTimeout, "model call timed out",
		WithProvider("openai"),
		WithWrapped(inner),
		WithSuggestion("try again"),
	)

	assert.Equal(t, "openai", err.Provider)
	assert.Equal(t, "try again", err.Suggestion)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "model call timed out: dial tcp: i/o timeout", err.Error())
}

func TestWrap_PreservesExistingError(t *testing.T) {
	orig := New(KindRateLimited, "too many requests", WithRetryAfter(12*time.Second))

	wrapped := Wrap(fmt.Errorf("handling request: %w", orig), KindUpstreamRejected)

	// An Error already in the chain wins over the fallback kind.
	assert.Equal(t, KindRateLimited, wrapped.Kind)
	assert.Equal(t, 12*time.Second, wrapped.RetryAfter)
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindStorageFailure))
}

func TestPredicates_MatchThroughChain(t *testing.T) {
	err := fmt.Errorf("orchestrator: %w", New(KindUpstreamTimeout, "deadline exceeded"))

	assert.True(t, IsUpstreamTimeout(err))
	assert.False(t, IsRateLimited(err))
	assert.False(t, IsUpstreamTimeout(nil))
	assert.False(t, IsUpstreamTimeout(errors.New("plain error")))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnauthorized, KindOf(New(KindUnauthorized, "no token")))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestRetryAfterOf(t *testing.T) {
	err := New(KindRateLimited, "limited", WithRetryAfter(30*time.Second))

	assert.Equal(t, 30*time.Second, RetryAfterOf(fmt.Errorf("admit: %w", err)))
	assert.Equal(t, time.Duration(0), RetryAfterOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindInvalidImage, http.StatusBadRequest},
		{KindUnsupportedProvider, http.StatusBadRequest},
		{KindInvalidCustomConfig, http.StatusBadRequest},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindConversationNotFound, http.StatusNotFound},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindUpstreamTimeout, http.StatusGatewayTimeout},
		{KindUpstreamUnreachable, http.StatusBadGateway},
		{KindUpstreamRejected, http.StatusBadGateway},
		{KindSpeechFailed, http.StatusInternalServerError},
		{KindStorageFailure, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.kind), "kind %s", tc.kind)
	}
}

func TestEveryKindHasSuggestion(t *testing.T) {
	kinds := []Kind{
		KindInvalidImage, KindUnsupportedProvider, KindInvalidCustomConfig,
		KindConversationNotFound, KindRateLimited, KindUnauthorized,
		KindUpstreamUnreachable, KindUpstreamTimeout, KindUpstreamRejected,
		KindSpeechFailed, KindStorageFailure,
	}
	for _, k := range kinds {
		require.NotEmpty(t, New(k, "x").Suggestion, "kind %s", k)
	}
}
