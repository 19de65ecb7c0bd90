// ABOUTME: Shared upstream error classification for vision adapters
// ABOUTME: Maps transport failures and HTTP statuses onto the gateway error taxonomy

package vision

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/glimpse-gateway/internal/fault"
)

// WrapTransportError classifies an error from an outbound HTTP call. Context
// cancellation from the caller passes through untouched so the orchestrator
// can tell an abandoned request from an upstream failure.
func WrapTransportError(provider string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fault.New(fault.KindUpstreamTimeout,
			fmt.Sprintf("%s did not respond before the deadline", provider),
			fault.WithProvider(provider), fault.WithWrapped(err))
	default:
		return fault.New(fault.KindUpstreamUnreachable,
			fmt.Sprintf("could not reach %s", provider),
			fault.WithProvider(provider), fault.WithWrapped(err))
	}
}

// StatusError builds the rejection error for a non-2xx upstream response.
// The body excerpt is included verbatim; providers put their diagnostic in
// the first few hundred bytes.
func StatusError(provider string, status int, body []byte) error {
	return fault.New(fault.KindUpstreamRejected,
		fmt.Sprintf("%s returned HTTP %d: %s", provider, status, truncate(body, 512)),
		fault.WithProvider(provider))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
