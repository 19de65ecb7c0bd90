// ABOUTME: Functional options for the Gemini vision client
// ABOUTME: Mirrors the option surface of the other vendor adapters

package gemini

import (
	"net/http"
	"time"
)

type Option func(*options)

type options struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	timeout    time.Duration
	maxTokens  int
}

func defaultOptions() options {
	return options{
		baseURL:   "https://generativelanguage.googleapis.com/v1beta",
		model:     "gemini-2.0-flash-exp",
		timeout:   30 * time.Second,
		maxTokens: 4096,
	}
}

// WithAPIKey configures the API key sent in the x-goog-api-key header.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.baseURL = url
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithTimeout customizes the client timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxTokens caps response length when the request does not specify one.
func WithMaxTokens(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}
