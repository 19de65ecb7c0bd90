// ABOUTME: Functional options for the ElevenLabs speech client
// ABOUTME: Covers credentials, base URL, model, and transport knobs

package elevenlabs

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
}

func defaultOptions() options {
	return options{
		baseURL: "https://api.elevenlabs.io/v1",
		model:   "eleven_multilingual_v2",
		timeout: 10 * time.Second,
	}
}

// WithAPIKey configures the xi-api-key credential.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.baseURL = url
		}
	}
}

// WithModel sets the synthesis model.
func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
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
