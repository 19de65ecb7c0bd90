// ABOUTME: Functional options for the OpenAI-compatible vision client
// ABOUTME: Covers credentials, base URL, model, headers, and transport knobs

package openai

import (
	"net/http"
	"time"
)

type Option func(*options)

type options struct {
	provider   string
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	headers    map[string]string
	timeout    time.Duration
	maxTokens  int
}

func defaultOptions() options {
	return options{
		provider:  "openai",
		baseURL:   "https://api.openai.com/v1",
		model:     "gpt-4o",
		timeout:   30 * time.Second,
		headers:   map[string]string{},
		maxTokens: 4096,
	}
}

// WithAPIKey configures the API key sent as a bearer credential.
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

// WithBaseURL overrides the API base URL. Compatible vendors (doubao, qwen,
// glm, self-hosted deployments) differ only in this and the model name.
func WithBaseURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.baseURL = url
		}
	}
}

// WithProviderName sets the provider name used in errors and results, so a
// doubao failure reads "doubao" rather than "openai".
func WithProviderName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.provider = name
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithHeader adds a static request header.
func WithHeader(key, value string) Option {
	return func(o *options) {
		if o.headers == nil {
			o.headers = map[string]string{}
		}
		o.headers[key] = value
	}
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
