// ABOUTME: Constructs vision provider adapters from configuration
// ABOUTME: Closed registry of known providers plus validated custom deployments

package factory

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/2389/glimpse-gateway/internal/config"
	"github.com/2389/glimpse-gateway/internal/fault"
	"github.com/2389/glimpse-gateway/internal/vision"
	"github.com/2389/glimpse-gateway/internal/vision/anthropic"
	"github.com/2389/glimpse-gateway/internal/vision/gemini"
	"github.com/2389/glimpse-gateway/internal/vision/openai"
)

// CustomConfig describes a caller-supplied OpenAI-compatible deployment.
type CustomConfig struct {
	BaseURL string            `json:"base_url"`
	APIKey  string            `json:"api_key"`
	Model   string            `json:"model"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Validate checks the fields needed before an adapter can be built. The
// API key is deliberately optional: local deployments often run keyless.
func (c *CustomConfig) Validate() error {
	if c == nil {
		return fault.New(fault.KindInvalidCustomConfig, "custom provider requires a custom_config object")
	}
	if c.BaseURL == "" {
		return fault.New(fault.KindInvalidCustomConfig, "custom_config.base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fault.New(fault.KindInvalidCustomConfig,
			fmt.Sprintf("custom_config.base_url %q is not an absolute http(s) URL", c.BaseURL))
	}
	if c.Model == "" {
		return fault.New(fault.KindInvalidCustomConfig, "custom_config.model is required")
	}
	return nil
}

// Vendor base URLs for the OpenAI-compatible providers. Overridable per
// provider in configuration for proxies and regional endpoints.
const (
	doubaoBaseURL = "https://ark.cn-beijing.volces.com/api/v3"
	qwenBaseURL   = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	glmBaseURL    = "https://open.bigmodel.cn/api/paas/v4"
)

type constructor func(f *Factory) vision.Provider

// registry is the closed set of known provider IDs. "custom" is handled
// separately since it needs per-request configuration.
var registry = map[string]constructor{
	"openai": func(f *Factory) vision.Provider {
		p := f.cfg.OpenAI
		return openai.New(
			openai.WithAPIKey(p.APIKey),
			openai.WithModel(p.Model),
			openai.WithBaseURL(p.BaseURL),
			openai.WithTimeout(f.timeout),
		)
	},
	"gemini": func(f *Factory) vision.Provider {
		p := f.cfg.Gemini
		return gemini.New(
			gemini.WithAPIKey(p.APIKey),
			gemini.WithModel(p.Model),
			gemini.WithBaseURL(p.BaseURL),
			gemini.WithTimeout(f.timeout),
		)
	},
	"anthropic": func(f *Factory) vision.Provider {
		p := f.cfg.Anthropic
		return anthropic.New(
			anthropic.WithAPIKey(p.APIKey),
			anthropic.WithModel(p.Model),
			anthropic.WithBaseURL(p.BaseURL),
			anthropic.WithTimeout(f.timeout),
		)
	},
	"doubao": func(f *Factory) vision.Provider {
		return f.compatible("doubao", f.cfg.Doubao, doubaoBaseURL, "doubao-seed-1-6-flash-250828")
	},
	"qwen": func(f *Factory) vision.Provider {
		return f.compatible("qwen", f.cfg.Qwen, qwenBaseURL, "qwen3.5-plus")
	},
	"glm": func(f *Factory) vision.Provider {
		return f.compatible("glm", f.cfg.GLM, glmBaseURL, "glm-4.6v-flash")
	},
}

// Factory builds provider adapters on demand. Configured providers are
// cached after first construction; custom adapters are built per call
// since their configuration arrives with the request.
type Factory struct {
	cfg     config.ProvidersConfig
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]vision.Provider
}

// New creates a factory over the configured provider credentials.
func New(cfg config.ProvidersConfig) *Factory {
	return &Factory{
		cfg:     cfg,
		timeout: cfg.Timeout,
		cache:   make(map[string]vision.Provider),
	}
}

// Provider returns the adapter for id. Construction never touches the
// network; credential problems surface on first use.
func (f *Factory) Provider(id string, custom *CustomConfig) (vision.Provider, error) {
	if id == "custom" {
		return f.buildCustom(custom)
	}

	ctor, ok := registry[id]
	if !ok {
		return nil, fault.New(fault.KindUnsupportedProvider,
			fmt.Sprintf("unknown provider %q", id),
			fault.WithSuggestion("use one of: "+strings.Join(ProviderIDs(), ", ")))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.cache[id]; ok {
		return p, nil
	}
	p := ctor(f)
	f.cache[id] = p
	return p, nil
}

// ProviderIDs returns the known provider identifiers, sorted, with
// "custom" last.
func ProviderIDs() []string {
	ids := make([]string, 0, len(registry)+1)
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return append(ids, "custom")
}

func (f *Factory) buildCustom(custom *CustomConfig) (vision.Provider, error) {
	if err := custom.Validate(); err != nil {
		return nil, err
	}
	opts := []openai.Option{
		openai.WithProviderName("custom"),
		openai.WithBaseURL(custom.BaseURL),
		openai.WithAPIKey(custom.APIKey),
		openai.WithModel(custom.Model),
		openai.WithTimeout(f.timeout),
	}
	for k, v := range custom.Headers {
		opts = append(opts, openai.WithHeader(k, v))
	}
	return openai.New(opts...), nil
}

// compatible builds an OpenAI-compatible adapter for a vendor that differs
// only in base URL, default model, and credentials.
func (f *Factory) compatible(name string, creds config.ProviderCredentials, defaultBase, defaultModel string) vision.Provider {
	base := creds.BaseURL
	if base == "" {
		base = defaultBase
	}
	model := creds.Model
	if model == "" {
		model = defaultModel
	}
	return openai.New(
		openai.WithProviderName(name),
		openai.WithBaseURL(base),
		openai.WithAPIKey(creds.APIKey),
		openai.WithModel(model),
		openai.WithTimeout(f.timeout),
	)
}
