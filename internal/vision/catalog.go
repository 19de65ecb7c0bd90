// ABOUTME: Model catalog backing the models listing endpoint
// ABOUTME: Ships built-in entries per provider, overridable from a TOML file

package vision

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID          string `toml:"id" json:"id"`
	Provider    string `toml:"provider" json:"provider"`
	DisplayName string `toml:"display_name" json:"display_name"`
	Description string `toml:"description,omitempty" json:"description,omitempty"`
	Default     bool   `toml:"default" json:"default,omitempty"`
}

// Catalog holds the models advertised to clients. It is immutable after
// load.
type Catalog struct {
	models []ModelInfo
}

type catalogFile struct {
	Models []ModelInfo `toml:"models"`
}

// builtinModels mirrors each vendor's current vision lineup. A deployment
// that needs different entries points providers.catalog_path at its own
// TOML file.
var builtinModels = []ModelInfo{
	{ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o", Description: "OpenAI flagship multimodal model", Default: true},
	{ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o mini", Description: "Smaller, faster GPT-4o"},
	{ID: "gpt-4-turbo", Provider: "openai", DisplayName: "GPT-4 Turbo"},
	{ID: "gemini-2.0-flash-exp", Provider: "gemini", DisplayName: "Gemini 2.0 Flash", Description: "Google's fast multimodal model", Default: true},
	{ID: "gemini-1.5-pro", Provider: "gemini", DisplayName: "Gemini 1.5 Pro"},
	{ID: "gemini-1.5-flash", Provider: "gemini", DisplayName: "Gemini 1.5 Flash"},
	{ID: "claude-3-5-sonnet-20241022", Provider: "anthropic", DisplayName: "Claude 3.5 Sonnet", Description: "Anthropic's balanced vision model", Default: true},
	{ID: "claude-3-opus-20240229", Provider: "anthropic", DisplayName: "Claude 3 Opus"},
	{ID: "claude-3-haiku-20240307", Provider: "anthropic", DisplayName: "Claude 3 Haiku"},
	{ID: "doubao-seed-1-6-flash-250828", Provider: "doubao", DisplayName: "Doubao Seed 1.6 Flash", Description: "ByteDance Doubao vision model", Default: true},
	{ID: "qwen3.5-plus", Provider: "qwen", DisplayName: "Qwen 3.5 Plus", Description: "Alibaba Qwen vision model", Default: true},
	{ID: "qwen-vl-max", Provider: "qwen", DisplayName: "Qwen VL Max"},
	{ID: "glm-4.6v-flash", Provider: "glm", DisplayName: "GLM-4.6V Flash", Description: "Zhipu GLM vision model", Default: true},
	{ID: "glm-4v-plus", Provider: "glm", DisplayName: "GLM-4V Plus"},
}

// LoadCatalog reads model entries from a TOML file, or returns the built-in
// catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return &Catalog{models: builtinModels}, nil
	}
	var file catalogFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("loading model catalog %s: %w", path, err)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("model catalog %s contains no models", path)
	}
	for i, m := range file.Models {
		if m.ID == "" || m.Provider == "" {
			return nil, fmt.Errorf("model catalog %s: entry %d is missing id or provider", path, i)
		}
	}
	return &Catalog{models: file.Models}, nil
}

// Models returns every catalog entry in listing order.
func (c *Catalog) Models() []ModelInfo {
	out := make([]ModelInfo, len(c.models))
	copy(out, c.models)
	return out
}

// ByProvider returns the entries for one provider.
func (c *Catalog) ByProvider(provider string) []ModelInfo {
	var out []ModelInfo
	for _, m := range c.models {
		if m.Provider == provider {
			out = append(out, m)
		}
	}
	return out
}

// DefaultModel returns the default model ID for a provider, or the
// provider's first entry when none is marked default.
func (c *Catalog) DefaultModel(provider string) string {
	first := ""
	for _, m := range c.models {
		if m.Provider != provider {
			continue
		}
		if m.Default {
			return m.ID
		}
		if first == "" {
			first = m.ID
		}
	}
	return first
}
