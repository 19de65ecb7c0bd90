// ABOUTME: Core types and the Provider interface for vision model adapters
// ABOUTME: Defines the normalized request/result shapes shared by all vendors

package vision

import (
	"context"
	"encoding/base64"
	"fmt"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single prior exchange replayed to the model as context.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Image carries decoded image bytes plus their MIME type. Adapters encode
// it however their wire format requires.
type Image struct {
	Data []byte
	MIME string
}

// DataURL renders the image as a data: URL, the form OpenAI-compatible
// APIs accept inline.
func (img Image) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", img.MIME, base64.StdEncoding.EncodeToString(img.Data))
}

// Base64 returns the image bytes as standard base64 without a data: prefix.
func (img Image) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// Request is a normalized describe-image request. History holds prior turns
// oldest first; the current prompt and image are separate fields and are
// appended by the adapter as the final user message.
type Request struct {
	Prompt  string
	Image   Image
	History []Turn

	// Model overrides the adapter's configured default when non-empty.
	Model string

	MaxTokens   int
	Temperature float32
}

// Usage reports token consumption for a completed model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Result is the normalized output of a completed model call.
type Result struct {
	Text     string
	Model    string
	Provider string
	Usage    Usage
}

// Capabilities describes what a provider supports.
type Capabilities struct {
	Provider  string
	Models    []string
	Streaming bool
}

// Provider is implemented by every vision model adapter. ProcessImage and
// StreamImage honor context cancellation and deadlines; adapters never
// retry on their own.
type Provider interface {
	ProcessImage(ctx context.Context, req Request) (*Result, error)
	StreamImage(ctx context.Context, req Request) (*Stream, error)
	TestConnection(ctx context.Context) error
	Capabilities() Capabilities
}
