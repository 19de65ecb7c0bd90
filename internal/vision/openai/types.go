// ABOUTME: Wire types for the OpenAI chat completions API
// ABOUTME: Request/response/stream-chunk shapes shared by all compatible vendors

package openai

import "strings"

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Message      responseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// responseMessage handles the asymmetry of the chat API: requests carry
// structured content parts, responses carry a plain string.
type responseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type streamChunk struct {
	ID      string              `json:"id"`
	Model   string              `json:"model"`
	Choices []streamChunkChoice `json:"choices"`
	Usage   *chatUsage          `json:"usage,omitempty"`
}

type streamChunkChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type streamDelta struct {
	Content string `json:"content"`
}

// resolveEndpoint normalizes the configured base URL into the full chat
// completions endpoint. Accepts a bare host, a /v1 base, or the endpoint
// itself, so self-hosted deployments can paste whichever form they have.
func resolveEndpoint(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.Contains(base, "/chat/completions"):
		return base
	case strings.HasSuffix(base, "/v1") || strings.HasSuffix(base, "/v3") || strings.HasSuffix(base, "/v4"):
		return base + "/chat/completions"
	default:
		return base + "/v1/chat/completions"
	}
}
