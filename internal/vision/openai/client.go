// ABOUTME: Vision adapter for the OpenAI chat completions API
// ABOUTME: Also drives doubao, qwen, glm, and self-hosted deployments via their compatible endpoints

package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2389/glimpse-gateway/internal/fault"
	"github.com/2389/glimpse-gateway/internal/httpclient"
	"github.com/2389/glimpse-gateway/internal/vision"
)

// Client implements vision.Provider against a chat completions endpoint.
type Client struct {
	httpClient *http.Client
	opts       options
}

// New constructs a client. Without options it targets api.openai.com.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.New(httpclient.WithTimeout(o.timeout))
	}
	return &Client{httpClient: o.httpClient, opts: o}
}

func (c *Client) ProcessImage(ctx context.Context, req vision.Request) (*vision.Result, error) {
	payload := c.buildPayload(req, false)

	body, err := c.doRequest(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp chatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fault.New(fault.KindUpstreamRejected,
			fmt.Sprintf("%s returned an unparseable response", c.opts.provider),
			fault.WithProvider(c.opts.provider), fault.WithWrapped(err))
	}
	if len(resp.Choices) == 0 {
		return nil, fault.New(fault.KindUpstreamRejected,
			fmt.Sprintf("%s returned no choices", c.opts.provider),
			fault.WithProvider(c.opts.provider))
	}

	model := resp.Model
	if model == "" {
		model = payload.Model
	}
	return &vision.Result{
		Text:     resp.Choices[0].Message.Content,
		Model:    model,
		Provider: c.opts.provider,
		Usage: vision.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

func (c *Client) StreamImage(ctx context.Context, req vision.Request) (*vision.Stream, error) {
	payload := c.buildPayload(req, true)

	body, err := c.doRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	stream := vision.NewStream(ctx)
	go c.consumeStream(body, stream, payload.Model)
	return stream, nil
}

// TestConnection sends a minimal one-token completion. A models listing
// would be cheaper but is not served by every compatible endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	payload := &chatRequest{
		Model: c.opts.model,
		Messages: []chatMessage{
			{Role: "user", Content: []chatContent{{Type: "text", Text: "Hello"}}},
		},
		MaxTokens: 1,
	}
	body, err := c.doRequest(ctx, payload)
	if err != nil {
		return err
	}
	body.Close()
	return nil
}

func (c *Client) Capabilities() vision.Capabilities {
	return vision.Capabilities{
		Provider:  c.opts.provider,
		Models:    []string{c.opts.model},
		Streaming: true,
	}
}

// buildPayload converts a normalized request into the chat wire shape.
// History turns are replayed text-only; the image rides on the final user
// message as a data URL.
func (c *Client) buildPayload(req vision.Request, stream bool) *chatRequest {
	messages := make([]chatMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages, chatMessage{
			Role:    string(turn.Role),
			Content: []chatContent{{Type: "text", Text: turn.Content}},
		})
	}
	messages = append(messages, chatMessage{
		Role: "user",
		Content: []chatContent{
			{Type: "text", Text: req.Prompt},
			{Type: "image_url", ImageURL: &chatImageURL{URL: req.Image.DataURL()}},
		},
	})

	model := req.Model
	if model == "" {
		model = c.opts.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.opts.maxTokens
	}
	return &chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (c *Client) doRequest(ctx context.Context, payload *chatRequest) (io.ReadCloser, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resolveEndpoint(c.opts.baseURL), buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.apiKey)
	}
	for k, v := range c.opts.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, vision.WrapTransportError(c.opts.provider, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, vision.StatusError(c.opts.provider, resp.StatusCode, data)
	}
	return resp.Body, nil
}

func (c *Client) consumeStream(body io.ReadCloser, stream *vision.Stream, requestModel string) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	meta := vision.StreamMeta{Provider: c.opts.provider, Model: requestModel}
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			stream.SetMeta(meta)
			stream.Close()
			return
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed keepalive or comment frames.
			continue
		}
		if chunk.Model != "" {
			meta.Model = chunk.Model
		}
		if chunk.Usage != nil {
			meta.Usage = vision.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			stream.Push(vision.Fragment{Text: text})
		}
	}

	if err := scanner.Err(); err != nil {
		stream.Fail(vision.WrapTransportError(c.opts.provider, err))
		return
	}
	// Upstream closed without a [DONE] sentinel; treat as complete.
	stream.SetMeta(meta)
	stream.Close()
}
