// ABOUTME: Vision adapter for Google's Gemini generateContent API
// ABOUTME: Normalizes Gemini's role names, inline image framing, and SSE streaming

package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/2389/glimpse-gateway/internal/fault"
	"github.com/2389/glimpse-gateway/internal/httpclient"
	"github.com/2389/glimpse-gateway/internal/vision"
)

// Client implements vision.Provider against the Gemini REST API.
type Client struct {
	httpClient *http.Client
	opts       options
}

// New constructs a Gemini client.
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
	model := chooseModel(req.Model, c.opts.model)
	payload := c.buildPayload(req)

	body, err := c.doRequest(ctx, model, payload, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp geminiResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fault.New(fault.KindUpstreamRejected,
			"gemini returned an unparseable response",
			fault.WithProvider("gemini"), fault.WithWrapped(err))
	}
	text := resp.JoinText()
	if text == "" {
		return nil, fault.New(fault.KindUpstreamRejected,
			"gemini returned an empty response",
			fault.WithProvider("gemini"))
	}

	return &vision.Result{
		Text:     text,
		Model:    model,
		Provider: "gemini",
		Usage: vision.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func (c *Client) StreamImage(ctx context.Context, req vision.Request) (*vision.Stream, error) {
	model := chooseModel(req.Model, c.opts.model)
	payload := c.buildPayload(req)

	body, err := c.doRequest(ctx, model, payload, true)
	if err != nil {
		return nil, err
	}

	stream := vision.NewStream(ctx)
	go c.consumeStream(body, stream, model)
	return stream, nil
}

// TestConnection lists models, the cheapest authenticated call Gemini offers.
func (c *Client) TestConnection(ctx context.Context) error {
	endpoint := strings.TrimRight(c.opts.baseURL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-goog-api-key", c.opts.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return vision.WrapTransportError("gemini", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return vision.StatusError("gemini", resp.StatusCode, data)
	}
	return nil
}

func (c *Client) Capabilities() vision.Capabilities {
	return vision.Capabilities{
		Provider:  "gemini",
		Models:    []string{c.opts.model},
		Streaming: true,
	}
}

// buildPayload converts a normalized request. Gemini calls the assistant
// role "model"; history is replayed text-only and the image rides on the
// final user content as inline data.
func (c *Client) buildPayload(req vision.Request) *geminiRequest {
	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := "user"
		if turn.Role == vision.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: turn.Content}},
		})
	}
	contents = append(contents, geminiContent{
		Role: "user",
		Parts: []geminiPart{
			{Text: req.Prompt},
			{InlineData: &geminiInlineData{MimeType: req.Image.MIME, Data: req.Image.Base64()}},
		},
	})

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.opts.maxTokens
	}
	return &geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: maxTokens,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, model string, payload *geminiRequest, stream bool) (io.ReadCloser, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	endpoint := strings.TrimRight(c.opts.baseURL, "/") + "/models/" + url.PathEscape(model)
	if stream {
		endpoint += ":streamGenerateContent?alt=sse"
	} else {
		endpoint += ":generateContent"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.opts.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, vision.WrapTransportError("gemini", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, vision.StatusError("gemini", resp.StatusCode, data)
	}
	return resp.Body, nil
}

func (c *Client) consumeStream(body io.ReadCloser, stream *vision.Stream, model string) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	meta := vision.StreamMeta{Provider: "gemini", Model: model}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var resp geminiResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue
		}
		if (resp.UsageMetadata != geminiUsageMetadata{}) {
			meta.Usage = vision.Usage{
				InputTokens:  resp.UsageMetadata.PromptTokenCount,
				OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
				TotalTokens:  resp.UsageMetadata.TotalTokenCount,
			}
		}
		if text := resp.JoinText(); text != "" {
			stream.Push(vision.Fragment{Text: text})
		}
	}

	if err := scanner.Err(); err != nil {
		stream.Fail(vision.WrapTransportError("gemini", err))
		return
	}
	// Gemini ends the SSE body without a sentinel.
	stream.SetMeta(meta)
	stream.Close()
}

func chooseModel(requestModel, defaultModel string) string {
	if requestModel != "" {
		return requestModel
	}
	return defaultModel
}
