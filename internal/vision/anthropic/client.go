// ABOUTME: Vision adapter for Anthropic's messages API
// ABOUTME: Normalizes base64 image blocks and Anthropic's typed SSE events

package anthropic

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

// Client implements vision.Provider against the Anthropic messages API.
type Client struct {
	httpClient *http.Client
	opts       options
}

// New constructs an Anthropic client.
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

	body, err := c.doRequest(ctx, http.MethodPost, "/messages", payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp messagesResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fault.New(fault.KindUpstreamRejected,
			"anthropic returned an unparseable response",
			fault.WithProvider("anthropic"), fault.WithWrapped(err))
	}

	model := resp.Model
	if model == "" {
		model = payload.Model
	}
	return &vision.Result{
		Text:     resp.JoinText(),
		Model:    model,
		Provider: "anthropic",
		Usage: vision.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func (c *Client) StreamImage(ctx context.Context, req vision.Request) (*vision.Stream, error) {
	payload := c.buildPayload(req, true)

	body, err := c.doRequest(ctx, http.MethodPost, "/messages", payload)
	if err != nil {
		return nil, err
	}

	stream := vision.NewStream(ctx)
	go c.consumeStream(body, stream, payload.Model)
	return stream, nil
}

// TestConnection lists models; rejected keys fail here without burning
// tokens.
func (c *Client) TestConnection(ctx context.Context) error {
	body, err := c.doRequest(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return err
	}
	body.Close()
	return nil
}

func (c *Client) Capabilities() vision.Capabilities {
	return vision.Capabilities{
		Provider:  "anthropic",
		Models:    []string{c.opts.model},
		Streaming: true,
	}
}

func (c *Client) buildPayload(req vision.Request, stream bool) *messagesRequest {
	messages := make([]anthropicMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages, anthropicMessage{
			Role:    string(turn.Role),
			Content: []anthropicContent{{Type: "text", Text: turn.Content}},
		})
	}
	messages = append(messages, anthropicMessage{
		Role: "user",
		Content: []anthropicContent{
			{Type: "image", Source: &anthropicImageSource{
				Type:      "base64",
				MediaType: req.Image.MIME,
				Data:      req.Image.Base64(),
			}},
			{Type: "text", Text: req.Prompt},
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
	return &messagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    messages,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload *messagesRequest) (io.ReadCloser, error) {
	buf := &bytes.Buffer{}
	if payload != nil {
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.opts.baseURL, "/")+path, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.opts.apiKey)
	req.Header.Set("anthropic-version", c.opts.version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, vision.WrapTransportError("anthropic", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, vision.StatusError("anthropic", resp.StatusCode, data)
	}
	return resp.Body, nil
}

func (c *Client) consumeStream(body io.ReadCloser, stream *vision.Stream, requestModel string) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	meta := vision.StreamMeta{Provider: "anthropic", Model: requestModel}
	usage := anthropicUsage{}
	var currentEvent string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		switch currentEvent {
		case "message_start":
			var start streamMessageStart
			if err := json.Unmarshal([]byte(data), &start); err != nil {
				continue
			}
			if start.Message.Model != "" {
				meta.Model = start.Message.Model
			}
			usage.InputTokens = start.Message.Usage.InputTokens
		case "content_block_delta":
			var delta streamContentDelta
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				continue
			}
			if delta.Delta.Type == "text_delta" && delta.Delta.Text != "" {
				stream.Push(vision.Fragment{Text: delta.Delta.Text})
			}
		case "message_delta":
			var delta streamMessageDelta
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				continue
			}
			if delta.Usage.OutputTokens > usage.OutputTokens {
				usage.OutputTokens = delta.Usage.OutputTokens
			}
		case "message_stop":
			meta.Usage = vision.Usage{
				InputTokens:  usage.InputTokens,
				OutputTokens: usage.OutputTokens,
				TotalTokens:  usage.InputTokens + usage.OutputTokens,
			}
			stream.SetMeta(meta)
			stream.Close()
			return
		case "error":
			stream.Fail(fault.New(fault.KindUpstreamRejected,
				fmt.Sprintf("anthropic stream error: %s", data),
				fault.WithProvider("anthropic")))
			return
		}
	}

	if err := scanner.Err(); err != nil {
		stream.Fail(vision.WrapTransportError("anthropic", err))
		return
	}
	stream.SetMeta(meta)
	stream.Close()
}
