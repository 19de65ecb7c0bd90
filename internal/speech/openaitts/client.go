// ABOUTME: Speech adapter for the OpenAI text-to-speech API
// ABOUTME: Maps generic formats to the vendor's container set and returns raw audio

package openaitts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2389/glimpse-gateway/internal/fault"
	"github.com/2389/glimpse-gateway/internal/httpclient"
	"github.com/2389/glimpse-gateway/internal/speech"
)

const defaultVoice = "alloy"

var voices = []speech.Voice{
	{ID: "alloy", Name: "Alloy", Language: "en-US"},
	{ID: "echo", Name: "Echo", Language: "en-US", Gender: "male"},
	{ID: "fable", Name: "Fable", Language: "en-US", Gender: "male"},
	{ID: "onyx", Name: "Onyx", Language: "en-US", Gender: "male"},
	{ID: "nova", Name: "Nova", Language: "en-US", Gender: "female"},
	{ID: "shimmer", Name: "Shimmer", Language: "en-US", Gender: "female"},
}

type speechRequest struct {
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	Input          string  `json:"input"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
}

// Client implements speech.Adapter against the OpenAI audio/speech endpoint.
type Client struct {
	httpClient *http.Client
	opts       options
}

// New constructs a client. Without options it targets api.openai.com with
// the tts-1 model.
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

func (c *Client) Synthesize(ctx context.Context, text string, opts speech.Options) (*speech.Result, error) {
	voice := opts.Voice
	if !knownVoice(voice) {
		voice = defaultVoice
	}
	format := normalizeFormat(opts.Format)

	payload := speechRequest{
		Model:          c.opts.model,
		Voice:          voice,
		Input:          text,
		Speed:          opts.Speed,
		ResponseFormat: wireFormat(format),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fault.New(fault.KindSpeechFailed, "could not encode speech request",
			fault.WithProvider("openai"), fault.WithWrapped(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.opts.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fault.New(fault.KindSpeechFailed, "could not build speech request",
			fault.WithProvider("openai"), fault.WithWrapped(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fault.New(fault.KindSpeechFailed,
			fmt.Sprintf("openai speech request failed: %v", err),
			fault.WithProvider("openai"), fault.WithWrapped(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fault.New(fault.KindSpeechFailed,
			fmt.Sprintf("openai speech returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt))),
			fault.WithProvider("openai"))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.New(fault.KindSpeechFailed, "could not read speech response",
			fault.WithProvider("openai"), fault.WithWrapped(err))
	}

	return &speech.Result{
		Audio:       audio,
		Format:      format,
		ContentType: speech.ContentTypeForFormat(format),
		Voice:       voice,
		Speed:       opts.Speed,
	}, nil
}

func (c *Client) Voices() []speech.Voice {
	out := make([]speech.Voice, len(voices))
	copy(out, voices)
	return out
}

func knownVoice(id string) bool {
	for _, v := range voices {
		if v.ID == id {
			return true
		}
	}
	return false
}

func normalizeFormat(format string) string {
	switch strings.ToLower(format) {
	case "mp3", "wav", "ogg":
		return strings.ToLower(format)
	}
	return "mp3"
}

// wireFormat maps the generic container to what the vendor accepts. The
// API has no ogg container, so ogg requests are served as opus.
func wireFormat(format string) string {
	if format == "ogg" {
		return "opus"
	}
	return format
}
