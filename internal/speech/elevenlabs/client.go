// ABOUTME: Speech adapter for the ElevenLabs text-to-speech API
// ABOUTME: Accepts voice names or raw voice ids and always produces mp3 audio

package elevenlabs

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

const defaultVoiceID = "21m00Tcm4TlvDq8ikWAM" // Rachel

// Premade voices. The API addresses voices by id; the friendly names are
// accepted as aliases so a config written for one vendor stays readable.
var voices = []speech.Voice{
	{ID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel", Language: "en-US", Gender: "female"},
	{ID: "AZnzlk1XvdvUeBnXmlld", Name: "Domi", Language: "en-US", Gender: "female"},
	{ID: "ErXwobaYiN019PkySvjV", Name: "Antoni", Language: "en-US", Gender: "male"},
	{ID: "MF3mGyEYCl7XYWbV9V6O", Name: "Elli", Language: "en-US", Gender: "female"},
	{ID: "TxGEqnHWrfWFTfGW9XjX", Name: "Josh", Language: "en-US", Gender: "male"},
	{ID: "pNInz6obpgDQGcFmaJgB", Name: "Adam", Language: "en-US", Gender: "male"},
}

// Speed range the voice_settings object accepts, narrower than the generic
// [0.25, 4.0] bounds.
const (
	minVendorSpeed = 0.7
	maxVendorSpeed = 1.2
)

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// Client implements speech.Adapter against the ElevenLabs API.
type Client struct {
	httpClient *http.Client
	opts       options
}

// New constructs a client. Without options it targets api.elevenlabs.io
// with the multilingual v2 model.
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
	voiceID := resolveVoiceID(opts.Voice)

	payload := synthesisRequest{
		Text:    text,
		ModelID: c.opts.model,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           vendorSpeed(opts.Speed),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fault.New(fault.KindSpeechFailed, "could not encode speech request",
			fault.WithProvider("elevenlabs"), fault.WithWrapped(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.opts.baseURL+"/text-to-speech/"+voiceID, bytes.NewReader(body))
	if err != nil {
		return nil, fault.New(fault.KindSpeechFailed, "could not build speech request",
			fault.WithProvider("elevenlabs"), fault.WithWrapped(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.opts.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fault.New(fault.KindSpeechFailed,
			fmt.Sprintf("elevenlabs speech request failed: %v", err),
			fault.WithProvider("elevenlabs"), fault.WithWrapped(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fault.New(fault.KindSpeechFailed,
			fmt.Sprintf("elevenlabs returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt))),
			fault.WithProvider("elevenlabs"))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.New(fault.KindSpeechFailed, "could not read speech response",
			fault.WithProvider("elevenlabs"), fault.WithWrapped(err))
	}

	// The API serves mp3 regardless of what container was asked for.
	return &speech.Result{
		Audio:       audio,
		Format:      "mp3",
		ContentType: speech.ContentTypeForFormat("mp3"),
		Voice:       voiceID,
		Speed:       opts.Speed,
	}, nil
}

func (c *Client) Voices() []speech.Voice {
	out := make([]speech.Voice, len(voices))
	copy(out, voices)
	return out
}

func resolveVoiceID(voice string) string {
	for _, v := range voices {
		if v.ID == voice || strings.EqualFold(v.Name, voice) {
			return v.ID
		}
	}
	return defaultVoiceID
}

func vendorSpeed(speed float64) float64 {
	switch {
	case speed == 0 || speed == 1.0:
		return 0
	case speed < minVendorSpeed:
		return minVendorSpeed
	case speed > maxVendorSpeed:
		return maxVendorSpeed
	}
	return speed
}
