// ABOUTME: Tests for the Anthropic vision client
// ABOUTME: Covers payload shape, typed SSE event handling, and error mapping

package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/2389/glimpse-gateway/internal/fault"
	"github.com/2389/glimpse-gateway/internal/vision"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func testImage() vision.Image {
	return vision.Image{Data: []byte{0x89, 0x50}, MIME: "image/png"}
}

func TestProcessImage(t *testing.T) {
	var captured messagesRequest
	var gotKey, gotVersion string
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/messages" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		body := messagesResponse{
			ID:         "msg_123",
			Model:      "claude-3-5-sonnet-20241022",
			Content:    []anthropicContent{{Type: "text", Text: "A lighthouse at dusk."}},
			StopReason: "end_turn",
			Usage:      anthropicUsage{InputTokens: 850, OutputTokens: 10},
		}
		buf, _ := json.Marshal(body)
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(buf))}, nil
	})

	client := New(
		WithBaseURL("https://api.example.com/v1"),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithAPIKey("ant-key"),
	)

	res, err := client.ProcessImage(context.Background(), vision.Request{Prompt: "Describe.", Image: testImage()})
	if err != nil {
		t.Fatalf("ProcessImage error: %v", err)
	}
	if res.Text != "A lighthouse at dusk." {
		t.Fatalf("unexpected text: %s", res.Text)
	}
	if res.Usage.TotalTokens != 860 {
		t.Fatalf("expected total tokens summed from input+output, got %+v", res.Usage)
	}
	if gotKey != "ant-key" || gotVersion != "2023-06-01" {
		t.Fatalf("unexpected auth headers: key=%s version=%s", gotKey, gotVersion)
	}

	// max_tokens is mandatory on this API, so the default must be applied.
	if captured.MaxTokens == 0 {
		t.Fatal("max_tokens not set")
	}
	content := captured.Messages[0].Content
	if content[0].Type != "image" || content[0].Source == nil || content[0].Source.Type != "base64" {
		t.Fatalf("image block malformed: %+v", content[0])
	}
	if content[0].Source.MediaType != "image/png" {
		t.Fatalf("unexpected media type: %s", content[0].Source.MediaType)
	}
}

func TestStreamImage(t *testing.T) {
	events := strings.Join([]string{
		`event: message_start`,
		`data: {"message":{"model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":850}}}`,
		``,
		`event: content_block_delta`,
		`data: {"index":0,"delta":{"type":"text_delta","text":"A light"}}`,
		``,
		`event: content_block_delta`,
		`data: {"index":0,"delta":{"type":"text_delta","text":"house."}}`,
		``,
		`event: message_delta`,
		`data: {"delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`,
		``,
		`event: message_stop`,
		`data: {}`,
		``,
	}, "\n")

	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(events))}, nil
	})

	client := New(WithHTTPClient(&http.Client{Transport: transport}))
	stream, err := client.StreamImage(context.Background(), vision.Request{Prompt: "p", Image: testImage()})
	if err != nil {
		t.Fatalf("StreamImage error: %v", err)
	}

	var output string
	for f := range stream.Fragments() {
		output += f.Text
	}
	if output != "A lighthouse." {
		t.Fatalf("unexpected streamed text: %q", output)
	}
	meta := stream.Meta()
	if meta.Usage.InputTokens != 850 || meta.Usage.OutputTokens != 5 || meta.Usage.TotalTokens != 855 {
		t.Fatalf("unexpected usage: %+v", meta.Usage)
	}
	if meta.Model != "claude-3-5-sonnet-20241022" {
		t.Fatalf("unexpected model: %s", meta.Model)
	}
}

func TestStreamImage_ErrorEvent(t *testing.T) {
	events := strings.Join([]string{
		`event: error`,
		`data: {"error":{"type":"overloaded_error","message":"Overloaded"}}`,
		``,
	}, "\n")

	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(events))}, nil
	})

	client := New(WithHTTPClient(&http.Client{Transport: transport}))
	stream, err := client.StreamImage(context.Background(), vision.Request{Prompt: "p", Image: testImage()})
	if err != nil {
		t.Fatalf("StreamImage error: %v", err)
	}

	for range stream.Fragments() {
	}
	if err := stream.Err(); err == nil {
		t.Fatal("expected terminal error from error event")
	} else if fault.KindOf(err) != fault.KindUpstreamRejected {
		t.Fatalf("expected upstream_rejected, got %v", err)
	}
}

func TestProcessImage_UpstreamRejected(t *testing.T) {
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusTooManyRequests,
			Body:       io.NopCloser(strings.NewReader(`{"error":{"type":"rate_limit_error"}}`)),
		}, nil
	})

	client := New(WithHTTPClient(&http.Client{Transport: transport}))
	_, err := client.ProcessImage(context.Background(), vision.Request{Prompt: "p", Image: testImage()})
	if err == nil {
		t.Fatal("expected error")
	}
	if fault.KindOf(err) != fault.KindUpstreamRejected {
		t.Fatalf("expected upstream_rejected, got %s", fault.KindOf(err))
	}
}

func TestTestConnection(t *testing.T) {
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/models" {
			t.Fatalf("unexpected probe request: %s %s", r.Method, r.URL.Path)
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{"data":[]}`))}, nil
	})

	client := New(WithBaseURL("https://api.example.com/v1"), WithHTTPClient(&http.Client{Transport: transport}))
	if err := client.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection error: %v", err)
	}
}
