// ABOUTME: Tests for the OpenAI-compatible vision client
// ABOUTME: Exercises payload construction, streaming, auth headers, and error mapping

package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/2389/glimpse-gateway/internal/fault"
	"github.com/2389/glimpse-gateway/internal/vision"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func testImage() vision.Image {
	return vision.Image{Data: []byte{0x89, 0x50, 0x4e, 0x47}, MIME: "image/png"}
}

func TestProcessImage(t *testing.T) {
	var captured chatRequest
	var gotAuth string
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		body := chatResponse{
			ID:    "chatcmpl-123",
			Model: "gpt-4o",
			Choices: []chatChoice{{
				Message:      responseMessage{Role: "assistant", Content: "A red bicycle leaning on a wall."},
				FinishReason: "stop",
			}},
			Usage: chatUsage{PromptTokens: 900, CompletionTokens: 12, TotalTokens: 912},
		}
		buf, _ := json.Marshal(body)
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(buf)),
			Header:     http.Header{"Content-Type": []string{"application/json"}},
		}, nil
	})

	client := New(
		WithBaseURL("https://api.example.com/v1"),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithAPIKey("sk-test"),
		WithModel("gpt-4o"),
	)

	res, err := client.ProcessImage(context.Background(), vision.Request{
		Prompt: "What is in this image?",
		Image:  testImage(),
	})
	if err != nil {
		t.Fatalf("ProcessImage error: %v", err)
	}
	if res.Text != "A red bicycle leaning on a wall." {
		t.Fatalf("unexpected text: %s", res.Text)
	}
	if res.Provider != "openai" || res.Model != "gpt-4o" {
		t.Fatalf("unexpected attribution: %s/%s", res.Provider, res.Model)
	}
	if res.Usage.TotalTokens != 912 {
		t.Fatalf("unexpected usage: %+v", res.Usage)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header: %s", gotAuth)
	}

	// The image must ride on the final user message as a data URL.
	last := captured.Messages[len(captured.Messages)-1]
	if last.Role != "user" || len(last.Content) != 2 {
		t.Fatalf("unexpected final message: %+v", last)
	}
	if last.Content[1].ImageURL == nil || !strings.HasPrefix(last.Content[1].ImageURL.URL, "data:image/png;base64,") {
		t.Fatalf("image not encoded as data URL: %+v", last.Content[1])
	}
}

func TestProcessImage_ReplaysHistory(t *testing.T) {
	var captured chatRequest
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		body := chatResponse{Choices: []chatChoice{{Message: responseMessage{Content: "ok"}}}}
		buf, _ := json.Marshal(body)
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(buf))}, nil
	})

	client := New(WithHTTPClient(&http.Client{Transport: transport}))

	_, err := client.ProcessImage(context.Background(), vision.Request{
		Prompt: "And what color is it?",
		Image:  testImage(),
		History: []vision.Turn{
			{Role: vision.RoleUser, Content: "What is in this image?"},
			{Role: vision.RoleAssistant, Content: "A bicycle."},
		},
	})
	if err != nil {
		t.Fatalf("ProcessImage error: %v", err)
	}
	if len(captured.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(captured.Messages))
	}
	if captured.Messages[0].Role != "user" || captured.Messages[0].Content[0].Text != "What is in this image?" {
		t.Fatalf("history turn 0 wrong: %+v", captured.Messages[0])
	}
	if captured.Messages[1].Role != "assistant" {
		t.Fatalf("history turn 1 wrong: %+v", captured.Messages[1])
	}
}

func TestStreamImage(t *testing.T) {
	events := "data: {\"id\":\"c\",\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"A red \"}}]}\n\n" +
		"data: {\"id\":\"c\",\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"bicycle.\"},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":900,\"completion_tokens\":4,\"total_tokens\":904}}\n\n" +
		"data: [DONE]\n\n"

	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewBufferString(events)),
			Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		}, nil
	})

	client := New(WithHTTPClient(&http.Client{Transport: transport}), WithModel("gpt-4o"))

	stream, err := client.StreamImage(context.Background(), vision.Request{Prompt: "describe", Image: testImage()})
	if err != nil {
		t.Fatalf("StreamImage error: %v", err)
	}

	var output string
	for f := range stream.Fragments() {
		output += f.Text
	}
	if output != "A red bicycle." {
		t.Fatalf("unexpected streamed text: %q", output)
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	meta := stream.Meta()
	if meta.Usage.TotalTokens != 904 {
		t.Fatalf("unexpected usage: %+v", meta.Usage)
	}
}

func TestStreamImage_NoDoneSentinel(t *testing.T) {
	events := "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n"

	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewBufferString(events))}, nil
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
	if output != "partial" {
		t.Fatalf("unexpected text: %q", output)
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream without [DONE] should still close cleanly, got %v", err)
	}
}

func TestProcessImage_UpstreamRejected(t *testing.T) {
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusUnauthorized,
			Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"Incorrect API key"}}`)),
		}, nil
	})

	client := New(WithHTTPClient(&http.Client{Transport: transport}), WithProviderName("doubao"))
	_, err := client.ProcessImage(context.Background(), vision.Request{Prompt: "p", Image: testImage()})
	if err == nil {
		t.Fatal("expected error")
	}
	if fault.KindOf(err) != fault.KindUpstreamRejected {
		t.Fatalf("expected upstream_rejected, got %s", fault.KindOf(err))
	}
	var fe *fault.Error
	if !errors.As(err, &fe) || fe.Provider != "doubao" {
		t.Fatalf("expected provider attribution 'doubao', got %+v", err)
	}
}

func TestProcessImage_Timeout(t *testing.T) {
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		<-r.Context().Done()
		return nil, r.Context().Err()
	})

	client := New(WithHTTPClient(&http.Client{Transport: transport}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.ProcessImage(ctx, vision.Request{Prompt: "p", Image: testImage()})
	if err == nil {
		t.Fatal("expected error")
	}
	if fault.KindOf(err) != fault.KindUpstreamTimeout {
		t.Fatalf("expected upstream_timeout, got %v", err)
	}
}

func TestResolveEndpoint(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{base: "https://api.openai.com/v1", want: "https://api.openai.com/v1/chat/completions"},
		{base: "https://ark.cn-beijing.volces.com/api/v3", want: "https://ark.cn-beijing.volces.com/api/v3/chat/completions"},
		{base: "https://open.bigmodel.cn/api/paas/v4/", want: "https://open.bigmodel.cn/api/paas/v4/chat/completions"},
		{base: "http://localhost:8000", want: "http://localhost:8000/v1/chat/completions"},
		{base: "http://localhost:8000/v1/chat/completions", want: "http://localhost:8000/v1/chat/completions"},
	}
	for _, tt := range tests {
		if got := resolveEndpoint(tt.base); got != tt.want {
			t.Errorf("resolveEndpoint(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestTestConnection(t *testing.T) {
	var captured chatRequest
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		body := chatResponse{Choices: []chatChoice{{Message: responseMessage{Content: "Hi"}}}}
		buf, _ := json.Marshal(body)
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(buf))}, nil
	})

	client := New(WithHTTPClient(&http.Client{Transport: transport}))
	if err := client.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection error: %v", err)
	}
	if captured.MaxTokens != 1 {
		t.Fatalf("probe should request a single token, got %d", captured.MaxTokens)
	}
}
