// ABOUTME: Tests for the Gemini vision client
// ABOUTME: Covers role mapping, inline image data, SSE streaming, and error mapping

package gemini

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
	return vision.Image{Data: []byte{0xff, 0xd8, 0xff}, MIME: "image/jpeg"}
}

func TestProcessImage(t *testing.T) {
	var captured geminiRequest
	var gotPath, gotKey string
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		body := geminiResponse{
			Candidates: []geminiCandidate{{
				Content:      geminiContent{Role: "model", Parts: []geminiPart{{Text: "A sunset over water."}}},
				FinishReason: "STOP",
			}},
			UsageMetadata: geminiUsageMetadata{PromptTokenCount: 300, CandidatesTokenCount: 6, TotalTokenCount: 306},
		}
		buf, _ := json.Marshal(body)
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(buf))}, nil
	})

	client := New(
		WithBaseURL("https://example.com/v1beta"),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithAPIKey("goog-key"),
		WithModel("gemini-2.0-flash-exp"),
	)

	res, err := client.ProcessImage(context.Background(), vision.Request{
		Prompt: "Describe this.",
		Image:  testImage(),
		History: []vision.Turn{
			{Role: vision.RoleUser, Content: "hi"},
			{Role: vision.RoleAssistant, Content: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("ProcessImage error: %v", err)
	}
	if res.Text != "A sunset over water." {
		t.Fatalf("unexpected text: %s", res.Text)
	}
	if res.Usage.TotalTokens != 306 {
		t.Fatalf("unexpected usage: %+v", res.Usage)
	}
	if gotPath != "/v1beta/models/gemini-2.0-flash-exp:generateContent" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotKey != "goog-key" {
		t.Fatalf("unexpected api key header: %s", gotKey)
	}

	// Assistant history must be replayed with Gemini's "model" role.
	if captured.Contents[1].Role != "model" {
		t.Fatalf("assistant turn role = %q, want model", captured.Contents[1].Role)
	}
	last := captured.Contents[len(captured.Contents)-1]
	if last.Parts[1].InlineData == nil || last.Parts[1].InlineData.MimeType != "image/jpeg" {
		t.Fatalf("image not sent as inline data: %+v", last)
	}
}

func TestStreamImage(t *testing.T) {
	events := "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"A sun\"}]}}]}\n\n" +
		"data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"set.\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":300,\"candidatesTokenCount\":4,\"totalTokenCount\":304}}\n\n"

	var gotURL string
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		gotURL = r.URL.String()
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewBufferString(events))}, nil
	})

	client := New(WithHTTPClient(&http.Client{Transport: transport}), WithModel("gemini-2.0-flash-exp"))

	stream, err := client.StreamImage(context.Background(), vision.Request{Prompt: "p", Image: testImage()})
	if err != nil {
		t.Fatalf("StreamImage error: %v", err)
	}

	var output string
	for f := range stream.Fragments() {
		output += f.Text
	}
	if output != "A sunset." {
		t.Fatalf("unexpected streamed text: %q", output)
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if stream.Meta().Usage.TotalTokens != 304 {
		t.Fatalf("unexpected usage: %+v", stream.Meta().Usage)
	}
	if !strings.Contains(gotURL, ":streamGenerateContent") || !strings.Contains(gotURL, "alt=sse") {
		t.Fatalf("expected SSE streaming endpoint, got %s", gotURL)
	}
}

func TestProcessImage_UpstreamRejected(t *testing.T) {
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadRequest,
			Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"API key not valid"}}`)),
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
	if !strings.Contains(err.Error(), "API key not valid") {
		t.Fatalf("expected vendor message carried, got %q", err.Error())
	}
}

func TestTestConnection(t *testing.T) {
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1beta/models" {
			t.Fatalf("unexpected probe request: %s %s", r.Method, r.URL.Path)
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{"models":[]}`))}, nil
	})

	client := New(WithBaseURL("https://example.com/v1beta"), WithHTTPClient(&http.Client{Transport: transport}))
	if err := client.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection error: %v", err)
	}
}
