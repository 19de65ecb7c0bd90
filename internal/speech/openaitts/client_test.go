// ABOUTME: Tests for the OpenAI speech client
// ABOUTME: Exercises payload construction, format mapping, and error handling

package openaitts

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/2389/glimpse-gateway/internal/fault"
	"github.com/2389/glimpse-gateway/internal/speech"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestSynthesize(t *testing.T) {
	var captured speechRequest
	var gotAuth string
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader([]byte("mp3-bytes"))),
			Header:     http.Header{"Content-Type": []string{"audio/mpeg"}},
		}, nil
	})

	client := New(WithAPIKey("sk-test"), WithHTTPClient(&http.Client{Transport: transport}))

	res, err := client.Synthesize(context.Background(), "A red bicycle.", speech.Options{
		Voice: "nova", Speed: 1.5, Format: "mp3",
	})
	if err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	if string(res.Audio) != "mp3-bytes" {
		t.Fatalf("unexpected audio: %q", res.Audio)
	}
	if res.Format != "mp3" || res.ContentType != "audio/mpeg" {
		t.Fatalf("unexpected format mapping: %s/%s", res.Format, res.ContentType)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header: %s", gotAuth)
	}
	if captured.Model != "tts-1" || captured.Voice != "nova" || captured.Input != "A red bicycle." {
		t.Fatalf("unexpected payload: %+v", captured)
	}
	if captured.Speed != 1.5 {
		t.Fatalf("unexpected speed: %v", captured.Speed)
	}
}

func TestSynthesize_OggMapsToOpus(t *testing.T) {
	var captured speechRequest
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader([]byte("ogg")))}, nil
	})

	client := New(WithHTTPClient(&http.Client{Transport: transport}))
	res, err := client.Synthesize(context.Background(), "hi", speech.Options{Format: "ogg"})
	if err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	if captured.ResponseFormat != "opus" {
		t.Fatalf("expected opus on the wire, got %q", captured.ResponseFormat)
	}
	if res.Format != "ogg" || res.ContentType != "audio/ogg" {
		t.Fatalf("result should keep the generic format: %s/%s", res.Format, res.ContentType)
	}
}

func TestSynthesize_UnknownVoiceFallsBack(t *testing.T) {
	var captured speechRequest
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader([]byte("a")))}, nil
	})

	client := New(WithHTTPClient(&http.Client{Transport: transport}))
	if _, err := client.Synthesize(context.Background(), "hi", speech.Options{Voice: "rachel"}); err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	if captured.Voice != "alloy" {
		t.Fatalf("expected fallback to alloy, got %q", captured.Voice)
	}
}

func TestSynthesize_HTTPError(t *testing.T) {
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusUnauthorized,
			Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"Incorrect API key"}}`)),
		}, nil
	})

	client := New(WithHTTPClient(&http.Client{Transport: transport}))
	_, err := client.Synthesize(context.Background(), "hi", speech.Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if fault.KindOf(err) != fault.KindSpeechFailed {
		t.Fatalf("expected speech_generation_failed, got %s", fault.KindOf(err))
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("error should carry the status code: %v", err)
	}
}

func TestVoices(t *testing.T) {
	client := New()
	got := client.Voices()
	if len(got) != 6 {
		t.Fatalf("expected 6 voices, got %d", len(got))
	}
	if got[0].ID != "alloy" {
		t.Fatalf("expected alloy first, got %s", got[0].ID)
	}
}
