// ABOUTME: Tests for the validating speech synthesizer
// ABOUTME: Covers default filling, speed clamping, and voice fallback

package speech

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/2389/glimpse-gateway/internal/fault"
)

type fakeAdapter struct {
	gotText string
	gotOpts Options
	calls   int
}

func (f *fakeAdapter) Synthesize(ctx context.Context, text string, opts Options) (*Result, error) {
	f.calls++
	f.gotText = text
	f.gotOpts = opts
	return &Result{Audio: []byte("audio"), Format: opts.Format, Voice: opts.Voice, Speed: opts.Speed}, nil
}

func (f *fakeAdapter) Voices() []Voice {
	return []Voice{{ID: "alloy", Name: "Alloy", Language: "en-US"}}
}

func newTestSynthesizer(adapter Adapter) *Synthesizer {
	return NewSynthesizer(adapter, NewPreprocessor(4096, nil),
		Options{Voice: "alloy", Speed: 1.0, Format: "mp3"}, nil)
}

func TestSynthesize_AppliesDefaults(t *testing.T) {
	adapter := &fakeAdapter{}
	syn := newTestSynthesizer(adapter)

	if _, err := syn.Synthesize(context.Background(), "hello there", Options{}); err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	got := adapter.gotOpts
	if got.Voice != "alloy" || got.Speed != 1.0 || got.Format != "mp3" {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestSynthesize_ClampsSpeed(t *testing.T) {
	tests := []struct {
		requested float64
		want      float64
	}{
		{requested: 9.0, want: MaxSpeed},
		{requested: 0.1, want: MinSpeed},
		{requested: 2.0, want: 2.0},
	}

	for _, tt := range tests {
		adapter := &fakeAdapter{}
		syn := newTestSynthesizer(adapter)
		if _, err := syn.Synthesize(context.Background(), "hello", Options{Speed: tt.requested}); err != nil {
			t.Fatalf("Synthesize error: %v", err)
		}
		if adapter.gotOpts.Speed != tt.want {
			t.Errorf("speed %v should clamp to %v, got %v", tt.requested, tt.want, adapter.gotOpts.Speed)
		}
	}
}

func TestSynthesize_UnknownVoiceFallsBack(t *testing.T) {
	adapter := &fakeAdapter{}
	syn := newTestSynthesizer(adapter)

	if _, err := syn.Synthesize(context.Background(), "hello", Options{Voice: "bogus"}); err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	if adapter.gotOpts.Voice != "alloy" {
		t.Fatalf("expected fallback to alloy, got %q", adapter.gotOpts.Voice)
	}
}

func TestSynthesize_PreprocessesText(t *testing.T) {
	adapter := &fakeAdapter{}
	syn := newTestSynthesizer(adapter)

	if _, err := syn.Synthesize(context.Background(), "**Bold** claim at https://example.com/x", Options{}); err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	if adapter.gotText != "Bold claim at link" {
		t.Fatalf("adapter received %q", adapter.gotText)
	}
}

func TestSynthesize_EmptyAfterPreprocessing(t *testing.T) {
	adapter := &fakeAdapter{}
	syn := newTestSynthesizer(adapter)

	_, err := syn.Synthesize(context.Background(), "   \n\t  ", Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if fault.KindOf(err) != fault.KindSpeechFailed {
		t.Fatalf("expected speech_generation_failed, got %s", fault.KindOf(err))
	}
	if adapter.calls != 0 {
		t.Fatalf("adapter should not be called, got %d calls", adapter.calls)
	}
}

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		speed float64
		want  float64
	}{
		{name: "one minute of words", text: strings.TrimSpace(strings.Repeat("word ", 150)), speed: 1.0, want: 60},
		{name: "double speed halves it", text: strings.TrimSpace(strings.Repeat("word ", 150)), speed: 2.0, want: 30},
		{name: "zero speed treated as normal", text: "one two three", speed: 0, want: 1.2},
		{name: "empty text", text: "", speed: 1.0, want: 0},
	}
	for _, tt := range tests {
		got := EstimateDuration(tt.text, tt.speed)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: EstimateDuration = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSynthesize_FillsDurationEstimate(t *testing.T) {
	adapter := &fakeAdapter{}
	syn := newTestSynthesizer(adapter)

	res, err := syn.Synthesize(context.Background(), strings.TrimSpace(strings.Repeat("word ", 15)), Options{})
	if err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	if res.DurationSeconds < 5.9 || res.DurationSeconds > 6.1 {
		t.Fatalf("15 words at normal speed should estimate ~6s, got %v", res.DurationSeconds)
	}
}

func TestContentTypeForFormat(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{format: "mp3", want: "audio/mpeg"},
		{format: "wav", want: "audio/wav"},
		{format: "ogg", want: "audio/ogg"},
		{format: "flac", want: "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := ContentTypeForFormat(tt.format); got != tt.want {
			t.Errorf("ContentTypeForFormat(%q) = %q, want %q", tt.format, got, tt.want)
		}
	}
}
