// ABOUTME: Core types and orchestration for text-to-speech synthesis
// ABOUTME: Defines the vendor adapter contract and the validating Synthesizer

package speech

import (
	"context"
	"log/slog"
	"strings"

	"github.com/2389/glimpse-gateway/internal/fault"
)

// Speed bounds accepted by the vendors we target.
const (
	MinSpeed = 0.25
	MaxSpeed = 4.0
)

// Options carries per-request synthesis parameters. Zero values fall back
// to the synthesizer defaults.
type Options struct {
	Voice  string
	Speed  float64
	Format string
}

// Result is the outcome of one synthesis call. Format reflects what the
// vendor actually produced, which may differ from what was asked for.
// Adapters that cannot measure DurationSeconds leave it zero and the
// synthesizer fills in an estimate.
type Result struct {
	Audio           []byte
	Format          string
	ContentType     string
	Voice           string
	Speed           float64
	DurationSeconds float64
}

// wordsPerMinute is the assumed speaking rate at 1.0 speed.
const wordsPerMinute = 150

// EstimateDuration approximates how long synthesized speech runs. The
// vendor APIs return raw audio without timing, so this assumes an average
// speaking rate scaled by the speed multiplier.
func EstimateDuration(text string, speed float64) float64 {
	if speed <= 0 {
		speed = 1.0
	}
	words := len(strings.Fields(text))
	return float64(words) / (wordsPerMinute * speed) * 60
}

// Voice describes one voice an adapter can speak with.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender,omitempty"`
}

// Adapter converts text to audio through one vendor API. Adapters never
// retry and never touch the network at construction time.
type Adapter interface {
	Synthesize(ctx context.Context, text string, opts Options) (*Result, error)
	Voices() []Voice
}

// ContentTypeForFormat maps an audio container format to its MIME type.
func ContentTypeForFormat(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg":
		return "audio/ogg"
	}
	return "application/octet-stream"
}

// Synthesizer wraps an adapter with text preprocessing and parameter
// validation. It is the single entry point the gateway uses for speech.
type Synthesizer struct {
	adapter  Adapter
	pre      *Preprocessor
	defaults Options
	logger   *slog.Logger
}

func NewSynthesizer(adapter Adapter, pre *Preprocessor, defaults Options, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{adapter: adapter, pre: pre, defaults: defaults, logger: logger}
}

// Synthesize preprocesses text, fills in defaults, clamps the speed, and
// resolves the voice before delegating to the adapter.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, opts Options) (*Result, error) {
	processed := s.pre.Process(text)
	if processed == "" {
		return nil, fault.New(fault.KindSpeechFailed, "nothing speakable left after preprocessing")
	}

	if opts.Voice == "" {
		opts.Voice = s.defaults.Voice
	}
	if opts.Speed == 0 {
		opts.Speed = s.defaults.Speed
	}
	if opts.Format == "" {
		opts.Format = s.defaults.Format
	}
	opts.Speed = s.clampSpeed(opts.Speed)
	opts.Voice = s.resolveVoice(opts.Voice)

	res, err := s.adapter.Synthesize(ctx, processed, opts)
	if err != nil {
		return nil, err
	}
	if res.DurationSeconds == 0 {
		speed := res.Speed
		if speed <= 0 {
			speed = opts.Speed
		}
		res.DurationSeconds = EstimateDuration(processed, speed)
	}
	return res, nil
}

// Voices lists what the underlying adapter offers.
func (s *Synthesizer) Voices() []Voice { return s.adapter.Voices() }

func (s *Synthesizer) clampSpeed(speed float64) float64 {
	switch {
	case speed < MinSpeed:
		s.logger.Warn("speech speed below minimum, clamping",
			"requested", speed, "clamped", MinSpeed)
		return MinSpeed
	case speed > MaxSpeed:
		s.logger.Warn("speech speed above maximum, clamping",
			"requested", speed, "clamped", MaxSpeed)
		return MaxSpeed
	}
	return speed
}

func (s *Synthesizer) resolveVoice(voice string) string {
	for _, v := range s.adapter.Voices() {
		if v.ID == voice {
			return voice
		}
	}
	s.logger.Warn("speech voice not available, using default",
		"requested", voice, "fallback", s.defaults.Voice)
	return s.defaults.Voice
}
