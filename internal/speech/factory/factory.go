// ABOUTME: Constructs the speech synthesizer from configuration
// ABOUTME: Maps the configured provider name to its vendor adapter

package factory

import (
	"fmt"
	"log/slog"

	"github.com/2389/glimpse-gateway/internal/config"
	"github.com/2389/glimpse-gateway/internal/speech"
	"github.com/2389/glimpse-gateway/internal/speech/elevenlabs"
	"github.com/2389/glimpse-gateway/internal/speech/openaitts"
)

// New builds the synthesizer named by cfg.Provider. A nil synthesizer with
// a nil error means speech is disabled; requests asking for audio then get
// text with a null audio locator.
func New(cfg config.SpeechConfig, logger *slog.Logger) (*speech.Synthesizer, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return nil, nil
	}

	var adapter speech.Adapter
	switch cfg.Provider {
	case "openai":
		adapter = openaitts.New(
			openaitts.WithAPIKey(cfg.APIKey),
			openaitts.WithTimeout(cfg.Timeout),
		)
	case "elevenlabs":
		adapter = elevenlabs.New(
			elevenlabs.WithAPIKey(cfg.APIKey),
			elevenlabs.WithTimeout(cfg.Timeout),
		)
	default:
		return nil, fmt.Errorf("unknown speech provider %q (expected openai, elevenlabs, or none)", cfg.Provider)
	}

	defaults := speech.Options{Voice: cfg.Voice, Speed: cfg.Speed, Format: cfg.Format}
	pre := speech.NewPreprocessor(cfg.MaxTextLength, logger)
	return speech.NewSynthesizer(adapter, pre, defaults, logger), nil
}
