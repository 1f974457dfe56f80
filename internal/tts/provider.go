package tts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-digest/internal/audio"
	"github.com/loqalabs/loqa-digest/internal/config"
)

// New builds the synthesizer selected by cfg.Mode. The choice is made once;
// callers never branch on the provider afterwards.
func New(ctx context.Context, cfg config.TTSConfig, log *slog.Logger) (Synthesizer, error) {
	enc, err := audio.ParseEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	var synth Synthesizer
	switch cfg.Mode {
	case "", "mock":
		synth = NewMockSynth(enc)
	case "exec":
		synth, err = NewExecSynth(cfg.Command)
	case "google":
		synth, err = NewGoogleSynth(ctx, cfg)
	case "elevenlabs":
		synth, err = NewElevenLabsSynth(cfg)
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	log.Info("speech provider selected", slog.String("provider", synth.Name()), slog.String("encoding", string(enc)))
	return synth, nil
}
