package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-digest/internal/audio"
)

// ErrConfigurationMissing reports that no provider credential is available.
var ErrConfigurationMissing = errors.New("speech provider not configured")

// SynthRequest contains parameters to synthesize speech for one chunk.
type SynthRequest struct {
	Text         string
	Voice        string
	Language     string
	SpeakingRate float64
	Pitch        float64
	Encoding     audio.Encoding
}

// Synthesizer is the contract for producing encoded audio.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req SynthRequest) ([]byte, error)
}

// ProviderError is a non-success response from a speech provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Quota reports whether the provider rejected the call for rate or quota
// reasons.
func (e *ProviderError) Quota() bool {
	msg := strings.ToLower(e.Message)
	return e.StatusCode == 429 || strings.Contains(msg, "quota") || strings.Contains(msg, "resource_exhausted")
}
