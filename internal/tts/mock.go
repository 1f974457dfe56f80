package tts

import (
	"context"
	"strings"
	"time"

	"github.com/loqalabs/loqa-digest/internal/audio"
)

const mockWordDuration = 250 * time.Millisecond

type mockSynth struct {
	encoding audio.Encoding
}

// NewMockSynth returns a synthesizer producing silent audio whose length
// follows the word count.
func NewMockSynth(encoding audio.Encoding) Synthesizer {
	return &mockSynth{encoding: encoding}
}

func (m *mockSynth) Name() string { return "mock" }

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enc := req.Encoding
	if enc == "" {
		enc = m.encoding
	}
	words := max(len(strings.Fields(req.Text)), 1)
	return audio.Silence(enc, time.Duration(words)*mockWordDuration)
}
