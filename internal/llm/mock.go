package llm

import (
	"context"
	"strings"
	"time"
)

const mockWords = 40

type mockGenerator struct{}

// NewMockGenerator returns a generator that echoes the opening words of the
// last paragraph of the prompt.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	prompt := strings.TrimSpace(req.Prompt)
	if i := strings.LastIndex(prompt, "\n\n"); i >= 0 {
		prompt = prompt[i+2:]
	}
	words := strings.Fields(prompt)
	if len(words) > mockWords {
		words = words[:mockWords]
	}
	content := ""
	if len(words) > 0 {
		content = "Mock summary. " + strings.Join(words, " ")
	}
	return consumer(Chunk{
		Content: content,
		Partial: false,
		Latency: 20 * time.Millisecond,
	})
}
