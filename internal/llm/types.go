package llm

import (
	"context"
	"errors"
	"time"

	"github.com/loqalabs/loqa-digest/internal/config"
)

var (
	// ErrEmptySummary is returned when the model produced no text.
	ErrEmptySummary = errors.New("model returned an empty summary")
	ErrNoText       = errors.New("no text to summarize")
)

// Request describes a language model prompt.
type Request struct {
	Prompt      string
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Chunk represents streamed model output. The last chunk has Partial unset.
type Chunk struct {
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// OptionsFromConfig builds request defaults from config.
func OptionsFromConfig(cfg config.LLMConfig) Request {
	return Request{Model: cfg.Model, MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
}
