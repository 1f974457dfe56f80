package llm

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-digest/internal/config"
)

// New selects the generator named by cfg.Mode.
func New(cfg config.LLMConfig, log *slog.Logger) (Generator, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	var (
		gen Generator
		err error
	)
	switch cfg.Mode {
	case "", "mock":
		gen = NewMockGenerator()
	case "ollama":
		gen = NewOllamaGenerator(cfg.Endpoint, cfg.Model, timeout)
	case "exec":
		gen, err = NewExecGenerator(cfg.Command)
	case "openai":
		gen, err = NewOpenAIGenerator(cfg.Endpoint, cfg.APIKey, cfg.Model, timeout)
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	log.Info("language model selected", slog.String("mode", cfg.Mode), slog.String("model", cfg.Model))
	return gen, nil
}
