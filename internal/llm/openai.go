package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// openaiGenerator talks to any OpenAI-compatible chat completions endpoint,
// including Gemini's compatibility layer.
type openaiGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(endpoint, apiKey, model string, timeout time.Duration) (Generator, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("openai generator requires a model")
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(endpoint, "/")))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := openai.NewClient(opts...)
	return &openaiGenerator{client: &client, model: model}, nil
}

func (g *openaiGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	model := req.Model
	if model == "" {
		model = g.model
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Opt(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Opt(req.Temperature)
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("chat completion failed (status=%d): %s", apiErr.StatusCode, strings.TrimSpace(apiErr.Message))
		}
		return fmt.Errorf("chat completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return errors.New("chat completion returned no choices")
	}

	return consumer(Chunk{
		Content:          resp.Choices[0].Message.Content,
		Partial:          false,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		Latency:          time.Since(start),
	})
}
