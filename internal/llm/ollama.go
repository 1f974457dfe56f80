package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaModel = "llama3.2:latest"

// ollamaGenerator talks to the Ollama chat endpoint and relays its
// newline-delimited stream as chunks.
type ollamaGenerator struct {
	baseURL string
	model   string
	http    *http.Client
}

func NewOllamaGenerator(endpoint, model string, timeout time.Duration) Generator {
	if model == "" {
		model = defaultOllamaModel
	}
	return &ollamaGenerator{
		baseURL: strings.TrimRight(endpoint, "/"),
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatEvent struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	Error           string        `json:"error,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

func (g *ollamaGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	payload := ollamaChatRequest{
		Model:    g.model,
		Messages: chatMessages(req),
		Stream:   true,
	}
	if req.Model != "" {
		payload.Model = req.Model
	}
	if opts := ollamaOptions(req); len(opts) > 0 {
		payload.Options = opts
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ollama returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	return relayOllamaStream(ctx, resp.Body, consumer)
}

func relayOllamaStream(ctx context.Context, r io.Reader, consumer func(Chunk) error) error {
	start := time.Now()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var evt ollamaChatEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			return fmt.Errorf("decode ollama event: %w", err)
		}
		if evt.Error != "" {
			return fmt.Errorf("ollama: %s", evt.Error)
		}
		err := consumer(Chunk{
			Content:          evt.Message.Content,
			Partial:          !evt.Done,
			PromptTokens:     evt.PromptEvalCount,
			CompletionTokens: evt.EvalCount,
			Latency:          time.Since(start),
		})
		if err != nil || evt.Done {
			return err
		}
	}
	return scanner.Err()
}

func chatMessages(req Request) []ollamaMessage {
	msgs := make([]ollamaMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: req.System})
	}
	return append(msgs, ollamaMessage{Role: "user", Content: req.Prompt})
}

func ollamaOptions(req Request) map[string]any {
	opts := map[string]any{}
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	return opts
}
