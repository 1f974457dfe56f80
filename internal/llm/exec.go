package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// execGenerator runs an external command per request. The command reads a
// JSON request on stdin and writes one or more JSON lines on stdout; each
// line carries a piece of content and the last one ends the response.
type execGenerator struct {
	argv []string
}

type execPrompt struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type execLine struct {
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	Error            string `json:"error,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("llm command empty")
	}
	return &execGenerator{argv: argv}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	input, err := json.Marshal(execPrompt{
		Prompt:      req.Prompt,
		System:      req.System,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.argv[0], g.argv[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stderr = &stderr
	start := time.Now()
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("llm command failed: %w: %s", err, msg)
		}
		return fmt.Errorf("llm command failed: %w", err)
	}

	var lines []execLine
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var line execLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return fmt.Errorf("decode llm command output: %w", err)
		}
		if line.Error != "" {
			return fmt.Errorf("llm command: %s", line.Error)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(lines) == 0 {
		return ErrEmptySummary
	}

	latency := time.Since(start)
	for i, line := range lines {
		err := consumer(Chunk{
			Content:          line.Content,
			Partial:          i < len(lines)-1,
			PromptTokens:     line.PromptTokens,
			CompletionTokens: line.CompletionTokens,
			Latency:          latency,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
