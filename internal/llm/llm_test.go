package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-digest/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type funcGenerator func(ctx context.Context, req Request, consumer func(Chunk) error) error

func (f funcGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	return f(ctx, req, consumer)
}

func TestCombinedSummaryNumbersSections(t *testing.T) {
	var prompts []string
	gen := funcGenerator(func(ctx context.Context, req Request, consumer func(Chunk) error) error {
		prompts = append(prompts, req.Prompt)
		switch {
		case strings.Contains(req.Prompt, "broken article"):
			return errors.New("model overloaded")
		case strings.Contains(req.Prompt, "combines the key information"):
			return consumer(Chunk{Content: "Combined digest."})
		default:
			return consumer(Chunk{Content: "summary of " + req.Prompt[strings.LastIndex(req.Prompt, "\n")+1:]})
		}
	})

	s := NewSummarizer(gen, config.Default().LLM, newLogger())
	out, err := s.CombinedSummary(context.Background(), []Article{
		{Title: "First", Content: "first body", Source: "Feed A"},
		{Title: "Broken", Content: "broken article", Source: "Feed B"},
		{Title: "Third", Content: "third body", Source: "Feed C"},
	}, "")
	if err != nil {
		t.Fatalf("combined summary: %v", err)
	}
	if out != "Combined digest." {
		t.Fatalf("unexpected summary %q", out)
	}
	final := prompts[len(prompts)-1]
	if !strings.Contains(final, "these 2 articles") {
		t.Fatalf("expected article count in prompt, got %q", final)
	}
	if !strings.Contains(final, "1. First (Source: Feed A)\nsummary of first body") ||
		!strings.Contains(final, "2. Third (Source: Feed C)\nsummary of third body") {
		t.Fatalf("sections not numbered as expected:\n%s", final)
	}
}

func TestCombinedSummaryNothingSummarized(t *testing.T) {
	gen := funcGenerator(func(ctx context.Context, req Request, consumer func(Chunk) error) error {
		return consumer(Chunk{Content: "   "})
	})
	s := NewSummarizer(gen, config.Default().LLM, newLogger())
	if _, err := s.CombinedSummary(context.Background(), []Article{{Title: "x", Content: "y"}}, ""); !errors.Is(err, ErrEmptySummary) {
		t.Fatalf("expected ErrEmptySummary, got %v", err)
	}
	if _, err := s.CombinedSummary(context.Background(), nil, ""); !errors.Is(err, ErrEmptySummary) {
		t.Fatalf("expected ErrEmptySummary for no articles, got %v", err)
	}
}

func TestSummarizeWithFocus(t *testing.T) {
	var got Request
	gen := funcGenerator(func(ctx context.Context, req Request, consumer func(Chunk) error) error {
		got = req
		if err := consumer(Chunk{Content: "Rates ", Partial: true}); err != nil {
			return err
		}
		return consumer(Chunk{Content: "went up."})
	})
	cfg := config.Default().LLM
	s := NewSummarizer(gen, cfg, newLogger())
	out, err := s.SummarizeWithFocus(context.Background(), "The central bank raised rates.", "economy")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if out != "Rates went up." {
		t.Fatalf("chunks not joined: %q", out)
	}
	if !strings.Contains(got.Prompt, "focus on: economy") || got.MaxTokens != cfg.MaxTokens || got.System == "" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestOllamaGeneratorStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "tiny" || !req.Stream || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected request %+v", req)
		}
		if req.Options["num_predict"] != float64(32) {
			t.Errorf("max tokens not forwarded: %v", req.Options)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hello "},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"there."},"done":true,"eval_count":2,"prompt_eval_count":5}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"ignored"},"done":false}`)
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(srv.URL, "tiny", time.Second)
	var chunks []Chunk
	err := gen.Generate(context.Background(), Request{Prompt: "hi", System: "be brief", MaxTokens: 32}, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(chunks) != 2 || !chunks[0].Partial || chunks[1].Partial {
		t.Fatalf("unexpected chunks %+v", chunks)
	}
	if chunks[0].Content+chunks[1].Content != "Hello there." {
		t.Fatalf("unexpected content %q", chunks[0].Content+chunks[1].Content)
	}
	if chunks[1].CompletionTokens != 2 || chunks[1].PromptTokens != 5 {
		t.Fatalf("token counts not carried: %+v", chunks[1])
	}
}

func TestOllamaGeneratorReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewOllamaGenerator(srv.URL, "", time.Second).Generate(context.Background(), Request{Prompt: "hi"}, func(Chunk) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestOpenAIGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "gemini-2.5-flash" {
			t.Errorf("unexpected model %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gemini-2.5-flash",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Short summary."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`)
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(srv.URL, "sk-test", "gemini-2.5-flash", 5*time.Second)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	var got Chunk
	err = gen.Generate(context.Background(), Request{Prompt: "Summarize", System: "sys", MaxTokens: 64}, func(c Chunk) error {
		got = c
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.Content != "Short summary." || got.PromptTokens != 12 || got.CompletionTokens != 3 {
		t.Fatalf("unexpected chunk %+v", got)
	}
}

func TestExecGenerator(t *testing.T) {
	gen, err := NewExecGenerator(`sh -c 'cat >/dev/null; echo "{\"content\":\"from script\",\"completion_tokens\":2}"'`)
	if err != nil {
		t.Fatalf("new exec generator: %v", err)
	}
	var got Chunk
	if err := gen.Generate(context.Background(), Request{Prompt: "x"}, func(c Chunk) error { got = c; return nil }); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.Content != "from script" || got.CompletionTokens != 2 {
		t.Fatalf("unexpected chunk %+v", got)
	}
}

func TestExecGeneratorStreamsLines(t *testing.T) {
	gen, err := NewExecGenerator(`sh -c 'cat >/dev/null; printf "%s\n" "{\"content\":\"one \"}" "{\"content\":\"two\"}"'`)
	if err != nil {
		t.Fatalf("new exec generator: %v", err)
	}
	var chunks []Chunk
	if err := gen.Generate(context.Background(), Request{Prompt: "x"}, func(c Chunk) error { chunks = append(chunks, c); return nil }); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(chunks) != 2 || !chunks[0].Partial || chunks[1].Partial || chunks[0].Content+chunks[1].Content != "one two" {
		t.Fatalf("unexpected chunks %+v", chunks)
	}
}

func TestExecGeneratorReportsError(t *testing.T) {
	gen, err := NewExecGenerator(`sh -c 'cat >/dev/null; echo "{\"error\":\"model offline\"}"'`)
	if err != nil {
		t.Fatalf("new exec generator: %v", err)
	}
	err = gen.Generate(context.Background(), Request{Prompt: "x"}, func(Chunk) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "model offline") {
		t.Fatalf("expected command error, got %v", err)
	}
}

func TestNewSelectsGenerator(t *testing.T) {
	cfg := config.Default().LLM
	gen, err := New(cfg, newLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := gen.(*mockGenerator); !ok {
		t.Fatalf("expected mock generator, got %T", gen)
	}

	cfg.Mode = "exec"
	cfg.Command = ""
	if _, err := New(cfg, newLogger()); err == nil {
		t.Fatal("expected error for empty exec command")
	}

	cfg.Mode = "carrier-pigeon"
	if _, err := New(cfg, newLogger()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestMockGeneratorEchoesLastParagraph(t *testing.T) {
	s := NewSummarizer(NewMockGenerator(), config.Default().LLM, newLogger())
	out, err := s.SummarizeArticle(context.Background(), "Markets rallied today.")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if out != "Mock summary. Markets rallied today." {
		t.Fatalf("unexpected mock output %q", out)
	}
}
