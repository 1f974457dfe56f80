package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-digest/internal/config"
)

const summarySystem = "You write clear, factual news summaries meant to be read aloud."

// Article is one input to a combined summary.
type Article struct {
	Title   string
	Content string
	Source  string
}

// Summarizer turns article text into summaries using a Generator.
type Summarizer struct {
	gen      Generator
	defaults Request
	logger   *slog.Logger
}

func NewSummarizer(gen Generator, cfg config.LLMConfig, log *slog.Logger) *Summarizer {
	return &Summarizer{
		gen:      gen,
		defaults: OptionsFromConfig(cfg),
		logger:   log.With(slog.String("component", "summarizer")),
	}
}

// SummarizeArticle produces a concise summary of a single article.
func (s *Summarizer) SummarizeArticle(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	prompt := "Create a concise summary of the following article. " +
		"Focus on the key points, main arguments, and important facts. " +
		"Keep the summary informative but readable:\n\n" + strings.TrimSpace(text)
	return s.complete(ctx, prompt)
}

// SummarizeWithFocus summarizes text with emphasis on focus.
func (s *Summarizer) SummarizeWithFocus(ctx context.Context, text, focus string) (string, error) {
	focus = strings.TrimSpace(focus)
	if focus == "" || strings.TrimSpace(text) == "" {
		return s.SummarizeArticle(ctx, text)
	}
	prompt := "Summarize the following article with a focus on: " + focus + "\n" +
		"Extract and highlight the information most relevant to this focus area:\n\n" + strings.TrimSpace(text)
	return s.complete(ctx, prompt)
}

// CombinedSummary summarizes each article, with emphasis on focus when it is
// set, then merges the individual summaries into one digest. Articles whose
// summary fails are left out.
func (s *Summarizer) CombinedSummary(ctx context.Context, articles []Article, focus string) (string, error) {
	var b strings.Builder
	n := 0
	for _, article := range articles {
		summary, err := s.SummarizeWithFocus(ctx, article.Content, focus)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			s.logger.Warn("article summary failed", slog.String("title", article.Title), slogError(err))
			continue
		}
		n++
		fmt.Fprintf(&b, "\n\n%d. %s (Source: %s)\n%s", n, article.Title, article.Source, summary)
	}
	if n == 0 {
		return "", ErrEmptySummary
	}

	prompt := fmt.Sprintf("Create a comprehensive but concise summary that combines the key information from these %d articles.\n"+
		"Organize the content logically, identify common themes, and present the most important information in a clear, readable format.\n"+
		"If there are conflicting viewpoints, mention them. Structure the summary with clear sections if appropriate:%s", n, b.String())
	return s.complete(ctx, prompt)
}

func (s *Summarizer) complete(ctx context.Context, prompt string) (string, error) {
	if s.gen == nil {
		return "", errors.New("no language model configured")
	}
	req := s.defaults
	req.Prompt = prompt
	req.System = summarySystem

	var out strings.Builder
	err := s.gen.Generate(ctx, req, func(chunk Chunk) error {
		out.WriteString(chunk.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(out.String())
	if summary == "" {
		return "", ErrEmptySummary
	}
	return summary, nil
}
