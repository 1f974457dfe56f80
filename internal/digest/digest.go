// Package digest builds combined summaries of bookmarked articles and
// narrates them.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-digest/internal/bookmarks"
	"github.com/loqalabs/loqa-digest/internal/config"
	"github.com/loqalabs/loqa-digest/internal/llm"
	"github.com/loqalabs/loqa-digest/internal/scraper"
	"github.com/loqalabs/loqa-digest/internal/store"
	"github.com/loqalabs/loqa-digest/internal/tts"
)

var (
	ErrNoBookmarks    = errors.New("no bookmarked articles")
	ErrNothingScraped = errors.New("no bookmarked article could be scraped")
)

// Setting keys read when narrating. Values override the tts config defaults.
const (
	SettingVoice        = "tts.voice"
	SettingLanguage     = "tts.language"
	SettingSpeakingRate = "tts.speaking_rate"
	SettingPitch        = "tts.pitch"
)

// SourceAdhoc marks narrations of free text rather than a stored digest.
const SourceAdhoc = "adhoc"

type Orchestrator struct {
	cfg        config.DigestConfig
	store      *store.Store
	bookmarks  *bookmarks.Manager
	scraper    *scraper.Scraper
	summarizer *llm.Summarizer
	pipeline   *tts.Pipeline
	log        *slog.Logger
}

func NewOrchestrator(cfg config.DigestConfig, st *store.Store, bm *bookmarks.Manager, sc *scraper.Scraper, sum *llm.Summarizer, pipeline *tts.Pipeline, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      st,
		bookmarks:  bm,
		scraper:    sc,
		summarizer: sum,
		pipeline:   pipeline,
		log:        log.With(slog.String("component", "digest")),
	}
}

// Generate scrapes every bookmarked article, summarizes them together and
// stores the result.
func (o *Orchestrator) Generate(ctx context.Context) (store.Digest, error) {
	if o.cfg.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(o.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	marks, err := o.bookmarks.List(ctx)
	if err != nil {
		return store.Digest{}, err
	}
	if len(marks) == 0 {
		return store.Digest{}, ErrNoBookmarks
	}
	if o.cfg.MaxArticles > 0 && len(marks) > o.cfg.MaxArticles {
		marks = marks[:o.cfg.MaxArticles]
	}

	urls := make([]string, 0, len(marks))
	for _, b := range marks {
		urls = append(urls, b.Link)
	}
	texts := o.scraper.ScrapeMany(ctx, urls)
	if err := ctx.Err(); err != nil {
		return store.Digest{}, err
	}

	articles := make([]llm.Article, 0, len(texts))
	sources := make([]string, 0, len(texts))
	for _, b := range marks {
		text, ok := texts[b.Link]
		if !ok {
			continue
		}
		source := b.FeedName
		if source == "" {
			source = hostOf(b.Link)
		}
		articles = append(articles, llm.Article{Title: b.Title, Content: text, Source: source})
		sources = append(sources, b.Title)
	}
	if len(articles) == 0 {
		return store.Digest{}, ErrNothingScraped
	}
	o.log.Info("summarizing bookmarks", slog.Int("bookmarks", len(marks)), slog.Int("scraped", len(articles)))

	summary, err := o.summarizer.CombinedSummary(ctx, articles, o.cfg.Focus)
	if err != nil {
		return store.Digest{}, fmt.Errorf("summarize digest: %w", err)
	}
	return o.store.SaveDigest(ctx, store.Digest{ID: uuid.NewString(), Summary: summary, Sources: sources})
}

// Narrate reads the stored digest aloud and records the narration.
func (o *Orchestrator) Narrate(ctx context.Context, digestID string) (store.Narration, error) {
	d, err := o.store.GetDigest(ctx, digestID)
	if err != nil {
		return store.Narration{}, err
	}
	return o.NarrateText(ctx, d.ID, d.Summary)
}

// NarrateText narrates text with the voice chosen in settings and records
// the result under source.
func (o *Orchestrator) NarrateText(ctx context.Context, source, text string) (store.Narration, error) {
	req := o.voiceSettings(ctx)
	req.Text = text
	res, err := o.pipeline.Narrate(ctx, req)
	if err != nil {
		return store.Narration{}, err
	}
	n, err := o.store.SaveNarration(ctx, store.NarrationFromResult(source, res))
	if err != nil {
		return store.Narration{}, fmt.Errorf("record narration: %w", err)
	}
	return n, nil
}

// voiceSettings reads voice preferences. Unset or unreadable keys fall back
// to the pipeline defaults.
func (o *Orchestrator) voiceSettings(ctx context.Context) tts.NarrateRequest {
	var req tts.NarrateRequest
	settings := o.store.Settings()
	read := func(key string, out any) {
		if _, err := settings.Get(ctx, key, out); err != nil {
			o.log.Warn("ignoring unreadable setting", slog.String("key", key), slogError(err))
		}
	}
	read(SettingVoice, &req.Voice)
	read(SettingLanguage, &req.Language)
	read(SettingSpeakingRate, &req.SpeakingRate)
	read(SettingPitch, &req.Pitch)
	return req
}

func hostOf(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return link
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
