// Package scraper downloads web articles and extracts their readable text.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"github.com/loqalabs/loqa-digest/internal/config"
	"golang.org/x/sync/errgroup"
)

// ErrNoContent is returned when a page yields too little readable text.
var ErrNoContent = errors.New("no readable content")

const maxPageBytes = 10 << 20

// Metadata describes an article page.
type Metadata struct {
	Title    string    `json:"title"`
	Author   string    `json:"author"`
	Date     time.Time `json:"date,omitzero"`
	Excerpt  string    `json:"description"`
	SiteName string    `json:"sitename"`
	ImageURL string    `json:"image_url,omitempty"`
	URL      string    `json:"url"`
}

type Scraper struct {
	cfg    config.ScraperConfig
	client *http.Client
	log    *slog.Logger
}

func New(cfg config.ScraperConfig, log *slog.Logger) *Scraper {
	return &Scraper{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
		log:    log.With(slog.String("component", "scraper")),
	}
}

// Scrape returns the main text of the article at pageURL.
func (s *Scraper) Scrape(ctx context.Context, pageURL string) (string, error) {
	article, err := s.fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(article.TextContent)
	if utf8.RuneCountInString(text) <= s.cfg.MinLength {
		return "", fmt.Errorf("%w: %s", ErrNoContent, pageURL)
	}
	return text, nil
}

// ScrapeMany scrapes urls with bounded concurrency. Pages that fail are
// logged and left out of the result.
func (s *Scraper) ScrapeMany(ctx context.Context, urls []string) map[string]string {
	var (
		mu  sync.Mutex
		out = make(map[string]string, len(urls))
	)
	g, gctx := errgroup.WithContext(ctx)
	limit := s.cfg.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, u := range urls {
		g.Go(func() error {
			text, err := s.Scrape(gctx, u)
			if err != nil {
				s.log.Warn("scrape failed", slog.String("url", u), slogError(err))
				return nil
			}
			mu.Lock()
			out[u] = text
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Metadata returns descriptive fields of the page at pageURL.
func (s *Scraper) Metadata(ctx context.Context, pageURL string) (Metadata, error) {
	article, err := s.fetch(ctx, pageURL)
	if err != nil {
		return Metadata{}, err
	}
	md := Metadata{
		Title:    article.Title,
		Author:   article.Byline,
		Excerpt:  article.Excerpt,
		SiteName: article.SiteName,
		ImageURL: article.Image,
		URL:      pageURL,
	}
	if article.PublishedTime != nil {
		md.Date = *article.PublishedTime
	}
	return md, nil
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) (readability.Article, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return readability.Article{}, fmt.Errorf("invalid article url %q", pageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return readability.Article{}, err
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return readability.Article{}, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readability.Article{}, fmt.Errorf("fetch %s: status %s", pageURL, resp.Status)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxPageBytes), resp.Request.URL)
	if err != nil {
		return readability.Article{}, fmt.Errorf("extract %s: %w", pageURL, err)
	}
	return article, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
