// Package feeds fetches RSS and Atom feeds and caches their articles.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-digest/internal/bus"
	"github.com/loqalabs/loqa-digest/internal/config"
	"github.com/loqalabs/loqa-digest/internal/protocol"
	"github.com/loqalabs/loqa-digest/internal/store"
	"github.com/mmcdole/gofeed"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidFeed = errors.New("invalid feed")
	ErrFeedExists  = errors.New("feed already exists")
	ErrUnknownFeed = errors.New("unknown feed")
)

const defaultTitle = "No Title"

type Manager struct {
	cfg    config.FeedsConfig
	store  *store.Store
	bus    *bus.Client
	parser *gofeed.Parser
	flight singleflight.Group
	log    *slog.Logger

	feedCount    atomic.Int64
	articleCount atomic.Int64
	failures     metric.Int64Counter
}

// NewManager builds a feed manager. busClient may be nil.
func NewManager(cfg config.FeedsConfig, st *store.Store, busClient *bus.Client, log *slog.Logger) *Manager {
	parser := gofeed.NewParser()
	parser.UserAgent = cfg.UserAgent
	parser.Client = &http.Client{Timeout: time.Duration(cfg.FetchTimeoutMS) * time.Millisecond}

	m := &Manager{
		cfg:      cfg,
		store:    st,
		bus:      busClient,
		parser:   parser,
		log:      log.With(slog.String("component", "feeds")),
		failures: noop.Int64Counter{},
	}
	if err := m.initMetrics(); err != nil {
		m.log.Warn("failed to initialize metrics", slogError(err))
	}
	return m
}

func (m *Manager) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-digest/feeds")
	failures, err := meter.Int64Counter("feeds.refresh.failures", metric.WithDescription("Feed refreshes that failed"))
	if err != nil {
		return err
	}
	m.failures = failures
	feedGauge, err := meter.Int64ObservableGauge("feeds.total", metric.WithDescription("Number of subscribed feeds"))
	if err != nil {
		return err
	}
	articleGauge, err := meter.Int64ObservableGauge("feeds.articles.cached", metric.WithDescription("Articles cached by the last refresh"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(feedGauge, m.feedCount.Load())
		obs.ObserveInt64(articleGauge, m.articleCount.Load())
		return nil
	}, feedGauge, articleGauge)
	return err
}

// Add validates url by fetching it, stores the feed under name and caches
// its current articles.
func (m *Manager) Add(ctx context.Context, name, url string) error {
	name, url = strings.TrimSpace(name), strings.TrimSpace(url)
	if name == "" || url == "" {
		return fmt.Errorf("%w: name and url are required", ErrInvalidFeed)
	}
	feed, err := m.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFeed, err)
	}
	if err := m.store.AddFeed(ctx, name, url); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("%w: %s", ErrFeedExists, name)
		}
		return err
	}
	m.feedCount.Add(1)
	m.log.Info("feed added", slog.String("feed", name), slog.String("url", url))
	if _, err := m.save(ctx, name, feed); err != nil {
		m.log.Warn("initial refresh failed", slog.String("feed", name), slogError(err))
	}
	return nil
}

func (m *Manager) Remove(ctx context.Context, name string) error {
	if err := m.store.RemoveFeed(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownFeed, name)
		}
		return err
	}
	m.feedCount.Add(-1)
	m.log.Info("feed removed", slog.String("feed", name))
	return nil
}

func (m *Manager) Feeds(ctx context.Context) ([]store.Feed, error) {
	feeds, err := m.store.ListFeeds(ctx)
	if err == nil {
		m.feedCount.Store(int64(len(feeds)))
	}
	return feeds, err
}

// Articles lists cached articles for feed, or for all feeds when feed is empty.
func (m *Manager) Articles(ctx context.Context, feed string, limit int) ([]store.Article, error) {
	return m.store.ListArticles(ctx, feed, limit)
}

// Refresh fetches one feed and replaces its cached articles. Concurrent
// refreshes of the same feed share one fetch.
func (m *Manager) Refresh(ctx context.Context, name, url string) (int, error) {
	v, err, _ := m.flight.Do(name, func() (any, error) {
		feed, err := m.parser.ParseURLWithContext(url, ctx)
		if err != nil {
			return 0, fmt.Errorf("fetch feed %q: %w", name, err)
		}
		return m.save(ctx, name, feed)
	})
	if err != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("feed", name)))
		return 0, err
	}
	return v.(int), nil
}

// RefreshAll refreshes every feed, continuing past failures. The returned
// error joins every per-feed failure.
func (m *Manager) RefreshAll(ctx context.Context) error {
	feeds, err := m.Feeds(ctx)
	if err != nil {
		return err
	}
	var (
		errs     []error
		articles int
		failed   []string
	)
	for _, f := range feeds {
		n, err := m.Refresh(ctx, f.Name, f.URL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Warn("feed refresh failed", slog.String("feed", f.Name), slogError(err))
			errs = append(errs, err)
			failed = append(failed, f.Name)
			continue
		}
		articles += n
	}
	m.articleCount.Store(int64(articles))
	m.log.Info("feeds refreshed", slog.Int("feeds", len(feeds)), slog.Int("articles", articles), slog.Int("failed", len(failed)))

	if m.bus != nil {
		evt := protocol.FeedsRefreshed{Feeds: len(feeds), Articles: articles, Failed: failed, Timestamp: time.Now().UTC()}
		if err := m.bus.PublishJSON(protocol.SubjectFeedsRefreshed, evt); err != nil {
			m.log.Warn("failed to publish refresh event", slogError(err))
		}
	}
	return errors.Join(errs...)
}

// Run refreshes all feeds once, then on the configured interval until ctx
// is done. A zero interval disables background refresh.
func (m *Manager) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.RefreshIntervalMS) * time.Millisecond
	if interval <= 0 {
		return
	}
	_ = m.RefreshAll(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.RefreshAll(ctx)
		}
	}
}

func (m *Manager) save(ctx context.Context, name string, feed *gofeed.Feed) (int, error) {
	items := feed.Items
	if m.cfg.ArticleLimit > 0 && len(items) > m.cfg.ArticleLimit {
		items = items[:m.cfg.ArticleLimit]
	}
	articles := make([]store.Article, 0, len(items))
	for _, item := range items {
		articles = append(articles, toArticle(name, item))
	}
	n, err := m.store.ReplaceArticles(ctx, name, articles)
	if err != nil {
		return 0, err
	}
	if err := m.store.MarkFeedRefreshed(ctx, name); err != nil {
		return n, err
	}
	return n, nil
}

func toArticle(feedName string, item *gofeed.Item) store.Article {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = defaultTitle
	}
	guid := item.GUID
	if guid == "" {
		guid = item.Link
	}
	return store.Article{
		Title:     title,
		Link:      item.Link,
		Summary:   item.Description,
		Published: item.Published,
		GUID:      guid,
		ImageURL:  imageURL(item),
		FeedName:  feedName,
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
