// Package bookmarks keeps the reading list that feeds digests.
package bookmarks

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-digest/internal/store"
)

var ErrMissingLink = errors.New("bookmark requires a link")

type Manager struct {
	store *store.Store
	log   *slog.Logger
}

func NewManager(st *store.Store, log *slog.Logger) *Manager {
	return &Manager{store: st, log: log.With(slog.String("component", "bookmarks"))}
}

// Add bookmarks article. It reports false when the link was already saved.
func (m *Manager) Add(ctx context.Context, article store.Article) (bool, error) {
	if strings.TrimSpace(article.Link) == "" {
		return false, ErrMissingLink
	}
	title := article.Title
	if strings.TrimSpace(title) == "" {
		title = article.Link
	}
	added, err := m.store.AddBookmark(ctx, store.Bookmark{
		Title:     title,
		Link:      article.Link,
		Summary:   article.Summary,
		Published: article.Published,
		FeedName:  article.FeedName,
		ImageURL:  article.ImageURL,
	})
	if err == nil && added {
		m.log.Debug("bookmark added", slog.String("link", article.Link))
	}
	return added, err
}

func (m *Manager) Remove(ctx context.Context, link string) error {
	return m.store.RemoveBookmark(ctx, link)
}

// Toggle adds article when it is not bookmarked and removes it otherwise.
// It returns whether the article is bookmarked afterwards.
func (m *Manager) Toggle(ctx context.Context, article store.Article) (bool, error) {
	marked, err := m.IsBookmarked(ctx, article.Link)
	if err != nil {
		return false, err
	}
	if marked {
		return false, m.Remove(ctx, article.Link)
	}
	if _, err := m.Add(ctx, article); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) IsBookmarked(ctx context.Context, link string) (bool, error) {
	return m.store.IsBookmarked(ctx, link)
}

func (m *Manager) List(ctx context.Context) ([]store.Bookmark, error) {
	return m.store.ListBookmarks(ctx)
}

func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.ClearBookmarks(ctx); err != nil {
		return err
	}
	m.log.Info("bookmarks cleared")
	return nil
}

func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.CountBookmarks(ctx)
}
