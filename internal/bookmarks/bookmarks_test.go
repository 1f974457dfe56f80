package bookmarks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-digest/internal/config"
	"github.com/loqalabs/loqa-digest/internal/store"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.Open(context.Background(), config.StoreConfig{Path: filepath.Join(t.TempDir(), "bm.db")}, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewManager(st, log)
}

func TestToggle(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	article := store.Article{Title: "Story", Link: "https://example.com/story", FeedName: "news"}

	on, err := m.Toggle(ctx, article)
	if err != nil || !on {
		t.Fatalf("expected bookmark on, got %v err=%v", on, err)
	}
	if n, _ := m.Count(ctx); n != 1 {
		t.Fatalf("expected 1 bookmark, got %d", n)
	}
	on, err = m.Toggle(ctx, article)
	if err != nil || on {
		t.Fatalf("expected bookmark off, got %v err=%v", on, err)
	}
	if ok, _ := m.IsBookmarked(ctx, article.Link); ok {
		t.Fatal("expected link to be unbookmarked")
	}
}

func TestAddAndClear(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	if _, err := m.Add(ctx, store.Article{Title: "No link"}); !errors.Is(err, ErrMissingLink) {
		t.Fatalf("expected ErrMissingLink, got %v", err)
	}
	added, err := m.Add(ctx, store.Article{Link: "https://example.com/untitled"})
	if err != nil || !added {
		t.Fatalf("add: added=%v err=%v", added, err)
	}
	if added, _ := m.Add(ctx, store.Article{Link: "https://example.com/untitled"}); added {
		t.Fatal("duplicate should report false")
	}
	list, err := m.List(ctx)
	if err != nil || len(list) != 1 || list[0].Title != "https://example.com/untitled" {
		t.Fatalf("unexpected bookmarks %+v err=%v", list, err)
	}
	if err := m.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := m.Count(ctx); n != 0 {
		t.Fatalf("expected empty list, got %d", n)
	}
}
