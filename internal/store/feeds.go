package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Feed struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	CreatedAt     time.Time `json:"created_at"`
	LastRefreshed time.Time `json:"last_refreshed,omitzero"`
	Active        bool      `json:"active"`
}

type Article struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Summary   string    `json:"summary"`
	Published string    `json:"published"`
	GUID      string    `json:"guid"`
	ImageURL  string    `json:"image_url,omitempty"`
	FeedName  string    `json:"feed_name"`
	CreatedAt time.Time `json:"created_at"`
}

// AddFeed registers a feed. Names are unique.
func (s *Store) AddFeed(ctx context.Context, name, url string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feeds(name, url, created_at, active) VALUES(?, ?, ?, 1)`,
		name, url, s.now())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("feed %q: %w", name, ErrDuplicate)
		}
		return err
	}
	return nil
}

// RemoveFeed deletes a feed and its cached articles.
func (s *Store) RemoveFeed(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feeds WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("feed %q: %w", name, ErrNotFound)
	}
	return nil
}

// ListFeeds returns active feeds ordered by name.
func (s *Store) ListFeeds(ctx context.Context) ([]Feed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, created_at, last_refreshed, active FROM feeds WHERE active = 1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

func (s *Store) GetFeed(ctx context.Context, name string) (Feed, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, url, created_at, last_refreshed, active FROM feeds WHERE name = ?`, name)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Feed{}, fmt.Errorf("feed %q: %w", name, ErrNotFound)
	}
	return f, err
}

func (s *Store) MarkFeedRefreshed(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE feeds SET last_refreshed = ? WHERE name = ?`, s.now(), name)
	return err
}

// ReplaceArticles swaps the cached articles of a feed for articles. Articles
// whose link is already stored are skipped. It returns the number inserted.
func (s *Store) ReplaceArticles(ctx context.Context, feedName string, articles []Article) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var feedID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM feeds WHERE name = ?`, feedName).Scan(&feedID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("feed %q: %w", feedName, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE feed_id = ?`, feedID); err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO articles(feed_id, title, link, summary, published, guid, image_url, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(link) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := s.now()
	inserted := 0
	for _, a := range articles {
		if a.Link == "" {
			continue
		}
		res, err := stmt.ExecContext(ctx, feedID, a.Title, a.Link, a.Summary, a.Published, a.GUID, nullString(a.ImageURL), now)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListArticles returns cached articles newest first, in feed order within a
// refresh. An empty feedName lists every feed. limit <= 0 means no limit.
func (s *Store) ListArticles(ctx context.Context, feedName string, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT a.title, a.link, a.summary, a.published, a.guid, a.image_url, f.name, a.created_at
		FROM articles a JOIN feeds f ON a.feed_id = f.id`
	args := []any{}
	if feedName != "" {
		query += ` WHERE f.name = ?`
		args = append(args, feedName)
	}
	query += ` ORDER BY a.created_at DESC, a.id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		var (
			a                        Article
			summary, published, guid sql.NullString
			image                    sql.NullString
			created                  int64
		)
		if err := rows.Scan(&a.Title, &a.Link, &summary, &published, &guid, &image, &a.FeedName, &created); err != nil {
			return nil, err
		}
		a.Summary, a.Published, a.GUID, a.ImageURL = summary.String, published.String, guid.String, image.String
		a.CreatedAt = fromMillis(created)
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (Feed, error) {
	var (
		f         Feed
		created   int64
		refreshed sql.NullInt64
	)
	if err := row.Scan(&f.ID, &f.Name, &f.URL, &created, &refreshed, &f.Active); err != nil {
		return Feed{}, err
	}
	f.CreatedAt = fromMillis(created)
	if refreshed.Valid {
		f.LastRefreshed = fromMillis(refreshed.Int64)
	}
	return f, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
