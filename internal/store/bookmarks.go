package store

import (
	"context"
	"database/sql"
	"time"
)

type Bookmark struct {
	Title        string    `json:"title"`
	Link         string    `json:"link"`
	Summary      string    `json:"summary"`
	Published    string    `json:"published"`
	FeedName     string    `json:"feed_name"`
	ImageURL     string    `json:"image_url,omitempty"`
	BookmarkedAt time.Time `json:"bookmarked_at"`
}

// AddBookmark stores b. It reports false when the link is already bookmarked.
func (s *Store) AddBookmark(ctx context.Context, b Bookmark) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bookmarks(title, link, summary, published, feed_name, image_url, bookmarked_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?) ON CONFLICT(link) DO NOTHING`,
		b.Title, b.Link, b.Summary, b.Published, b.FeedName, nullString(b.ImageURL), s.now())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) RemoveBookmark(ctx context.Context, link string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE link = ?`, link)
	return err
}

func (s *Store) IsBookmarked(ctx context.Context, link string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM bookmarks WHERE link = ?`, link).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// ListBookmarks returns bookmarks, most recently added first.
func (s *Store) ListBookmarks(ctx context.Context) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT title, link, summary, published, feed_name, image_url, bookmarked_at
		 FROM bookmarks ORDER BY bookmarked_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bookmark
	for rows.Next() {
		var (
			b                            Bookmark
			summary, published, feedName sql.NullString
			image                        sql.NullString
			at                           int64
		)
		if err := rows.Scan(&b.Title, &b.Link, &summary, &published, &feedName, &image, &at); err != nil {
			return nil, err
		}
		b.Summary, b.Published, b.FeedName, b.ImageURL = summary.String, published.String, feedName.String, image.String
		b.BookmarkedAt = fromMillis(at)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) ClearBookmarks(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks`)
	return err
}

func (s *Store) CountBookmarks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookmarks`).Scan(&n)
	return n, err
}
