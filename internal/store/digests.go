package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Digest struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Sources   []string  `json:"sources"`
	CreatedAt time.Time `json:"created_at"`
}

type Narration struct {
	ID        string        `json:"id"`
	Source    string        `json:"source"`
	Path      string        `json:"path"`
	Encoding  string        `json:"encoding"`
	Chunks    int           `json:"chunks"`
	Dropped   []int         `json:"dropped"`
	Duration  time.Duration `json:"duration"`
	Bytes     int64         `json:"bytes"`
	CreatedAt time.Time     `json:"created_at"`
}

// SaveDigest stores d, stamping CreatedAt when unset.
func (s *Store) SaveDigest(ctx context.Context, d Digest) (Digest, error) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = fromMillis(s.now())
	}
	if d.Sources == nil {
		d.Sources = []string{}
	}
	sources, err := json.Marshal(d.Sources)
	if err != nil {
		return Digest{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO digests(id, summary, sources, created_at) VALUES(?, ?, ?, ?)`,
		d.ID, d.Summary, string(sources), d.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return Digest{}, fmt.Errorf("digest %q: %w", d.ID, ErrDuplicate)
		}
		return Digest{}, err
	}
	return d, nil
}

func (s *Store) GetDigest(ctx context.Context, id string) (Digest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, summary, sources, created_at FROM digests WHERE id = ?`, id)
	d, err := scanDigest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Digest{}, fmt.Errorf("digest %q: %w", id, ErrNotFound)
	}
	return d, err
}

// ListDigests returns up to limit digests, newest first.
func (s *Store) ListDigests(ctx context.Context, limit int) ([]Digest, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, summary, sources, created_at FROM digests ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Digest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveNarration stores n, stamping CreatedAt when unset.
func (s *Store) SaveNarration(ctx context.Context, n Narration) (Narration, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = fromMillis(s.now())
	}
	if n.Dropped == nil {
		n.Dropped = []int{}
	}
	dropped, err := json.Marshal(n.Dropped)
	if err != nil {
		return Narration{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO narrations(id, source, path, encoding, chunks, dropped, duration_ms, bytes, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Source, n.Path, n.Encoding, n.Chunks, string(dropped), n.Duration.Milliseconds(), n.Bytes, n.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return Narration{}, fmt.Errorf("narration %q: %w", n.ID, ErrDuplicate)
		}
		return Narration{}, err
	}
	return n, nil
}

func (s *Store) GetNarration(ctx context.Context, id string) (Narration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, path, encoding, chunks, dropped, duration_ms, bytes, created_at FROM narrations WHERE id = ?`, id)
	n, err := scanNarration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Narration{}, fmt.Errorf("narration %q: %w", id, ErrNotFound)
	}
	return n, err
}

// ListNarrations returns up to limit narrations, newest first. A non-empty
// source restricts the list to narrations of that source.
func (s *Store) ListNarrations(ctx context.Context, source string, limit int) ([]Narration, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, source, path, encoding, chunks, dropped, duration_ms, bytes, created_at FROM narrations`
	args := []any{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Narration
	for rows.Next() {
		n, err := scanNarration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanDigest(row rowScanner) (Digest, error) {
	var (
		d       Digest
		sources string
		created int64
	)
	if err := row.Scan(&d.ID, &d.Summary, &sources, &created); err != nil {
		return Digest{}, err
	}
	if err := json.Unmarshal([]byte(sources), &d.Sources); err != nil {
		return Digest{}, fmt.Errorf("decode digest sources: %w", err)
	}
	d.CreatedAt = fromMillis(created)
	return d, nil
}

func scanNarration(row rowScanner) (Narration, error) {
	var (
		n          Narration
		dropped    string
		durationMS int64
		created    int64
	)
	if err := row.Scan(&n.ID, &n.Source, &n.Path, &n.Encoding, &n.Chunks, &dropped, &durationMS, &n.Bytes, &created); err != nil {
		return Narration{}, err
	}
	if err := json.Unmarshal([]byte(dropped), &n.Dropped); err != nil {
		return Narration{}, fmt.Errorf("decode dropped chunks: %w", err)
	}
	n.Duration = time.Duration(durationMS) * time.Millisecond
	n.CreatedAt = fromMillis(created)
	return n, nil
}
