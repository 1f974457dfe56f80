package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Settings is the key/value preference store. Values are stored as JSON.
type Settings struct {
	s *Store
}

// Settings returns the preference store backed by s.
func (s *Store) Settings() *Settings {
	return &Settings{s: s}
}

// Get decodes the value stored under key into out. It reports false when the
// key is unset.
func (st *Settings) Get(ctx context.Context, key string, out any) (bool, error) {
	var raw string
	err := st.s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode setting %q: %w", key, err)
	}
	return true, nil
}

func (st *Settings) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %q: %w", key, err)
	}
	_, err = st.s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, string(data), st.s.now())
	return err
}

// List returns every stored setting as raw JSON.
func (st *Settings) List(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := st.s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]json.RawMessage{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

func (st *Settings) Delete(ctx context.Context, key string) error {
	_, err := st.s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	return err
}
