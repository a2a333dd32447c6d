package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSetting returns the raw JSON value stored under key, or ErrNotFound.
// internal/settings layers dotted-path navigation on top of this flat KV
// store.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM global_settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts a raw JSON value under key.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO global_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// ListSettings returns every stored key/value pair, used to seed the
// in-memory settings cache at startup.
func (db *DB) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT key, value FROM global_settings`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer closeQuietly(rows)

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}
