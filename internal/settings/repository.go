// Package settings persists process-level key/value settings (the discovered
// plugin list, the active profile) and serves them over HTTP.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/stbemu/pkg/plugin"
)

// Well-known keys.
const (
	KeyPlugins       = "plugins"
	KeyActiveProfile = "active_profile"
)

// ErrNotFound is returned when a key has never been set.
var ErrNotFound = errors.New("setting not found")

// Setting is one stored key/value pair.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository reads and writes settings.
type Repository interface {
	Get(ctx context.Context, key string) (Setting, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	All(ctx context.Context) ([]Setting, error)
}

var migrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create settings table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS settings (
					key        TEXT     PRIMARY KEY,
					value      TEXT     NOT NULL,
					updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`)
			return err
		},
	},
}

// SQLiteRepository stores settings in the shared database.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository migrates the settings table and returns a repository.
func NewSQLiteRepository(ctx context.Context, store plugin.Store) (*SQLiteRepository, error) {
	if err := store.Migrate(ctx, "settings", migrations); err != nil {
		return nil, fmt.Errorf("migrate settings: %w", err)
	}
	return &SQLiteRepository{db: store.DB()}, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) (Setting, error) {
	s := Setting{Key: key}
	err := r.db.QueryRowContext(ctx,
		"SELECT value, updated_at FROM settings WHERE key = ?", key,
	).Scan(&s.Value, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Setting{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Setting{}, fmt.Errorf("get setting %s: %w", key, err)
	}
	return s, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) All(ctx context.Context) ([]Setting, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var s Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetString returns the value of key, or fallback when unset or unreadable.
func GetString(ctx context.Context, repo Repository, key, fallback string) string {
	s, err := repo.Get(ctx, key)
	if err != nil {
		return fallback
	}
	return s.Value
}

// JoinList encodes a list setting.
func JoinList(items []string) string { return strings.Join(items, ",") }

// SplitList decodes a list setting, dropping empty items.
func SplitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
