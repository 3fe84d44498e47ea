package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Preferences is a string key/value view over the prefs table.
type Preferences struct {
	db *DB
}

func NewPreferences(db *DB) *Preferences {
	return &Preferences{db: db}
}

// Get returns the value for key and whether it was set.
func (p *Preferences) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set inserts or replaces the value for key.
func (p *Preferences) Set(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO prefs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// Delete removes key. Deleting an absent key is not an error.
func (p *Preferences) Delete(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM prefs WHERE key = ?`, key)
	return err
}
