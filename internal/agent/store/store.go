package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opticrew/fieldsync/internal/agent/domain"
)

// ErrNotFound is returned when no record exists for a key
var ErrNotFound = errors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS records (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// Store is the durable local key-value record store. It survives process
// restarts and backs the checklist cache, notification state, and the
// offline mutation queue. Values are JSON documents.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a Store and ensures its schema exists
func New(db *sqlx.DB, logger *slog.Logger) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create records table: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Set writes a record. The write is transactional: a reader never observes
// a half-written value.
func (s *Store) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal record %q: %w", key, err)
	}

	query := `
		INSERT INTO records (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, key, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write record %q: %w", key, err)
	}

	s.logger.Debug("Record written",
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)

	return nil
}

// Get reads a record into dest. Returns ErrNotFound when the key is absent
// and domain.ErrCorruptRecord when the stored value cannot be decoded.
func (s *Store) Get(ctx context.Context, key string, dest interface{}) error {
	var raw string
	err := s.db.GetContext(ctx, &raw, `SELECT value FROM records WHERE key = ?`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read record %q: %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		s.logger.Warn("Record failed to decode, treating as corrupt",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: key %q: %v", domain.ErrCorruptRecord, key, err)
	}

	return nil
}

// Delete removes a record. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete record %q: %w", key, err)
	}
	return nil
}

// ListKeys returns all keys with the given prefix in ascending key order.
// Queue replay relies on the ordering.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	query := `SELECT key FROM records WHERE key >= ? AND key < ? ORDER BY key ASC`
	err := s.db.SelectContext(ctx, &keys, query, prefix, prefix+"\xff")
	if err != nil {
		return nil, fmt.Errorf("failed to list records with prefix %q: %w", prefix, err)
	}
	return keys, nil
}
