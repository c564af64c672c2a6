package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Config holds local SQLite database configuration
type Config struct {
	Path        string // file path, or ":memory:" for tests
	BusyTimeout time.Duration
}

// Client represents the device-local SQLite database client
type Client struct {
	db     *sqlx.DB
	config *Config
	logger *slog.Logger
}

// NewClient opens (creating if needed) the local database
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	dsn := config.Path
	if dsn == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	logger.Info("Opening local database",
		slog.String("path", config.Path),
	)

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		logger.Error("Failed to open local database",
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}

	// The local store is single-writer; one connection keeps sqlite's
	// locking out of the picture and makes :memory: databases usable
	// across goroutines.
	db.SetMaxOpenConns(1)

	busyTimeout := config.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal_mode: %w", err)
	}

	client := &Client{
		db:     db,
		config: config,
		logger: logger,
	}

	logger.Info("Local database ready",
		slog.String("path", config.Path),
	)

	return client, nil
}

// GetDB returns the underlying sqlx.DB instance
func (c *Client) GetDB() *sqlx.DB {
	return c.db
}

// Close closes the local database
func (c *Client) Close() error {
	c.logger.Info("Closing local database")

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close local database",
				slog.Any("error", err),
			)
			return err
		}
	}

	return nil
}

// Ping checks the database connection
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
