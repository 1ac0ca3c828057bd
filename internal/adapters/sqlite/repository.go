// Package sqlite implements the durable dedup store: one row per processed
// event identifier with an expiry the repository purges itself.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"polyCopyBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.ProcessedRepository using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
	now    func() time.Time
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance, initializes the
// schema, and purges rows that expired while the process was down.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/copybot.db" // Default path
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the two producer flows.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger, now: time.Now}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if purged, err := repo.PurgeExpired(context.Background()); err != nil {
		cfg.Logger.Warn(context.Background(), "Startup purge of expired records failed", map[string]interface{}{"error": err.Error()})
	} else if purged > 0 {
		cfg.Logger.Info(context.Background(), "Purged expired processed-event records", map[string]interface{}{"count": purged})
	}

	cfg.Logger.Info(context.Background(), "SQLite dedup store ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS processed_events (
		event_id TEXT PRIMARY KEY,
		processed_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_processed_events_expires_at ON processed_events (expires_at);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite dedup store")
		return r.db.Close()
	}
	return nil
}

// IsProcessed reports whether a live record exists for the identifier.
// Expired rows are logically absent and are removed on read.
func (r *Repository) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	const query = `SELECT expires_at FROM processed_events WHERE event_id = ?`

	var expiresAt time.Time
	err := r.db.QueryRowContext(ctx, query, eventID).Scan(&expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to query processed event %s: %v", ports.ErrQueryFailed, eventID, err)
	}

	if r.now().After(expiresAt) {
		const del = `DELETE FROM processed_events WHERE event_id = ?`
		if _, err := r.db.ExecContext(ctx, del, eventID); err != nil {
			r.logger.Warn(ctx, "Failed to remove expired processed-event row", map[string]interface{}{
				"eventID": eventID,
				"error":   err.Error(),
			})
		}
		return false, nil
	}
	return true, nil
}

// MarkProcessed upserts the record for the identifier with the given TTL.
func (r *Repository) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	const query = `
	INSERT INTO processed_events (event_id, processed_at, expires_at)
	VALUES (?, ?, ?)
	ON CONFLICT(event_id) DO UPDATE SET processed_at = excluded.processed_at, expires_at = excluded.expires_at`

	now := r.now()
	if _, err := r.db.ExecContext(ctx, query, eventID, now, now.Add(ttl)); err != nil {
		return fmt.Errorf("%w: failed to mark event %s processed: %v", ports.ErrQueryFailed, eventID, err)
	}
	r.logger.Debug(ctx, "Processed event recorded", map[string]interface{}{"eventID": eventID, "ttl": ttl.String()})
	return nil
}

// PurgeExpired removes records whose expiry has passed.
func (r *Repository) PurgeExpired(ctx context.Context) (int64, error) {
	const query = `DELETE FROM processed_events WHERE expires_at < ?`

	result, err := r.db.ExecContext(ctx, query, r.now())
	if err != nil {
		return 0, fmt.Errorf("%w: failed to purge expired events: %v", ports.ErrQueryFailed, err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}
	return purged, nil
}
