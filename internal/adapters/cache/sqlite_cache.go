package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mikey/satellite-change-detector/internal/core"
)

// SQLiteCache is a SQLite implementation of the CacheRepository interface.
// Detection results survive process restarts, which matters for long scene
// reprocessing runs.
type SQLiteCache struct {
	db          *sql.DB
	logger      *zap.Logger
	maxEntries  int
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewSQLiteCache creates a new SQLite cache
func NewSQLiteCache(dbPath string, logger *zap.Logger, maxEntries int, cleanupFreq time.Duration) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Create table if it doesn't exist
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS detection_cache (
			fingerprint TEXT PRIMARY KEY,
			result TEXT,
			stored_at TIMESTAMP,
			expires_at TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	// Create index on expires_at for faster cleanup
	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_expires_at ON detection_cache(expires_at)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	if maxEntries <= 0 {
		maxEntries = 100
	}
	cache := &SQLiteCache{
		db:          db,
		logger:      logger,
		maxEntries:  maxEntries,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}

	// Start background cleanup
	go cache.startCleanupTask()

	return cache, nil
}

// Get retrieves a cached entry by fingerprint
func (c *SQLiteCache) Get(ctx context.Context, fingerprint string) (*core.CacheEntry, error) {
	var resultJSON string
	var storedAt, expiresAt string

	err := c.db.QueryRowContext(ctx, `
		SELECT result, stored_at, expires_at
		FROM detection_cache
		WHERE fingerprint = ? AND expires_at > datetime('now')
	`, fingerprint).Scan(&resultJSON, &storedAt, &expiresAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		c.logger.Error("Failed to query cache", zap.Error(err), zap.String("fingerprint", fingerprint))
		return nil, core.ErrNotFound
	}

	var result core.DetectionResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		c.logger.Error("Failed to decode cached result", zap.Error(err))
		return nil, core.ErrNotFound
	}

	entry := &core.CacheEntry{
		Fingerprint: fingerprint,
		Result:      &result,
	}
	if entry.StoredAt, err = time.Parse(time.RFC3339, storedAt); err != nil {
		c.logger.Error("Failed to parse stored_at timestamp", zap.Error(err))
		return nil, core.ErrNotFound
	}
	if entry.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		c.logger.Error("Failed to parse expires_at timestamp", zap.Error(err))
		return nil, core.ErrNotFound
	}
	return entry, nil
}

// Set stores a cache entry, trimming the oldest rows beyond capacity
func (c *SQLiteCache) Set(ctx context.Context, entry *core.CacheEntry) error {
	resultJSON, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO detection_cache (fingerprint, result, stored_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, entry.Fingerprint, string(resultJSON),
		entry.StoredAt.Format(time.RFC3339), entry.ExpiresAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		DELETE FROM detection_cache
		WHERE fingerprint NOT IN (
			SELECT fingerprint FROM detection_cache
			ORDER BY stored_at DESC LIMIT ?
		)
	`, c.maxEntries)
	if err != nil {
		c.logger.Error("Failed to trim cache to capacity", zap.Error(err))
	}
	return nil
}

// Delete removes a cache entry
func (c *SQLiteCache) Delete(ctx context.Context, fingerprint string) error {
	_, err := c.db.ExecContext(ctx, `
		DELETE FROM detection_cache
		WHERE fingerprint = ?
	`, fingerprint)

	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}

	return nil
}

// Cleanup removes expired entries
func (c *SQLiteCache) Cleanup(ctx context.Context) error {
	result, err := c.db.ExecContext(ctx, `
		DELETE FROM detection_cache
		WHERE expires_at <= datetime('now')
	`)

	if err != nil {
		return fmt.Errorf("failed to clean up expired entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		c.logger.Warn("Failed to get rows affected during cleanup", zap.Error(err))
	} else {
		c.logger.Debug("Cleaned up expired cache entries", zap.Int64("expired_count", rowsAffected))
	}

	return nil
}

// startCleanupTask starts a background task to clean up expired entries
func (c *SQLiteCache) startCleanupTask() {
	if c.cleanupFreq <= 0 {
		return
	}
	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Cleanup(context.Background()); err != nil {
				c.logger.Error("Failed to clean up cache", zap.Error(err))
			}
		case <-c.stopCh:
			return
		}
	}
}

// Stop stops the background cleanup task and closes the database connection
func (c *SQLiteCache) Stop() {
	close(c.stopCh)
	if err := c.db.Close(); err != nil {
		c.logger.Error("Failed to close SQLite database", zap.Error(err))
	}
}
