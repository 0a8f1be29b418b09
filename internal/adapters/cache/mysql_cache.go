package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/mikey/satellite-change-detector/internal/core"
)

// MySQLCache is a MySQL implementation of the CacheRepository interface,
// shared by detector instances serving the same tile feed.
type MySQLCache struct {
	db          *sql.DB
	logger      *zap.Logger
	maxEntries  int
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewMySQLCache creates a new MySQL cache
func NewMySQLCache(dsn string, logger *zap.Logger, maxEntries int, cleanupFreq time.Duration) (*MySQLCache, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	// Create table if it doesn't exist
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS detection_cache (
			fingerprint VARCHAR(64) PRIMARY KEY,
			result JSON,
			stored_at TIMESTAMP,
			expires_at TIMESTAMP,
			INDEX idx_expires_at (expires_at)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	if maxEntries <= 0 {
		maxEntries = 100
	}
	cache := &MySQLCache{
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
func (c *MySQLCache) Get(ctx context.Context, fingerprint string) (*core.CacheEntry, error) {
	var resultJSON string
	var storedAt, expiresAt time.Time

	err := c.db.QueryRowContext(ctx, `
		SELECT result, stored_at, expires_at
		FROM detection_cache
		WHERE fingerprint = ? AND expires_at > NOW()
	`, fingerprint).Scan(&resultJSON, &storedAt, &expiresAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}

	var result core.DetectionResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached result: %w", err)
	}

	return &core.CacheEntry{
		Fingerprint: fingerprint,
		Result:      &result,
		StoredAt:    storedAt,
		ExpiresAt:   expiresAt,
	}, nil
}

// Set stores a cache entry, trimming the oldest rows beyond capacity
func (c *MySQLCache) Set(ctx context.Context, entry *core.CacheEntry) error {
	resultJSON, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		REPLACE INTO detection_cache (fingerprint, result, stored_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, entry.Fingerprint, string(resultJSON), entry.StoredAt, entry.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		DELETE FROM detection_cache
		WHERE fingerprint NOT IN (
			SELECT fingerprint FROM (
				SELECT fingerprint FROM detection_cache
				ORDER BY stored_at DESC LIMIT ?
			) keep
		)
	`, c.maxEntries)
	if err != nil {
		c.logger.Error("Failed to trim cache to capacity", zap.Error(err))
	}
	return nil
}

// Delete removes a cache entry
func (c *MySQLCache) Delete(ctx context.Context, fingerprint string) error {
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
func (c *MySQLCache) Cleanup(ctx context.Context) error {
	result, err := c.db.ExecContext(ctx, `
		DELETE FROM detection_cache
		WHERE expires_at <= NOW()
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
func (c *MySQLCache) startCleanupTask() {
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
func (c *MySQLCache) Stop() {
	close(c.stopCh)
	if err := c.db.Close(); err != nil {
		c.logger.Error("Failed to close MySQL database", zap.Error(err))
	}
}
