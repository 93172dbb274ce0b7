package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/core"
)

// MySQLCache is the MySQL backend, for deployments where several engine
// instances share one sender-identity cache.
type MySQLCache struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMySQLCache connects to MySQL and initializes the schema.
func NewMySQLCache(dsn string, logger *zap.Logger) (*MySQLCache, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sender_cache (
			address VARCHAR(320) PRIMARY KEY,
			sender_info TEXT,
			created_at DATETIME(6),
			INDEX idx_created_at (created_at)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sender_cache table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_meta (
			meta_key VARCHAR(64) PRIMARY KEY,
			meta_value TEXT
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache_meta table: %w", err)
	}

	return &MySQLCache{db: db, logger: logger}, nil
}

// Get retrieves the entry for an address.
func (c *MySQLCache) Get(ctx context.Context, address string) (*core.CacheEntry, bool) {
	var infoJSON string
	var createdAt time.Time
	err := c.db.QueryRowContext(ctx, `
		SELECT sender_info, created_at FROM sender_cache WHERE address = ?
	`, address).Scan(&infoJSON, &createdAt)
	if err != nil {
		if err != sql.ErrNoRows {
			c.logger.Error("Failed to query sender cache", zap.Error(err), zap.String("address", address))
		}
		return nil, false
	}

	var info core.SenderInfo
	if err := json.Unmarshal([]byte(infoJSON), &info); err != nil {
		c.logger.Error("Failed to decode cached sender info", zap.Error(err))
		return nil, false
	}
	return &core.CacheEntry{Data: &info, Timestamp: createdAt}, true
}

// Set stores an entry for an address.
func (c *MySQLCache) Set(ctx context.Context, address string, entry *core.CacheEntry) error {
	infoJSON, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("failed to encode sender info: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		REPLACE INTO sender_cache (address, sender_info, created_at) VALUES (?, ?, ?)
	`, address, string(infoJSON), entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}
	return nil
}

// Delete removes a single entry.
func (c *MySQLCache) Delete(ctx context.Context, address string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM sender_cache WHERE address = ?`, address)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Clear removes every entry.
func (c *MySQLCache) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM sender_cache`)
	if err != nil {
		return fmt.Errorf("failed to clear sender cache: %w", err)
	}
	return nil
}

// Cleanup removes entries older than maxAge.
func (c *MySQLCache) Cleanup(ctx context.Context, maxAge time.Duration) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM sender_cache WHERE created_at < ?`,
		time.Now().Add(-maxAge))
	if err != nil {
		return fmt.Errorf("failed to clean up expired entries: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil {
		c.logger.Debug("Cleaned up expired cache entries", zap.Int64("expired_count", n))
	}
	return nil
}

// Version returns the stored version marker.
func (c *MySQLCache) Version(ctx context.Context) (string, error) {
	var v string
	err := c.db.QueryRowContext(ctx, `SELECT meta_value FROM cache_meta WHERE meta_key = 'version'`).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cache version: %w", err)
	}
	return v, nil
}

// SetVersion records the version marker.
func (c *MySQLCache) SetVersion(ctx context.Context, version string) error {
	_, err := c.db.ExecContext(ctx, `
		REPLACE INTO cache_meta (meta_key, meta_value) VALUES ('version', ?)
	`, version)
	if err != nil {
		return fmt.Errorf("failed to store cache version: %w", err)
	}
	return nil
}

// Close closes the database.
func (c *MySQLCache) Close() error {
	return c.db.Close()
}
