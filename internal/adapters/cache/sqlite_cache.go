package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/core"
)

// SQLiteCache is the SQLite backend, used when sender identities should
// survive a daemon restart.
type SQLiteCache struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteCache opens (and if needed initializes) the cache database.
func NewSQLiteCache(dbPath string, logger *zap.Logger) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sender_cache (
			address TEXT PRIMARY KEY,
			sender_info TEXT,
			created_at TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sender_cache table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_meta (
			key TEXT PRIMARY KEY,
			value TEXT
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache_meta table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_created_at ON sender_cache(created_at)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &SQLiteCache{db: db, logger: logger}, nil
}

// Get retrieves the entry for an address.
func (c *SQLiteCache) Get(ctx context.Context, address string) (*core.CacheEntry, bool) {
	var infoJSON, createdAt string
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
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		c.logger.Error("Failed to parse created_at timestamp", zap.Error(err))
		return nil, false
	}

	return &core.CacheEntry{Data: &info, Timestamp: ts}, true
}

// Set stores an entry for an address.
func (c *SQLiteCache) Set(ctx context.Context, address string, entry *core.CacheEntry) error {
	infoJSON, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("failed to encode sender info: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sender_cache (address, sender_info, created_at)
		VALUES (?, ?, ?)
	`, address, string(infoJSON), entry.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}
	return nil
}

// Delete removes a single entry.
func (c *SQLiteCache) Delete(ctx context.Context, address string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM sender_cache WHERE address = ?`, address)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Clear removes every entry. Runs on install/update version changes.
func (c *SQLiteCache) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM sender_cache`)
	if err != nil {
		return fmt.Errorf("failed to clear sender cache: %w", err)
	}
	return nil
}

// Cleanup removes entries older than maxAge.
func (c *SQLiteCache) Cleanup(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge).Format(time.RFC3339Nano)
	result, err := c.db.ExecContext(ctx, `DELETE FROM sender_cache WHERE created_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to clean up expired entries: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil {
		c.logger.Debug("Cleaned up expired cache entries", zap.Int64("expired_count", n))
	}
	return nil
}

// Version returns the stored version marker.
func (c *SQLiteCache) Version(ctx context.Context) (string, error) {
	var v string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM cache_meta WHERE key = 'version'`).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cache version: %w", err)
	}
	return v, nil
}

// SetVersion records the version marker.
func (c *SQLiteCache) SetVersion(ctx context.Context, version string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cache_meta (key, value) VALUES ('version', ?)
	`, version)
	if err != nil {
		return fmt.Errorf("failed to store cache version: %w", err)
	}
	return nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
