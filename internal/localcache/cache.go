// Package localcache is the on-disk copy of every flushed document. It is
// written before the remote store and read back when the remote is down.
package localcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/helanludovic-commits/middleware-journea/internal/savestate"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	content    BLOB NOT NULL,
	revision   INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

type Cache struct {
	db   *sql.DB
	path string
}

// Open creates the SQLite file and its parent directory when missing.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local cache: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init local cache schema: %w", err)
	}
	return &Cache{db: db, path: path}, nil
}

// Put keeps the highest revision seen for a document.
func (c *Cache) Put(ctx context.Context, docID string, content []byte, revision int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO documents (id, content, revision, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
			SET content = excluded.content, revision = excluded.revision, updated_at = excluded.updated_at
			WHERE excluded.revision >= documents.revision
	`, docID, content, revision, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("cache put %s: %w", docID, err)
	}
	return nil
}

func (c *Cache) Get(ctx context.Context, docID string) ([]byte, int64, error) {
	var content []byte
	var revision int64
	err := c.db.QueryRowContext(ctx, `SELECT content, revision FROM documents WHERE id = ?`, docID).Scan(&content, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, savestate.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("cache get %s: %w", docID, err)
	}
	return content, revision, nil
}

func (c *Cache) Close() error {
	if _, err := c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		_ = c.db.Close()
		return fmt.Errorf("checkpoint local cache: %w", err)
	}
	return c.db.Close()
}
