// Package cache implements the two-tier content-addressed cache: a
// raw-extraction tier and a derived-artifact tier, both keyed by content
// hash and backed by the storage provider, with a SQLite index so stats and
// lookups never scan the backing store.
package cache

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS cache_entries (
	content_hash      TEXT NOT NULL,
	tier              TEXT NOT NULL,
	size              INTEGER NOT NULL DEFAULT 0,
	original_filename TEXT NOT NULL DEFAULT '',
	body              TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (content_hash, tier)
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_created ON cache_entries(created_at);
`

// Tier names.
const (
	TierRaw     = "raw"
	TierDerived = "derived"
)

// DB wraps a sql.DB with cache-index operations. Mutations are serialized
// through a single mutex; reads go straight to the connection.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
}

// Open opens (or creates) the SQLite index and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("cache: open index: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
