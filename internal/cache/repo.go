package cache

import (
	"fmt"
	"time"
)

// EntryRow represents a row in the cache_entries table.
type EntryRow struct {
	ContentHash      string
	Tier             string
	Size             int64
	OriginalFilename string
	CreatedAt        time.Time
}

// Stats summarizes index contents for the admin surface. Answered entirely
// from the index, never by scanning the backing store.
type Stats struct {
	TotalEntries   int   `json:"total_entries"`
	RawEntries     int   `json:"raw_entries"`
	DerivedEntries int   `json:"derived_entries"`
	TotalSize      int64 `json:"total_size"`
}

// SearchResult is one transcript search hit.
type SearchResult struct {
	ContentHash string `json:"content_hash"`
	Filename    string `json:"filename"`
	Snippet     string `json:"snippet"`
}

// UpsertEntry inserts or replaces a cache entry and, for the raw tier, its
// FTS row, within a transaction.
func (db *DB) UpsertEntry(e EntryRow, body string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("cache: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO cache_entries (content_hash, tier, size, original_filename, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash, tier) DO UPDATE SET
			size              = excluded.size,
			original_filename = excluded.original_filename,
			body              = excluded.body,
			created_at        = excluded.created_at
	`, e.ContentHash, e.Tier, e.Size, e.OriginalFilename, body, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("cache: upsert entry: %w", err)
	}

	if e.Tier == TierRaw {
		if err := ftsUpsert(tx, e.ContentHash, e.OriginalFilename, body); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DeleteEntry removes one tier's row (and FTS row) for a content hash.
func (db *DB) DeleteEntry(contentHash, tier string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("cache: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if tier == TierRaw {
		ftsDelete(tx, contentHash)
	}
	_, _ = tx.Exec(`DELETE FROM cache_entries WHERE content_hash = ? AND tier = ?`, contentHash, tier)

	return tx.Commit()
}

// HasTier reports whether an entry exists for (contentHash, tier).
func (db *DB) HasTier(contentHash, tier string) (bool, error) {
	var n int
	err := db.conn.QueryRow(
		`SELECT count(*) FROM cache_entries WHERE content_hash = ? AND tier = ?`,
		contentHash, tier,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("cache: has tier: %w", err)
	}
	return n > 0, nil
}

// Tiers returns the tiers present for a content hash.
func (db *DB) Tiers(contentHash string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT tier FROM cache_entries WHERE content_hash = ?`, contentHash)
	if err != nil {
		return nil, fmt.Errorf("cache: tiers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AllEntries returns every indexed content hash mapped to its tiers.
func (db *DB) AllEntries() (map[string][]string, error) {
	rows, err := db.conn.Query(`SELECT content_hash, tier FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("cache: all entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var h, t string
		if err := rows.Scan(&h, &t); err != nil {
			return nil, err
		}
		out[h] = append(out[h], t)
	}
	return out, rows.Err()
}

// OlderThan returns entries created before the cutoff.
func (db *DB) OlderThan(cutoff time.Time) ([]EntryRow, error) {
	rows, err := db.conn.Query(`
		SELECT content_hash, tier, size, original_filename, created_at
		FROM cache_entries
		WHERE created_at < ?
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("cache: older than: %w", err)
	}
	defer rows.Close()

	var out []EntryRow
	for rows.Next() {
		var e EntryRow
		if err := rows.Scan(&e.ContentHash, &e.Tier, &e.Size, &e.OriginalFilename, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats aggregates entry counts and total size.
func (db *DB) Stats() (Stats, error) {
	var s Stats
	err := db.conn.QueryRow(`
		SELECT count(DISTINCT content_hash),
		       count(CASE WHEN tier = 'raw' THEN 1 END),
		       count(CASE WHEN tier = 'derived' THEN 1 END),
		       coalesce(sum(size), 0)
		FROM cache_entries
	`).Scan(&s.TotalEntries, &s.RawEntries, &s.DerivedEntries, &s.TotalSize)
	if err != nil {
		return Stats{}, fmt.Errorf("cache: stats: %w", err)
	}
	return s, nil
}
