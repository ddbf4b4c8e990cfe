//go:build sqlite_fts5

package cache

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS transcripts_fts USING fts5(
			content_hash UNINDEXED,
			filename,
			body,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, contentHash, filename, body string) error {
	_, _ = tx.Exec(`DELETE FROM transcripts_fts WHERE content_hash = ?`, contentHash)
	_, err := tx.Exec(`INSERT INTO transcripts_fts (content_hash, filename, body) VALUES (?, ?, ?)`,
		contentHash, filename, body)
	if err != nil {
		return fmt.Errorf("cache: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, contentHash string) {
	_, _ = tx.Exec(`DELETE FROM transcripts_fts WHERE content_hash = ?`, contentHash)
}

// Search performs an FTS5 full-text search over extracted transcripts.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT content_hash,
		       filename,
		       snippet(transcripts_fts, 2, '<b>', '</b>', '...', 64)
		FROM transcripts_fts
		WHERE transcripts_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("cache: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ContentHash, &r.Filename, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
