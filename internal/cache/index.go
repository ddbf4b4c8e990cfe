package cache

import "time"

// Index defines the cache-index operations the store depends on.
// Consumers should depend on this interface rather than the concrete *DB
// type to facilitate testing with mocks.
type Index interface {
	UpsertEntry(e EntryRow, body string) error
	DeleteEntry(contentHash, tier string) error
	HasTier(contentHash, tier string) (bool, error)
	Tiers(contentHash string) ([]string, error)
	AllEntries() (map[string][]string, error)
	OlderThan(cutoff time.Time) ([]EntryRow, error)
	Stats() (Stats, error)
	Search(query string, limit int) ([]SearchResult, error)
	Close() error
}

// Verify *DB satisfies Index at compile time.
var _ Index = (*DB)(nil)
