package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/storage"
)

// Store is the two-tier cache keyed by content hash. Both tiers live in the
// shared namespace so byte-identical uploads from different users hit the
// same entries.
//
// Failure policy: cache I/O problems are logged and degrade to a miss
// (reads) or a dropped write (writes); they never fail the caller's
// request. Corrupt or partially-written entries are detected and treated
// as misses.
type Store struct {
	backend storage.Backend
	index   Index
	logger  *slog.Logger
}

// NewStore creates a cache store over the given backend and index.
func NewStore(backend storage.Backend, index Index, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, index: index, logger: logger}
}

func rawKey(hash string) storage.Key {
	return storage.SharedKey("raw/" + hash + ".json")
}

func derivedKey(hash string) storage.Key {
	return storage.SharedKey("derived/" + hash + ".json")
}

func metaKey(hash string) storage.Key {
	return storage.SharedKey("meta/" + hash + ".json")
}

// SaveRaw writes a raw-extraction entry. Best effort: failures are logged
// and dropped.
func (s *Store) SaveRaw(ctx context.Context, hash, text, filename string) {
	entry := models.RawExtraction{
		ContentHash:      hash,
		Text:             text,
		OriginalFilename: filename,
		CreatedAt:        time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("cache: marshal raw entry failed",
			slog.String("hash", checksum.Short(hash)), slog.String("error", err.Error()))
		return
	}
	if err := s.backend.Put(ctx, rawKey(hash), data); err != nil {
		s.logger.Warn("cache: raw write dropped",
			slog.String("hash", checksum.Short(hash)), slog.String("error", err.Error()))
		return
	}
	s.upsertIndex(EntryRow{
		ContentHash:      hash,
		Tier:             TierRaw,
		Size:             int64(len(data)),
		OriginalFilename: filename,
		CreatedAt:        entry.CreatedAt,
	}, text)
}

// GetRaw returns the raw-tier entry for hash, or a miss.
func (s *Store) GetRaw(ctx context.Context, hash string) (*models.RawExtraction, bool) {
	data, err := s.backend.Get(ctx, rawKey(hash))
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("cache: raw read failed, treating as miss",
				slog.String("hash", checksum.Short(hash)), slog.String("error", err.Error()))
		}
		return nil, false
	}
	var entry models.RawExtraction
	if err := json.Unmarshal(data, &entry); err != nil || entry.ContentHash != hash || entry.Text == "" {
		s.logger.Warn("cache: corrupt raw entry, treating as miss",
			slog.String("hash", checksum.Short(hash)))
		return nil, false
	}
	return &entry, true
}

// HasRaw reports whether a raw-tier entry exists. The index answers first;
// an index miss is double-checked against the backing store and the index
// repaired on a hit.
func (s *Store) HasRaw(ctx context.Context, hash string) bool {
	ok, err := s.index.HasTier(hash, TierRaw)
	if err != nil {
		s.logger.Warn("cache: index lookup failed", slog.String("error", err.Error()))
	} else if ok {
		return true
	}
	entry, hit := s.GetRaw(ctx, hash)
	if !hit {
		return false
	}
	s.upsertIndex(EntryRow{
		ContentHash:      hash,
		Tier:             TierRaw,
		Size:             int64(len(entry.Text)),
		OriginalFilename: entry.OriginalFilename,
		CreatedAt:        entry.CreatedAt,
	}, entry.Text)
	return true
}

// SaveDerived writes a derived-artifact entry. Best effort: failures are
// logged and dropped.
func (s *Store) SaveDerived(ctx context.Context, hash string, segments []models.Segment, topics map[string]*models.Topic, filename string) {
	entry := models.DerivedArtifact{
		ContentHash:      hash,
		Segments:         segments,
		Topics:           topics,
		OriginalFilename: filename,
		CreatedAt:        time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("cache: marshal derived entry failed",
			slog.String("hash", checksum.Short(hash)), slog.String("error", err.Error()))
		return
	}
	if err := s.backend.Put(ctx, derivedKey(hash), data); err != nil {
		s.logger.Warn("cache: derived write dropped",
			slog.String("hash", checksum.Short(hash)), slog.String("error", err.Error()))
		return
	}
	s.upsertIndex(EntryRow{
		ContentHash:      hash,
		Tier:             TierDerived,
		Size:             int64(len(data)),
		OriginalFilename: filename,
		CreatedAt:        entry.CreatedAt,
	}, "")
}

// GetDerived returns the derived-tier entry for hash, or a miss.
func (s *Store) GetDerived(ctx context.Context, hash string) (*models.DerivedArtifact, bool) {
	data, err := s.backend.Get(ctx, derivedKey(hash))
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("cache: derived read failed, treating as miss",
				slog.String("hash", checksum.Short(hash)), slog.String("error", err.Error()))
		}
		return nil, false
	}
	var entry models.DerivedArtifact
	if err := json.Unmarshal(data, &entry); err != nil ||
		entry.ContentHash != hash || entry.Segments == nil || entry.Topics == nil {
		s.logger.Warn("cache: corrupt derived entry, treating as miss",
			slog.String("hash", checksum.Short(hash)))
		return nil, false
	}
	return &entry, true
}

// WriteMeta writes the metadata sidecar for hash. Best effort.
func (s *Store) WriteMeta(ctx context.Context, hash, filename string, cacheHit bool) {
	meta := models.CacheMeta{
		ContentHash:      hash,
		OriginalFilename: filename,
		CreatedAt:        time.Now().UTC(),
		CacheHit:         cacheHit,
	}
	data, _ := json.Marshal(meta)
	if err := s.backend.Put(ctx, metaKey(hash), data); err != nil {
		s.logger.Warn("cache: meta write dropped",
			slog.String("hash", checksum.Short(hash)), slog.String("error", err.Error()))
	}
}

// Stats returns index-backed cache statistics.
func (s *Store) Stats(_ context.Context) (Stats, error) {
	return s.index.Stats()
}

// Search runs a transcript search against the index.
func (s *Store) Search(_ context.Context, query string, limit int) ([]SearchResult, error) {
	return s.index.Search(query, limit)
}

// Cleanup removes entries older than maxAge from both the backing store and
// the index, returning the number of entries removed. Individual delete
// failures are logged and skipped.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	old, err := s.index.OlderThan(cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	touched := make(map[string]struct{})
	for _, e := range old {
		key := rawKey(e.ContentHash)
		if e.Tier == TierDerived {
			key = derivedKey(e.ContentHash)
		}
		if err := s.backend.Delete(ctx, key); err != nil {
			s.logger.Warn("cache: cleanup delete failed",
				slog.String("key", key.String()), slog.String("error", err.Error()))
			continue
		}
		if err := s.index.DeleteEntry(e.ContentHash, e.Tier); err != nil {
			s.logger.Warn("cache: cleanup index delete failed",
				slog.String("hash", checksum.Short(e.ContentHash)), slog.String("error", err.Error()))
			continue
		}
		touched[e.ContentHash] = struct{}{}
		removed++
	}

	// Drop meta sidecars for hashes with no tiers left.
	for hash := range touched {
		tiers, err := s.index.Tiers(hash)
		if err != nil || len(tiers) > 0 {
			continue
		}
		_ = s.backend.Delete(ctx, metaKey(hash))
	}

	return removed, nil
}

// SyncIndex reconciles the index against the backing store: entries present
// in storage but not indexed are (re)indexed, stale index rows whose entries
// are gone are removed. Used at startup and by the cache watcher.
func (s *Store) SyncIndex(ctx context.Context) error {
	indexed, err := s.index.AllEntries()
	if err != nil {
		return err
	}

	stored := make(map[string]map[string]bool)
	for _, tier := range []string{TierRaw, TierDerived} {
		keys, err := s.backend.List(ctx, storage.SharedKey(tier))
		if err != nil {
			return err
		}
		for _, k := range keys {
			hash := strings.TrimSuffix(path.Base(k.Rel()), ".json")
			if hash == "" {
				continue
			}
			if stored[hash] == nil {
				stored[hash] = make(map[string]bool)
			}
			stored[hash][tier] = true
		}
	}

	for hash, tiers := range stored {
		for tier := range tiers {
			if hasTier(indexed[hash], tier) {
				continue
			}
			s.reindex(ctx, hash, tier)
		}
	}

	for hash, tiers := range indexed {
		for _, tier := range tiers {
			if stored[hash][tier] {
				continue
			}
			if err := s.index.DeleteEntry(hash, tier); err != nil {
				s.logger.Warn("cache: sync delete failed",
					slog.String("hash", checksum.Short(hash)), slog.String("error", err.Error()))
			} else {
				s.logger.Debug("cache: sync removed stale",
					slog.String("hash", checksum.Short(hash)), slog.String("tier", tier))
			}
		}
	}

	return nil
}

// reindex loads one entry from storage and upserts its index row.
func (s *Store) reindex(ctx context.Context, hash, tier string) {
	switch tier {
	case TierRaw:
		entry, ok := s.GetRaw(ctx, hash)
		if !ok {
			return
		}
		s.upsertIndex(EntryRow{
			ContentHash:      hash,
			Tier:             TierRaw,
			Size:             int64(len(entry.Text)),
			OriginalFilename: entry.OriginalFilename,
			CreatedAt:        entry.CreatedAt,
		}, entry.Text)
	case TierDerived:
		entry, ok := s.GetDerived(ctx, hash)
		if !ok {
			return
		}
		data, _ := json.Marshal(entry)
		s.upsertIndex(EntryRow{
			ContentHash:      hash,
			Tier:             TierDerived,
			Size:             int64(len(data)),
			OriginalFilename: entry.OriginalFilename,
			CreatedAt:        entry.CreatedAt,
		}, "")
	}
	s.logger.Debug("cache: sync indexed",
		slog.String("hash", checksum.Short(hash)), slog.String("tier", tier))
}

func (s *Store) upsertIndex(e EntryRow, body string) {
	if err := s.index.UpsertEntry(e, body); err != nil {
		s.logger.Warn("cache: index update dropped",
			slog.String("hash", checksum.Short(e.ContentHash)), slog.String("error", err.Error()))
	}
}

func hasTier(tiers []string, tier string) bool {
	for _, t := range tiers {
		if t == tier {
			return true
		}
	}
	return false
}
