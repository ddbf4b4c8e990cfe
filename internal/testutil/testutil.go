// Package testutil provides shared test helpers for setting up storage
// roots and cache indexes.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/ansuz/internal/cache"
	"github.com/starford/ansuz/internal/storage"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestIndex creates a temporary SQLite cache index that is automatically
// cleaned up.
func TestIndex(t *testing.T) *cache.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "ansuz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := cache.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestBackend creates a temporary storage root with a filesystem backend.
func TestBackend(t *testing.T) (string, *storage.FS) {
	t.Helper()
	root := t.TempDir()
	fs, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, fs
}

// TestStore wires a cache store over a temporary backend and index.
func TestStore(t *testing.T) (*cache.Store, *storage.FS) {
	t.Helper()
	_, fs := TestBackend(t)
	return cache.NewStore(fs, TestIndex(t), Logger()), fs
}
