package cache

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch runs an fsnotify watcher over the shared cache directory of the
// local backend and keeps the index reconciled with out-of-band changes
// (another process on the same host writing entries, manual deletion).
// Only useful when the hybrid provider has settled on the local backend.
//
// Events are debounced into full SyncIndex passes rather than handled
// individually: entry files are written via temp-and-rename, so per-event
// bookkeeping would chase renames for no benefit.
func Watch(ctx context.Context, store *Store, cacheRoot string, logger *slog.Logger) error {
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, cacheRoot); err != nil {
		return err
	}

	logger.Info("cache watcher: started", slog.String("root", cacheRoot))

	var syncTimer *time.Timer
	var syncCh <-chan time.Time

	scheduleSync := func() {
		if syncTimer == nil {
			syncTimer = time.NewTimer(200 * time.Millisecond)
			syncCh = syncTimer.C
		} else {
			syncTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if syncTimer != nil {
				syncTimer.Stop()
			}
			logger.Info("cache watcher: stopped")
			return nil

		case <-syncCh:
			if err := store.SyncIndex(ctx); err != nil {
				logger.Warn("cache watcher: sync failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// New tier directories appear lazily; watch them as they come
			// and sync whatever they already contain.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("cache watcher: add dir failed",
							slog.String("path", ev.Name), slog.String("error", addErr.Error()))
					}
					scheduleSync()
					continue
				}
			}
			// Skip in-flight temp files from atomic writes.
			if filepath.Ext(ev.Name) != ".json" {
				continue
			}
			scheduleSync()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("cache watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
