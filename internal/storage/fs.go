package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
)

// FS implements Backend on the local file system. Namespace roots become
// directories under the data root.
type FS struct {
	root string // absolute path to the data directory
}

// NewFS creates an FS backend rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute data root directory.
func (f *FS) Root() string { return f.root }

// Name identifies the backend for logging.
func (f *FS) Name() string { return "fs" }

// ResolveLocal validates key and returns its physical path under the data
// root. Any key whose normalized form would escape its namespace root is
// refused before the filesystem is touched.
func (f *FS) ResolveLocal(key Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	nsRoot := filepath.Join(f.root, filepath.FromSlash(key.Namespace()))
	joined := filepath.Join(nsRoot, filepath.FromSlash(filepath.Clean(key.Rel())))
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	// Belt and braces: the resolved path must still sit inside its namespace.
	if !strings.HasPrefix(abs, nsRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q escapes %q", apperr.ErrInvalidKey, key.Rel(), key.Namespace())
	}
	return abs, nil
}

// Put atomically writes data: tmp file → fsync → rename. Parent directories
// are created as needed.
func (f *FS) Put(_ context.Context, key Key, data []byte) error {
	abs, err := f.ResolveLocal(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ansuz-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Get reads the bytes at key.
func (f *FS) Get(_ context.Context, key Key) ([]byte, error) {
	abs, err := f.ResolveLocal(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: %s: %w", key, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the value at key; missing keys are a no-op.
func (f *FS) Delete(_ context.Context, key Key) error {
	abs, err := f.ResolveLocal(key)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// List walks the directory for prefix and returns every key under it.
// An empty relative path lists the whole namespace; a missing prefix
// directory yields an empty listing.
func (f *FS) List(_ context.Context, prefix Key) ([]Key, error) {
	if err := prefix.ValidatePrefix(); err != nil {
		return nil, err
	}
	nsRoot := filepath.Join(f.root, filepath.FromSlash(prefix.Namespace()))
	base := nsRoot
	if prefix.Rel() != "" {
		base = filepath.Join(nsRoot, filepath.FromSlash(filepath.Clean(prefix.Rel())))
	}
	if !strings.HasPrefix(base, nsRoot+string(os.PathSeparator)) && base != nsRoot {
		return nil, fmt.Errorf("%w: %q escapes %q", apperr.ErrInvalidKey, prefix.Rel(), prefix.Namespace())
	}
	if _, err := os.Stat(base); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	var out []Key
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".ansuz-tmp-") {
			return nil
		}
		rel, relErr := filepath.Rel(nsRoot, p)
		if relErr != nil {
			return relErr
		}
		out = append(out, Key{ns: prefix.Namespace(), rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", prefix, err)
	}
	return out, nil
}
