// Package storage resolves logical namespaced keys to a physical backend:
// a remote object store when configured and reachable, the local file
// system otherwise.
package storage

import "context"

// Backend is the physical key/value store behind the logical key space.
type Backend interface {
	// Put writes data at key, overwriting any existing value.
	Put(ctx context.Context, key Key, data []byte) error
	// Get returns the bytes at key, or an error wrapping apperr.ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)
	// Delete removes the value at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error
	// List returns every key under prefix (namespace + relative directory).
	// Implementations page through backend result sets so callers never see
	// a truncated listing.
	List(ctx context.Context, prefix Key) ([]Key, error)
	// Name identifies the backend for logging.
	Name() string
}
