package storage

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
)

// Hybrid is the Backend the rest of the application talks to. It prefers
// the remote object store when one is configured and reachable and falls
// back to the local filesystem otherwise. The choice is made lazily on
// first use (double-checked locking) and a remote connection failure later
// on demotes the provider to local for the rest of the process lifetime.
type Hybrid struct {
	local  *FS
	remote *Redis // nil when unconfigured
	logger *slog.Logger

	mu     sync.Mutex
	active Backend
}

// NewHybrid creates a hybrid provider. remote may be nil.
func NewHybrid(local *FS, remote *Redis, logger *slog.Logger) *Hybrid {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hybrid{local: local, remote: remote, logger: logger}
}

// Name identifies the currently selected backend.
func (h *Hybrid) Name() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		return "hybrid(unselected)"
	}
	return "hybrid(" + h.active.Name() + ")"
}

// Local returns the local filesystem backend (always constructed; used by
// the cache watcher and for direct path resolution).
func (h *Hybrid) Local() *FS { return h.local }

// IsLocal reports whether the provider has settled on the local backend.
func (h *Hybrid) IsLocal(ctx context.Context) bool {
	return h.backend(ctx) == Backend(h.local)
}

// backend returns the selected backend, probing the remote store exactly
// once even under concurrent first use.
func (h *Hybrid) backend(ctx context.Context) Backend {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != nil {
		return h.active
	}
	if h.remote == nil {
		h.logger.Info("storage: no remote backend configured, using local")
		h.active = h.local
		return h.active
	}
	if err := h.remote.Ping(ctx); err != nil {
		h.logger.Warn("storage: remote backend unreachable, falling back to local",
			slog.String("error", err.Error()))
		h.active = h.local
		return h.active
	}
	h.logger.Info("storage: using remote backend")
	h.active = h.remote
	return h.active
}

// demote switches to the local backend after a remote connection failure.
func (h *Hybrid) demote(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == Backend(h.local) {
		return
	}
	h.logger.Warn("storage: remote backend failed, demoting to local",
		slog.String("error", err.Error()))
	h.active = h.local
}

// unreachable reports whether err looks like a connection-level failure
// rather than an application-level one.
func unreachable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, net.ErrClosed)
}

// Put writes data at key through the selected backend.
func (h *Hybrid) Put(ctx context.Context, key Key, data []byte) error {
	b := h.backend(ctx)
	err := b.Put(ctx, key, data)
	if err != nil && b != Backend(h.local) && unreachable(err) {
		h.demote(err)
		return h.local.Put(ctx, key, data)
	}
	return err
}

// Get returns the bytes at key through the selected backend.
func (h *Hybrid) Get(ctx context.Context, key Key) ([]byte, error) {
	b := h.backend(ctx)
	data, err := b.Get(ctx, key)
	if err != nil && b != Backend(h.local) && unreachable(err) {
		h.demote(err)
		return h.local.Get(ctx, key)
	}
	return data, err
}

// Delete removes the value at key through the selected backend.
func (h *Hybrid) Delete(ctx context.Context, key Key) error {
	b := h.backend(ctx)
	err := b.Delete(ctx, key)
	if err != nil && b != Backend(h.local) && unreachable(err) {
		h.demote(err)
		return h.local.Delete(ctx, key)
	}
	return err
}

// List returns every key under prefix through the selected backend.
func (h *Hybrid) List(ctx context.Context, prefix Key) ([]Key, error) {
	b := h.backend(ctx)
	keys, err := b.List(ctx, prefix)
	if err != nil && b != Backend(h.local) && unreachable(err) {
		h.demote(err)
		return h.local.List(ctx, prefix)
	}
	return keys, err
}
