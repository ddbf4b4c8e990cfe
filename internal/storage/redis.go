package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/starford/ansuz/internal/apperr"
)

// keyPrefix namespaces every value this application writes into the shared
// object store.
const keyPrefix = "ansuz:"

// Redis implements Backend on a remote object store.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis backend for the given address. The connection is
// not probed here; reachability is the hybrid provider's concern.
func NewRedis(addr, password string, db int) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Name identifies the backend for logging.
func (r *Redis) Name() string { return "redis" }

// Ping reports whether the remote store is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Close releases the client connection pool.
func (r *Redis) Close() error { return r.client.Close() }

func objectKey(key Key) string {
	return keyPrefix + key.String()
}

// Put writes data at key, overwriting any existing value.
func (r *Redis) Put(ctx context.Context, key Key, data []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := r.client.Set(ctx, objectKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("storage: redis set %s: %w", key, err)
	}
	return nil
}

// Get returns the bytes at key.
func (r *Redis) Get(ctx context.Context, key Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	data, err := r.client.Get(ctx, objectKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("storage: %s: %w", key, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: redis get %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the value at key; missing keys are a no-op.
func (r *Redis) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := r.client.Del(ctx, objectKey(key)).Err(); err != nil {
		return fmt.Errorf("storage: redis del %s: %w", key, err)
	}
	return nil
}

// List pages through SCAN until the cursor returns to zero, so callers
// always see the complete listing regardless of server batch sizes.
func (r *Redis) List(ctx context.Context, prefix Key) ([]Key, error) {
	if err := prefix.ValidatePrefix(); err != nil {
		return nil, err
	}
	match := keyPrefix + prefix.String() + "/*"

	var out []Key
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("storage: redis scan %s: %w", prefix, err)
		}
		for _, raw := range batch {
			if k, ok := parseObjectKey(raw); ok {
				out = append(out, k)
			}
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// parseObjectKey converts a physical redis key back into a logical Key.
func parseObjectKey(raw string) (Key, bool) {
	s, ok := strings.CutPrefix(raw, keyPrefix)
	if !ok {
		return Key{}, false
	}
	switch {
	case strings.HasPrefix(s, nsShared+"/"):
		return Key{ns: nsShared, rel: strings.TrimPrefix(s, nsShared+"/")}, true
	case strings.HasPrefix(s, nsEphemeral+"/"):
		return Key{ns: nsEphemeral, rel: strings.TrimPrefix(s, nsEphemeral+"/")}, true
	case strings.HasPrefix(s, nsPrivate+"/"):
		// private/<user>/<rel...>
		rest := strings.TrimPrefix(s, nsPrivate+"/")
		user, rel, found := strings.Cut(rest, "/")
		if !found || user == "" || rel == "" {
			return Key{}, false
		}
		return Key{ns: nsPrivate + "/" + user, rel: rel}, true
	}
	return Key{}, false
}
