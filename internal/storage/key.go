package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
)

// Namespace roots.
const (
	nsPrivate   = "private"
	nsShared    = "shared/cache"
	nsEphemeral = "ephemeral"
)

// Key is a logical storage location: a namespace plus a slash-separated
// relative path. Higher layers only ever see keys; which physical backend a
// key resolves to is the provider's business.
type Key struct {
	ns  string
	rel string
}

// PrivateKey returns a key in the per-user private namespace.
func PrivateKey(user, rel string) Key {
	return Key{ns: nsPrivate + "/" + user, rel: rel}
}

// SharedKey returns a key in the shared cache namespace. Shared keys are
// derived purely from content hashes, so byte-identical uploads from
// different users land on the same key.
func SharedKey(rel string) Key {
	return Key{ns: nsShared, rel: rel}
}

// EphemeralKey returns a key in the ephemeral working namespace.
func EphemeralKey(rel string) Key {
	return Key{ns: nsEphemeral, rel: rel}
}

// Namespace returns the namespace root of the key.
func (k Key) Namespace() string { return k.ns }

// Rel returns the relative path within the namespace.
func (k Key) Rel() string { return k.rel }

// String returns the full logical path (namespace + relative path).
func (k Key) String() string {
	if k.rel == "" {
		return k.ns
	}
	return k.ns + "/" + k.rel
}

// Validate rejects keys whose normalized form could escape the namespace
// root: parent-directory segments, absolute anchors, backslash-disguised
// traversal, and malformed namespaces. Validation never touches the
// filesystem.
func (k Key) Validate() error {
	if k.ns == "" {
		return fmt.Errorf("%w: empty namespace", apperr.ErrInvalidKey)
	}
	for _, seg := range strings.Split(k.ns, "/") {
		if err := checkSegment(seg); err != nil {
			return fmt.Errorf("%w: namespace %q: %v", apperr.ErrInvalidKey, k.ns, err)
		}
	}
	if k.rel == "" {
		return fmt.Errorf("%w: empty path", apperr.ErrInvalidKey)
	}
	if strings.ContainsRune(k.rel, '\\') {
		return fmt.Errorf("%w: backslash in path %q", apperr.ErrInvalidKey, k.rel)
	}
	if strings.HasPrefix(k.rel, "/") {
		return fmt.Errorf("%w: absolute path %q", apperr.ErrInvalidKey, k.rel)
	}
	cleaned := path.Clean(k.rel)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%w: path %q escapes namespace root", apperr.ErrInvalidKey, k.rel)
	}
	return nil
}

// ValidatePrefix is Validate relaxed for listing: an empty relative path is
// allowed and means the whole namespace.
func (k Key) ValidatePrefix() error {
	if k.rel == "" {
		if k.ns == "" {
			return fmt.Errorf("%w: empty namespace", apperr.ErrInvalidKey)
		}
		for _, seg := range strings.Split(k.ns, "/") {
			if err := checkSegment(seg); err != nil {
				return fmt.Errorf("%w: namespace %q: %v", apperr.ErrInvalidKey, k.ns, err)
			}
		}
		return nil
	}
	return k.Validate()
}

// checkSegment validates one namespace path segment (a plain directory name).
func checkSegment(seg string) error {
	if seg == "" || seg == "." || seg == ".." {
		return fmt.Errorf("bad segment %q", seg)
	}
	if strings.ContainsAny(seg, `/\`) {
		return fmt.Errorf("separator in segment %q", seg)
	}
	return nil
}
