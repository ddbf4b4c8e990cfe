package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := NewRedis(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = r.Close() })
	return mr, r
}

func TestHybridPrefersReachableRemote(t *testing.T) {
	_, r := testRedis(t)
	h := NewHybrid(tempFS(t), r, discardLogger())
	ctx := context.Background()

	key := SharedKey("raw/abc.json")
	if err := h.Put(ctx, key, []byte("remote value")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if h.Name() != "hybrid(redis)" {
		t.Errorf("Name = %q, want hybrid(redis)", h.Name())
	}
	got, err := h.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "remote value" {
		t.Errorf("content = %q", got)
	}
	// The local tier must not have been written.
	if _, err := h.Local().Get(ctx, key); err == nil {
		t.Error("value unexpectedly written to local backend")
	}
}

func TestHybridFallsBackWhenUnreachable(t *testing.T) {
	mr, r := testRedis(t)
	mr.Close() // remote configured but down
	h := NewHybrid(tempFS(t), r, discardLogger())
	ctx := context.Background()

	key := SharedKey("raw/abc.json")
	if err := h.Put(ctx, key, []byte("local value")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if h.Name() != "hybrid(fs)" {
		t.Errorf("Name = %q, want hybrid(fs)", h.Name())
	}
	got, err := h.Local().Get(ctx, key)
	if err != nil {
		t.Fatalf("local Get: %v", err)
	}
	if string(got) != "local value" {
		t.Errorf("content = %q", got)
	}
}

func TestHybridUnconfiguredRemoteUsesLocal(t *testing.T) {
	h := NewHybrid(tempFS(t), nil, discardLogger())
	ctx := context.Background()
	if err := h.Put(ctx, SharedKey("x.json"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !h.IsLocal(ctx) {
		t.Error("expected local backend")
	}
}

func TestHybridSelectionIsSticky(t *testing.T) {
	mr, r := testRedis(t)
	h := NewHybrid(tempFS(t), r, discardLogger())
	ctx := context.Background()

	if err := h.Put(ctx, SharedKey("a.json"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Remote dies after selection; the next op must demote to local instead
	// of failing the request.
	mr.Close()
	if err := h.Put(ctx, SharedKey("b.json"), []byte("2")); err != nil {
		t.Fatalf("Put after remote death: %v", err)
	}
	if h.Name() != "hybrid(fs)" {
		t.Errorf("Name = %q, want hybrid(fs)", h.Name())
	}
}

func TestRedisListPagesThroughScan(t *testing.T) {
	_, r := testRedis(t)
	ctx := context.Background()

	// Enough keys to force multiple SCAN pages at COUNT 100.
	for i := 0; i < 250; i++ {
		key := SharedKey(fmt.Sprintf("raw/entry-%03d.json", i))
		if err := r.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	// A different prefix that must not appear.
	_ = r.Put(ctx, SharedKey("derived/other.json"), []byte("y"))

	keys, err := r.List(ctx, SharedKey("raw"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 250 {
		t.Errorf("len = %d, want 250", len(keys))
	}
	for _, k := range keys {
		if k.Namespace() != "shared/cache" {
			t.Errorf("namespace = %q", k.Namespace())
		}
	}
}

func TestParseObjectKey(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"ansuz:shared/cache/raw/a.json", "shared/cache/raw/a.json", true},
		{"ansuz:private/alice/uploads/f.bin", "private/alice/uploads/f.bin", true},
		{"ansuz:ephemeral/t.tmp", "ephemeral/t.tmp", true},
		{"other:shared/cache/raw/a.json", "", false},
		{"ansuz:private/alice", "", false},
		{"ansuz:unknown/a.json", "", false},
	}
	for _, tc := range cases {
		k, ok := parseObjectKey(tc.raw)
		if ok != tc.ok {
			t.Errorf("parseObjectKey(%q) ok = %v, want %v", tc.raw, ok, tc.ok)
			continue
		}
		if ok && k.String() != tc.want {
			t.Errorf("parseObjectKey(%q) = %q, want %q", tc.raw, k.String(), tc.want)
		}
	}
}
