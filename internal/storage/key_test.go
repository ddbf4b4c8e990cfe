package storage

import (
	"errors"
	"testing"

	"github.com/starford/ansuz/internal/apperr"
)

func TestKeyString(t *testing.T) {
	k := PrivateKey("alice", "uploads/lecture.wav")
	if got := k.String(); got != "private/alice/uploads/lecture.wav" {
		t.Errorf("String = %q", got)
	}
	if got := SharedKey("raw/abc.json").String(); got != "shared/cache/raw/abc.json" {
		t.Errorf("shared String = %q", got)
	}
	if got := EphemeralKey("tmp.bin").String(); got != "ephemeral/tmp.bin" {
		t.Errorf("ephemeral String = %q", got)
	}
}

func TestKeyValidateRejectsTraversal(t *testing.T) {
	cases := []struct {
		name string
		key  Key
	}{
		{"parent segment", SharedKey("../outside.json")},
		{"nested parent", SharedKey("raw/../../outside.json")},
		{"bare parent", SharedKey("..")},
		{"absolute", SharedKey("/etc/passwd")},
		{"backslash", SharedKey(`..\..\outside.json`)},
		{"empty rel", SharedKey("")},
		{"user traversal", PrivateKey("../root", "file.txt")},
		{"user separator", PrivateKey("a/b", "file.txt")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.key.Validate()
			if err == nil {
				t.Fatalf("expected error for %q", tc.key.String())
			}
			if !errors.Is(err, apperr.ErrInvalidKey) {
				t.Errorf("error %v is not ErrInvalidKey", err)
			}
		})
	}
}

func TestKeyValidateAcceptsNormalPaths(t *testing.T) {
	cases := []Key{
		SharedKey("raw/abc123.json"),
		SharedKey("derived/abc123.json"),
		PrivateKey("bob", "uploads/notes.pdf"),
		EphemeralKey("work/chunk-0"),
		SharedKey("a/b/c/d.txt"),
	}
	for _, k := range cases {
		if err := k.Validate(); err != nil {
			t.Errorf("Validate(%q) = %v", k.String(), err)
		}
	}
}

func TestValidatePrefixAllowsEmptyRel(t *testing.T) {
	if err := SharedKey("").ValidatePrefix(); err != nil {
		t.Errorf("empty-rel prefix rejected: %v", err)
	}
	if err := PrivateKey("..", "").ValidatePrefix(); err == nil {
		t.Error("bad namespace accepted")
	}
}
