package expand

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/starford/ansuz/internal/ai/offline"
	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/cache"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/testutil"
)

type countingExpander struct {
	calls atomic.Int64
}

func (c *countingExpander) GenerateExpansion(ctx context.Context, bullet string, chunks []string, heading string) ([]string, error) {
	c.calls.Add(1)
	return offline.Expander{}.GenerateExpansion(ctx, bullet, chunks, heading)
}

const testHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func seedArtifact(t *testing.T, store *cache.Store) {
	t.Helper()
	segments := []models.Segment{
		{Position: "0", Text: "The mitochondria is the powerhouse of the cell."},
		{Position: "1", Text: "Cellular respiration produces ATP."},
	}
	topics := map[string]*models.Topic{
		"t1": {
			Heading:          "Cell Biology",
			SegmentPositions: []string{"0", "1"},
			BulletPoints:     []string{"Mitochondria produce energy"},
		},
	}
	store.SaveDerived(context.Background(), testHash, segments, topics, "bio.txt")
}

func newService(t *testing.T) (*Service, *cache.Store, *countingExpander) {
	t.Helper()
	store, _ := testutil.TestStore(t)
	seedArtifact(t, store)
	exp := &countingExpander{}
	return NewService(store, exp, testutil.Logger()), store, exp
}

func TestKeyOfDeterministicAndNormalized(t *testing.T) {
	base := KeyOf("t1", "", "Mitochondria produce energy")
	variants := []string{
		"Mitochondria produce energy",
		"- Mitochondria produce energy",
		"* Mitochondria produce energy  ",
		"3. Mitochondria produce energy",
		"• Mitochondria produce energy",
	}
	for _, v := range variants {
		if got := KeyOf("t1", "", v); got != base {
			t.Errorf("KeyOf(%q) = %s, want %s", v, got, base)
		}
	}

	if KeyOf("t2", "", "Mitochondria produce energy") == base {
		t.Error("different topic must change the key")
	}
	if KeyOf("t1", "parent", "Mitochondria produce energy") == base {
		t.Error("different parent must change the key")
	}

	long := strings.Repeat("x", keyPrefixLen)
	if KeyOf("t1", "", long+"tail-a") != KeyOf("t1", "", long+"tail-b") {
		t.Error("text beyond the key prefix must not fork nodes")
	}
	if len(base) != 16 {
		t.Errorf("key length = %d", len(base))
	}
}

func TestExpandCreatesAndPersistsLayerOne(t *testing.T) {
	svc, store, exp := newService(t)

	node, err := svc.Expand(context.Background(), testHash, "t1", "Mitochondria produce energy", "")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if node.Layer != 1 || node.ParentKey != "" {
		t.Errorf("layer = %d, parent = %q", node.Layer, node.ParentKey)
	}
	if node.TopicHeading != "Cell Biology" {
		t.Errorf("heading = %q", node.TopicHeading)
	}
	if node.ChunksUsed != 2 {
		t.Errorf("chunks used = %d, want 2", node.ChunksUsed)
	}
	if len(node.ExpandedBullets) == 0 {
		t.Error("no generated bullets")
	}
	if exp.calls.Load() != 1 {
		t.Errorf("generator calls = %d, want 1", exp.calls.Load())
	}

	// The node survives a reload of the artifact.
	artifact, ok := store.GetDerived(context.Background(), testHash)
	if !ok {
		t.Fatal("artifact gone after expansion")
	}
	key := KeyOf("t1", "", "Mitochondria produce energy")
	if artifact.Topics["t1"].Expansions[key] == nil {
		t.Error("expansion not persisted with its topic")
	}
}

func TestExpandIsIdempotent(t *testing.T) {
	svc, _, exp := newService(t)
	ctx := context.Background()

	first, err := svc.Expand(ctx, testHash, "t1", "Mitochondria produce energy", "")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	second, err := svc.Expand(ctx, testHash, "t1", "- Mitochondria produce energy", "")
	if err != nil {
		t.Fatalf("Expand (repeat): %v", err)
	}

	if exp.calls.Load() != 1 {
		t.Errorf("generator calls = %d, want 1 (memo hit expected)", exp.calls.Load())
	}
	if second.Timestamp != first.Timestamp {
		t.Error("repeat returned a regenerated node")
	}
	if strings.Join(second.ExpandedBullets, "|") != strings.Join(first.ExpandedBullets, "|") {
		t.Error("repeat returned different content")
	}
}

func TestExpandLayerTwoAndDepthCap(t *testing.T) {
	svc, _, exp := newService(t)
	ctx := context.Background()

	parent, err := svc.Expand(ctx, testHash, "t1", "Mitochondria produce energy", "")
	if err != nil {
		t.Fatalf("Expand layer 1: %v", err)
	}
	parentKey := KeyOf("t1", "", "Mitochondria produce energy")

	child, err := svc.Expand(ctx, testHash, "t1", parent.ExpandedBullets[0], parentKey)
	if err != nil {
		t.Fatalf("Expand layer 2: %v", err)
	}
	if child.Layer != 2 || child.ParentKey != parentKey {
		t.Errorf("layer = %d, parent = %q", child.Layer, child.ParentKey)
	}

	childKey := KeyOf("t1", parentKey, parent.ExpandedBullets[0])
	before := exp.calls.Load()
	capped, err := svc.Expand(ctx, testHash, "t1", child.ExpandedBullets[0], childKey)
	if !errors.Is(err, apperr.ErrDepthCapped) {
		t.Fatalf("expected depth cap, got %v", err)
	}
	if capped == nil || capped.Layer != 2 {
		t.Errorf("capped response should carry the layer-2 node, got %+v", capped)
	}
	if exp.calls.Load() != before {
		t.Error("depth-capped request invoked the generator")
	}
}

func TestNoNodeExceedsLayerTwo(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	root, _ := svc.Expand(ctx, testHash, "t1", "Mitochondria produce energy", "")
	rootKey := KeyOf("t1", "", "Mitochondria produce energy")
	for _, b := range root.ExpandedBullets {
		if _, err := svc.Expand(ctx, testHash, "t1", b, rootKey); err != nil {
			t.Fatalf("Expand layer 2: %v", err)
		}
	}

	artifact, _ := store.GetDerived(ctx, testHash)
	for _, node := range artifact.Topics["t1"].Expansions {
		if node.Layer != 1 {
			t.Errorf("top-level node at layer %d", node.Layer)
		}
		for _, sub := range node.SubExpansions {
			if sub.Layer != 2 {
				t.Errorf("sub node at layer %d", sub.Layer)
			}
			if len(sub.SubExpansions) != 0 {
				t.Error("layer-2 node carries children")
			}
		}
	}
}

func TestExpandUnknownTargets(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Expand(ctx, strings.Repeat("b", 64), "t1", "bullet", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown hash: %v", err)
	}
	if _, err := svc.Expand(ctx, testHash, "t99", "bullet", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown topic: %v", err)
	}
	if _, err := svc.Expand(ctx, testHash, "t1", "bullet", "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown parent: %v", err)
	}
	if _, err := svc.Expand(ctx, testHash, "t1", "   ", ""); err == nil {
		t.Error("expected error for empty bullet")
	}
}
