// Package expand implements the memoized drill-down tree: on-demand
// elaborations of topic bullets, keyed deterministically so that repeating
// a request returns the stored node instead of calling the generator
// again. Depth is capped at two layers by construction.
package expand

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/ansuz/internal/ai"
	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/cache"
	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/models"
)

// maxLayer caps the drill-down depth.
const maxLayer = 2

// keyPrefixLen bounds how much normalized bullet text participates in the
// key, so trailing edits past this length still map to the same node.
const keyPrefixLen = 80

// Service owns expansion trees. All read-modify-write cycles on a derived
// artifact go through one mutex, so concurrent expansion requests for the
// same bullet produce one node and one generator call.
type Service struct {
	store    *cache.Store
	expander ai.Expander
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewService creates an expansion service.
func NewService(store *cache.Store, expander ai.Expander, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, expander: expander, logger: logger}
}

// KeyOf derives the deterministic node key for a bullet under a topic and
// optional parent. The same semantic request always yields the same key:
// list markers and surrounding whitespace are stripped and the text is
// truncated before hashing, so cosmetic differences do not fork nodes.
func KeyOf(topicID, parentKey, bullet string) string {
	norm := normalizeBullet(bullet)
	sum := checksum.Sum([]byte(topicID + "|" + parentKey + "|" + norm))
	return sum[:16]
}

// normalizeBullet strips leading list markers ("-", "*", "•", "1.", "2)")
// and trims and truncates the text.
func normalizeBullet(bullet string) string {
	s := strings.TrimSpace(bullet)
	for {
		trimmed := strings.TrimLeft(s, "-*•> \t")
		trimmed = strings.TrimLeft(trimmed, "0123456789")
		trimmed = strings.TrimLeft(trimmed, ".)")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == s {
			break
		}
		s = trimmed
	}
	if len(s) > keyPrefixLen {
		s = s[:keyPrefixLen]
	}
	return s
}

// Expand returns the memoized expansion of bullet under the given topic,
// generating and persisting it on first request.
//
// parentKey selects a layer-2 expansion of an existing layer-1 node's
// sub-bullet. Expanding past layer 2 is refused: the already-capped parent
// node is returned together with apperr.ErrDepthCapped, and no generator
// call is made.
func (s *Service) Expand(ctx context.Context, contentHash, topicID, bullet, parentKey string) (*models.ExpansionNode, error) {
	if strings.TrimSpace(bullet) == "" {
		return nil, fmt.Errorf("empty bullet")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	artifact, ok := s.store.GetDerived(ctx, contentHash)
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", checksum.Short(contentHash), apperr.ErrNotFound)
	}
	topic, ok := artifact.Topics[topicID]
	if !ok {
		return nil, fmt.Errorf("topic %s: %w", topicID, apperr.ErrNotFound)
	}

	var parent *models.ExpansionNode
	if parentKey != "" {
		parent = findParent(topic, parentKey)
		if parent == nil {
			return nil, fmt.Errorf("parent expansion %s: %w", parentKey, apperr.ErrNotFound)
		}
		if parent.Layer >= maxLayer {
			return parent, apperr.ErrDepthCapped
		}
	}

	key := KeyOf(topicID, parentKey, bullet)
	if node := lookup(topic, parent, key); node != nil {
		return node, nil
	}

	chunks := contextChunks(artifact, topic)
	bullets, err := s.expander.GenerateExpansion(ctx, bullet, chunks, topic.Heading)
	if err != nil {
		return nil, fmt.Errorf("expansion generation failed: %v", err)
	}

	node := &models.ExpansionNode{
		OriginalBullet:  strings.TrimSpace(bullet),
		ExpandedBullets: bullets,
		Layer:           1,
		TopicHeading:    topic.Heading,
		ChunksUsed:      len(chunks),
		Timestamp:       time.Now().UTC(),
	}
	if parent != nil {
		node.Layer = parent.Layer + 1
		node.ParentKey = parentKey
		if parent.SubExpansions == nil {
			parent.SubExpansions = make(map[string]*models.ExpansionNode)
		}
		parent.SubExpansions[key] = node
	} else {
		if topic.Expansions == nil {
			topic.Expansions = make(map[string]*models.ExpansionNode)
		}
		topic.Expansions[key] = node
	}

	// Persist the tree with its topic. Best effort like every cache write;
	// the node survives in memory for this response either way.
	s.store.SaveDerived(ctx, contentHash, artifact.Segments, artifact.Topics, artifact.OriginalFilename)

	s.logger.Info("expand: generated node",
		slog.String("hash", checksum.Short(contentHash)),
		slog.String("topic", topicID),
		slog.String("key", key),
		slog.Int("layer", node.Layer))

	return node, nil
}

// findParent resolves a parent key anywhere in the topic's tree, so a
// layer-2 node is found (and then refused as a parent) rather than
// misreported as missing.
func findParent(topic *models.Topic, parentKey string) *models.ExpansionNode {
	if node, ok := topic.Expansions[parentKey]; ok {
		return node
	}
	for _, node := range topic.Expansions {
		if sub, ok := node.SubExpansions[parentKey]; ok {
			return sub
		}
	}
	return nil
}

// lookup returns the existing node for key, if any.
func lookup(topic *models.Topic, parent *models.ExpansionNode, key string) *models.ExpansionNode {
	if parent != nil {
		return parent.SubExpansions[key]
	}
	return topic.Expansions[key]
}

// contextChunks collects the segment texts the topic covers, in position
// order.
func contextChunks(artifact *models.DerivedArtifact, topic *models.Topic) []string {
	byPos := make(map[string]string, len(artifact.Segments))
	for _, seg := range artifact.Segments {
		byPos[seg.Position] = seg.Text
	}
	var chunks []string
	for _, pos := range topic.SegmentPositions {
		if text, ok := byPos[pos]; ok {
			chunks = append(chunks, text)
		}
	}
	return chunks
}
