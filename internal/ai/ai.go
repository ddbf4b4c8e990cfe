// Package ai defines the narrow interfaces through which the pipeline
// invokes its expensive external collaborators. Their internals (speech
// models, clustering, text generation) are not part of this core; the
// offline subpackage provides deterministic heuristic implementations so
// the server runs with no model backend at all.
package ai

import (
	"context"

	"github.com/starford/ansuz/internal/models"
)

// Content kinds accepted by extractors.
const (
	KindDocument = "document"
	KindAudio    = "audio"
)

// ProgressFunc reports extraction progress. current never decreases and
// never exceeds total.
type ProgressFunc func(current, total int)

// Extractor turns raw document/audio bytes into plain text. Implementations
// may call onProgress (if non-nil) zero or more times.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte, kind string, onProgress ProgressFunc) (string, error)
}

// Segmenter splits extracted text into positionally-addressed chunks.
type Segmenter interface {
	Segment(ctx context.Context, text string) ([]models.Segment, error)
}

// Clusterer groups segments into topics with generated study material.
type Clusterer interface {
	Cluster(ctx context.Context, segments []models.Segment) (map[string]*models.Topic, error)
}

// Expander elaborates a bullet point into sub-bullets, given the segment
// texts the parent topic covers and the topic heading.
type Expander interface {
	GenerateExpansion(ctx context.Context, bullet string, contextChunks []string, heading string) ([]string, error)
}

// Suite bundles the collaborators the pipeline and expansion service need.
type Suite struct {
	Extractor Extractor
	Segmenter Segmenter
	Clusterer Clusterer
	Expander  Expander
}
