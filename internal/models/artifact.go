// Package models defines the domain types for Ansuz.
package models

import "time"

// Segment is a positionally-addressable chunk of extracted text.
// Position is a stable ordinal string ("0", "1", ...) unique within one
// derived artifact; topics reference segments by position, never by copy.
type Segment struct {
	Position string `json:"position"`
	Text     string `json:"text"`
}

// TopicStats carries per-topic bookkeeping shown in the client.
type TopicStats struct {
	SegmentCount int `json:"segment_count"`
	WordCount    int `json:"word_count"`
}

// ExpansionNode is one memoized elaboration of a bullet point.
//
// Layer is 1 for a direct expansion of a topic bullet and 2 for an
// expansion of a generated sub-bullet. SubExpansions nests at most one
// level, so the depth-2 cap is enforced by the shape itself.
type ExpansionNode struct {
	OriginalBullet  string                    `json:"original_bullet"`
	ExpandedBullets []string                  `json:"expanded_bullets"`
	Layer           int                       `json:"layer"`
	TopicHeading    string                    `json:"topic_heading"`
	ChunksUsed      int                       `json:"chunks_used"`
	Timestamp       time.Time                 `json:"timestamp"`
	ParentKey       string                    `json:"parent_key,omitempty"`
	SubExpansions   map[string]*ExpansionNode `json:"sub_expansions,omitempty"`
}

// Topic is a cluster of segments with generated study material.
type Topic struct {
	Heading          string                    `json:"heading"`
	Summary          string                    `json:"summary"`
	Concepts         []string                  `json:"concepts,omitempty"`
	Keywords         []string                  `json:"keywords,omitempty"`
	Examples         []string                  `json:"examples,omitempty"`
	SegmentPositions []string                  `json:"segment_positions"`
	Stats            TopicStats                `json:"stats"`
	BulletPoints     []string                  `json:"bullet_points,omitempty"`
	Expansions       map[string]*ExpansionNode `json:"expansions,omitempty"`
}

// RawExtraction is a raw-tier cache entry: the extracted/transcribed text
// for one content hash.
type RawExtraction struct {
	ContentHash      string    `json:"content_hash"`
	Text             string    `json:"text"`
	OriginalFilename string    `json:"original_filename"`
	CreatedAt        time.Time `json:"created_at"`
}

// DerivedArtifact is a derived-tier cache entry: segments plus topic
// clusters for one content hash.
type DerivedArtifact struct {
	ContentHash      string            `json:"content_hash"`
	Segments         []Segment         `json:"segments"`
	Topics           map[string]*Topic `json:"topics"`
	OriginalFilename string            `json:"original_filename"`
	CreatedAt        time.Time         `json:"created_at"`
}

// CacheMeta is the metadata sidecar written next to cache entries.
type CacheMeta struct {
	ContentHash      string    `json:"content_hash"`
	OriginalFilename string    `json:"original_filename"`
	CreatedAt        time.Time `json:"created_at"`
	CacheHit         bool      `json:"cache_hit"`
}
