package mcpserver

// ArtifactFormatContract describes the JSON shapes of persisted artifacts
// so LLM consumers can parse tool output reliably.
const ArtifactFormatContract = `# Ansuz Artifact Format Contract

All processing results are keyed by a content hash: the SHA-256 hex digest
of the uploaded bytes. Identical content always maps to the same hash, no
matter who uploaded it or under what filename.

## Derived artifact (get_topics returns its "topics" object)

` + "```" + `json
{
  "content_hash": "64-char hex digest",
  "segments": [
    {"position": "0", "text": "first paragraph..."},
    {"position": "1", "text": "second paragraph..."}
  ],
  "topics": {
    "t1": {
      "heading": "Topic heading",
      "summary": "One-sentence summary.",
      "keywords": ["keyword"],
      "segment_positions": ["0", "1"],
      "stats": {"segment_count": 2, "word_count": 120},
      "bullet_points": ["A key point."],
      "expansions": {"<key>": { ...expansion node... }}
    }
  },
  "original_filename": "lecture.txt",
  "created_at": "RFC 3339 timestamp"
}
` + "```" + `

## Rules

1. **Segment positions are ordinal strings** ("0", "1", ...). Topics
   reference segments only by position, never by copied text.
2. **Topic ids** ("t1", "t2", ...) are stable within one artifact and are
   the topic_id argument for expand_bullet.
3. **Expansion keys** are deterministic: the same (topic_id, parent_key,
   bullet text) always yields the same key, so repeated expand_bullet
   calls return the stored node.

## Expansion node (expand_bullet returns one)

` + "```" + `json
{
  "original_bullet": "A key point.",
  "expanded_bullets": ["Elaborated sub-point.", "Another."],
  "layer": 1,
  "topic_heading": "Topic heading",
  "chunks_used": 2,
  "timestamp": "RFC 3339 timestamp",
  "parent_key": "present only on layer-2 nodes",
  "sub_expansions": {"<key>": { ...layer-2 node... }}
}
` + "```" + `

- "layer" is 1 or 2. Layer-2 nodes never carry sub_expansions; asking to
  expand one of their sub-bullets returns the layer-2 node itself again.
- To drill into a generated sub-bullet, pass the parent node's key as
  parent_key together with the sub-bullet's text.
`
