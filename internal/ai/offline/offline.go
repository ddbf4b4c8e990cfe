// Package offline implements the ai collaborator interfaces with
// deterministic heuristics: plain-text extraction, paragraph segmentation,
// keyword clustering, and template expansion. No network, no models; the
// same input always yields the same output, which also makes the pipeline's
// caching behavior directly testable.
package offline

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/starford/ansuz/internal/ai"
	"github.com/starford/ansuz/internal/models"
)

// Suite returns a full collaborator suite backed by the offline heuristics.
func Suite() ai.Suite {
	return ai.Suite{
		Extractor: Extractor{},
		Segmenter: Segmenter{},
		Clusterer: Clusterer{},
		Expander:  Expander{},
	}
}

// Extractor reads documents as UTF-8 text, stripping YAML frontmatter when
// present. Audio requires a speech backend and is refused.
type Extractor struct{}

// extractChunkSize controls how often progress is reported.
const extractChunkSize = 4096

func (Extractor) ExtractText(ctx context.Context, data []byte, kind string, onProgress ai.ProgressFunc) (string, error) {
	if kind == ai.KindAudio {
		return "", fmt.Errorf("offline extractor: audio transcription requires a speech backend")
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("offline extractor: content is not valid UTF-8 text")
	}

	total := (len(data) + extractChunkSize - 1) / extractChunkSize
	if total == 0 {
		total = 1
	}
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if onProgress != nil {
			onProgress(i, total)
		}
	}

	return strings.TrimSpace(stripFrontmatter(data)), nil
}

// stripFrontmatter drops a leading YAML frontmatter block (between ---
// delimiters) if one parses; otherwise the content is returned whole.
func stripFrontmatter(data []byte) string {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return string(data)
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return string(data)
	}
	var fm map[string]any
	if err := yaml.Unmarshal(rest[:idx], &fm); err != nil {
		return string(data)
	}
	return strings.TrimLeft(string(rest[idx+1+len(delim):]), "\n\r")
}

// Segmenter splits text into paragraph chunks with stable ordinal positions.
type Segmenter struct{}

func (Segmenter) Segment(_ context.Context, text string) ([]models.Segment, error) {
	paragraphs := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	var out []models.Segment
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, models.Segment{
			Position: fmt.Sprintf("%d", len(out)),
			Text:     p,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("offline segmenter: no segmentable content")
	}
	return out, nil
}

// segmentsPerTopic bounds how many consecutive segments one topic covers.
const segmentsPerTopic = 4

// Clusterer groups consecutive segments into topics and derives headings,
// keywords, and bullet points from word frequency.
type Clusterer struct{}

func (Clusterer) Cluster(_ context.Context, segments []models.Segment) (map[string]*models.Topic, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("offline clusterer: no segments")
	}

	topics := make(map[string]*models.Topic)
	for start := 0; start < len(segments); start += segmentsPerTopic {
		end := start + segmentsPerTopic
		if end > len(segments) {
			end = len(segments)
		}
		group := segments[start:end]

		var positions []string
		var texts []string
		words := 0
		for _, seg := range group {
			positions = append(positions, seg.Position)
			texts = append(texts, seg.Text)
			words += len(strings.Fields(seg.Text))
		}

		keywords := topKeywords(strings.Join(texts, " "), 5)
		heading := "Topic " + group[0].Position
		if len(keywords) > 0 {
			heading = titleCase(keywords[0])
		}

		var bullets []string
		for _, txt := range texts {
			if s := firstSentence(txt); s != "" {
				bullets = append(bullets, s)
			}
		}

		id := fmt.Sprintf("t%d", len(topics)+1)
		topics[id] = &models.Topic{
			Heading:          heading,
			Summary:          firstSentence(texts[0]),
			Keywords:         keywords,
			SegmentPositions: positions,
			Stats: models.TopicStats{
				SegmentCount: len(group),
				WordCount:    words,
			},
			BulletPoints: bullets,
		}
	}
	return topics, nil
}

// Expander produces a fixed-shape elaboration from the bullet and its
// context chunks.
type Expander struct{}

func (Expander) GenerateExpansion(_ context.Context, bullet string, contextChunks []string, heading string) ([]string, error) {
	bullet = strings.TrimSpace(bullet)
	if bullet == "" {
		return nil, fmt.Errorf("offline expander: empty bullet")
	}

	out := []string{
		fmt.Sprintf("In the context of %s: %s", heading, bullet),
	}
	if kw := topKeywords(bullet, 1); len(kw) > 0 {
		for _, chunk := range contextChunks {
			if strings.Contains(strings.ToLower(chunk), kw[0]) {
				out = append(out, firstSentence(chunk))
				break
			}
		}
		out = append(out, fmt.Sprintf("Key term: %s", kw[0]))
	}
	return out, nil
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "is": {}, "are": {}, "was": {}, "were": {}, "for": {},
	"with": {}, "that": {}, "this": {}, "it": {}, "as": {}, "by": {}, "be": {},
	"at": {}, "from": {}, "into": {}, "its": {}, "their": {}, "has": {}, "have": {},
}

// topKeywords returns the n most frequent non-stopword words, ties broken
// alphabetically so the result is deterministic.
func topKeywords(text string, n int) []string {
	freq := make(map[string]int)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		freq[w]++
	}

	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

// firstSentence returns the text up to the first sentence terminator.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return text[:i+1]
		}
	}
	return text
}

// titleCase upper-cases the first rune of w.
func titleCase(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	if r == utf8.RuneError {
		return w
	}
	return string(unicode.ToUpper(r)) + w[size:]
}
