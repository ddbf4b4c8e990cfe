package offline

import (
	"context"
	"strings"
	"testing"

	"github.com/starford/ansuz/internal/ai"
)

func TestExtractTextStripsFrontmatter(t *testing.T) {
	data := []byte("---\ntitle: Lecture 3\n---\n\nThe actual lecture content.")
	got, err := Extractor{}.ExtractText(context.Background(), data, ai.KindDocument, nil)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if got != "The actual lecture content." {
		t.Errorf("text = %q", got)
	}
}

func TestExtractTextRejectsAudio(t *testing.T) {
	_, err := Extractor{}.ExtractText(context.Background(), []byte("riff"), ai.KindAudio, nil)
	if err == nil {
		t.Error("expected error for audio kind")
	}
}

func TestExtractTextProgressIsMonotonic(t *testing.T) {
	data := []byte(strings.Repeat("lecture text ", 2000)) // several chunks
	var calls []int
	var total int
	_, err := Extractor{}.ExtractText(context.Background(), data, ai.KindDocument, func(c, tot int) {
		calls = append(calls, c)
		total = tot
	})
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if len(calls) == 0 {
		t.Fatal("expected progress callbacks")
	}
	prev := 0
	for _, c := range calls {
		if c < prev {
			t.Errorf("progress went backwards: %v", calls)
		}
		if c > total {
			t.Errorf("current %d exceeds total %d", c, total)
		}
		prev = c
	}
	if calls[len(calls)-1] != total {
		t.Errorf("final progress %d != total %d", calls[len(calls)-1], total)
	}
}

func TestSegmentParagraphs(t *testing.T) {
	text := "First paragraph here.\n\nSecond paragraph here.\n\n\n\nThird."
	segs, err := Segmenter{}.Segment(context.Background(), text)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("len = %d, want 3", len(segs))
	}
	for i, s := range segs {
		if s.Position != string(rune('0'+i)) {
			t.Errorf("position[%d] = %q", i, s.Position)
		}
	}
}

func TestSegmentEmptyText(t *testing.T) {
	if _, err := (Segmenter{}).Segment(context.Background(), "  \n\n "); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestClusterReferencesOnlyKnownPositions(t *testing.T) {
	text := strings.Repeat("Cells divide through mitosis. The cell cycle has phases.\n\n", 6)
	segs, _ := Segmenter{}.Segment(context.Background(), text)
	topics, err := Clusterer{}.Cluster(context.Background(), segs)
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if len(topics) == 0 {
		t.Fatal("expected topics")
	}

	known := make(map[string]struct{})
	for _, s := range segs {
		known[s.Position] = struct{}{}
	}
	seen := make(map[string]struct{})
	for id, topic := range topics {
		if topic.Heading == "" {
			t.Errorf("topic %s has empty heading", id)
		}
		for _, pos := range topic.SegmentPositions {
			if _, ok := known[pos]; !ok {
				t.Errorf("topic %s references unknown position %q", id, pos)
			}
			if _, dup := seen[pos]; dup {
				t.Errorf("position %q claimed by more than one topic", pos)
			}
			seen[pos] = struct{}{}
		}
	}
}

func TestClusterDeterministic(t *testing.T) {
	text := "Photosynthesis converts light. Plants use chlorophyll.\n\nThe Calvin cycle fixes carbon."
	segs, _ := Segmenter{}.Segment(context.Background(), text)
	a, _ := Clusterer{}.Cluster(context.Background(), segs)
	b, _ := Clusterer{}.Cluster(context.Background(), segs)
	if len(a) != len(b) {
		t.Fatalf("topic counts differ: %d vs %d", len(a), len(b))
	}
	for id := range a {
		if a[id].Heading != b[id].Heading {
			t.Errorf("heading for %s differs: %q vs %q", id, a[id].Heading, b[id].Heading)
		}
	}
}

func TestGenerateExpansion(t *testing.T) {
	bullets, err := Expander{}.GenerateExpansion(context.Background(),
		"Mitochondria produce energy",
		[]string{"The mitochondria is the powerhouse of the cell."},
		"Cell Biology")
	if err != nil {
		t.Fatalf("GenerateExpansion: %v", err)
	}
	if len(bullets) < 2 {
		t.Fatalf("bullets = %v, want at least 2", bullets)
	}
	if !strings.Contains(bullets[0], "Cell Biology") {
		t.Errorf("first bullet should mention the heading: %q", bullets[0])
	}
}

func TestGenerateExpansionEmptyBullet(t *testing.T) {
	if _, err := (Expander{}).GenerateExpansion(context.Background(), "  ", nil, "h"); err == nil {
		t.Error("expected error for empty bullet")
	}
}
