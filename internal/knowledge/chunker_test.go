package knowledge

import (
	"strings"
	"testing"
)

func TestNewChunker_Validation(t *testing.T) {
	if _, err := NewChunker(100, 100); err == nil {
		t.Error("overlap == size succeeded, want error")
	}
	if _, err := NewChunker(100, 200); err == nil {
		t.Error("overlap > size succeeded, want error")
	}

	c, err := NewChunker(0, -1)
	if err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}
	if c.size != DefaultChunkSize || c.overlap != DefaultChunkOverlap {
		t.Errorf("defaults = (%d, %d), want (%d, %d)",
			c.size, c.overlap, DefaultChunkSize, DefaultChunkOverlap)
	}
}

func TestSplit_Empty(t *testing.T) {
	c, _ := NewChunker(100, 20)
	if got := c.Split(""); got != nil {
		t.Errorf("Split(\"\") = %v, want nil", got)
	}
	if got := c.Split("   \n\t  "); got != nil {
		t.Errorf("Split(whitespace) = %v, want nil", got)
	}
}

func TestSplit_ShortText(t *testing.T) {
	c, _ := NewChunker(100, 20)
	got := c.Split("photosynthesis converts light into chemical energy")
	if len(got) != 1 {
		t.Fatalf("chunks = %d, want 1", len(got))
	}
	if got[0] != "photosynthesis converts light into chemical energy" {
		t.Errorf("chunk = %q", got[0])
	}
}

func TestSplit_OverlapAndCoverage(t *testing.T) {
	words := make([]string, 200)
	for i := range words {
		words[i] = "term" + string(rune('a'+i%26))
	}
	text := strings.Join(words, " ")

	c, _ := NewChunker(120, 30)
	chunks := c.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want several", len(chunks))
	}

	for i, chunk := range chunks {
		if len([]rune(chunk)) > 120 {
			t.Errorf("chunk %d length %d exceeds size", i, len([]rune(chunk)))
		}
	}

	// Consecutive chunks share text from the overlap region.
	for i := 1; i < len(chunks); i++ {
		tail := chunks[i-1][len(chunks[i-1])-10:]
		if !strings.Contains(chunks[i], tail[:5]) && !strings.Contains(text, chunks[i]) {
			t.Errorf("chunk %d does not continue from its predecessor", i)
		}
	}

	// No content is lost: every word of the input appears in some chunk.
	joined := strings.Join(chunks, " ")
	for _, w := range words {
		if !strings.Contains(joined, w) {
			t.Errorf("word %q missing from chunks", w)
			break
		}
	}
}

func TestSplit_WordBoundaries(t *testing.T) {
	text := strings.Repeat("boundary ", 100)
	c, _ := NewChunker(80, 20)
	for i, chunk := range c.Split(text) {
		for _, part := range strings.Fields(chunk) {
			if part != "boundary" {
				t.Errorf("chunk %d split a word: %q", i, part)
			}
		}
	}
}

func TestSplit_NoWhitespaceForwardProgress(t *testing.T) {
	// Text with no whitespace cannot snap to a boundary and must still
	// terminate with hard cuts.
	text := strings.Repeat("x", 500)
	c, _ := NewChunker(100, 20)
	chunks := c.Split(text)
	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}
	total := 0
	for _, chunk := range chunks {
		total += len(chunk)
	}
	if total < len(text) {
		t.Errorf("total chunk length %d < input %d, content lost", total, len(text))
	}
}

func TestSplit_MultiByteRunes(t *testing.T) {
	text := strings.Repeat("光合作用 ", 100)
	c, _ := NewChunker(50, 10)
	for i, chunk := range c.Split(text) {
		if len([]rune(chunk)) > 50 {
			t.Errorf("chunk %d rune length %d exceeds size", i, len([]rune(chunk)))
		}
	}
}
