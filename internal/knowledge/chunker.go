package knowledge

import (
	"errors"
	"strings"
	"unicode"
)

// Chunking defaults. Sizes are in runes, not bytes, so multi-byte text
// chunks the same as ASCII.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
)

// ErrInvalidChunking indicates size/overlap parameters that cannot produce
// forward progress.
var ErrInvalidChunking = errors.New("chunk overlap must be smaller than chunk size")

// Chunker splits document text into overlapping windows.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker. Non-positive size or overlap fall back to
// the defaults.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		return nil, ErrInvalidChunking
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split cuts text into chunks of at most size runes with the configured
// overlap between consecutive chunks. Cut points snap back to the nearest
// whitespace when one exists in the tail of the window, so words are not
// split mid-token. Returns nil for blank input.
func (c *Chunker) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = snapToBoundary(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = start + 1 // guarantee forward progress
		}
		start = next
	}
	return chunks
}

// snapToBoundary moves end back to the last whitespace within the final
// quarter of the window, so a cut lands between words where possible.
func snapToBoundary(runes []rune, start, end int) int {
	limit := end - (end-start)/4
	for i := end; i > limit; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
