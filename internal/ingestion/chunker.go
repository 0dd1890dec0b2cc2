package ingestion

import "strings"

// Chunking geometry defaults, shared with config.DefaultConfig.
const (
	DefaultChunkSize    = 4000
	DefaultChunkOverlap = 400
)

// Chunker splits linear text into overlapping windows. All offsets are rune
// based so multi-byte text never splits mid-character.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker builds a chunker, clamping degenerate geometry back to sane
// values: size must be positive and overlap must leave room to advance.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split cuts text into chunks of at most size runes, carrying overlap runes
// of context between neighbours. A window prefers to end on a newline, then
// on a sentence break, when one falls in its back half; otherwise it cuts
// hard at the size limit. The cursor always moves strictly forward, so
// pathological geometry cannot loop.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	total := len(runes)
	if total == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < total {
		end := start + c.size
		if end >= total {
			end = total
		} else if cut := naturalBreak(runes, start, end); cut > 0 {
			end = cut
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= total {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = start + (c.size - c.overlap)
		}
		start = next
	}
	return chunks
}

// naturalBreak returns the index just past the best break rune in
// [start, end), or 0 when no break lands in the back half of the window.
// Cutting in the back half keeps every window at least half full.
func naturalBreak(runes []rune, start, end int) int {
	half := start + (end-start)/2
	for i := end - 1; i >= half; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i >= half; i-- {
		if runes[i] == '.' || runes[i] == '。' {
			return i + 1
		}
	}
	return 0
}
