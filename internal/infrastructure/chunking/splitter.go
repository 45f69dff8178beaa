package chunking

import (
	"strings"
	"unicode"
)

const (
	DefaultChunkSize = 900
	DefaultOverlap   = 150

	// boundaryWindow is how far back from the hard cut we look for
	// whitespace before giving up and cutting mid-word.
	boundaryWindow = 80
)

// Splitter produces overlapping rune-window chunks, preferring to cut on
// whitespace near the window end.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	out := make([]string, 0, len(runes)/s.ChunkSize+1)
	start := 0
	for start < len(runes) {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = softBoundary(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}

		next := end - s.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// softBoundary walks back from the hard cut looking for whitespace so chunks
// do not split words. Falls back to the hard cut when none is close enough.
func softBoundary(runes []rune, start, hardEnd int) int {
	low := hardEnd - boundaryWindow
	if low <= start {
		return hardEnd
	}
	for i := hardEnd - 1; i > low; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return hardEnd
}
