package chunking

// Chunker resolves per-call size overrides against configured defaults
// before splitting. It is the text chunking port implementation handed to
// the pipeline.
type Chunker struct {
	defaultSize    int
	defaultOverlap int
}

func NewChunker(chunkSize, overlap int) *Chunker {
	s := NewSplitter(chunkSize, overlap)
	return &Chunker{defaultSize: s.ChunkSize, defaultOverlap: s.Overlap}
}

func (c *Chunker) Split(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = c.defaultSize
	}
	if overlap <= 0 {
		overlap = c.defaultOverlap
	}
	return NewSplitter(chunkSize, overlap).Split(text)
}
