package reference

import (
	"context"
	"fmt"
	"sync"
)

// IndexedChunk is one stored point.
type IndexedChunk struct {
	FileID  string
	Ordinal int
	Vector  []float32
	Text    string
	Meta    map[string]string
}

// Index is an in-memory chunk index keyed by (file, ordinal). Re-upserting
// the same ordinal overwrites the prior point, matching the idempotency
// contract of the real vector store.
type Index struct {
	mu     sync.Mutex
	points map[string]IndexedChunk
}

func NewIndex() *Index {
	return &Index{points: make(map[string]IndexedChunk)}
}

func (ix *Index) Upsert(ctx context.Context, fileID string, ordinal int, vector []float32, chunkText string, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.points[pointKey(fileID, ordinal)] = IndexedChunk{
		FileID:  fileID,
		Ordinal: ordinal,
		Vector:  vector,
		Text:    chunkText,
		Meta:    meta,
	}
	return nil
}

// Count reports stored points for a file.
func (ix *Index) Count(fileID string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	n := 0
	for _, p := range ix.points {
		if p.FileID == fileID {
			n++
		}
	}
	return n
}

// Get returns a stored point, if present.
func (ix *Index) Get(fileID string, ordinal int) (IndexedChunk, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	p, ok := ix.points[pointKey(fileID, ordinal)]
	return p, ok
}

func pointKey(fileID string, ordinal int) string {
	return fmt.Sprintf("%s:%d", fileID, ordinal)
}
