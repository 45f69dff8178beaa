package reference

import (
	"context"
	"hash/fnv"
	"math"
)

// VectorDim is the dimensionality of reference embeddings.
const VectorDim = 64

// Embedder produces deterministic vectors from token hashes. The same text
// always embeds to the same vector, which keeps indexing idempotent end to
// end without a model server.
type Embedder struct{}

func NewEmbedder() *Embedder { return &Embedder{} }

func (e *Embedder) ModelName() string { return "reference-hash-v1" }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = embedOne(text)
	}
	return vectors, nil
}

func embedOne(text string) []float32 {
	vec := make([]float32, VectorDim)
	word := make([]rune, 0, 16)
	flush := func() {
		if len(word) == 0 {
			return
		}
		h := fnv.New32a()
		h.Write([]byte(string(word)))
		sum := h.Sum32()
		vec[sum%VectorDim] += 1
		word = word[:0]
	}
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			flush()
			continue
		}
		word = append(word, r)
	}
	flush()

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
