package usecase

import (
	"context"
	"sync"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/chunking"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/reference"
)

var _ ports.JobRepository = (*reference.JobStore)(nil)

// recordingChunker captures the size arguments each split was called with.
type recordingChunker struct {
	inner    *chunking.Chunker
	sizes    []int
	overlaps []int
}

func (c *recordingChunker) Split(text string, chunkSize, overlap int) []string {
	c.sizes = append(c.sizes, chunkSize)
	c.overlaps = append(c.overlaps, overlap)
	return c.inner.Split(text, chunkSize, overlap)
}

type fakeExtractor struct {
	text        string
	tool        string
	validateErr error
	extractErr  error

	extractCalls int
	// onExtract runs inside the extraction step, before returning.
	onExtract func()
}

func (f *fakeExtractor) Validate(context.Context, string, string) error {
	return f.validateErr
}

func (f *fakeExtractor) Extract(context.Context, string, string) (domain.Extraction, error) {
	f.extractCalls++
	if f.onExtract != nil {
		f.onExtract()
	}
	if f.extractErr != nil {
		return domain.Extraction{}, f.extractErr
	}
	tool := f.tool
	if tool == "" {
		tool = "plaintext"
	}
	return domain.Extraction{Text: f.text, Tool: tool}, nil
}

type fakeQueue struct {
	mu         sync.Mutex
	published  []string
	publishErr error
}

func (f *fakeQueue) PublishJobQueued(_ context.Context, jobID string) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, jobID)
	return nil
}

func (f *fakeQueue) SubscribeJobQueued(context.Context, func(context.Context, string) error) error {
	return nil
}

// flakyEmbedder fails a fixed number of calls, then delegates to the
// deterministic reference embedder.
type flakyEmbedder struct {
	failures int
	calls    int
	inner    *reference.Embedder
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errTransientBackend
	}
	return f.inner.Embed(ctx, texts)
}

func (f *flakyEmbedder) ModelName() string { return f.inner.ModelName() }

type mismatchEmbedder struct{}

func (mismatchEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)+1), nil
}

func (mismatchEmbedder) ModelName() string { return "mismatch" }

type failingIndex struct {
	err error
}

func (f *failingIndex) Upsert(context.Context, string, int, []float32, string, map[string]string) error {
	return f.err
}

// recordingRepo captures step boundary writes on top of the in-memory store.
type recordingRepo struct {
	*reference.JobStore

	mu       sync.Mutex
	progress []int
	steps    []domain.Step
}

func (r *recordingRepo) UpdateStep(ctx context.Context, jobID string, step domain.Step, progress int) error {
	r.mu.Lock()
	r.progress = append(r.progress, progress)
	r.steps = append(r.steps, step)
	r.mu.Unlock()
	return r.JobStore.UpdateStep(ctx, jobID, step, progress)
}
