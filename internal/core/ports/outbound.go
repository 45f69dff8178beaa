package ports

import (
	"context"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// JobRepository persists job records. One row per processing attempt; the
// latest row per file is authoritative. Terminal transitions are guarded so
// two workers can never both finish the same attempt.
type JobRepository interface {
	Create(ctx context.Context, rec *domain.JobRecord) error
	GetByID(ctx context.Context, jobID string) (*domain.JobRecord, error)
	// GetLatestByFileID returns the most recent attempt for a file,
	// terminal or not. Returns ErrJobNotFound when the file has no attempts.
	GetLatestByFileID(ctx context.Context, fileID string) (*domain.JobRecord, error)

	MarkQueued(ctx context.Context, jobID string) error
	MarkProcessing(ctx context.Context, jobID string, startedAt time.Time) error
	// UpdateStep persists the step boundary: next step plus its milestone.
	UpdateStep(ctx context.Context, jobID string, step domain.Step, progress int) error
	SetCounts(ctx context.Context, jobID string, chunkCount, vectorCount int) error
	SaveMetadata(ctx context.Context, jobID string, md domain.Metadata) error

	// MarkCompleted succeeds only from processing; ErrInvalidState otherwise.
	MarkCompleted(ctx context.Context, jobID string, excerpt string, completedAt time.Time) error
	MarkFailed(ctx context.Context, jobID string, errMessage string, completedAt time.Time) error
	MarkCancelled(ctx context.Context, jobID string, completedAt time.Time) error
}

// MessageQueue carries queued job ids from submission to the worker pool.
type MessageQueue interface {
	PublishJobQueued(ctx context.Context, jobID string) error
	SubscribeJobQueued(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor converts a stored file into plain text, reporting which
// conversion path produced the output. Validate fails fast on missing or
// empty files and undeclared/unsupported types.
type TextExtractor interface {
	Validate(ctx context.Context, filePath, fileType string) error
	Extract(ctx context.Context, filePath, fileType string) (domain.Extraction, error)
}

// Summarizer produces a bounded summary of extracted text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Chunker splits text into bounded-size overlapping segments. Non-positive
// size or overlap selects the chunker's configured defaults.
type Chunker interface {
	Split(text string, chunkSize, overlap int) []string
}

// Embedder builds fixed-dimension vectors for chunks.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// ChunkIndex is the downstream search index. Upsert must be idempotent for
// the same (fileID, ordinal) pair.
type ChunkIndex interface {
	Upsert(ctx context.Context, fileID string, ordinal int, vector []float32, chunkText string, meta map[string]string) error
}

// ArtifactStore persists derived artifacts into the processed output tree.
// Directory lifecycle belongs to the storage collaborator.
type ArtifactStore interface {
	SaveText(ctx context.Context, fileID, text string) (string, error)
	SaveSummary(ctx context.Context, fileID, summary string) (string, error)
}
