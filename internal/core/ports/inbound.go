package ports

import (
	"context"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// Processor is the capability a processing backend must provide. An
// implementation is stateless aside from caches it owns and must be safe for
// concurrent calls on different file ids.
type Processor interface {
	// ProcessFile runs one file through all steps to completion or first
	// failure. Step errors are absorbed into the returned result; the error
	// return carries only usage and persistence failures.
	ProcessFile(ctx context.Context, req domain.ProcessRequest, opts domain.Options) (domain.Result, error)

	// GetStatus returns the latest known status without re-running work.
	GetStatus(ctx context.Context, fileID string) (domain.JobStatus, error)

	// Cancel requests cooperative cancellation. True iff a live job was
	// signalled; false when the job is terminal or unknown.
	Cancel(ctx context.Context, fileID string) (bool, error)

	// Retry re-runs a failed file. ErrInvalidState for any other state.
	Retry(ctx context.Context, fileID string) (domain.Result, error)

	// BatchProcess fans requests out with bounded concurrency and per-file
	// failure isolation. Results preserve input order.
	BatchProcess(ctx context.Context, reqs []domain.ProcessRequest, opts domain.Options) ([]domain.Result, domain.BatchSummary, error)
}

// PipelineService is the invocation surface consumed by the upload/API
// collaborator. Submission returns immediately; processing happens on the
// worker pool.
type PipelineService interface {
	Submit(ctx context.Context, req domain.ProcessRequest, opts domain.Options) (string, error)
	SubmitBatch(ctx context.Context, reqs []domain.ProcessRequest, opts domain.Options) (string, []string, error)
	Status(ctx context.Context, jobID string) (domain.StatusSnapshot, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
	Retry(ctx context.Context, jobID string) (string, error)
}

// JobRunner is what the queue worker invokes for one queued job id.
type JobRunner interface {
	RunJob(ctx context.Context, jobID string) error
}
