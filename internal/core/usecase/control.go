package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// cancelToken is the cooperative cancellation flag for one running job. The
// sequencer polls it at step boundaries only.
type cancelToken struct {
	signalled atomic.Bool
}

func (t *cancelToken) Signalled() bool {
	return t.signalled.Load()
}

// CancelRegistry tracks the cancel tokens of jobs currently held by a
// sequencer in this process.
type CancelRegistry struct {
	mu     sync.Mutex
	tokens map[string]*cancelToken
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{tokens: make(map[string]*cancelToken)}
}

// acquire registers a token for fileID and returns it with its release func.
func (r *CancelRegistry) acquire(fileID string) (*cancelToken, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := &cancelToken{}
	r.tokens[fileID] = token
	return token, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.tokens[fileID] == token {
			delete(r.tokens, fileID)
		}
	}
}

// Signal flips the token for fileID. True exactly once per running job;
// false when the job is unknown or already signalled.
func (r *CancelRegistry) Signal(fileID string) bool {
	r.mu.Lock()
	token, ok := r.tokens[fileID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return token.signalled.CompareAndSwap(false, true)
}

// Controller implements cancellation and manual retry over job records.
type Controller struct {
	repo    ports.JobRepository
	cancels *CancelRegistry
	now     func() time.Time
}

func NewController(repo ports.JobRepository, cancels *CancelRegistry) *Controller {
	return &Controller{
		repo:    repo,
		cancels: cancels,
		now:     time.Now,
	}
}

// CancelJob requests cooperative cancellation of rec. A running job is
// signalled through its token; a job still waiting in the queue is cancelled
// directly in the store. Terminal jobs are a no-op returning false.
func (c *Controller) CancelJob(ctx context.Context, rec *domain.JobRecord) (bool, error) {
	if rec.Status.Terminal() {
		return false, nil
	}
	if c.cancels.Signal(rec.FileID) {
		return true, nil
	}
	if rec.Status == domain.StatusProcessing {
		// Running in another process or already signalled here.
		return false, nil
	}

	err := c.repo.MarkCancelled(ctx, rec.JobID, c.now().UTC())
	if err != nil {
		if domain.IsKind(err, domain.ErrInvalidState) {
			// Lost the race against a worker or another cancel.
			return false, nil
		}
		return false, fmt.Errorf("cancel queued job: %w", err)
	}
	return true, nil
}

// RetryRecord creates the successor attempt for a failed job. The prior
// attempt's outcome is retained under metadata.prior_attempts; everything
// else starts clean.
func (c *Controller) RetryRecord(ctx context.Context, prev *domain.JobRecord) (*domain.JobRecord, error) {
	if prev.Status != domain.StatusFailed {
		return nil, domain.WrapError(
			domain.ErrInvalidState,
			"retry job",
			fmt.Errorf("job %s is %s, only failed jobs can be retried", prev.JobID, prev.Status),
		)
	}

	now := c.now().UTC()
	rec := &domain.JobRecord{
		JobID:    uuid.NewString(),
		FileID:   prev.FileID,
		FilePath: prev.FilePath,
		FileType: prev.FileType,
		BatchID:  prev.BatchID,
		Status:   domain.StatusPending,
		Attempt:  prev.Attempt + 1,
		Options:  prev.Options,
		Metadata: domain.Metadata{
			PriorAttempts: append(append([]domain.AttemptRecord{}, prev.Metadata.PriorAttempts...), domain.AttemptRecord{
				Attempt:      prev.Attempt,
				ErrorMessage: prev.ErrorMessage,
				CompletedAt:  prev.CompletedAt,
			}),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := c.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create retry attempt: %w", err)
	}
	return rec, nil
}
