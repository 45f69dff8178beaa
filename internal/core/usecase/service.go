package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/core/registry"
)

// JobObserver receives job lifecycle signals from the queue worker path.
type JobObserver interface {
	StartJob()
	FinishJob(processor string, status domain.JobStatus, d time.Duration)
	ObserveQueueLag(lag time.Duration)
}

type noopJobObserver struct{}

func (noopJobObserver) StartJob()                                         {}
func (noopJobObserver) FinishJob(string, domain.JobStatus, time.Duration) {}
func (noopJobObserver) ObserveQueueLag(time.Duration)                     {}

// Service is the invocation surface the upload collaborator talks to.
// Submission enqueues and returns; the queue worker picks the job up and
// runs the processor resolved from the registry.
type Service struct {
	repo     ports.JobRepository
	queue    ports.MessageQueue
	registry *registry.Registry
	control  *Controller
	observer JobObserver
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(
	repo ports.JobRepository,
	queue ports.MessageQueue,
	reg *registry.Registry,
	control *Controller,
	observer JobObserver,
	logger *slog.Logger,
) *Service {
	if observer == nil {
		observer = noopJobObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		queue:    queue,
		registry: reg,
		control:  control,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) Submit(ctx context.Context, req domain.ProcessRequest, opts domain.Options) (string, error) {
	return s.submit(ctx, req, opts, "")
}

func (s *Service) submit(ctx context.Context, req domain.ProcessRequest, opts domain.Options, batchID string) (string, error) {
	if req.FileID == "" {
		return "", domain.WrapError(domain.ErrValidation, "submit file", errors.New("empty file id"))
	}

	latest, err := s.repo.GetLatestByFileID(ctx, req.FileID)
	switch {
	case err == nil && !latest.Status.Terminal():
		return "", domain.WrapError(
			domain.ErrInvalidState,
			"submit file",
			fmt.Errorf("file %s already has live job %s", req.FileID, latest.JobID),
		)
	case err != nil && !domain.IsKind(err, domain.ErrJobNotFound):
		return "", fmt.Errorf("look up live job: %w", err)
	}

	now := s.now().UTC()
	rec := &domain.JobRecord{
		JobID:     uuid.NewString(),
		FileID:    req.FileID,
		FilePath:  req.FilePath,
		FileType:  req.FileType,
		BatchID:   batchID,
		Status:    domain.StatusPending,
		Attempt:   1,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("create job record: %w", err)
	}

	if err := s.enqueue(ctx, rec.JobID); err != nil {
		return "", err
	}
	s.logger.Info("job submitted", "job_id", rec.JobID, "file_id", req.FileID, "file_type", req.FileType)
	return rec.JobID, nil
}

func (s *Service) enqueue(ctx context.Context, jobID string) error {
	if err := s.queue.PublishJobQueued(ctx, jobID); err != nil {
		failErr := s.repo.MarkFailed(ctx, jobID, "enqueue failed: "+err.Error(), s.now().UTC())
		if failErr != nil {
			s.logger.Error("enqueue failure not recorded", "job_id", jobID, "error", failErr)
		}
		return fmt.Errorf("enqueue job: %w", err)
	}
	if err := s.repo.MarkQueued(ctx, jobID); err != nil {
		return fmt.Errorf("mark job queued: %w", err)
	}
	return nil
}

// SubmitBatch accepts an ordered list of files under one batch id. Files the
// queue refuses are recorded as failed; the batch call errors only when no
// file could be accepted.
func (s *Service) SubmitBatch(ctx context.Context, reqs []domain.ProcessRequest, opts domain.Options) (string, []string, error) {
	if len(reqs) == 0 {
		return "", nil, domain.WrapError(domain.ErrValidation, "submit batch", errors.New("empty file list"))
	}

	batchID := uuid.NewString()
	jobIDs := make([]string, 0, len(reqs))
	accepted := 0
	for _, req := range reqs {
		jobID, err := s.submit(ctx, req, opts, batchID)
		if err != nil {
			s.logger.Warn("batch member not accepted", "batch_id", batchID, "file_id", req.FileID, "error", err)
			jobIDs = append(jobIDs, "")
			continue
		}
		jobIDs = append(jobIDs, jobID)
		accepted++
	}
	if accepted == 0 {
		return "", nil, domain.WrapError(domain.ErrValidation, "submit batch", errors.New("no file could be accepted"))
	}
	return batchID, jobIDs, nil
}

func (s *Service) Status(ctx context.Context, jobID string) (domain.StatusSnapshot, error) {
	rec, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	return domain.SnapshotFromRecord(rec, s.now().UTC()), nil
}

func (s *Service) Cancel(ctx context.Context, jobID string) (bool, error) {
	rec, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	return s.control.CancelJob(ctx, rec)
}

// Retry accepts a failed job, creates the successor attempt and enqueues it.
func (s *Service) Retry(ctx context.Context, jobID string) (string, error) {
	rec, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	next, err := s.control.RetryRecord(ctx, rec)
	if err != nil {
		return "", err
	}
	if err := s.enqueue(ctx, next.JobID); err != nil {
		return "", err
	}
	s.logger.Info("job retry submitted", "job_id", next.JobID, "previous_job_id", jobID, "attempt", next.Attempt)
	return next.JobID, nil
}

// RunJob is the queue worker entrypoint for one queued job id.
func (s *Service) RunJob(ctx context.Context, jobID string) error {
	rec, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load queued job: %w", err)
	}
	if rec.Status != domain.StatusQueued && rec.Status != domain.StatusPending {
		// Cancelled (or otherwise finished) between enqueue and pick-up.
		s.logger.Info("skipping job no longer runnable", "job_id", jobID, "status", rec.Status)
		return nil
	}

	proc, err := s.registry.Get(rec.Options.Processor)
	if err != nil {
		failErr := s.repo.MarkFailed(ctx, jobID, err.Error(), s.now().UTC())
		if failErr != nil {
			return fmt.Errorf("%w; mark failed status: %w", err, failErr)
		}
		return err
	}

	procName := rec.Options.Processor
	if procName == "" {
		procName = "default"
	}
	started := s.now().UTC()
	s.observer.StartJob()
	s.observer.ObserveQueueLag(started.Sub(rec.CreatedAt))

	req := domain.ProcessRequest{FileID: rec.FileID, FilePath: rec.FilePath, FileType: rec.FileType}
	result, err := proc.ProcessFile(ctx, req, rec.Options)
	if err != nil {
		s.observer.FinishJob(procName, domain.StatusFailed, s.now().UTC().Sub(started))
		return fmt.Errorf("process job %s: %w", jobID, err)
	}
	s.observer.FinishJob(procName, result.Status, s.now().UTC().Sub(started))
	s.logger.Info("job finished", "job_id", jobID, "status", result.Status)
	return nil
}

var (
	_ ports.PipelineService = (*Service)(nil)
	_ ports.JobRunner       = (*Service)(nil)
)
