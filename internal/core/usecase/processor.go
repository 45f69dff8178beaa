package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// PipelineProcessor implements ports.Processor by composing the sequencer,
// the batch coordinator and the cancel/retry controller over one job store.
type PipelineProcessor struct {
	repo    ports.JobRepository
	seq     *Sequencer
	batch   *BatchCoordinator
	control *Controller
	now     func() time.Time
}

func NewPipelineProcessor(
	repo ports.JobRepository,
	seq *Sequencer,
	batch *BatchCoordinator,
	control *Controller,
) *PipelineProcessor {
	return &PipelineProcessor{
		repo:    repo,
		seq:     seq,
		batch:   batch,
		control: control,
		now:     time.Now,
	}
}

func (p *PipelineProcessor) ProcessFile(ctx context.Context, req domain.ProcessRequest, opts domain.Options) (domain.Result, error) {
	rec, err := p.resolveRecord(ctx, req, opts)
	if err != nil {
		return domain.Result{}, err
	}
	return p.seq.Run(ctx, rec)
}

// resolveRecord adopts the live record created at submission, or creates one
// for a direct call. A file with a run in flight is a usage error.
func (p *PipelineProcessor) resolveRecord(ctx context.Context, req domain.ProcessRequest, opts domain.Options) (*domain.JobRecord, error) {
	latest, err := p.repo.GetLatestByFileID(ctx, req.FileID)
	switch {
	case err == nil:
		switch latest.Status {
		case domain.StatusPending, domain.StatusQueued:
			return latest, nil
		case domain.StatusProcessing:
			return nil, domain.WrapError(
				domain.ErrInvalidState,
				"process file",
				fmt.Errorf("file %s already has a run in flight", req.FileID),
			)
		}
	case !domain.IsKind(err, domain.ErrJobNotFound):
		return nil, fmt.Errorf("look up live job: %w", err)
	}

	now := p.now().UTC()
	rec := &domain.JobRecord{
		JobID:     uuid.NewString(),
		FileID:    req.FileID,
		FilePath:  req.FilePath,
		FileType:  req.FileType,
		Status:    domain.StatusPending,
		Attempt:   1,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}
	return rec, nil
}

func (p *PipelineProcessor) GetStatus(ctx context.Context, fileID string) (domain.JobStatus, error) {
	rec, err := p.repo.GetLatestByFileID(ctx, fileID)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

func (p *PipelineProcessor) Cancel(ctx context.Context, fileID string) (bool, error) {
	rec, err := p.repo.GetLatestByFileID(ctx, fileID)
	if err != nil {
		if domain.IsKind(err, domain.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.control.CancelJob(ctx, rec)
}

func (p *PipelineProcessor) Retry(ctx context.Context, fileID string) (domain.Result, error) {
	rec, err := p.repo.GetLatestByFileID(ctx, fileID)
	if err != nil {
		return domain.Result{}, err
	}
	next, err := p.control.RetryRecord(ctx, rec)
	if err != nil {
		return domain.Result{}, err
	}
	return p.seq.Run(ctx, next)
}

func (p *PipelineProcessor) BatchProcess(ctx context.Context, reqs []domain.ProcessRequest, opts domain.Options) ([]domain.Result, domain.BatchSummary, error) {
	return p.batch.Run(ctx, reqs, opts, p.ProcessFile)
}

var _ ports.Processor = (*PipelineProcessor)(nil)
