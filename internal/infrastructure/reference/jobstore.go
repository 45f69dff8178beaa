// Package reference provides the offline backend: deterministic in-process
// collaborators that let the full pipeline run without Postgres, Ollama or
// Qdrant. Used in development and as the substitution target in tests.
package reference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// JobStore is the in-memory job repository. Guard semantics mirror the
// Postgres implementation: step and terminal updates require an eligible
// current status.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.JobRecord
	// byFile keeps attempt order per file, newest last.
	byFile map[string][]string
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs:   make(map[string]*domain.JobRecord),
		byFile: make(map[string][]string),
	}
}

func (s *JobStore) Create(_ context.Context, rec *domain.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[rec.JobID]; exists {
		return fmt.Errorf("job %s already exists", rec.JobID)
	}
	clone := *rec
	s.jobs[rec.JobID] = &clone
	s.byFile[rec.FileID] = append(s.byFile[rec.FileID], rec.JobID)
	return nil
}

func (s *JobStore) GetByID(_ context.Context, jobID string) (*domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.WrapError(domain.ErrJobNotFound, "fetch job", fmt.Errorf("id %s", jobID))
	}
	clone := *rec
	return &clone, nil
}

func (s *JobStore) GetLatestByFileID(_ context.Context, fileID string) (*domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byFile[fileID]
	if len(ids) == 0 {
		return nil, domain.WrapError(domain.ErrJobNotFound, "fetch job", fmt.Errorf("file %s", fileID))
	}
	clone := *s.jobs[ids[len(ids)-1]]
	return &clone, nil
}

func (s *JobStore) MarkQueued(_ context.Context, jobID string) error {
	return s.update(jobID, "mark queued", func(rec *domain.JobRecord) bool {
		if rec.Status != domain.StatusPending {
			return false
		}
		rec.Status = domain.StatusQueued
		return true
	})
}

func (s *JobStore) MarkProcessing(_ context.Context, jobID string, startedAt time.Time) error {
	return s.update(jobID, "mark processing", func(rec *domain.JobRecord) bool {
		if rec.Status != domain.StatusPending && rec.Status != domain.StatusQueued {
			return false
		}
		rec.Status = domain.StatusProcessing
		rec.CurrentStep = domain.StepValidation
		rec.Progress = 0
		t := startedAt
		rec.StartedAt = &t
		return true
	})
}

func (s *JobStore) UpdateStep(_ context.Context, jobID string, step domain.Step, progress int) error {
	return s.update(jobID, "update step", func(rec *domain.JobRecord) bool {
		if rec.Status != domain.StatusProcessing {
			return false
		}
		rec.CurrentStep = step
		if progress > rec.Progress {
			rec.Progress = progress
		}
		return true
	})
}

func (s *JobStore) SetCounts(_ context.Context, jobID string, chunkCount, vectorCount int) error {
	return s.update(jobID, "set counts", func(rec *domain.JobRecord) bool {
		if rec.Status != domain.StatusProcessing {
			return false
		}
		rec.ChunkCount = chunkCount
		rec.VectorCount = vectorCount
		return true
	})
}

func (s *JobStore) SaveMetadata(_ context.Context, jobID string, md domain.Metadata) error {
	return s.update(jobID, "save metadata", func(rec *domain.JobRecord) bool {
		rec.Metadata = md
		return true
	})
}

func (s *JobStore) MarkCompleted(_ context.Context, jobID string, excerpt string, completedAt time.Time) error {
	return s.update(jobID, "mark completed", func(rec *domain.JobRecord) bool {
		if rec.Status != domain.StatusProcessing {
			return false
		}
		rec.Status = domain.StatusCompleted
		rec.CurrentStep = ""
		rec.Progress = 100
		rec.TextExcerpt = excerpt
		t := completedAt
		rec.CompletedAt = &t
		return true
	})
}

func (s *JobStore) MarkFailed(_ context.Context, jobID string, errMessage string, completedAt time.Time) error {
	return s.update(jobID, "mark failed", func(rec *domain.JobRecord) bool {
		if rec.Status.Terminal() {
			return false
		}
		rec.Status = domain.StatusFailed
		rec.CurrentStep = ""
		rec.ErrorMessage = errMessage
		t := completedAt
		rec.CompletedAt = &t
		return true
	})
}

func (s *JobStore) MarkCancelled(_ context.Context, jobID string, completedAt time.Time) error {
	return s.update(jobID, "mark cancelled", func(rec *domain.JobRecord) bool {
		if rec.Status.Terminal() {
			return false
		}
		rec.Status = domain.StatusCancelled
		rec.CurrentStep = ""
		t := completedAt
		rec.CompletedAt = &t
		return true
	})
}

func (s *JobStore) update(jobID, operation string, apply func(*domain.JobRecord) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return domain.WrapError(domain.ErrJobNotFound, operation, fmt.Errorf("id %s", jobID))
	}
	if !apply(rec) {
		return domain.WrapError(domain.ErrInvalidState, operation, fmt.Errorf("job %s not in an eligible state", jobID))
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}
