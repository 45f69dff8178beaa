package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/reference"
)

func TestCancelQueuedJob(t *testing.T) {
	repo := reference.NewJobStore()
	control := NewController(repo, NewCancelRegistry())
	rec := seedRecord(t, repo, "file-q", domain.Options{})
	if err := repo.MarkQueued(context.Background(), rec.JobID); err != nil {
		t.Fatalf("mark queued: %v", err)
	}
	rec.Status = domain.StatusQueued

	ok, err := control.CancelJob(context.Background(), rec)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !ok {
		t.Fatalf("expected queued job to cancel")
	}

	stored, _ := repo.GetByID(context.Background(), rec.JobID)
	if stored.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", stored.Status)
	}

	ok, err = control.CancelJob(context.Background(), stored)
	if err != nil || ok {
		t.Fatalf("second cancel must be a no-op, got ok=%v err=%v", ok, err)
	}
}

func TestCancelTerminalJobIsNoop(t *testing.T) {
	repo := reference.NewJobStore()
	control := NewController(repo, NewCancelRegistry())
	rec := &domain.JobRecord{JobID: "done", FileID: "f", Status: domain.StatusCompleted}

	ok, err := control.CancelJob(context.Background(), rec)
	if err != nil || ok {
		t.Fatalf("expected false,nil for terminal job, got ok=%v err=%v", ok, err)
	}
}

func TestCancelRunningJobSignalsTokenOnce(t *testing.T) {
	repo := reference.NewJobStore()
	cancels := NewCancelRegistry()
	control := NewController(repo, cancels)

	token, release := cancels.acquire("file-run")
	defer release()
	rec := &domain.JobRecord{JobID: "j-run", FileID: "file-run", Status: domain.StatusProcessing}

	ok, err := control.CancelJob(context.Background(), rec)
	if err != nil || !ok {
		t.Fatalf("expected first cancel to land, got ok=%v err=%v", ok, err)
	}
	if !token.Signalled() {
		t.Fatalf("token must be signalled")
	}

	ok, err = control.CancelJob(context.Background(), rec)
	if err != nil || ok {
		t.Fatalf("second cancel of running job must report false, got ok=%v err=%v", ok, err)
	}
}

func TestCancelProcessingJobWithoutLocalToken(t *testing.T) {
	repo := reference.NewJobStore()
	control := NewController(repo, NewCancelRegistry())
	rec := &domain.JobRecord{JobID: "j-remote", FileID: "file-remote", Status: domain.StatusProcessing}

	ok, err := control.CancelJob(context.Background(), rec)
	if err != nil || ok {
		t.Fatalf("job running elsewhere must not be cancellable here, got ok=%v err=%v", ok, err)
	}
}

func TestRetryCreatesSuccessorAttempt(t *testing.T) {
	repo := reference.NewJobStore()
	control := NewController(repo, NewCancelRegistry())
	rec := seedRecord(t, repo, "file-f", domain.Options{ChunkSize: 300})
	_ = repo.MarkQueued(context.Background(), rec.JobID)
	_ = repo.MarkProcessing(context.Background(), rec.JobID, time.Now().UTC())
	if err := repo.MarkFailed(context.Background(), rec.JobID, "embed chunks: backend unavailable", time.Now().UTC()); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	failed, _ := repo.GetByID(context.Background(), rec.JobID)

	next, err := control.RetryRecord(context.Background(), failed)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if next.JobID == failed.JobID {
		t.Fatalf("retry must mint a new job id")
	}
	if next.Attempt != failed.Attempt+1 {
		t.Fatalf("expected attempt %d, got %d", failed.Attempt+1, next.Attempt)
	}
	if next.Options.ChunkSize != 300 {
		t.Fatalf("retry must carry forward options")
	}
	if next.ErrorMessage != "" || next.Progress != 0 {
		t.Fatalf("successor must start clean")
	}
	if len(next.Metadata.PriorAttempts) != 1 {
		t.Fatalf("expected one prior attempt, got %d", len(next.Metadata.PriorAttempts))
	}
	if next.Metadata.PriorAttempts[0].ErrorMessage != "embed chunks: backend unavailable" {
		t.Fatalf("prior attempt outcome missing")
	}

	latest, err := repo.GetLatestByFileID(context.Background(), "file-f")
	if err != nil || latest.JobID != next.JobID {
		t.Fatalf("latest attempt must be the successor")
	}
}

func TestRetryRejectsNonFailedJob(t *testing.T) {
	repo := reference.NewJobStore()
	control := NewController(repo, NewCancelRegistry())

	for _, status := range []domain.JobStatus{domain.StatusCompleted, domain.StatusCancelled, domain.StatusProcessing, domain.StatusQueued} {
		rec := &domain.JobRecord{JobID: "j-" + string(status), FileID: "f", Status: status}
		_, err := control.RetryRecord(context.Background(), rec)
		if err == nil {
			t.Fatalf("expected error retrying %s job", status)
		}
		if !domain.IsKind(err, domain.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState for %s, got %v", status, err)
		}
	}
}
