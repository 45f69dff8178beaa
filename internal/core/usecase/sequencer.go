package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

// StepObserver receives per-step timing. Implemented by the worker metrics.
type StepObserver interface {
	ObserveStep(step domain.Step, d time.Duration, err error)
}

// Sequencer drives one job through the five ordered steps, persisting the job
// record at every step boundary. Step boundaries are the only points where
// cancellation is observed and partial progress is written; a step call into
// a backend is never interrupted mid-flight.
type Sequencer struct {
	repo       ports.JobRepository
	extractor  ports.TextExtractor
	summarizer ports.Summarizer
	chunker    ports.Chunker
	embedder   ports.Embedder
	index      ports.ChunkIndex
	artifacts  ports.ArtifactStore

	backendExec *resilience.Executor
	classify    resilience.ErrorClassifier
	cancels     *CancelRegistry
	observer    StepObserver
	logger      *slog.Logger
	now         func() time.Time
}

// SequencerDeps bundles the collaborators of a Sequencer. Summarizer,
// ArtifactStore and Observer may be nil.
type SequencerDeps struct {
	Repo       ports.JobRepository
	Extractor  ports.TextExtractor
	Summarizer ports.Summarizer
	Chunker    ports.Chunker
	Embedder   ports.Embedder
	Index      ports.ChunkIndex
	Artifacts  ports.ArtifactStore

	BackendExec *resilience.Executor
	Classifier  resilience.ErrorClassifier
	Cancels     *CancelRegistry
	Observer    StepObserver
	Logger      *slog.Logger
}

func NewSequencer(deps SequencerDeps) *Sequencer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exec := deps.BackendExec
	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultConfig())
	}
	cancels := deps.Cancels
	if cancels == nil {
		cancels = NewCancelRegistry()
	}
	return &Sequencer{
		repo:        deps.Repo,
		extractor:   deps.Extractor,
		summarizer:  deps.Summarizer,
		chunker:     deps.Chunker,
		embedder:    deps.Embedder,
		index:       deps.Index,
		artifacts:   deps.Artifacts,
		backendExec: exec,
		classify:    deps.Classifier,
		cancels:     cancels,
		observer:    deps.Observer,
		logger:      logger,
		now:         time.Now,
	}
}

// Cancels exposes the registry shared with the cancellation controller.
func (s *Sequencer) Cancels() *CancelRegistry {
	return s.cancels
}

// jobState accumulates step outputs within one run.
type jobState struct {
	rec     *domain.JobRecord
	meta    domain.Metadata
	text    string
	excerpt string
	chunks  []string
	vectors [][]float32
}

// Run executes the state machine for an accepted record. Step errors end in
// a failed (or cancelled) record and a matching result; the error return is
// reserved for persistence failures.
func (s *Sequencer) Run(ctx context.Context, rec *domain.JobRecord) (domain.Result, error) {
	token, release := s.cancels.acquire(rec.FileID)
	defer release()

	if err := s.repo.MarkProcessing(ctx, rec.JobID, s.now().UTC()); err != nil {
		if domain.IsKind(err, domain.ErrInvalidState) {
			// Cancelled while queued.
			return s.snapshot(ctx, rec.JobID)
		}
		return domain.Result{}, fmt.Errorf("mark job processing: %w", err)
	}

	state := &jobState{rec: rec, meta: rec.Metadata}

	for _, step := range domain.Steps() {
		if token.Signalled() || ctx.Err() != nil {
			return s.finishCancelled(ctx, state)
		}

		started := s.now()
		err := s.runStep(ctx, step, state)
		elapsed := s.now().Sub(started)
		state.meta.RecordTiming(step, elapsed)
		if s.observer != nil {
			s.observer.ObserveStep(step, elapsed, err)
		}

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return s.finishCancelled(ctx, state)
			}
			return s.finishFailed(ctx, state, step, err)
		}

		if err := s.persistBoundary(ctx, step, state); err != nil {
			if domain.IsKind(err, domain.ErrInvalidState) {
				// The record left processing under us; treat as cancelled.
				return s.snapshot(ctx, rec.JobID)
			}
			return domain.Result{}, fmt.Errorf("persist %s boundary: %w", step, err)
		}
	}

	return s.finishCompleted(ctx, state)
}

func (s *Sequencer) runStep(ctx context.Context, step domain.Step, state *jobState) error {
	switch step {
	case domain.StepValidation:
		return s.stepValidation(ctx, state)
	case domain.StepTextExtraction:
		return s.stepTextExtraction(ctx, state)
	case domain.StepChunking:
		return s.stepChunking(state)
	case domain.StepEmbedding:
		return s.stepEmbedding(ctx, state)
	case domain.StepIndexing:
		return s.stepIndexing(ctx, state)
	default:
		return fmt.Errorf("unknown step %q", step)
	}
}

// persistBoundary writes the completed step's milestone and advances
// current_step. The final step clears current_step via the terminal write.
func (s *Sequencer) persistBoundary(ctx context.Context, step domain.Step, state *jobState) error {
	if step == domain.StepIndexing {
		return nil
	}
	next := nextStep(step)
	return s.repo.UpdateStep(ctx, state.rec.JobID, next, step.Milestone())
}

func nextStep(step domain.Step) domain.Step {
	steps := domain.Steps()
	for i, st := range steps {
		if st == step && i+1 < len(steps) {
			return steps[i+1]
		}
	}
	return step
}

func (s *Sequencer) stepValidation(ctx context.Context, state *jobState) error {
	rec := state.rec
	if err := s.extractor.Validate(ctx, rec.FilePath, rec.FileType); err != nil {
		return err
	}
	return nil
}

func (s *Sequencer) stepTextExtraction(ctx context.Context, state *jobState) error {
	rec := state.rec

	extraction, err := s.extractor.Extract(ctx, rec.FilePath, rec.FileType)
	if err != nil {
		return err
	}
	if extraction.Text == "" {
		return domain.WrapError(domain.ErrConversion, "extract text", errors.New("no extractable content"))
	}
	state.text = extraction.Text
	state.excerpt = domain.Excerpt(extraction.Text)
	state.meta.ConversionTool = extraction.Tool

	if s.artifacts != nil {
		path, err := s.artifacts.SaveText(ctx, rec.FileID, extraction.Text)
		if err != nil {
			return domain.WrapError(domain.ErrConversion, "store extracted text", err)
		}
		state.meta.SetExtra("text_artifact", path)
	}

	return s.summarize(ctx, state)
}

// summarize is part of the extraction stage's artifact production. Failures
// are best-effort unless the caller demanded a summary.
func (s *Sequencer) summarize(ctx context.Context, state *jobState) error {
	if s.summarizer == nil {
		return nil
	}

	var summary string
	err := s.executeBackend(ctx, "summarizer.summarize", state, func(callCtx context.Context) error {
		var callErr error
		summary, callErr = s.summarizer.Summarize(callCtx, state.text)
		return callErr
	})
	if err != nil {
		if state.rec.Options.RequireSummary {
			return domain.WrapError(domain.ErrConversion, "summarize text", err)
		}
		s.logger.Warn("summary skipped", "job_id", state.rec.JobID, "error", err)
		state.meta.SetExtra("summary_error", err.Error())
		return nil
	}

	state.meta.Summary = summary
	if s.artifacts != nil && summary != "" {
		if path, err := s.artifacts.SaveSummary(ctx, state.rec.FileID, summary); err == nil {
			state.meta.SetExtra("summary_artifact", path)
		} else {
			s.logger.Warn("summary artifact not stored", "job_id", state.rec.JobID, "error", err)
		}
	}
	return nil
}

func (s *Sequencer) stepChunking(state *jobState) error {
	opts := state.rec.Options
	chunks := s.chunker.Split(state.text, opts.ChunkSize, opts.ChunkOverlap)
	if len(chunks) == 0 {
		return domain.WrapError(domain.ErrConversion, "chunk text", errors.New("no extractable content"))
	}
	state.chunks = chunks
	return nil
}

func (s *Sequencer) stepEmbedding(ctx context.Context, state *jobState) error {
	var vectors [][]float32
	err := s.executeBackend(ctx, "embedder.embed", state, func(callCtx context.Context) error {
		var callErr error
		vectors, callErr = s.embedder.Embed(callCtx, state.chunks)
		return callErr
	})
	if err != nil {
		return domain.WrapError(domain.ErrTransient, "embed chunks", err)
	}
	if len(vectors) != len(state.chunks) {
		return domain.WrapError(
			domain.ErrTransient,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(state.chunks)),
		)
	}
	state.vectors = vectors
	state.meta.EmbedModel = s.embedder.ModelName()
	return nil
}

// stepIndexing is the commit point: upserts are keyed by (file_id, ordinal)
// so re-processing the same file never duplicates index entries.
func (s *Sequencer) stepIndexing(ctx context.Context, state *jobState) error {
	rec := state.rec
	for i := range state.chunks {
		pointMeta := map[string]string{
			"file_type": rec.FileType,
			"job_id":    rec.JobID,
		}
		if err := s.index.Upsert(ctx, rec.FileID, i, state.vectors[i], state.chunks[i], pointMeta); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return domain.WrapError(domain.ErrIndexing, "index chunk "+strconv.Itoa(i), err)
		}
	}
	return nil
}

// executeBackend wraps a slow backend call with the bounded-retry executor
// and records how many automatic retries the call consumed.
func (s *Sequencer) executeBackend(ctx context.Context, operation string, state *jobState, fn func(context.Context) error) error {
	calls := 0
	err := s.backendExec.Execute(ctx, operation, func(callCtx context.Context) error {
		calls++
		return fn(callCtx)
	}, s.classify)
	if calls > 1 {
		state.meta.RetryCount += calls - 1
	}
	return err
}

func (s *Sequencer) finishCompleted(ctx context.Context, state *jobState) (domain.Result, error) {
	rec := state.rec
	if err := s.repo.SetCounts(ctx, rec.JobID, len(state.chunks), len(state.vectors)); err != nil {
		return domain.Result{}, fmt.Errorf("persist counts: %w", err)
	}
	if err := s.repo.SaveMetadata(ctx, rec.JobID, state.meta); err != nil {
		return domain.Result{}, fmt.Errorf("persist metadata: %w", err)
	}
	if err := s.repo.MarkCompleted(ctx, rec.JobID, state.excerpt, s.now().UTC()); err != nil {
		if domain.IsKind(err, domain.ErrInvalidState) {
			return s.snapshot(ctx, rec.JobID)
		}
		return domain.Result{}, fmt.Errorf("mark job completed: %w", err)
	}
	s.logger.Info("job completed",
		"job_id", rec.JobID,
		"file_id", rec.FileID,
		"chunks", len(state.chunks),
		"vectors", len(state.vectors),
	)
	return s.snapshot(ctx, rec.JobID)
}

func (s *Sequencer) finishFailed(ctx context.Context, state *jobState, step domain.Step, stepErr error) (domain.Result, error) {
	// A blown job deadline must not block the failure write.
	ctx = context.WithoutCancel(ctx)
	rec := state.rec
	if err := s.repo.SaveMetadata(ctx, rec.JobID, state.meta); err != nil {
		return domain.Result{}, fmt.Errorf("persist metadata after failure: %w", err)
	}
	if err := s.repo.MarkFailed(ctx, rec.JobID, stepErr.Error(), s.now().UTC()); err != nil {
		if domain.IsKind(err, domain.ErrInvalidState) {
			return s.snapshot(ctx, rec.JobID)
		}
		return domain.Result{}, fmt.Errorf("mark job failed: %w", err)
	}
	s.logger.Warn("job failed",
		"job_id", rec.JobID,
		"file_id", rec.FileID,
		"step", step,
		"error", stepErr,
	)
	return s.snapshot(ctx, rec.JobID)
}

func (s *Sequencer) finishCancelled(ctx context.Context, state *jobState) (domain.Result, error) {
	// The job context may already be cancelled; the terminal write must
	// still land.
	ctx = context.WithoutCancel(ctx)
	rec := state.rec
	if err := s.repo.SaveMetadata(ctx, rec.JobID, state.meta); err != nil {
		return domain.Result{}, fmt.Errorf("persist metadata after cancel: %w", err)
	}
	if err := s.repo.MarkCancelled(ctx, rec.JobID, s.now().UTC()); err != nil && !domain.IsKind(err, domain.ErrInvalidState) {
		return domain.Result{}, fmt.Errorf("mark job cancelled: %w", err)
	}
	s.logger.Info("job cancelled", "job_id", rec.JobID, "file_id", rec.FileID)
	return s.snapshot(ctx, rec.JobID)
}

// snapshot re-reads the record so the result reflects the persisted state.
func (s *Sequencer) snapshot(ctx context.Context, jobID string) (domain.Result, error) {
	rec, err := s.repo.GetByID(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return domain.Result{}, fmt.Errorf("read job after run: %w", err)
	}
	return domain.ResultFromRecord(rec), nil
}
