package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/chunking"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/reference"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/storage/localfs"
)

var errTransientBackend = errors.New("backend unavailable")

func retryableClassifier(error) resilience.ErrorClassification {
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}

func fastExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
	})
}

func seedRecord(t *testing.T, repo ports.JobRepository, fileID string, opts domain.Options) *domain.JobRecord {
	t.Helper()
	now := time.Now().UTC()
	rec := &domain.JobRecord{
		JobID:     uuid.NewString(),
		FileID:    fileID,
		FilePath:  "/uploads/" + fileID + ".txt",
		FileType:  "txt",
		Status:    domain.StatusPending,
		Attempt:   1,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return rec
}

type seqEnv struct {
	repo    *recordingRepo
	index   *reference.Index
	cancels *CancelRegistry
	seq     *Sequencer
}

func newSeqEnv(t *testing.T, deps SequencerDeps) *seqEnv {
	t.Helper()
	repo := &recordingRepo{JobStore: reference.NewJobStore()}
	index := reference.NewIndex()
	cancels := NewCancelRegistry()

	if deps.Repo == nil {
		deps.Repo = repo
	}
	if deps.Embedder == nil {
		deps.Embedder = reference.NewEmbedder()
	}
	if deps.Index == nil {
		deps.Index = index
	}
	if deps.Summarizer == nil {
		deps.Summarizer = reference.NewSummarizer()
	}
	if deps.Chunker == nil {
		deps.Chunker = chunking.NewChunker(0, 0)
	}
	if deps.Artifacts == nil {
		store, err := localfs.New(t.TempDir())
		if err != nil {
			t.Fatalf("init artifact store: %v", err)
		}
		deps.Artifacts = store
	}
	if deps.BackendExec == nil {
		deps.BackendExec = fastExecutor()
	}
	if deps.Classifier == nil {
		deps.Classifier = retryableClassifier
	}
	deps.Cancels = cancels

	return &seqEnv{
		repo:    repo,
		index:   index,
		cancels: cancels,
		seq:     NewSequencer(deps),
	}
}

func TestRunCompletesJob(t *testing.T) {
	text := "First sentence. Second sentence. " + strings.Repeat("more text ", 200)
	env := newSeqEnv(t, SequencerDeps{
		Extractor: &fakeExtractor{text: text, tool: "plaintext"},
	})
	rec := seedRecord(t, env.repo, "file-1", domain.Options{})

	result, err := env.seq.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", result.Status, result.ErrorMessage)
	}
	if result.ChunkCount == 0 || result.VectorCount != result.ChunkCount {
		t.Fatalf("expected matching non-zero counts, got %d/%d", result.ChunkCount, result.VectorCount)
	}
	if result.TextExcerpt == "" || len([]rune(result.TextExcerpt)) > domain.ExcerptLimit {
		t.Fatalf("bad excerpt %q", result.TextExcerpt)
	}
	if got := env.index.Count("file-1"); got != result.ChunkCount {
		t.Fatalf("expected %d indexed chunks, got %d", result.ChunkCount, got)
	}

	stored, err := env.repo.GetByID(context.Background(), rec.JobID)
	if err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if stored.Progress != 100 || stored.CurrentStep != "" {
		t.Fatalf("expected progress 100 and empty step, got %d / %q", stored.Progress, stored.CurrentStep)
	}
	if stored.CompletedAt == nil || stored.StartedAt == nil {
		t.Fatalf("expected both timestamps set")
	}
	for _, step := range domain.Steps() {
		if _, ok := stored.Metadata.TimingsMS[string(step)]; !ok {
			t.Fatalf("missing timing for step %s", step)
		}
	}
	if stored.Metadata.ConversionTool != "plaintext" {
		t.Fatalf("expected conversion tool recorded, got %q", stored.Metadata.ConversionTool)
	}
	if stored.Metadata.Summary == "" {
		t.Fatalf("expected a summary")
	}
	if stored.Metadata.EmbedModel == "" {
		t.Fatalf("expected embed model recorded")
	}
}

func TestRunPassesChunkOptionsToChunker(t *testing.T) {
	chunker := &recordingChunker{inner: chunking.NewChunker(0, 0)}
	env := newSeqEnv(t, SequencerDeps{
		Extractor: &fakeExtractor{text: strings.Repeat("word ", 100), tool: "plaintext"},
		Chunker:   chunker,
	})
	rec := seedRecord(t, env.repo, "file-chunk-opts", domain.Options{ChunkSize: 120, ChunkOverlap: 20})

	result, err := env.seq.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", result.Status, result.ErrorMessage)
	}
	if len(chunker.sizes) != 1 || chunker.sizes[0] != 120 || chunker.overlaps[0] != 20 {
		t.Fatalf("expected one split with size 120 overlap 20, got %v/%v", chunker.sizes, chunker.overlaps)
	}
}

func TestRunFailsOnEmptyExtraction(t *testing.T) {
	env := newSeqEnv(t, SequencerDeps{
		Extractor: &fakeExtractor{text: ""},
	})
	rec := seedRecord(t, env.repo, "file-empty", domain.Options{})

	result, err := env.seq.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if !strings.Contains(result.ErrorMessage, "no extractable content") {
		t.Fatalf("unexpected error message %q", result.ErrorMessage)
	}

	stored, _ := env.repo.GetByID(context.Background(), rec.JobID)
	if stored.Progress != domain.StepValidation.Milestone() {
		t.Fatalf("expected progress frozen at %d, got %d", domain.StepValidation.Milestone(), stored.Progress)
	}
	if stored.CurrentStep != "" {
		t.Fatalf("terminal record must clear current step, got %q", stored.CurrentStep)
	}
	if env.index.Count("file-empty") != 0 {
		t.Fatalf("nothing may reach the index on failure")
	}
}

func TestRunValidationFailureSkipsExtraction(t *testing.T) {
	ext := &fakeExtractor{
		validateErr: domain.WrapError(domain.ErrValidation, "validate file", errors.New("unsupported file type \"exe\"")),
	}
	env := newSeqEnv(t, SequencerDeps{Extractor: ext})
	rec := seedRecord(t, env.repo, "file-bad-type", domain.Options{})

	result, err := env.seq.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if ext.extractCalls != 0 {
		t.Fatalf("extraction must not run after validation failure")
	}
	if !strings.Contains(result.ErrorMessage, "unsupported file type") {
		t.Fatalf("unexpected error message %q", result.ErrorMessage)
	}
}

func TestRunRecordsEmbedRetries(t *testing.T) {
	embedder := &flakyEmbedder{failures: 2, inner: reference.NewEmbedder()}
	env := newSeqEnv(t, SequencerDeps{
		Extractor: &fakeExtractor{text: "retry me. " + strings.Repeat("word ", 50)},
		Embedder:  embedder,
	})
	rec := seedRecord(t, env.repo, "file-retry", domain.Options{})

	result, err := env.seq.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != domain.StatusCompleted {
		t.Fatalf("expected completed after retries, got %s (%s)", result.Status, result.ErrorMessage)
	}
	if result.Metadata.RetryCount != 2 {
		t.Fatalf("expected 2 recorded retries, got %d", result.Metadata.RetryCount)
	}
	if embedder.calls != 3 {
		t.Fatalf("expected 3 embed calls, got %d", embedder.calls)
	}
}

func TestRunFailsWhenRetriesExhausted(t *testing.T) {
	embedder := &flakyEmbedder{failures: 10, inner: reference.NewEmbedder()}
	env := newSeqEnv(t, SequencerDeps{
		Extractor: &fakeExtractor{text: "never embeds"},
		Embedder:  embedder,
	})
	rec := seedRecord(t, env.repo, "file-exhausted", domain.Options{})

	result, err := env.seq.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if embedder.calls != 3 {
		t.Fatalf("expected 3 embed attempts, got %d", embedder.calls)
	}
	if result.Metadata.RetryCount != 2 {
		t.Fatalf("expected 2 recorded retries, got %d", result.Metadata.RetryCount)
	}
}

func TestRunFailsOnVectorCountMismatch(t *testing.T) {
	env := newSeqEnv(t, SequencerDeps{
		Extractor: &fakeExtractor{text: "mismatch incoming"},
		Embedder:  mismatchEmbedder{},
	})
	rec := seedRecord(t, env.repo, "file-mismatch", domain.Options{})

	result, err := env.seq.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if !strings.Contains(result.ErrorMessage, "vectors/chunks mismatch") {
		t.Fatalf("unexpected error message %q", result.ErrorMessage)
	}
}

func TestRunFailsOnIndexError(t *testing.T) {
	env := newSeqEnv(t, SequencerDeps{
		Extractor: &fakeExtractor{text: "indexing will fail"},
		Index:     &failingIndex{err: errors.New("collection unavailable")},
	})
	rec := seedRecord(t, env.repo, "file-noindex", domain.Options{})

	result, err := env.seq.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if !strings.Contains(result.ErrorMessage, "index chunk") {
		t.Fatalf("unexpected error message %q", result.ErrorMessage)
	}
}

func TestCancelObservedAtStepBoundary(t *testing.T) {
	var env *seqEnv
	ext := &fakeExtractor{text: "long document. " + strings.Repeat("word ", 100)}
	ext.onExtract = func() {
		if !env.cancels.Signal("file-cancel") {
			t.Errorf("expected cancel signal to land")
		}
	}
	env = newSeqEnv(t, SequencerDeps{Extractor: ext})
	rec := seedRecord(t, env.repo, "file-cancel", domain.Options{})

	result, err := env.seq.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
	if env.index.Count("file-cancel") != 0 {
		t.Fatalf("cancelled job must not index chunks")
	}

	stored, _ := env.repo.GetByID(context.Background(), rec.JobID)
	if stored.CurrentStep != "" {
		t.Fatalf("terminal record must clear current step, got %q", stored.CurrentStep)
	}
	if stored.CompletedAt == nil {
		t.Fatalf("cancelled record needs a completion timestamp")
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	env := newSeqEnv(t, SequencerDeps{
		Extractor: &fakeExtractor{text: strings.Repeat("steady progress ", 300)},
	})
	rec := seedRecord(t, env.repo, "file-progress", domain.Options{})

	if _, err := env.seq.Run(context.Background(), rec); err != nil {
		t.Fatalf("run: %v", err)
	}

	prev := -1
	for _, p := range env.repo.progress {
		if p < prev {
			t.Fatalf("progress went backwards: %v", env.repo.progress)
		}
		prev = p
	}
	if len(env.repo.progress) != len(domain.Steps())-1 {
		t.Fatalf("expected %d boundary writes, got %d", len(domain.Steps())-1, len(env.repo.progress))
	}
}

func TestRunOnRecordCancelledWhileQueued(t *testing.T) {
	env := newSeqEnv(t, SequencerDeps{
		Extractor: &fakeExtractor{text: "should never extract"},
	})
	rec := seedRecord(t, env.repo, "file-gone", domain.Options{})
	if err := env.repo.MarkCancelled(context.Background(), rec.JobID, time.Now().UTC()); err != nil {
		t.Fatalf("cancel seeded record: %v", err)
	}

	result, err := env.seq.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled snapshot, got %s", result.Status)
	}
}

func TestRequireSummaryFailsJobOnSummarizerError(t *testing.T) {
	env := newSeqEnv(t, SequencerDeps{
		Extractor:  &fakeExtractor{text: "document body"},
		Summarizer: failingSummarizer{},
	})
	rec := seedRecord(t, env.repo, "file-summary", domain.Options{RequireSummary: true})

	result, err := env.seq.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if !strings.Contains(result.ErrorMessage, "summarize text") {
		t.Fatalf("unexpected error message %q", result.ErrorMessage)
	}
}

func TestSummarizerFailureIsBestEffortByDefault(t *testing.T) {
	env := newSeqEnv(t, SequencerDeps{
		Extractor:  &fakeExtractor{text: "document body"},
		Summarizer: failingSummarizer{},
	})
	rec := seedRecord(t, env.repo, "file-nosummary", domain.Options{})

	result, err := env.seq.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", result.Status, result.ErrorMessage)
	}
	if result.Metadata.Summary != "" {
		t.Fatalf("expected no summary, got %q", result.Metadata.Summary)
	}
	if result.Metadata.Extra["summary_error"] == "" {
		t.Fatalf("expected summary error recorded in metadata")
	}
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, string) (string, error) {
	return "", errors.New("model offline")
}
