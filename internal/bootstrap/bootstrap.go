package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/core/registry"
	"github.com/kirillkom/document-pipeline/internal/core/usecase"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/chunking"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/queue/nats"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/reference"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/document-pipeline/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.PipelineMetrics

	Queue    ports.MessageQueue
	Repo     ports.JobRepository
	Registry *registry.Registry
	Service  *usecase.Service

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewJobRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	artifacts, err := localfs.New(cfg.ArtifactPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init artifact store: %w", err)
	}

	backendExec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialBackoff: time.Duration(cfg.RetryBaseBackoffMS) * time.Millisecond,
		RetryMaxBackoff:     time.Duration(cfg.RetryMaxBackoffMS) * time.Millisecond,
		AttemptTimeout:      time.Duration(cfg.StepTimeoutSeconds) * time.Second,
	})

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: backendExec,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ollamaClient := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.ClientOptions{
		EmbedRequestsPerSecond: float64(cfg.OllamaEmbedRPS),
	})
	embedder := ollama.NewEmbedder(ollamaClient)
	summarizer := ollama.NewSummarizer(ollamaClient)
	index := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
	dispatch := extractor.NewDispatcher(logger)
	chunker := chunking.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)

	pipelineMetrics := metrics.NewPipelineMetrics("worker")
	cancels := usecase.NewCancelRegistry()
	control := usecase.NewController(repo, cancels)

	batch, err := usecase.NewBatchCoordinator(cfg.BatchWorkers, logger)
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init batch pool: %w", err)
	}

	standardSeq := usecase.NewSequencer(usecase.SequencerDeps{
		Repo:        repo,
		Extractor:   dispatch,
		Summarizer:  summarizer,
		Chunker:     chunker,
		Embedder:    embedder,
		Index:       index,
		Artifacts:   artifacts,
		BackendExec: backendExec,
		Classifier:  ollama.ClassifyError,
		Cancels:     cancels,
		Observer:    pipelineMetrics,
		Logger:      logger,
	})
	standard := usecase.NewPipelineProcessor(repo, standardSeq, batch, control)

	// The reference processor shares the job store so status queries behave
	// the same, but swaps every backend for an in-process one.
	referenceSeq := usecase.NewSequencer(usecase.SequencerDeps{
		Repo:       repo,
		Extractor:  dispatch,
		Summarizer: reference.NewSummarizer(),
		Chunker:    chunker,
		Embedder:   reference.NewEmbedder(),
		Index:      reference.NewIndex(),
		Artifacts:  artifacts,
		Cancels:    cancels,
		Observer:   pipelineMetrics,
		Logger:     logger,
	})
	referenceProc := usecase.NewPipelineProcessor(repo, referenceSeq, batch, control)

	reg := registry.New()
	if err := reg.Register("standard", standard); err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("register processor: %w", err)
	}
	if err := reg.Register("reference", referenceProc); err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("register processor: %w", err)
	}
	if err := reg.SetDefault(cfg.DefaultProcessor); err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("set default processor: %w", err)
	}

	service := usecase.NewService(repo, queue, reg, control, pipelineMetrics, logger)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: pipelineMetrics,

		Queue:    queue,
		Repo:     repo,
		Registry: reg,
		Service:  service,

		closeFn: func() {
			batch.Release()
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
