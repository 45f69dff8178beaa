package usecase

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// BatchCoordinator fans a list of files out to per-file runs with bounded
// concurrency. One file's failure never touches another file's run; results
// come back in input order.
type BatchCoordinator struct {
	pool   *ants.Pool
	logger *slog.Logger
}

func NewBatchCoordinator(workers int, logger *slog.Logger) (*BatchCoordinator, error) {
	if workers < 1 {
		workers = runtime.NumCPU() / 2
		if workers < 1 {
			workers = 1
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	return &BatchCoordinator{pool: pool, logger: logger}, nil
}

func (b *BatchCoordinator) Release() {
	b.pool.Release()
}

// runFunc processes one file end to end. Step failures must already be
// absorbed into the returned result; only usage/persistence errors escape.
type runFunc func(ctx context.Context, req domain.ProcessRequest, opts domain.Options) (domain.Result, error)

// Run executes reqs on the pool and aggregates the outcome. An empty request
// list is a usage error; everything else, including every member failing, is
// a normal aggregate.
func (b *BatchCoordinator) Run(
	ctx context.Context,
	reqs []domain.ProcessRequest,
	opts domain.Options,
	run runFunc,
) ([]domain.Result, domain.BatchSummary, error) {
	if len(reqs) == 0 {
		return nil, domain.BatchSummary{}, domain.WrapError(domain.ErrValidation, "batch process", errors.New("empty file list"))
	}

	results := make([]domain.Result, len(reqs))
	var wg sync.WaitGroup

	for i, req := range reqs {
		i, req := i, req
		wg.Add(1)
		task := func() {
			defer wg.Done()

			// Batch cancellation: members not yet started are marked
			// cancelled instead of running.
			if ctx.Err() != nil {
				results[i] = domain.Result{FileID: req.FileID, Status: domain.StatusCancelled}
				return
			}

			res, err := run(ctx, req, opts)
			if err != nil {
				b.logger.Warn("batch member rejected", "file_id", req.FileID, "error", err)
				results[i] = domain.Result{
					FileID:       req.FileID,
					Status:       domain.StatusFailed,
					ErrorMessage: err.Error(),
				}
				return
			}
			results[i] = res
		}
		if err := b.pool.Submit(task); err != nil {
			wg.Done()
			results[i] = domain.Result{
				FileID:       req.FileID,
				Status:       domain.StatusFailed,
				ErrorMessage: "worker pool rejected job: " + err.Error(),
			}
		}
	}

	wg.Wait()

	return results, summarize(results), nil
}

func summarize(results []domain.Result) domain.BatchSummary {
	summary := domain.BatchSummary{Total: len(results)}
	for _, res := range results {
		switch res.Status {
		case domain.StatusCompleted:
			summary.Succeeded++
		case domain.StatusCancelled:
			summary.Cancelled++
		default:
			summary.Failed++
		}
	}
	return summary
}
