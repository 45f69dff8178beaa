package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// JobRepository stores one row per processing attempt. Terminal and step
// updates are guarded on the current status so concurrent workers cannot both
// finish the same attempt.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS processing_jobs (
	job_id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL,
	file_path TEXT NOT NULL,
	file_type TEXT NOT NULL,
	batch_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	current_step TEXT NOT NULL DEFAULT '',
	progress INT NOT NULL DEFAULT 0,
	attempt INT NOT NULL DEFAULT 1,
	chunk_count INT NOT NULL DEFAULT 0,
	vector_count INT NOT NULL DEFAULT 0,
	text_excerpt TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	options JSONB NOT NULL DEFAULT '{}'::jsonb,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_processing_jobs_file ON processing_jobs(file_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_processing_jobs_status ON processing_jobs(status);
CREATE INDEX IF NOT EXISTS idx_processing_jobs_batch ON processing_jobs(batch_id) WHERE batch_id <> '';
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const jobColumns = `
job_id, file_id, file_path, file_type, batch_id, status, current_step, progress, attempt,
chunk_count, vector_count, text_excerpt, error_message, options, metadata,
created_at, updated_at, started_at, completed_at`

func (r *JobRepository) Create(ctx context.Context, rec *domain.JobRecord) error {
	optionsJSON, err := json.Marshal(rec.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO processing_jobs (
	job_id, file_id, file_path, file_type, batch_id, status, current_step, progress, attempt,
	chunk_count, vector_count, text_excerpt, error_message, options, metadata, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`,
		rec.JobID, rec.FileID, rec.FilePath, rec.FileType, rec.BatchID, string(rec.Status),
		string(rec.CurrentStep), rec.Progress, rec.Attempt, rec.ChunkCount, rec.VectorCount,
		rec.TextExcerpt, rec.ErrorMessage, optionsJSON, metadataJSON, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+jobColumns+`
FROM processing_jobs
WHERE job_id = $1
`, jobID)
	return r.scanJob(row, jobID)
}

func (r *JobRepository) GetLatestByFileID(ctx context.Context, fileID string) (*domain.JobRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+jobColumns+`
FROM processing_jobs
WHERE file_id = $1
ORDER BY created_at DESC, attempt DESC
LIMIT 1
`, fileID)
	return r.scanJob(row, fileID)
}

func (r *JobRepository) scanJob(row *sql.Row, id string) (*domain.JobRecord, error) {
	var rec domain.JobRecord
	var status, step string
	var optionsRaw, metadataRaw []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&rec.JobID, &rec.FileID, &rec.FilePath, &rec.FileType, &rec.BatchID, &status, &step,
		&rec.Progress, &rec.Attempt, &rec.ChunkCount, &rec.VectorCount, &rec.TextExcerpt,
		&rec.ErrorMessage, &optionsRaw, &metadataRaw, &rec.CreatedAt, &rec.UpdatedAt,
		&startedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrJobNotFound, "fetch job", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(optionsRaw, &rec.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	if err := json.Unmarshal(metadataRaw, &rec.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	rec.Status = domain.JobStatus(status)
	rec.CurrentStep = domain.Step(step)
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}

func (r *JobRepository) MarkQueued(ctx context.Context, jobID string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE processing_jobs
SET status = $2, updated_at = $3
WHERE job_id = $1 AND status = $4
`, jobID, string(domain.StatusQueued), time.Now().UTC(), string(domain.StatusPending))
	if err != nil {
		return fmt.Errorf("mark job queued: %w", err)
	}
	return r.requireTransition(ctx, res, jobID, "mark queued")
}

func (r *JobRepository) MarkProcessing(ctx context.Context, jobID string, startedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE processing_jobs
SET status = $2, current_step = $3, progress = 0, started_at = $4, updated_at = $4
WHERE job_id = $1 AND status IN ($5, $6)
`, jobID, string(domain.StatusProcessing), string(domain.StepValidation), startedAt,
		string(domain.StatusPending), string(domain.StatusQueued))
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	return r.requireTransition(ctx, res, jobID, "mark processing")
}

func (r *JobRepository) UpdateStep(ctx context.Context, jobID string, step domain.Step, progress int) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE processing_jobs
SET current_step = $2, progress = GREATEST(progress, $3), updated_at = $4
WHERE job_id = $1 AND status = $5
`, jobID, string(step), progress, time.Now().UTC(), string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("update job step: %w", err)
	}
	return r.requireTransition(ctx, res, jobID, "update step")
}

func (r *JobRepository) SetCounts(ctx context.Context, jobID string, chunkCount, vectorCount int) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE processing_jobs
SET chunk_count = $2, vector_count = $3, updated_at = $4
WHERE job_id = $1 AND status = $5
`, jobID, chunkCount, vectorCount, time.Now().UTC(), string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("set job counts: %w", err)
	}
	return r.requireTransition(ctx, res, jobID, "set counts")
}

func (r *JobRepository) SaveMetadata(ctx context.Context, jobID string, md domain.Metadata) error {
	metadataJSON, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE processing_jobs
SET metadata = $2, updated_at = $3
WHERE job_id = $1
`, jobID, metadataJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save job metadata: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save job metadata rows: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrJobNotFound, "save job metadata", fmt.Errorf("id %s", jobID))
	}
	return nil
}

func (r *JobRepository) MarkCompleted(ctx context.Context, jobID string, excerpt string, completedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE processing_jobs
SET status = $2, current_step = '', progress = 100, text_excerpt = $3, completed_at = $4, updated_at = $4
WHERE job_id = $1 AND status = $5
`, jobID, string(domain.StatusCompleted), excerpt, completedAt, string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return r.requireTransition(ctx, res, jobID, "mark completed")
}

func (r *JobRepository) MarkFailed(ctx context.Context, jobID string, errMessage string, completedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE processing_jobs
SET status = $2, current_step = '', error_message = $3, completed_at = $4, updated_at = $4
WHERE job_id = $1 AND status NOT IN ($5, $6, $7)
`, jobID, string(domain.StatusFailed), errMessage, completedAt,
		string(domain.StatusCompleted), string(domain.StatusFailed), string(domain.StatusCancelled))
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return r.requireTransition(ctx, res, jobID, "mark failed")
}

func (r *JobRepository) MarkCancelled(ctx context.Context, jobID string, completedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE processing_jobs
SET status = $2, current_step = '', completed_at = $3, updated_at = $3
WHERE job_id = $1 AND status NOT IN ($4, $5, $6)
`, jobID, string(domain.StatusCancelled), completedAt,
		string(domain.StatusCompleted), string(domain.StatusFailed), string(domain.StatusCancelled))
	if err != nil {
		return fmt.Errorf("mark job cancelled: %w", err)
	}
	return r.requireTransition(ctx, res, jobID, "mark cancelled")
}

// requireTransition distinguishes an unknown job from a guard that did not
// match: the former is ErrJobNotFound, the latter ErrInvalidState.
func (r *JobRepository) requireTransition(ctx context.Context, res sql.Result, jobID, operation string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", operation, err)
	}
	if rows > 0 {
		return nil
	}

	var one int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM processing_jobs WHERE job_id = $1`, jobID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrJobNotFound, operation, fmt.Errorf("id %s", jobID))
	}
	if err != nil {
		return fmt.Errorf("%s existence check: %w", operation, err)
	}
	return domain.WrapError(domain.ErrInvalidState, operation, fmt.Errorf("job %s not in an eligible state", jobID))
}
