package domain

import "time"

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further automatic transition occurs.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

type Step string

const (
	StepValidation     Step = "validation"
	StepTextExtraction Step = "text_extraction"
	StepChunking       Step = "chunking"
	StepEmbedding      Step = "embedding"
	StepIndexing       Step = "indexing"
)

// Steps returns the pipeline steps in execution order.
func Steps() []Step {
	return []Step{StepValidation, StepTextExtraction, StepChunking, StepEmbedding, StepIndexing}
}

// Milestone is the progress value persisted once the step has succeeded.
func (s Step) Milestone() int {
	switch s {
	case StepValidation:
		return 10
	case StepTextExtraction:
		return 35
	case StepChunking:
		return 55
	case StepEmbedding:
		return 80
	case StepIndexing:
		return 100
	default:
		return 0
	}
}

// ExcerptLimit bounds the stored preview of extracted text.
const ExcerptLimit = 500

// Excerpt truncates text to ExcerptLimit without splitting a rune.
func Excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= ExcerptLimit {
		return text
	}
	return string(runes[:ExcerptLimit])
}

// AttemptRecord captures the outcome of a superseded processing attempt.
type AttemptRecord struct {
	Attempt      int        `json:"attempt"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Metadata carries step-level diagnostic data. Well-known fields are typed;
// backend-specific values go into Extra.
type Metadata struct {
	ConversionTool string            `json:"conversion_tool,omitempty"`
	EmbedModel     string            `json:"embed_model,omitempty"`
	Summary        string            `json:"summary,omitempty"`
	TimingsMS      map[string]int64  `json:"timings_ms,omitempty"`
	RetryCount     int               `json:"retry_count,omitempty"`
	PriorAttempts  []AttemptRecord   `json:"prior_attempts,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// RecordTiming stores a step duration in whole milliseconds.
func (m *Metadata) RecordTiming(step Step, d time.Duration) {
	if m.TimingsMS == nil {
		m.TimingsMS = make(map[string]int64)
	}
	m.TimingsMS[string(step)] = d.Milliseconds()
}

// SetExtra stores a backend-specific diagnostic value.
func (m *Metadata) SetExtra(key, value string) {
	if m.Extra == nil {
		m.Extra = make(map[string]string)
	}
	m.Extra[key] = value
}

// JobRecord is the persisted state for one processing attempt of one file.
type JobRecord struct {
	JobID        string     `json:"job_id"`
	FileID       string     `json:"file_id"`
	FilePath     string     `json:"file_path"`
	FileType     string     `json:"file_type"`
	BatchID      string     `json:"batch_id,omitempty"`
	Status       JobStatus  `json:"status"`
	CurrentStep  Step       `json:"current_step,omitempty"`
	Progress     int        `json:"progress"`
	Attempt      int        `json:"attempt"`
	ChunkCount   int        `json:"chunk_count"`
	VectorCount  int        `json:"vector_count"`
	TextExcerpt  string     `json:"text_excerpt,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Options      Options    `json:"options"`
	Metadata     Metadata   `json:"metadata"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Result is the snapshot returned by a single process-file call.
type Result struct {
	JobID        string    `json:"job_id"`
	FileID       string    `json:"file_id"`
	Status       JobStatus `json:"status"`
	CurrentStep  Step      `json:"current_step,omitempty"`
	TextExcerpt  string    `json:"text_excerpt,omitempty"`
	ChunkCount   int       `json:"chunk_count"`
	VectorCount  int       `json:"vector_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Metadata     Metadata  `json:"metadata"`
}

// ResultFromRecord copies the reportable fields of a record into a snapshot.
func ResultFromRecord(rec *JobRecord) Result {
	return Result{
		JobID:        rec.JobID,
		FileID:       rec.FileID,
		Status:       rec.Status,
		CurrentStep:  rec.CurrentStep,
		TextExcerpt:  rec.TextExcerpt,
		ChunkCount:   rec.ChunkCount,
		VectorCount:  rec.VectorCount,
		ErrorMessage: rec.ErrorMessage,
		Metadata:     rec.Metadata,
	}
}

// StatusSnapshot is the shape exposed to status queries.
type StatusSnapshot struct {
	JobID           string     `json:"job_id"`
	FileID          string     `json:"file_id"`
	Status          JobStatus  `json:"status"`
	CurrentStep     Step       `json:"current_step,omitempty"`
	Progress        int        `json:"progress"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	ChunkCount      int        `json:"chunk_count"`
	VectorCount     int        `json:"vector_count"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// SnapshotFromRecord derives the query shape, computing duration from the
// record timestamps (completed_at when terminal, now otherwise).
func SnapshotFromRecord(rec *JobRecord, now time.Time) StatusSnapshot {
	snap := StatusSnapshot{
		JobID:        rec.JobID,
		FileID:       rec.FileID,
		Status:       rec.Status,
		CurrentStep:  rec.CurrentStep,
		Progress:     rec.Progress,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
		ChunkCount:   rec.ChunkCount,
		VectorCount:  rec.VectorCount,
		ErrorMessage: rec.ErrorMessage,
	}
	if rec.StartedAt != nil {
		end := now
		if rec.CompletedAt != nil {
			end = *rec.CompletedAt
		}
		if d := end.Sub(*rec.StartedAt); d > 0 {
			snap.DurationSeconds = d.Seconds()
		}
	}
	return snap
}

// Extraction is the output of the text-extraction step.
type Extraction struct {
	Text string
	Tool string
}

// Options tunes one processing attempt. The zero value uses backend defaults.
type Options struct {
	Processor      string `json:"processor,omitempty"`
	ChunkSize      int    `json:"chunk_size,omitempty"`
	ChunkOverlap   int    `json:"chunk_overlap,omitempty"`
	RequireSummary bool   `json:"require_summary,omitempty"`
}

// ProcessRequest is the submission tuple handed to the pipeline.
type ProcessRequest struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	FileType string `json:"file_type"`
}

// BatchSummary aggregates a batch run. Succeeded+Failed+Cancelled == Total.
type BatchSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}
