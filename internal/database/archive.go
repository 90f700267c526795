package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

// ErrJobNotFound is returned when no archived job has the requested id.
var ErrJobNotFound = errors.New("archived job not found")

const schema = `
	CREATE TABLE IF NOT EXISTS job_history (
		id               TEXT PRIMARY KEY,
		source_directory TEXT NOT NULL,
		profile_id       TEXT NOT NULL,
		status           TEXT NOT NULL,
		error_msg        TEXT NOT NULL DEFAULT '',
		total_files      INTEGER NOT NULL,
		completed_files  INTEGER NOT NULL,
		failed_files     INTEGER NOT NULL,
		skipped_files    INTEGER NOT NULL,
		files            JSONB NOT NULL,
		started_at       TIMESTAMPTZ,
		completed_at     TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL,
		archived_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_job_history_created_at ON job_history (created_at DESC)
`

const upsertJob = `
	INSERT INTO job_history (
		id, source_directory, profile_id, status, error_msg,
		total_files, completed_files, failed_files, skipped_files,
		files, started_at, completed_at, created_at, archived_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO UPDATE SET
		status          = EXCLUDED.status,
		error_msg       = EXCLUDED.error_msg,
		total_files     = EXCLUDED.total_files,
		completed_files = EXCLUDED.completed_files,
		failed_files    = EXCLUDED.failed_files,
		skipped_files   = EXCLUDED.skipped_files,
		files           = EXCLUDED.files,
		started_at      = EXCLUDED.started_at,
		completed_at    = EXCLUDED.completed_at,
		archived_at     = EXCLUDED.archived_at
`

// querier is the subset of pgxpool.Pool the archive needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// JobSummary is one row of the job history listing.
type JobSummary struct {
	ID              string           `json:"id"`
	SourceDirectory string           `json:"source_directory"`
	ProfileID       string           `json:"profile_id"`
	Status          string           `json:"status"`
	ErrorMsg        string           `json:"error_msg,omitempty"`
	Counts          models.JobCounts `json:"counts"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// JobArchive keeps a history of finished jobs. It implements jobs.Archiver.
type JobArchive struct {
	q      querier
	logger *logging.Logger
	now    func() time.Time
}

// NewJobArchive creates an archive backed by the pool in db.
func NewJobArchive(db *DB, logger *logging.Logger) *JobArchive {
	return newJobArchive(db.Pool, logger)
}

func newJobArchive(q querier, logger *logging.Logger) *JobArchive {
	if logger == nil {
		logger = logging.Nop()
	}
	return &JobArchive{
		q:      q,
		logger: logger.WithComponent("database"),
		now:    time.Now,
	}
}

// Migrate creates the job_history table when it does not exist yet.
func (a *JobArchive) Migrate(ctx context.Context) error {
	_, err := a.exec(ctx, "migrate", schema)
	return err
}

// ArchiveJob upserts the final state of job.
func (a *JobArchive) ArchiveJob(ctx context.Context, job *models.Job) error {
	counts := job.Counts()
	_, err := a.exec(ctx, "archive_job", upsertJob,
		job.ID, job.SourceDirectory, job.ProfileID, job.Status, job.ErrorMsg,
		job.TotalFiles, counts.Completed, counts.Failed, counts.Skipped,
		job.Files, job.StartedAt, job.CompletedAt, job.CreatedAt, a.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads an archived job including its file tasks.
func (a *JobArchive) GetJob(ctx context.Context, id string) (*models.Job, error) {
	start := time.Now()
	query := `
		SELECT id, source_directory, profile_id, status, error_msg, total_files,
		       files, started_at, completed_at, created_at, archived_at
		FROM job_history
		WHERE id = $1
	`

	var job models.Job
	err := a.q.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.SourceDirectory, &job.ProfileID, &job.Status, &job.ErrorMsg,
		&job.TotalFiles, &job.Files, &job.StartedAt, &job.CompletedAt, &job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		a.record("get_job", start, nil)
		return nil, ErrJobNotFound
	}
	a.record("get_job", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns the most recently created jobs first.
func (a *JobArchive) ListJobs(ctx context.Context, limit int) ([]JobSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	start := time.Now()
	query := `
		SELECT id, source_directory, profile_id, status, error_msg,
		       total_files, completed_files, failed_files, skipped_files,
		       started_at, completed_at, created_at
		FROM job_history
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := a.q.Query(ctx, query, limit)
	if err != nil {
		a.record("list_jobs", start, err)
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var summaries []JobSummary
	for rows.Next() {
		var s JobSummary
		if err := rows.Scan(
			&s.ID, &s.SourceDirectory, &s.ProfileID, &s.Status, &s.ErrorMsg,
			&s.Counts.Total, &s.Counts.Completed, &s.Counts.Failed, &s.Counts.Skipped,
			&s.StartedAt, &s.CompletedAt, &s.CreatedAt,
		); err != nil {
			a.record("list_jobs", start, err)
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		s.Counts.Pending = s.Counts.Total - s.Counts.Completed - s.Counts.Failed - s.Counts.Skipped
		summaries = append(summaries, s)
	}
	err = rows.Err()
	a.record("list_jobs", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return summaries, nil
}

func (a *JobArchive) exec(ctx context.Context, op, sql string, args ...any) (pgconn.CommandTag, error) {
	start := time.Now()
	tag, err := a.q.Exec(ctx, sql, args...)
	a.record(op, start, err)
	return tag, err
}

func (a *JobArchive) record(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordDatabaseOperation(op, status)
	a.logger.LogDatabaseOperation(op, time.Since(start), err)
}
