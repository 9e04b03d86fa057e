package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrJobNotFound is returned when a job id resolves to nothing.
var ErrJobNotFound = errors.New("extraction: job not found")

// ErrJobTerminal is returned when a transition targets a job already in a
// terminal state.
var ErrJobTerminal = errors.New("extraction: job already terminal")

const jobColumns = `id, project_id, document_id, branch_id, config, status,
	attempts, error, summary, created_at, started_at, finished_at`

// JobStore persists extraction jobs and serves as the work queue.
type JobStore struct {
	pool *pgxpool.Pool
}

func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Create enqueues a new job.
func (s *JobStore) Create(ctx context.Context, projectID, documentID, branchID uuid.UUID, cfg JobConfig) (*Job, error) {
	job := &Job{
		ID:         uuid.New(),
		ProjectID:  projectID,
		DocumentID: documentID,
		BranchID:   branchID,
		Config:     cfg,
		Status:     StatusQueued,
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO extraction_jobs (id, project_id, document_id, branch_id, config, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING created_at`,
		job.ID, job.ProjectID, job.DocumentID, job.BranchID, job.Config, job.Status,
	)
	if err := row.Scan(&job.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// Dequeue claims the oldest queued job whose project has no running job,
// unless the job allows parallel runs. FOR UPDATE SKIP LOCKED keeps
// concurrent workers off each other's claims. Returns nil when the queue
// is empty.
//
// The NOT EXISTS check sees only committed rows, so two daemons claiming
// at the same instant could both pass it. The orchestrator's per-project
// lock closes that window within one process; running multiple daemons
// against one database needs a pg advisory lock keyed by project here.
func (s *JobStore) Dequeue(ctx context.Context) (*Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := scanJob(tx.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM extraction_jobs j
		WHERE j.status = 'queued'
			AND ((j.config->>'allow_parallel')::boolean IS TRUE
				OR NOT EXISTS (
					SELECT 1 FROM extraction_jobs r
					WHERE r.project_id = j.project_id AND r.status = 'running'))
		ORDER BY j.created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1`,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = 'running', started_at = $1, attempts = attempts + 1
		WHERE id = $2`,
		now, job.ID,
	); err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	job.Status = StatusRunning
	job.StartedAt = &now
	job.Attempts++
	return job, nil
}

// MarkCompleted finishes a job with its summary.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID uuid.UUID, summary Summary) error {
	return s.finish(ctx, jobID, StatusCompleted, "", &summary)
}

// MarkFailed finishes a job with an error message.
func (s *JobStore) MarkFailed(ctx context.Context, jobID uuid.UUID, msg string) error {
	return s.finish(ctx, jobID, StatusFailed, msg, nil)
}

// MarkCancelled finishes a job as cancelled. Only queued and running jobs
// can be cancelled.
func (s *JobStore) MarkCancelled(ctx context.Context, jobID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = 'cancelled', finished_at = now()
		WHERE id = $1 AND status IN ('queued', 'running')`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, jobID); err != nil {
			return err
		}
		return ErrJobTerminal
	}
	return nil
}

func (s *JobStore) finish(ctx context.Context, jobID uuid.UUID, status JobStatus, msg string, summary *Summary) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = $1, error = $2, summary = $3, finished_at = now()
		WHERE id = $4 AND status = 'running'`,
		status, msg, summary, jobID,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, jobID); err != nil {
			return err
		}
		return ErrJobTerminal
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM extraction_jobs WHERE id = $1`,
		jobID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

// ListByProject returns a project's jobs, newest first.
func (s *JobStore) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM extraction_jobs
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// RecoverStale re-queues running jobs whose worker disappeared: started
// longer ago than the threshold and never finished. Returns the number of
// jobs recovered.
func (s *JobStore) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = 'queued', started_at = NULL
		WHERE status = 'running' AND started_at < now() - $1::interval`,
		fmt.Sprintf("%f seconds", olderThan.Seconds()),
	)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Stats aggregates a project's jobs by status.
func (s *JobStore) Stats(ctx context.Context, projectID uuid.UUID) (*Stats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*)
		FROM extraction_jobs
		WHERE project_id = $1
		GROUP BY status`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		switch status {
		case StatusQueued:
			stats.Queued = n
		case StatusRunning:
			stats.Running = n
		case StatusCompleted:
			stats.Completed = n
		case StatusFailed:
			stats.Failed = n
		case StatusCancelled:
			stats.Cancelled = n
		case StatusDeadLetter:
			stats.DeadLetter = n
		}
	}
	return &stats, rows.Err()
}

// CancelPending bulk-cancels a project's queued jobs. Returns the number
// cancelled.
func (s *JobStore) CancelPending(ctx context.Context, projectID uuid.UUID) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE extraction_jobs
		SET status = 'cancelled', finished_at = now()
		WHERE project_id = $1 AND status = 'queued'`,
		projectID,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.ProjectID, &j.DocumentID, &j.BranchID, &j.Config, &j.Status,
		&j.Attempts, &j.Error, &j.Summary, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
