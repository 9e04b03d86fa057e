package extraction

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomworks/loom/internal/llm"
)

// StepLog persists the append-only step records of jobs.
type StepLog struct {
	pool *pgxpool.Pool
}

func NewStepLog(pool *pgxpool.Pool) *StepLog {
	return &StepLog{pool: pool}
}

// Append writes a new step, assigning the next ordinal within the job.
func (l *StepLog) Append(ctx context.Context, step Step) (*Step, error) {
	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}
	if step.Status == "" {
		step.Status = StepRunning
	}
	row := l.pool.QueryRow(ctx, `
		INSERT INTO extraction_steps (id, job_id, ordinal, kind, status, input, output,
			prompt_tokens, completion_tokens, total_tokens, error, started_at)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(ordinal), -1) + 1 FROM extraction_steps WHERE job_id = $2),
			$3, $4, $5, $6, $7, $8, $9, $10, now())
		RETURNING ordinal, started_at`,
		step.ID, step.JobID, step.Kind, step.Status, step.Input, step.Output,
		step.Tokens.Prompt, step.Tokens.Completion, step.Tokens.Total, step.Error,
	)
	if err := row.Scan(&step.Ordinal, &step.StartedAt); err != nil {
		return nil, fmt.Errorf("insert step: %w", err)
	}
	return &step, nil
}

// Complete attaches the outcome and completion timestamp to a step.
func (l *StepLog) Complete(ctx context.Context, stepID uuid.UUID, status StepStatus, output map[string]any, tokens llm.TokenUsage, errMsg string) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE extraction_steps
		SET status = $1, output = $2,
			prompt_tokens = $3, completion_tokens = $4, total_tokens = $5,
			error = $6, completed_at = now()
		WHERE id = $7`,
		status, output, tokens.Prompt, tokens.Completion, tokens.Total, errMsg, stepID,
	)
	if err != nil {
		return fmt.Errorf("complete step: %w", err)
	}
	return nil
}

// List returns a job's steps ordered by ordinal.
func (l *StepLog) List(ctx context.Context, jobID uuid.UUID) ([]Step, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, job_id, ordinal, kind, status, input, output,
			prompt_tokens, completion_tokens, total_tokens, error, started_at, completed_at
		FROM extraction_steps
		WHERE job_id = $1
		ORDER BY ordinal`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanStep(row pgx.Row) (*Step, error) {
	var s Step
	err := row.Scan(
		&s.ID, &s.JobID, &s.Ordinal, &s.Kind, &s.Status, &s.Input, &s.Output,
		&s.Tokens.Prompt, &s.Tokens.Completion, &s.Tokens.Total,
		&s.Error, &s.StartedAt, &s.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
