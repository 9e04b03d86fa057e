package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/chunks"
	"github.com/loomworks/loom/internal/extraction"
	"github.com/loomworks/loom/internal/graph"
	"github.com/loomworks/loom/internal/linker"
	"github.com/loomworks/loom/internal/llm"
)

// JobQueue is the persistent queue the orchestrator pulls from.
type JobQueue interface {
	Create(ctx context.Context, projectID, documentID, branchID uuid.UUID, cfg extraction.JobConfig) (*extraction.Job, error)
	Dequeue(ctx context.Context) (*extraction.Job, error)
	Get(ctx context.Context, jobID uuid.UUID) (*extraction.Job, error)
	MarkCompleted(ctx context.Context, jobID uuid.UUID, summary extraction.Summary) error
	MarkFailed(ctx context.Context, jobID uuid.UUID, msg string) error
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// StepRecorder receives pipeline step records without blocking the chunk
// loop.
type StepRecorder interface {
	Append(step extraction.Step) extraction.Step
	Complete(stepID uuid.UUID, status extraction.StepStatus, output map[string]any, tokens llm.TokenUsage, errMsg string)
}

// ChunkSource supplies a document's ordered chunks.
type ChunkSource interface {
	Fetch(ctx context.Context, documentID uuid.UUID) ([]chunks.Chunk, error)
}

// TypeSource supplies a project's entity type schemas when the job config
// carries none.
type TypeSource interface {
	GetEntityTypes(ctx context.Context, projectID uuid.UUID) ([]llm.EntityType, error)
}

// TokenLimiter gates LLM calls by estimated token cost.
type TokenLimiter interface {
	Acquire(ctx context.Context, provider string, n int) error
}

// EntityLinker resolves scored candidates into the graph.
type EntityLinker interface {
	LinkEntity(ctx context.Context, cand llm.CandidateEntity, score float64, status graph.Status, branchID uuid.UUID) (*linker.EntityResult, error)
	LinkRelationship(ctx context.Context, cand llm.CandidateRelationship, score float64, status graph.Status, branchID uuid.UUID, session *linker.Session) (*linker.RelationshipResult, error)
}

// Notifier publishes terminal job states. Implementations must tolerate
// being a typed nil.
type Notifier interface {
	JobCompleted(jobID, projectID uuid.UUID, status extraction.JobStatus, summary *extraction.Summary, errMsg string)
}
