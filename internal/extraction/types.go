// Package extraction defines extraction jobs, their persistent queue, and
// the append-only step log every pipeline action writes into.
package extraction

import (
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/llm"
)

// JobStatus is the lifecycle of an extraction job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusRunning    JobStatus = "running"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
	StatusDeadLetter JobStatus = "dead_letter"
)

// Terminal reports whether a status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusDeadLetter:
		return true
	}
	return false
}

// JobConfig is the extraction configuration a job is submitted with.
type JobConfig struct {
	EntityTypes []llm.EntityType `json:"entity_types"`
	// RejectBelow and AutoAcceptAt are the two score thresholds; candidates
	// scoring in between become drafts.
	RejectBelow  float64    `json:"reject_below"`
	AutoAcceptAt float64    `json:"auto_accept_at"`
	Method       llm.Method `json:"method"`
	// RequireReview downgrades auto-accepted candidates to draft.
	RequireReview bool `json:"require_review,omitempty"`
	// AllowParallel lets this job run alongside another job of the same
	// project.
	AllowParallel    bool `json:"allow_parallel,omitempty"`
	NotifyOnComplete bool `json:"notify_on_complete,omitempty"`
}

// Job is one extraction run over a document.
type Job struct {
	ID         uuid.UUID  `json:"id"`
	ProjectID  uuid.UUID  `json:"project_id"`
	DocumentID uuid.UUID  `json:"document_id"`
	BranchID   uuid.UUID  `json:"branch_id"`
	Config     JobConfig  `json:"config"`
	Status     JobStatus  `json:"status"`
	Attempts   int        `json:"attempts"`
	Error      string     `json:"error,omitempty"`
	Summary    *Summary   `json:"summary,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StepKind is the operation a step records.
type StepKind string

const (
	StepLLMCall              StepKind = "llm_call"
	StepChunkProcessing      StepKind = "chunk_processing"
	StepObjectCreation       StepKind = "object_creation"
	StepRelationshipCreation StepKind = "relationship_creation"
	StepSuggestionCreation   StepKind = "suggestion_creation"
	StepValidation           StepKind = "validation"
	StepError                StepKind = "error"
)

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped"
	StepFailed    StepStatus = "failed"
)

// Step is one append-only log entry of the pipeline. Owned exclusively by
// its job; never mutated after completion except to attach the completion
// timestamp.
type Step struct {
	ID          uuid.UUID      `json:"id"`
	JobID       uuid.UUID      `json:"job_id"`
	Ordinal     int            `json:"ordinal"`
	Kind        StepKind       `json:"kind"`
	Status      StepStatus     `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Tokens      llm.TokenUsage `json:"tokens"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Summary is the final accounting of a job, computed from its step log.
type Summary struct {
	Chunks          int            `json:"chunks"`
	LLMCalls        int            `json:"llm_calls"`
	ObjectsWritten  int            `json:"objects_written"`
	ObjectsAccepted int            `json:"objects_accepted"`
	ObjectsDraft    int            `json:"objects_draft"`
	Relationships   int            `json:"relationships_written"`
	Suggestions     int            `json:"suggestions"`
	Discarded       int            `json:"discarded"`
	Errors          int            `json:"errors"`
	Tokens          llm.TokenUsage `json:"tokens"`
	ElapsedSeconds  float64        `json:"elapsed_seconds"`
}

// SummarizeSteps folds a job's step log into its summary. Pure; the step
// slice is not modified.
func SummarizeSteps(steps []Step, elapsed time.Duration) Summary {
	var sum Summary
	for _, s := range steps {
		switch s.Kind {
		case StepChunkProcessing:
			sum.Chunks++
		case StepLLMCall:
			if s.Status == StepFailed {
				sum.Errors++
			} else {
				sum.LLMCalls++
			}
		case StepObjectCreation:
			sum.ObjectsWritten++
			switch s.Output["status"] {
			case "accepted":
				sum.ObjectsAccepted++
			case "draft":
				sum.ObjectsDraft++
			}
		case StepRelationshipCreation:
			sum.Relationships++
		case StepSuggestionCreation:
			sum.Suggestions++
		case StepValidation:
			if s.Status == StepSkipped {
				sum.Discarded++
			}
		case StepError:
			sum.Errors++
		}
		sum.Tokens.Prompt += s.Tokens.Prompt
		sum.Tokens.Completion += s.Tokens.Completion
		sum.Tokens.Total += s.Tokens.Total
	}
	sum.ElapsedSeconds = elapsed.Seconds()
	return sum
}

// Stats aggregates a project's jobs by status.
type Stats struct {
	Queued     int `json:"queued"`
	Running    int `json:"running"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	DeadLetter int `json:"dead_letter"`
}
