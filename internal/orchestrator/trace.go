package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/extraction"
	"github.com/loomworks/loom/internal/llm"
)

// trace forwards step records to the recorder and mirrors their final
// states locally, so the job summary never needs a read back from the
// asynchronously written log.
type trace struct {
	recorder StepRecorder
	jobID    uuid.UUID

	mu    sync.Mutex
	steps []extraction.Step
}

func newTrace(recorder StepRecorder, jobID uuid.UUID) *trace {
	return &trace{recorder: recorder, jobID: jobID}
}

// append opens a step that will be completed later.
func (t *trace) append(step extraction.Step) extraction.Step {
	step.JobID = t.jobID
	return t.recorder.Append(step)
}

// complete closes a previously appended step and mirrors its final state.
func (t *trace) complete(step extraction.Step, status extraction.StepStatus, output map[string]any, tokens llm.TokenUsage, errMsg string) {
	t.recorder.Complete(step.ID, status, output, tokens, errMsg)
	step.Status = status
	step.Output = output
	step.Tokens = tokens
	step.Error = errMsg
	now := time.Now().UTC()
	step.CompletedAt = &now

	t.mu.Lock()
	t.steps = append(t.steps, step)
	t.mu.Unlock()
}

// record writes a step that is already in its final state.
func (t *trace) record(step extraction.Step) {
	step.JobID = t.jobID
	appended := t.recorder.Append(step)
	now := time.Now().UTC()
	t.recorder.Complete(appended.ID, step.Status, step.Output, step.Tokens, step.Error)
	appended.Status = step.Status
	appended.CompletedAt = &now

	t.mu.Lock()
	t.steps = append(t.steps, appended)
	t.mu.Unlock()
}

// completed returns the mirrored final step states.
func (t *trace) completed() []extraction.Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]extraction.Step, len(t.steps))
	copy(out, t.steps)
	return out
}
