package extraction

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/llm"
)

type memorySink struct {
	mu       sync.Mutex
	steps    map[uuid.UUID]*Step
	appended []uuid.UUID
}

func newMemorySink() *memorySink {
	return &memorySink{steps: make(map[uuid.UUID]*Step)}
}

func (m *memorySink) Append(_ context.Context, step Step) (*Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	step.Ordinal = len(m.appended)
	m.steps[step.ID] = &step
	m.appended = append(m.appended, step.ID)
	return &step, nil
}

func (m *memorySink) Complete(_ context.Context, stepID uuid.UUID, status StepStatus, output map[string]any, tokens llm.TokenUsage, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.steps[stepID]; ok {
		s.Status = status
		s.Output = output
		s.Tokens = tokens
		s.Error = errMsg
	}
	return nil
}

func TestAsyncStepWriter_AppendAndComplete(t *testing.T) {
	sink := newMemorySink()
	w := NewAsyncStepWriter(sink, 16, nil)

	jobID := uuid.New()
	step := w.Append(Step{JobID: jobID, Kind: StepLLMCall})
	if step.ID == uuid.Nil {
		t.Fatal("Append must assign an id synchronously")
	}
	w.Complete(step.ID, StepCompleted, map[string]any{"entities": 2}, llm.TokenUsage{Total: 100}, "")
	w.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	got, ok := sink.steps[step.ID]
	if !ok {
		t.Fatal("step never reached the sink")
	}
	if got.Status != StepCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.Tokens.Total != 100 {
		t.Errorf("expected token usage 100, got %d", got.Tokens.Total)
	}
}

func TestAsyncStepWriter_PreservesOrder(t *testing.T) {
	sink := newMemorySink()
	w := NewAsyncStepWriter(sink, 64, nil)

	jobID := uuid.New()
	var ids []uuid.UUID
	for i := 0; i < 10; i++ {
		s := w.Append(Step{JobID: jobID, Kind: StepChunkProcessing})
		ids = append(ids, s.ID)
	}
	w.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.appended) != 10 {
		t.Fatalf("expected 10 appends, got %d", len(sink.appended))
	}
	for i, id := range ids {
		if sink.appended[i] != id {
			t.Fatalf("append order broken at %d", i)
		}
	}
}
