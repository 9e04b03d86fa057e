package extraction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/llm"
)

// StepSink is the persistence boundary the async writer drains into.
type StepSink interface {
	Append(ctx context.Context, step Step) (*Step, error)
	Complete(ctx context.Context, stepID uuid.UUID, status StepStatus, output map[string]any, tokens llm.TokenUsage, errMsg string) error
}

const stepWriteTimeout = 5 * time.Second

// AsyncStepWriter decouples step persistence from the chunk loop: writes
// are queued to a background goroutine and never block the pipeline. A full
// queue drops the write with a warning; the step log is observability, not
// ledger.
type AsyncStepWriter struct {
	sink   StepSink
	logger *slog.Logger

	ops  chan func(context.Context)
	wg   sync.WaitGroup
	once sync.Once
}

func NewAsyncStepWriter(sink StepSink, buffer int, logger *slog.Logger) *AsyncStepWriter {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &AsyncStepWriter{
		sink:   sink,
		logger: logger,
		ops:    make(chan func(context.Context), buffer),
	}
	w.wg.Add(1)
	go w.drain()
	return w
}

func (w *AsyncStepWriter) drain() {
	defer w.wg.Done()
	for op := range w.ops {
		ctx, cancel := context.WithTimeout(context.Background(), stepWriteTimeout)
		op(ctx)
		cancel()
	}
}

// Append queues a step insert and returns the step with its id assigned,
// so the caller can complete it later without waiting for the write.
func (w *AsyncStepWriter) Append(step Step) Step {
	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}
	if step.Status == "" {
		step.Status = StepRunning
	}
	if step.StartedAt.IsZero() {
		step.StartedAt = time.Now().UTC()
	}
	w.enqueue(func(ctx context.Context) {
		if _, err := w.sink.Append(ctx, step); err != nil {
			w.logger.Warn("step append failed", "job_id", step.JobID, "kind", step.Kind, "error", err)
		}
	})
	return step
}

// Complete queues the completion of a previously appended step.
func (w *AsyncStepWriter) Complete(stepID uuid.UUID, status StepStatus, output map[string]any, tokens llm.TokenUsage, errMsg string) {
	w.enqueue(func(ctx context.Context) {
		if err := w.sink.Complete(ctx, stepID, status, output, tokens, errMsg); err != nil {
			w.logger.Warn("step complete failed", "step_id", stepID, "error", err)
		}
	})
}

func (w *AsyncStepWriter) enqueue(op func(context.Context)) {
	select {
	case w.ops <- op:
	default:
		w.logger.Warn("step queue full, dropping write")
	}
}

// Close drains queued writes and stops the writer.
func (w *AsyncStepWriter) Close() {
	w.once.Do(func() {
		close(w.ops)
	})
	w.wg.Wait()
}
