//go:build integration

package extraction

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomworks/loom/internal/llm"
)

func setupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func testConfig() JobConfig {
	return JobConfig{
		EntityTypes:  []llm.EntityType{{Name: "Person"}},
		RejectBelow:  0.3,
		AutoAcceptAt: 0.8,
		Method:       llm.MethodJSONFreeform,
	}
}

func TestIntegration_JobLifecycle(t *testing.T) {
	s := NewJobStore(setupTestPool(t))
	ctx := context.Background()
	projectID := uuid.New()

	job, err := s.Create(ctx, projectID, uuid.New(), uuid.New(), testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if job.Status != StatusQueued {
		t.Fatalf("new job should be queued, got %s", job.Status)
	}

	claimed, err := s.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatal("expected to claim the job just created")
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Errorf("claimed job should be running with 1 attempt, got %s/%d", claimed.Status, claimed.Attempts)
	}

	// Same project has a running job: its queued siblings stay queued.
	sibling, err := s.Create(ctx, projectID, uuid.New(), uuid.New(), testConfig())
	if err != nil {
		t.Fatalf("Create sibling failed: %v", err)
	}
	again, err := s.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if again != nil && again.ProjectID == projectID {
		t.Error("project with a running job must not be dequeued again")
	}

	if err := s.MarkCompleted(ctx, claimed.ID, Summary{Chunks: 3}); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	done, err := s.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if done.Status != StatusCompleted || done.Summary == nil || done.Summary.Chunks != 3 {
		t.Errorf("unexpected final state: %+v", done)
	}

	// Terminal jobs reject further transitions.
	if err := s.MarkFailed(ctx, claimed.ID, "boom"); !errors.Is(err, ErrJobTerminal) {
		t.Errorf("expected ErrJobTerminal, got %v", err)
	}

	if err := s.MarkCancelled(ctx, sibling.ID); err != nil {
		t.Fatalf("MarkCancelled failed: %v", err)
	}
}

func TestIntegration_AllowParallel(t *testing.T) {
	s := NewJobStore(setupTestPool(t))
	ctx := context.Background()
	projectID := uuid.New()

	cfg := testConfig()
	cfg.AllowParallel = true
	first, err := s.Create(ctx, projectID, uuid.New(), uuid.New(), cfg)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := s.Create(ctx, projectID, uuid.New(), uuid.New(), cfg)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	a, err := s.Dequeue(ctx)
	if err != nil || a == nil {
		t.Fatalf("first Dequeue failed: %v", err)
	}
	b, err := s.Dequeue(ctx)
	if err != nil || b == nil {
		t.Fatalf("second Dequeue should succeed for allow_parallel jobs: %v", err)
	}
	if (a.ID != first.ID && a.ID != second.ID) || a.ID == b.ID {
		t.Error("both parallel jobs should be claimable")
	}
	s.MarkCancelled(ctx, a.ID)
	s.MarkCancelled(ctx, b.ID)
}

func TestIntegration_RecoverStaleAndStats(t *testing.T) {
	s := NewJobStore(setupTestPool(t))
	ctx := context.Background()
	projectID := uuid.New()

	job, err := s.Create(ctx, projectID, uuid.New(), uuid.New(), testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	claimed, err := s.Dequeue(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	// Recovery with a generous threshold leaves fresh jobs alone.
	n, err := s.RecoverStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("RecoverStale failed: %v", err)
	}
	fresh, _ := s.Get(ctx, job.ID)
	if fresh.Status != StatusRunning {
		t.Errorf("fresh running job must not be recovered, got %s", fresh.Status)
	}

	// A zero threshold re-queues it.
	n, err = s.RecoverStale(ctx, 0)
	if err != nil {
		t.Fatalf("RecoverStale failed: %v", err)
	}
	if n < 1 {
		t.Errorf("expected at least 1 recovered job, got %d", n)
	}
	requeued, _ := s.Get(ctx, job.ID)
	if requeued.Status != StatusQueued {
		t.Errorf("stale job should be queued again, got %s", requeued.Status)
	}

	stats, err := s.Stats(ctx, projectID)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Queued != 1 {
		t.Errorf("expected 1 queued job in stats, got %d", stats.Queued)
	}

	cancelled, err := s.CancelPending(ctx, projectID)
	if err != nil {
		t.Fatalf("CancelPending failed: %v", err)
	}
	if cancelled != 1 {
		t.Errorf("expected 1 cancelled job, got %d", cancelled)
	}
}

func TestIntegration_StepLog(t *testing.T) {
	pool := setupTestPool(t)
	jobs := NewJobStore(pool)
	log := NewStepLog(pool)
	ctx := context.Background()

	job, err := jobs.Create(ctx, uuid.New(), uuid.New(), uuid.New(), testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	first, err := log.Append(ctx, Step{JobID: job.ID, Kind: StepChunkProcessing})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	second, err := log.Append(ctx, Step{JobID: job.ID, Kind: StepLLMCall})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if first.Ordinal != 0 || second.Ordinal != 1 {
		t.Errorf("ordinals should increase per job, got %d/%d", first.Ordinal, second.Ordinal)
	}

	usage := llm.TokenUsage{Prompt: 200, Completion: 80, Total: 280}
	if err := log.Complete(ctx, second.ID, StepCompleted, map[string]any{"entities": 3}, usage, ""); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	steps, err := log.List(ctx, job.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[1].Status != StepCompleted || steps[1].CompletedAt == nil {
		t.Error("completed step should carry status and completion timestamp")
	}
	if steps[1].Tokens.Total != 280 {
		t.Errorf("expected 280 tokens, got %d", steps[1].Tokens.Total)
	}
}
