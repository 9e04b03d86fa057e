// Package orchestrator runs extraction jobs end to end: it claims queued
// jobs, walks their document chunks through the LLM, scores and links every
// candidate, and records each action in the job's step log.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/loomworks/loom/internal/extraction"
	"github.com/loomworks/loom/internal/graph"
	"github.com/loomworks/loom/internal/linker"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/score"
)

// ErrInvalidConfig rejects a submission whose configuration cannot run.
var ErrInvalidConfig = errors.New("orchestrator: invalid job config")

const limiterProvider = "openai"

// Options tune the worker pool and per-job execution.
type Options struct {
	Workers         int
	MaxCallRetries  int
	RetryBaseDelay  time.Duration
	JobTimeout      time.Duration
	CallTimeout     time.Duration
	DequeueInterval time.Duration
	StaleThreshold  time.Duration
}

func (o *Options) withDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxCallRetries <= 0 {
		o.MaxCallRetries = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = time.Second
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 30 * time.Minute
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 2 * time.Minute
	}
	if o.DequeueInterval <= 0 {
		o.DequeueInterval = 2 * time.Second
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = 15 * time.Minute
	}
}

type Orchestrator struct {
	queue    JobQueue
	steps    StepRecorder
	chunks   ChunkSource
	types    TypeSource
	limiter  TokenLimiter
	provider llm.Provider
	linker   EntityLinker
	notifier Notifier
	logger   *slog.Logger
	opts     Options

	pool   *ants.Pool
	locks  *lockTable
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(queue JobQueue, steps StepRecorder, chunkSrc ChunkSource, typeSrc TypeSource, limiter TokenLimiter, provider llm.Provider, link EntityLinker, notifier Notifier, logger *slog.Logger, opts Options) (*Orchestrator, error) {
	opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(opts.Workers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Orchestrator{
		queue:    queue,
		steps:    steps,
		chunks:   chunkSrc,
		types:    typeSrc,
		limiter:  limiter,
		provider: provider,
		linker:   link,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		pool:     pool,
		locks:    newLockTable(),
	}, nil
}

// Submit validates a configuration and enqueues a job.
func (o *Orchestrator) Submit(ctx context.Context, projectID, documentID, branchID uuid.UUID, cfg extraction.JobConfig) (*extraction.Job, error) {
	if cfg.Method == "" {
		cfg.Method = llm.MethodJSONFreeform
	}
	if !cfg.Method.Valid() {
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidConfig, cfg.Method)
	}
	if cfg.RejectBelow < 0 || cfg.AutoAcceptAt > 1 || cfg.RejectBelow >= cfg.AutoAcceptAt {
		return nil, fmt.Errorf("%w: thresholds must satisfy 0 <= reject_below < auto_accept_at <= 1", ErrInvalidConfig)
	}
	job, err := o.queue.Create(ctx, projectID, documentID, branchID, cfg)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	o.logger.Info("job submitted", "job_id", job.ID, "project_id", projectID, "document_id", documentID)
	return job, nil
}

// GetStatus returns the job's current state.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID uuid.UUID) (*extraction.Job, error) {
	return o.queue.Get(ctx, jobID)
}

// Start launches the dequeue and stale-recovery loops.
func (o *Orchestrator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.opts.DequeueInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.drainQueue(ctx)
			}
		}
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.opts.StaleThreshold)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := o.queue.RecoverStale(ctx, o.opts.StaleThreshold); err != nil {
					o.logger.Error("stale recovery failed", "error", err)
				} else if n > 0 {
					o.logger.Warn("recovered stale jobs", "count", n)
				}
			}
		}
	}()
}

// Stop halts the loops and waits for in-flight jobs to finish.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.pool.Release()
}

// drainQueue claims as many jobs as workers are free for.
func (o *Orchestrator) drainQueue(ctx context.Context) {
	for o.pool.Free() > 0 {
		job, err := o.queue.Dequeue(ctx)
		if err != nil {
			o.logger.Error("dequeue failed", "error", err)
			return
		}
		if job == nil {
			return
		}
		j := job
		if err := o.pool.Submit(func() { o.Run(j) }); err != nil {
			o.logger.Error("worker submit failed", "job_id", j.ID, "error", err)
			return
		}
	}
}

// Run executes one claimed job to a terminal state.
func (o *Orchestrator) Run(job *extraction.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.JobTimeout)
	defer cancel()

	if !job.Config.AllowParallel {
		release := o.locks.acquire(job.ProjectID)
		defer release()
	}

	start := time.Now()
	trace := newTrace(o.steps, job.ID)

	outcome, err := o.runPipeline(ctx, job, trace)
	elapsed := time.Since(start)
	summary := extraction.SummarizeSteps(trace.completed(), elapsed)

	// Terminal writes must land even after the job deadline expired mid
	// pipeline; otherwise the job stays running until stale recovery re-runs
	// it from scratch.
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer finishCancel()

	switch {
	case outcome == outcomeCancelled:
		o.logger.Info("job cancelled", "job_id", job.ID, "elapsed", elapsed)
		return
	case err != nil || summary.ObjectsWritten+summary.Relationships == 0:
		msg := "no chunk produced any entity"
		if err != nil {
			msg = err.Error()
		}
		if ferr := o.queue.MarkFailed(finishCtx, job.ID, msg); ferr != nil {
			o.logger.Error("mark failed", "job_id", job.ID, "error", ferr)
		}
		o.logger.Warn("job failed", "job_id", job.ID, "reason", msg, "elapsed", elapsed)
		o.publish(job, extraction.StatusFailed, &summary, msg)
	default:
		if cerr := o.queue.MarkCompleted(finishCtx, job.ID, summary); cerr != nil {
			o.logger.Error("mark completed", "job_id", job.ID, "error", cerr)
		}
		o.logger.Info("job completed",
			"job_id", job.ID, "chunks", summary.Chunks,
			"objects", summary.ObjectsWritten, "relationships", summary.Relationships,
			"errors", summary.Errors, "tokens", summary.Tokens.Total, "elapsed", elapsed)
		o.publish(job, extraction.StatusCompleted, &summary, "")
	}
}

type runOutcome int

const (
	outcomeFinished runOutcome = iota
	outcomeCancelled
)

// deferred is a relationship waiting for an endpoint that did not exist
// when its chunk was processed.
type deferred struct {
	cand   llm.CandidateRelationship
	score  float64
	status graph.Status
}

func (o *Orchestrator) runPipeline(ctx context.Context, job *extraction.Job, trace *trace) (runOutcome, error) {
	chunkList, err := o.chunks.Fetch(ctx, job.DocumentID)
	if err != nil {
		return outcomeFinished, fmt.Errorf("fetch chunks: %w", err)
	}
	if len(chunkList) == 0 {
		return outcomeFinished, fmt.Errorf("document %s has no chunks", job.DocumentID)
	}

	types := job.Config.EntityTypes
	if len(types) == 0 {
		types, err = o.types.GetEntityTypes(ctx, job.ProjectID)
		if err != nil {
			return outcomeFinished, fmt.Errorf("fetch entity types: %w", err)
		}
	}
	if len(types) == 0 {
		return outcomeFinished, fmt.Errorf("project %s has no entity types", job.ProjectID)
	}
	typesByName := make(map[string]llm.EntityType, len(types))
	for _, t := range types {
		typesByName[t.Name] = t
	}

	// Objects linked in this job, for relationship endpoint resolution.
	session := linker.NewSession()
	var pending []deferred

	for _, chunk := range chunkList {
		// Cancellation is only honored between chunks; an in-flight LLM
		// result for the current chunk is still written.
		current, err := o.queue.Get(ctx, job.ID)
		if err == nil && current.Status == extraction.StatusCancelled {
			return outcomeCancelled, nil
		}

		chunkStep := trace.append(extraction.Step{
			Kind:  extraction.StepChunkProcessing,
			Input: map[string]any{"chunk_index": chunk.Index, "chars": len(chunk.Text)},
		})
		produced := o.processChunk(ctx, job, trace, chunk.Index, chunk.Text, typesByName, session, &pending)
		trace.complete(chunkStep, extraction.StepCompleted, map[string]any{"produced": produced}, llm.TokenUsage{}, "")
	}

	o.retryDeferred(ctx, job, trace, session, pending)
	return outcomeFinished, nil
}

// processChunk runs one chunk through extract, score, and link. Returns the
// number of graph writes it produced.
func (o *Orchestrator) processChunk(ctx context.Context, job *extraction.Job, trace *trace, chunkIndex int, chunkText string, types map[string]llm.EntityType, session *linker.Session, pending *[]deferred) int {
	estimate := o.provider.EstimateTokens(chunkText)
	// Acquire timeouts are transient: tokens refill, so the acquire gets the
	// same retry budget as the call itself.
	err := retryTransient(ctx, func() error {
		return o.limiter.Acquire(ctx, limiterProvider, estimate)
	}, o.opts.MaxCallRetries, o.opts.RetryBaseDelay)
	if err != nil {
		trace.record(extraction.Step{
			Kind:   extraction.StepError,
			Status: extraction.StepFailed,
			Input:  map[string]any{"chunk_index": chunkIndex, "stage": "rate_limit"},
			Error:  err.Error(),
		})
		o.logger.Warn("chunk skipped", "job_id", job.ID, "chunk", chunkIndex, "error", err)
		return 0
	}

	req := llm.Request{
		ChunkText:  chunkText,
		Types:      typeSlice(types),
		Method:     job.Config.Method,
		ChunkIndex: chunkIndex,
		JobID:      job.ID,
	}

	callStep := trace.append(extraction.Step{
		Kind:  extraction.StepLLMCall,
		Input: map[string]any{"chunk_index": chunkIndex, "method": string(job.Config.Method), "estimated_tokens": estimate},
	})
	var result *llm.Result
	err = retryTransient(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
		defer cancel()
		var callErr error
		result, callErr = o.provider.Extract(callCtx, req)
		return callErr
	}, o.opts.MaxCallRetries, o.opts.RetryBaseDelay)
	if err != nil {
		trace.complete(callStep, extraction.StepFailed, nil, llm.TokenUsage{}, err.Error())
		o.logger.Warn("chunk skipped after llm failure", "job_id", job.ID, "chunk", chunkIndex, "error", err)
		return 0
	}
	trace.complete(callStep, extraction.StepCompleted, map[string]any{
		"entities":      len(result.Entities),
		"relationships": len(result.Relationships),
	}, result.Usage, "")

	thresholds := score.Thresholds{
		RejectBelow:   job.Config.RejectBelow,
		AutoAcceptAt:  job.Config.AutoAcceptAt,
		RequireReview: job.Config.RequireReview,
	}

	produced := 0
	for _, cand := range result.Entities {
		conf := score.Score(cand, types[cand.Type], chunkText, job.Config.Method)
		decision := score.Decide(conf.Score, thresholds)
		if decision == score.Discard {
			trace.record(extraction.Step{
				Kind:   extraction.StepValidation,
				Status: extraction.StepSkipped,
				Input:  map[string]any{"type": cand.Type, "natural_key": cand.NaturalKey},
				Output: map[string]any{"score": conf.Score},
			})
			continue
		}
		status := graph.StatusDraft
		if decision == score.Accept {
			status = graph.StatusAccepted
		}
		res, err := o.linker.LinkEntity(ctx, cand, conf.Score, status, job.BranchID)
		if err != nil {
			trace.record(extraction.Step{
				Kind:   extraction.StepError,
				Status: extraction.StepFailed,
				Input:  map[string]any{"chunk_index": chunkIndex, "stage": "link_entity", "natural_key": cand.NaturalKey},
				Error:  err.Error(),
			})
			continue
		}
		session.Put(cand.Type, cand.NaturalKey, res.Object.CanonicalID)
		produced++
		trace.record(extraction.Step{
			Kind:   extraction.StepObjectCreation,
			Status: extraction.StepCompleted,
			Output: map[string]any{
				"canonical_id": res.Object.CanonicalID.String(),
				"version":      res.Object.Version,
				"created":      res.Created,
				"status":       string(res.Object.Status),
				"score":        conf.Score,
			},
		})
		if res.SuggestedMatch != nil {
			trace.record(extraction.Step{
				Kind:   extraction.StepSuggestionCreation,
				Status: extraction.StepCompleted,
				Output: map[string]any{
					"canonical_id": res.Object.CanonicalID.String(),
					"suggested":    res.SuggestedMatch.CanonicalID.String(),
					"similarity":   res.Similarity,
				},
			})
		}
	}

	for _, cand := range result.Relationships {
		conf := score.ScoreRelationship(cand, chunkText, job.Config.Method)
		decision := score.Decide(conf.Score, thresholds)
		if decision == score.Discard {
			trace.record(extraction.Step{
				Kind:   extraction.StepValidation,
				Status: extraction.StepSkipped,
				Input:  map[string]any{"type": cand.Type, "source": cand.SourceKey, "target": cand.TargetKey},
				Output: map[string]any{"score": conf.Score},
			})
			continue
		}
		status := graph.StatusDraft
		if decision == score.Accept {
			status = graph.StatusAccepted
		}
		if n := o.linkRelationship(ctx, job, trace, cand, conf.Score, status, session, pending, false); n {
			produced++
		}
	}
	return produced
}

// linkRelationship links one relationship candidate; when final is false a
// missing endpoint defers the candidate instead of recording an error.
func (o *Orchestrator) linkRelationship(ctx context.Context, job *extraction.Job, trace *trace, cand llm.CandidateRelationship, sc float64, status graph.Status, session *linker.Session, pending *[]deferred, final bool) bool {
	res, err := o.linker.LinkRelationship(ctx, cand, sc, status, job.BranchID, session)
	switch {
	case err == nil:
		trace.record(extraction.Step{
			Kind:   extraction.StepRelationshipCreation,
			Status: extraction.StepCompleted,
			Output: map[string]any{
				"canonical_id": res.Relationship.CanonicalID.String(),
				"version":      res.Relationship.Version,
				"created":      res.Created,
			},
		})
		return true
	case errors.Is(err, linker.ErrEndpointMissing) && !final:
		*pending = append(*pending, deferred{cand: cand, score: sc, status: status})
		return false
	case errors.Is(err, linker.ErrEndpointMissing):
		trace.record(extraction.Step{
			Kind:   extraction.StepValidation,
			Status: extraction.StepSkipped,
			Input:  map[string]any{"type": cand.Type, "source": cand.SourceKey, "target": cand.TargetKey},
			Error:  err.Error(),
		})
		return false
	default:
		trace.record(extraction.Step{
			Kind:   extraction.StepError,
			Status: extraction.StepFailed,
			Input:  map[string]any{"stage": "link_relationship", "type": cand.Type},
			Error:  err.Error(),
		})
		return false
	}
}

// retryDeferred replays relationships whose endpoints were missing, once,
// against the final object set.
func (o *Orchestrator) retryDeferred(ctx context.Context, job *extraction.Job, trace *trace, session *linker.Session, pending []deferred) {
	for _, d := range pending {
		o.linkRelationship(ctx, job, trace, d.cand, d.score, d.status, session, nil, true)
	}
}

func (o *Orchestrator) publish(job *extraction.Job, status extraction.JobStatus, summary *extraction.Summary, errMsg string) {
	if o.notifier == nil || !job.Config.NotifyOnComplete {
		return
	}
	o.notifier.JobCompleted(job.ID, job.ProjectID, status, summary, errMsg)
}

func typeSlice(m map[string]llm.EntityType) []llm.EntityType {
	out := make([]llm.EntityType, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	return out
}
