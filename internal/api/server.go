// Package api exposes the extraction service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/extraction"
	"github.com/loomworks/loom/internal/graph"
	"github.com/loomworks/loom/internal/merge"
)

// JobService submits jobs and reports their status.
type JobService interface {
	Submit(ctx context.Context, projectID, documentID, branchID uuid.UUID, cfg extraction.JobConfig) (*extraction.Job, error)
	GetStatus(ctx context.Context, jobID uuid.UUID) (*extraction.Job, error)
}

// JobAdmin covers the queue operations not routed through the orchestrator.
type JobAdmin interface {
	MarkCancelled(ctx context.Context, jobID uuid.UUID) error
	ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]extraction.Job, error)
	Stats(ctx context.Context, projectID uuid.UUID) (*extraction.Stats, error)
	CancelPending(ctx context.Context, projectID uuid.UUID) (int, error)
}

// StepLister reads a job's step log.
type StepLister interface {
	List(ctx context.Context, jobID uuid.UUID) ([]extraction.Step, error)
}

// Merger reconciles two branches.
type Merger interface {
	Reconcile(ctx context.Context, branchA, branchB uuid.UUID) (*merge.Result, error)
}

// BranchStore manages branches.
type BranchStore interface {
	CreateBranch(ctx context.Context, in graph.NewBranchInput) (*graph.Branch, error)
	ListBranches(ctx context.Context, projectID uuid.UUID) ([]graph.Branch, error)
}

type Server struct {
	router   *chi.Mux
	port     int
	jobs     JobService
	admin    JobAdmin
	steps    StepLister
	merger   Merger
	branches BranchStore
	logger   *slog.Logger
}

func NewServer(port int, jobs JobService, admin JobAdmin, steps StepLister, merger Merger, branches BranchStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	s := &Server{
		router:   router,
		port:     port,
		jobs:     jobs,
		admin:    admin,
		steps:    steps,
		merger:   merger,
		branches: branches,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", s.submitJob)
		r.Get("/jobs/{id}", s.getJob)
		r.Get("/jobs/{id}/steps", s.getJobSteps)
		r.Post("/jobs/{id}/cancel", s.cancelJob)
		r.Get("/projects/{id}/jobs", s.listProjectJobs)
		r.Get("/projects/{id}/stats", s.projectStats)
		r.Post("/projects/{id}/jobs/cancel", s.cancelProjectJobs)
		r.Get("/projects/{id}/branches", s.listBranches)
		r.Post("/branches", s.createBranch)
		r.Post("/merges", s.runMerge)
	})

	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// pathUUID parses the {id} route parameter; writes a 400 and returns false
// on malformed input.
func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: must be a uuid", param))
		return uuid.Nil, false
	}
	return id, true
}
