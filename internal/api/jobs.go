package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/extraction"
	"github.com/loomworks/loom/internal/orchestrator"
)

type submitJobRequest struct {
	ProjectID  uuid.UUID            `json:"project_id"`
	DocumentID uuid.UUID            `json:"document_id"`
	BranchID   uuid.UUID            `json:"branch_id"`
	Config     extraction.JobConfig `json:"config"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.ProjectID == uuid.Nil || req.DocumentID == uuid.Nil || req.BranchID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "project_id, document_id and branch_id are required")
		return
	}

	job, err := s.jobs.Submit(r.Context(), req.ProjectID, req.DocumentID, req.BranchID, req.Config)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("job submit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	job, err := s.jobs.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, extraction.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("job lookup failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) getJobSteps(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.jobs.GetStatus(r.Context(), jobID); err != nil {
		if errors.Is(err, extraction.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("job lookup failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	steps, err := s.steps.List(r.Context(), jobID)
	if err != nil {
		s.logger.Error("step list failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "step list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps, "count": len(steps)})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	err := s.admin.MarkCancelled(r.Context(), jobID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(extraction.StatusCancelled)})
	case errors.Is(err, extraction.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, extraction.ErrJobTerminal):
		writeError(w, http.StatusConflict, "job already finished")
	default:
		s.logger.Error("job cancel failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "cancel failed")
	}
}

func (s *Server) listProjectJobs(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	jobs, err := s.admin.ListByProject(r.Context(), projectID, 50)
	if err != nil {
		s.logger.Error("job list failed", "project_id", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) projectStats(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	stats, err := s.admin.Stats(r.Context(), projectID)
	if err != nil {
		s.logger.Error("stats failed", "project_id", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) cancelProjectJobs(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	n, err := s.admin.CancelPending(r.Context(), projectID)
	if err != nil {
		s.logger.Error("bulk cancel failed", "project_id", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}
