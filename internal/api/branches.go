package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/graph"
)

type createBranchRequest struct {
	ProjectID      uuid.UUID  `json:"project_id"`
	Name           string     `json:"name"`
	ParentBranchID *uuid.UUID `json:"parent_branch_id,omitempty"`
}

func (s *Server) createBranch(w http.ResponseWriter, r *http.Request) {
	var req createBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ProjectID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	branch, err := s.branches.CreateBranch(r.Context(), graph.NewBranchInput{
		ProjectID:      &req.ProjectID,
		Name:           req.Name,
		ParentBranchID: req.ParentBranchID,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, branch)
	case errors.Is(err, graph.ErrBranchExists):
		writeError(w, http.StatusConflict, "branch name already exists")
	case errors.Is(err, graph.ErrParentMissing):
		writeError(w, http.StatusNotFound, "parent branch not found")
	default:
		s.logger.Error("branch create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "create failed")
	}
}

func (s *Server) listBranches(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	branches, err := s.branches.ListBranches(r.Context(), projectID)
	if err != nil {
		s.logger.Error("branch list failed", "project_id", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": branches, "count": len(branches)})
}

type mergeRequest struct {
	BranchA uuid.UUID `json:"branch_a"`
	BranchB uuid.UUID `json:"branch_b"`
}

func (s *Server) runMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.BranchA == uuid.Nil || req.BranchB == uuid.Nil {
		writeError(w, http.StatusBadRequest, "branch_a and branch_b are required")
		return
	}
	if req.BranchA == req.BranchB {
		writeError(w, http.StatusBadRequest, "branches must differ")
		return
	}

	res, err := s.merger.Reconcile(r.Context(), req.BranchA, req.BranchB)
	if err != nil {
		s.logger.Error("merge failed", "branch_a", req.BranchA, "branch_b", req.BranchB, "error", err)
		writeError(w, http.StatusInternalServerError, "merge failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
