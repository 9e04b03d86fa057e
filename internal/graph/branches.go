package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// NewBranchInput creates a branch. ParentBranchID is optional; when set it
// must name an existing branch.
type NewBranchInput struct {
	ProjectID      *uuid.UUID
	Name           string
	ParentBranchID *uuid.UUID
}

// CreateBranch inserts a branch, enforcing name uniqueness within a project
// and parent existence.
func (s *Store) CreateBranch(ctx context.Context, in NewBranchInput) (*Branch, error) {
	if in.ParentBranchID != nil {
		if _, err := s.GetBranch(ctx, *in.ParentBranchID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrParentMissing
			}
			return nil, err
		}
	}
	b := &Branch{
		ID:             uuid.New(),
		ProjectID:      in.ProjectID,
		Name:           in.Name,
		ParentBranchID: in.ParentBranchID,
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO branches (id, project_id, name, parent_branch_id, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING created_at`,
		b.ID, b.ProjectID, b.Name, b.ParentBranchID,
	)
	if err := row.Scan(&b.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrBranchExists
		}
		return nil, fmt.Errorf("insert branch: %w", err)
	}
	return b, nil
}

func (s *Store) GetBranch(ctx context.Context, id uuid.UUID) (*Branch, error) {
	var b Branch
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, name, parent_branch_id, created_at
		FROM branches WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.ProjectID, &b.Name, &b.ParentBranchID, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query branch: %w", err)
	}
	return &b, nil
}

// ListBranches returns a project's branches, oldest first.
func (s *Store) ListBranches(ctx context.Context, projectID uuid.UUID) ([]Branch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, name, parent_branch_id, created_at
		FROM branches WHERE project_id = $1
		ORDER BY created_at`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query branches: %w", err)
	}
	defer rows.Close()

	var out []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Name, &b.ParentBranchID, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// Fallback for drivers that do not surface a PgError.
	return strings.Contains(err.Error(), "duplicate key")
}
