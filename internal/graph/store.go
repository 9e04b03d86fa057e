package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no live head exists for the requested
	// identity on the requested branch.
	ErrNotFound = errors.New("graph: not found")
	// ErrBranchExists is returned on a duplicate branch name within a project.
	ErrBranchExists = errors.New("graph: branch name already exists")
	// ErrParentMissing is returned when a branch references a parent that
	// does not exist.
	ErrParentMissing = errors.New("graph: parent branch not found")
	// ErrDeleted is returned when the head of the requested identity is a
	// tombstone.
	ErrDeleted = errors.New("graph: object deleted")
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying connection pool so sibling stores can share it.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
