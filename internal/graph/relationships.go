package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const relationshipColumns = `id, canonical_id, version, type, source_id, target_id,
	status, properties, confidence, content_hash, branch_id, folded_from,
	superseded_at, created_at`

// NewRelationshipInput is the content of a version-1 relationship. Source
// and target are canonical object ids.
type NewRelationshipInput struct {
	Type       string
	SourceID   uuid.UUID
	TargetID   uuid.UUID
	Status     Status
	Properties map[string]any
	Confidence float64
	BranchID   uuid.UUID
}

// CreateRelationship inserts version 1 of a new relationship lineage.
func (s *Store) CreateRelationship(ctx context.Context, in NewRelationshipInput) (*Relationship, error) {
	if in.Status == "" {
		in.Status = StatusDraft
	}
	rel := &Relationship{
		ID:          uuid.New(),
		CanonicalID: uuid.New(),
		Version:     1,
		Type:        in.Type,
		SourceID:    in.SourceID,
		TargetID:    in.TargetID,
		Status:      in.Status,
		Properties:  in.Properties,
		Confidence:  in.Confidence,
		ContentHash: RelationshipContentHash(in.Type, in.SourceID.String(), in.TargetID.String(), in.Properties),
		BranchID:    in.BranchID,
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO graph_relationships (id, canonical_id, version, type, source_id, target_id,
			status, properties, confidence, content_hash, branch_id, created_at)
		VALUES ($1, $2, 1, $3, $4, $5, $6, $7, $8, $9, $10, now())
		RETURNING created_at`,
		rel.ID, rel.CanonicalID, rel.Type, rel.SourceID, rel.TargetID,
		rel.Status, rel.Properties, rel.Confidence, rel.ContentHash, rel.BranchID,
	)
	if err := row.Scan(&rel.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert relationship: %w", err)
	}
	return rel, nil
}

// AppendRelationshipVersion supersedes the head of a relationship lineage
// and inserts the next version, under the same row lock discipline as
// object appends.
func (s *Store) AppendRelationshipVersion(ctx context.Context, canonicalID uuid.UUID, in VersionInput) (*Relationship, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	head, err := scanRelationship(tx.QueryRow(ctx, `
		SELECT `+relationshipColumns+`
		FROM graph_relationships
		WHERE canonical_id = $1 AND superseded_at IS NULL
		FOR UPDATE`,
		canonicalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock head: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE graph_relationships SET superseded_at = $1 WHERE id = $2`,
		now, head.ID,
	); err != nil {
		return nil, fmt.Errorf("supersede head: %w", err)
	}

	if in.Status == "" {
		in.Status = head.Status
	}
	next := &Relationship{
		ID:          uuid.New(),
		CanonicalID: canonicalID,
		Version:     head.Version + 1,
		Type:        head.Type,
		SourceID:    head.SourceID,
		TargetID:    head.TargetID,
		Status:      in.Status,
		Properties:  in.Properties,
		Confidence:  in.Confidence,
		ContentHash: RelationshipContentHash(head.Type, head.SourceID.String(), head.TargetID.String(), in.Properties),
		BranchID:    head.BranchID,
		FoldedFrom:  in.FoldedFrom,
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO graph_relationships (id, canonical_id, version, type, source_id, target_id,
			status, properties, confidence, content_hash, branch_id, folded_from, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		RETURNING created_at`,
		next.ID, next.CanonicalID, next.Version, next.Type, next.SourceID, next.TargetID,
		next.Status, next.Properties, next.Confidence, next.ContentHash, next.BranchID,
		uuidStrings(next.FoldedFrom),
	)
	if err := row.Scan(&next.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// RetireRelationship closes a relationship lineage absorbed by a fold: the
// head is marked superseded with no successor, so the lineage stops
// answering live queries. The survivor records the fold in its folded_from.
func (s *Store) RetireRelationship(ctx context.Context, canonicalID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE graph_relationships SET superseded_at = now()
		WHERE canonical_id = $1 AND superseded_at IS NULL`,
		canonicalID,
	)
	if err != nil {
		return fmt.Errorf("retire relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RelationshipHead returns the live head matching (type, source, target) on
// a branch.
func (s *Store) RelationshipHead(ctx context.Context, branchID uuid.UUID, typ string, sourceID, targetID uuid.UUID) (*Relationship, error) {
	rel, err := scanRelationship(s.pool.QueryRow(ctx, `
		SELECT `+relationshipColumns+`
		FROM graph_relationships
		WHERE branch_id = $1 AND type = $2 AND source_id = $3 AND target_id = $4
			AND superseded_at IS NULL`,
		branchID, typ, sourceID, targetID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query head: %w", err)
	}
	return rel, nil
}

// RelationshipHeadsByBranch lists every live relationship head on a branch.
func (s *Store) RelationshipHeadsByBranch(ctx context.Context, branchID uuid.UUID) ([]Relationship, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+relationshipColumns+`
		FROM graph_relationships
		WHERE branch_id = $1 AND superseded_at IS NULL
		ORDER BY created_at, canonical_id`,
		branchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query heads: %w", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// RelationshipHistory returns every version of a relationship lineage,
// oldest first.
func (s *Store) RelationshipHistory(ctx context.Context, canonicalID uuid.UUID) ([]Relationship, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+relationshipColumns+`
		FROM graph_relationships
		WHERE canonical_id = $1
		ORDER BY version`,
		canonicalID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRelationship(row pgx.Row) (*Relationship, error) {
	var r Relationship
	var folded []string
	err := row.Scan(
		&r.ID, &r.CanonicalID, &r.Version, &r.Type, &r.SourceID, &r.TargetID,
		&r.Status, &r.Properties, &r.Confidence, &r.ContentHash, &r.BranchID,
		&folded, &r.SupersededAt, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.FoldedFrom, err = parseUUIDs(folded)
	if err != nil {
		return nil, fmt.Errorf("parse folded_from: %w", err)
	}
	return &r, nil
}
