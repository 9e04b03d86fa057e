package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const objectColumns = `id, canonical_id, version, type, natural_key, status,
	properties, confidence, content_hash, branch_id, folded_from, merged_hashes,
	superseded_at, deleted_at, created_at`

// NewObjectInput is the content of a version-1 object.
type NewObjectInput struct {
	Type       string
	NaturalKey string
	Status     Status
	Properties map[string]any
	Confidence float64
	BranchID   uuid.UUID
}

// VersionInput is the content of an appended version. Properties carry the
// full post-merge property map; the writer, not the store, decides how old
// and new properties combine.
type VersionInput struct {
	Status       Status
	Properties   map[string]any
	Confidence   float64
	FoldedFrom   []uuid.UUID
	MergedHashes []string
}

// CreateObject inserts version 1 of a new canonical lineage and returns it.
func (s *Store) CreateObject(ctx context.Context, in NewObjectInput) (*Object, error) {
	if in.Status == "" {
		in.Status = StatusDraft
	}
	obj := &Object{
		ID:          uuid.New(),
		CanonicalID: uuid.New(),
		Version:     1,
		Type:        in.Type,
		NaturalKey:  in.NaturalKey,
		Status:      in.Status,
		Properties:  in.Properties,
		Confidence:  in.Confidence,
		ContentHash: ContentHash(in.Type, in.NaturalKey, in.Properties),
		BranchID:    in.BranchID,
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO graph_objects (id, canonical_id, version, type, natural_key, status,
			properties, confidence, content_hash, branch_id, created_at)
		VALUES ($1, $2, 1, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING created_at`,
		obj.ID, obj.CanonicalID, obj.Type, obj.NaturalKey, obj.Status,
		obj.Properties, obj.Confidence, obj.ContentHash, obj.BranchID,
	)
	if err := row.Scan(&obj.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert object: %w", err)
	}
	return obj, nil
}

// AppendVersion supersedes the current head of a canonical lineage and
// inserts the next version row. The head row is locked for the duration of
// the transaction so concurrent appends to the same lineage serialize.
func (s *Store) AppendVersion(ctx context.Context, canonicalID uuid.UUID, in VersionInput) (*Object, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	head, err := scanObject(tx.QueryRow(ctx, `
		SELECT `+objectColumns+`
		FROM graph_objects
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
		UPDATE graph_objects SET superseded_at = $1 WHERE id = $2`,
		now, head.ID,
	); err != nil {
		return nil, fmt.Errorf("supersede head: %w", err)
	}

	if in.Status == "" {
		in.Status = head.Status
	}
	next := &Object{
		ID:           uuid.New(),
		CanonicalID:  canonicalID,
		Version:      head.Version + 1,
		Type:         head.Type,
		NaturalKey:   head.NaturalKey,
		Status:       in.Status,
		Properties:   in.Properties,
		Confidence:   in.Confidence,
		ContentHash:  ContentHash(head.Type, head.NaturalKey, in.Properties),
		BranchID:     head.BranchID,
		FoldedFrom:   in.FoldedFrom,
		MergedHashes: in.MergedHashes,
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO graph_objects (id, canonical_id, version, type, natural_key, status,
			properties, confidence, content_hash, branch_id, folded_from, merged_hashes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		RETURNING created_at`,
		next.ID, next.CanonicalID, next.Version, next.Type, next.NaturalKey, next.Status,
		next.Properties, next.Confidence, next.ContentHash, next.BranchID,
		uuidStrings(next.FoldedFrom), next.MergedHashes,
	)
	if err := row.Scan(&next.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// DeleteObject appends a tombstone version. The lineage survives and can be
// restored.
func (s *Store) DeleteObject(ctx context.Context, canonicalID uuid.UUID) (*Object, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	head, err := scanObject(tx.QueryRow(ctx, `
		SELECT `+objectColumns+`
		FROM graph_objects
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
	if head.DeletedAt != nil {
		return nil, ErrDeleted
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE graph_objects SET superseded_at = $1 WHERE id = $2`,
		now, head.ID,
	); err != nil {
		return nil, fmt.Errorf("supersede head: %w", err)
	}
	next := *head
	next.ID = uuid.New()
	next.Version = head.Version + 1
	next.SupersededAt = nil
	next.DeletedAt = &now
	row := tx.QueryRow(ctx, `
		INSERT INTO graph_objects (id, canonical_id, version, type, natural_key, status,
			properties, confidence, content_hash, branch_id, deleted_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		RETURNING created_at`,
		next.ID, next.CanonicalID, next.Version, next.Type, next.NaturalKey, next.Status,
		next.Properties, next.Confidence, next.ContentHash, next.BranchID, now,
	)
	if err := row.Scan(&next.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert tombstone: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &next, nil
}

// RetireObject closes a lineage absorbed by a fold: it appends a tombstone
// version whose folded_from records the surviving lineage, so the head stops
// answering live queries and history shows where the content went.
func (s *Store) RetireObject(ctx context.Context, canonicalID, survivorID uuid.UUID) (*Object, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	head, err := scanObject(tx.QueryRow(ctx, `
		SELECT `+objectColumns+`
		FROM graph_objects
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
	if head.DeletedAt != nil {
		return head, nil
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE graph_objects SET superseded_at = $1 WHERE id = $2`,
		now, head.ID,
	); err != nil {
		return nil, fmt.Errorf("supersede head: %w", err)
	}
	next := *head
	next.ID = uuid.New()
	next.Version = head.Version + 1
	next.SupersededAt = nil
	next.DeletedAt = &now
	next.FoldedFrom = []uuid.UUID{survivorID}
	row := tx.QueryRow(ctx, `
		INSERT INTO graph_objects (id, canonical_id, version, type, natural_key, status,
			properties, confidence, content_hash, branch_id, folded_from, deleted_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		RETURNING created_at`,
		next.ID, next.CanonicalID, next.Version, next.Type, next.NaturalKey, next.Status,
		next.Properties, next.Confidence, next.ContentHash, next.BranchID,
		uuidStrings(next.FoldedFrom), now,
	)
	if err := row.Scan(&next.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert retirement: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &next, nil
}

// RestoreObject appends a live version after a tombstone, carrying the last
// live content forward.
func (s *Store) RestoreObject(ctx context.Context, canonicalID uuid.UUID) (*Object, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	head, err := scanObject(tx.QueryRow(ctx, `
		SELECT `+objectColumns+`
		FROM graph_objects
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
	if head.DeletedAt == nil {
		return head, nil
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE graph_objects SET superseded_at = $1 WHERE id = $2`,
		now, head.ID,
	); err != nil {
		return nil, fmt.Errorf("supersede tombstone: %w", err)
	}
	next := *head
	next.ID = uuid.New()
	next.Version = head.Version + 1
	next.SupersededAt = nil
	next.DeletedAt = nil
	row := tx.QueryRow(ctx, `
		INSERT INTO graph_objects (id, canonical_id, version, type, natural_key, status,
			properties, confidence, content_hash, branch_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		RETURNING created_at`,
		next.ID, next.CanonicalID, next.Version, next.Type, next.NaturalKey, next.Status,
		next.Properties, next.Confidence, next.ContentHash, next.BranchID,
	)
	if err := row.Scan(&next.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert restored version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &next, nil
}

// HeadByNaturalKey returns the live head matching (type, natural key) on a
// branch. Tombstoned heads are reported as ErrDeleted so callers can decide
// whether deletion counts as absence.
func (s *Store) HeadByNaturalKey(ctx context.Context, branchID uuid.UUID, typ, naturalKey string) (*Object, error) {
	obj, err := scanObject(s.pool.QueryRow(ctx, `
		SELECT `+objectColumns+`
		FROM graph_objects
		WHERE branch_id = $1 AND type = $2 AND natural_key = $3 AND superseded_at IS NULL`,
		branchID, typ, naturalKey,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query head: %w", err)
	}
	if obj.DeletedAt != nil {
		return obj, ErrDeleted
	}
	return obj, nil
}

// HeadByCanonicalID returns the live head of a lineage regardless of branch.
func (s *Store) HeadByCanonicalID(ctx context.Context, canonicalID uuid.UUID) (*Object, error) {
	obj, err := scanObject(s.pool.QueryRow(ctx, `
		SELECT `+objectColumns+`
		FROM graph_objects
		WHERE canonical_id = $1 AND superseded_at IS NULL`,
		canonicalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query head: %w", err)
	}
	return obj, nil
}

// HeadsByType lists live, non-tombstoned heads of one type on a branch.
func (s *Store) HeadsByType(ctx context.Context, branchID uuid.UUID, typ string) ([]Object, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+objectColumns+`
		FROM graph_objects
		WHERE branch_id = $1 AND type = $2 AND superseded_at IS NULL AND deleted_at IS NULL
		ORDER BY created_at, canonical_id`,
		branchID, typ,
	)
	if err != nil {
		return nil, fmt.Errorf("query heads: %w", err)
	}
	defer rows.Close()
	return collectObjects(rows)
}

// HeadsByBranch lists every live, non-tombstoned head on a branch.
func (s *Store) HeadsByBranch(ctx context.Context, branchID uuid.UUID) ([]Object, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+objectColumns+`
		FROM graph_objects
		WHERE branch_id = $1 AND superseded_at IS NULL AND deleted_at IS NULL
		ORDER BY created_at, canonical_id`,
		branchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query heads: %w", err)
	}
	defer rows.Close()
	return collectObjects(rows)
}

// HeadsByKey lists live, non-tombstoned heads matching a natural key on a
// branch regardless of type. Used to resolve relationship endpoints, where
// the extracted key carries no type.
func (s *Store) HeadsByKey(ctx context.Context, branchID uuid.UUID, naturalKey string) ([]Object, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+objectColumns+`
		FROM graph_objects
		WHERE branch_id = $1 AND natural_key = $2 AND superseded_at IS NULL AND deleted_at IS NULL
		ORDER BY created_at, canonical_id`,
		branchID, naturalKey,
	)
	if err != nil {
		return nil, fmt.Errorf("query heads: %w", err)
	}
	defer rows.Close()
	return collectObjects(rows)
}

// History returns every version of a lineage, oldest first.
func (s *Store) History(ctx context.Context, canonicalID uuid.UUID) ([]Object, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+objectColumns+`
		FROM graph_objects
		WHERE canonical_id = $1
		ORDER BY version`,
		canonicalID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	return collectObjects(rows)
}

func scanObject(row pgx.Row) (*Object, error) {
	var o Object
	var folded []string
	err := row.Scan(
		&o.ID, &o.CanonicalID, &o.Version, &o.Type, &o.NaturalKey, &o.Status,
		&o.Properties, &o.Confidence, &o.ContentHash, &o.BranchID, &folded,
		&o.MergedHashes, &o.SupersededAt, &o.DeletedAt, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.FoldedFrom, err = parseUUIDs(folded)
	if err != nil {
		return nil, fmt.Errorf("parse folded_from: %w", err)
	}
	return &o, nil
}

func collectObjects(rows pgx.Rows) ([]Object, error) {
	var out []Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(ss []string) ([]uuid.UUID, error) {
	if len(ss) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, len(ss))
	for i, s := range ss {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
