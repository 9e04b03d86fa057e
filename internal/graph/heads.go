package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// BranchHeads returns every live object and relationship head on a branch
// as the uniform merge-time view.
func (s *Store) BranchHeads(ctx context.Context, branchID uuid.UUID) ([]Head, error) {
	objs, err := s.HeadsByBranch(ctx, branchID)
	if err != nil {
		return nil, fmt.Errorf("object heads: %w", err)
	}
	rels, err := s.RelationshipHeadsByBranch(ctx, branchID)
	if err != nil {
		return nil, fmt.Errorf("relationship heads: %w", err)
	}
	out := make([]Head, 0, len(objs)+len(rels))
	for _, o := range objs {
		out = append(out, o.Head())
	}
	for _, r := range rels {
		out = append(out, r.Head())
	}
	return out, nil
}

// Head projects an object version row into the merge-time view.
func (o Object) Head() Head {
	return Head{
		Kind:        KindObject,
		ID:          o.ID,
		CanonicalID: o.CanonicalID,
		Version:     o.Version,
		Type:        o.Type,
		NaturalKey:  o.NaturalKey,
		Status:      o.Status,
		Properties:  o.Properties,
		Confidence:  o.Confidence,
		ContentHash: o.ContentHash,
		BranchID:    o.BranchID,
		FoldedFrom:  o.FoldedFrom,
		CreatedAt:   o.CreatedAt,
	}
}

// Head projects a relationship version row into the merge-time view.
func (r Relationship) Head() Head {
	return Head{
		Kind:        KindRelationship,
		ID:          r.ID,
		CanonicalID: r.CanonicalID,
		Version:     r.Version,
		Type:        r.Type,
		SourceID:    r.SourceID,
		TargetID:    r.TargetID,
		Status:      r.Status,
		Properties:  r.Properties,
		Confidence:  r.Confidence,
		ContentHash: r.ContentHash,
		BranchID:    r.BranchID,
		FoldedFrom:  r.FoldedFrom,
		CreatedAt:   r.CreatedAt,
	}
}
