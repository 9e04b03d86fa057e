package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/graph"
)

// Store is the slice of the graph store the reconciler needs.
type Store interface {
	BranchHeads(ctx context.Context, branchID uuid.UUID) ([]graph.Head, error)
	AppendVersion(ctx context.Context, canonicalID uuid.UUID, in graph.VersionInput) (*graph.Object, error)
	AppendRelationshipVersion(ctx context.Context, canonicalID uuid.UUID, in graph.VersionInput) (*graph.Relationship, error)
	RetireObject(ctx context.Context, canonicalID, survivorID uuid.UUID) (*graph.Object, error)
	RetireRelationship(ctx context.Context, canonicalID uuid.UUID) error
}

type Reconciler struct {
	store  Store
	logger *slog.Logger
}

func NewReconciler(store Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, logger: logger}
}

// Result summarizes one reconciliation run.
type Result struct {
	Pairings int `json:"pairings"`
	Folded   int `json:"folded"`
	// UnpairedA and UnpairedB count heads left untouched on each side.
	UnpairedA int `json:"unpaired_a"`
	UnpairedB int `json:"unpaired_b"`
}

// Reconcile pairs the two branches' heads and folds each pairing into the
// survivor lineage. The fold version carries the union of both sides'
// properties, the absorbed canonical id in folded_from, and both content
// hashes; the absorbed head is then retired so exactly one live head
// remains per identity. Unpaired heads are never touched. Re-running after
// a partial failure completes only the pairs that did not finish: retired
// heads no longer pair, and a survivor that already cross-references the
// absorbed lineage skips the version append.
func (r *Reconciler) Reconcile(ctx context.Context, branchA, branchB uuid.UUID) (*Result, error) {
	headsA, err := r.store.BranchHeads(ctx, branchA)
	if err != nil {
		return nil, fmt.Errorf("heads of branch %s: %w", branchA, err)
	}
	headsB, err := r.store.BranchHeads(ctx, branchB)
	if err != nil {
		return nil, fmt.Errorf("heads of branch %s: %w", branchB, err)
	}

	pairings := Pair(headsA, headsB)
	res := &Result{
		Pairings:  len(pairings),
		UnpairedA: len(headsA) - len(pairings),
		UnpairedB: len(headsB) - len(pairings),
	}

	for _, p := range pairings {
		if err := r.fold(ctx, p); err != nil {
			return res, fmt.Errorf("fold %s: %w", p.A.IdentityKey(), err)
		}
		res.Folded++
	}

	r.logger.Info("branches reconciled",
		"branch_a", branchA, "branch_b", branchB,
		"pairings", res.Pairings, "folded", res.Folded)
	return res, nil
}

func (r *Reconciler) fold(ctx context.Context, p Pairing) error {
	survivor, absorbed := Survivor(p)

	// A survivor that already cross-references the absorbed lineage is an
	// interrupted fold: the version append landed, only the retirement is
	// outstanding.
	if !survivor.CrossReferences(absorbed) {
		merged := make(map[string]any, len(survivor.Properties)+len(absorbed.Properties))
		for k, v := range survivor.Properties {
			merged[k] = v
		}
		for k, v := range absorbed.Properties {
			existing, ok := merged[k]
			// Gaps fill from the absorbed side; conflicts resolve by
			// confidence, survivor winning ties.
			if !ok || existing == nil || absorbed.Confidence > survivor.Confidence {
				merged[k] = v
			}
		}

		in := graph.VersionInput{
			Status:       foldStatus(survivor.Status, absorbed.Status),
			Properties:   merged,
			Confidence:   max(survivor.Confidence, absorbed.Confidence),
			FoldedFrom:   appendUnique(survivor.FoldedFrom, absorbed.CanonicalID),
			MergedHashes: []string{survivor.ContentHash, absorbed.ContentHash},
		}

		var err error
		if survivor.Kind == graph.KindRelationship {
			_, err = r.store.AppendRelationshipVersion(ctx, survivor.CanonicalID, in)
		} else {
			_, err = r.store.AppendVersion(ctx, survivor.CanonicalID, in)
		}
		if err != nil {
			return err
		}
	}

	if absorbed.Kind == graph.KindRelationship {
		if err := r.store.RetireRelationship(ctx, absorbed.CanonicalID); err != nil && !errors.Is(err, graph.ErrNotFound) {
			return fmt.Errorf("retire %s: %w", absorbed.CanonicalID, err)
		}
	} else {
		if _, err := r.store.RetireObject(ctx, absorbed.CanonicalID, survivor.CanonicalID); err != nil && !errors.Is(err, graph.ErrNotFound) {
			return fmt.Errorf("retire %s: %w", absorbed.CanonicalID, err)
		}
	}

	r.logger.Debug("heads folded",
		"identity", survivor.IdentityKey(),
		"survivor", survivor.CanonicalID, "absorbed", absorbed.CanonicalID)
	return nil
}

func foldStatus(a, b graph.Status) graph.Status {
	if a == graph.StatusAccepted || b == graph.StatusAccepted {
		return graph.StatusAccepted
	}
	if a == graph.StatusRejected && b == graph.StatusRejected {
		return graph.StatusRejected
	}
	return graph.StatusDraft
}

func appendUnique(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	out := make([]uuid.UUID, 0, len(ids)+1)
	out = append(out, ids...)
	return append(out, id)
}
