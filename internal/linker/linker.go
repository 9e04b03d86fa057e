// Package linker resolves extraction candidates into the versioned graph:
// exact natural-key matches and near-duplicates merge into an existing
// canonical lineage, everything else starts a new one.
package linker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/graph"
	"github.com/loomworks/loom/internal/llm"
)

// ErrEndpointMissing is returned when a relationship candidate names an
// endpoint that resolves to no graph object. Callers defer these and retry
// once against the final object set.
var ErrEndpointMissing = errors.New("linker: relationship endpoint not found")

// Default similarity bands. At or above matchThreshold a same-type head is
// treated as the same logical entity; between suggestThreshold and
// matchThreshold the candidate still becomes a new object but the possible
// duplicate is surfaced as a suggestion.
const (
	defaultMatchThreshold   = 0.85
	defaultSuggestThreshold = 0.5
)

// GraphStore is the slice of the graph store the linker needs.
type GraphStore interface {
	HeadByNaturalKey(ctx context.Context, branchID uuid.UUID, typ, naturalKey string) (*graph.Object, error)
	HeadsByType(ctx context.Context, branchID uuid.UUID, typ string) ([]graph.Object, error)
	HeadsByKey(ctx context.Context, branchID uuid.UUID, naturalKey string) ([]graph.Object, error)
	CreateObject(ctx context.Context, in graph.NewObjectInput) (*graph.Object, error)
	AppendVersion(ctx context.Context, canonicalID uuid.UUID, in graph.VersionInput) (*graph.Object, error)
	RelationshipHead(ctx context.Context, branchID uuid.UUID, typ string, sourceID, targetID uuid.UUID) (*graph.Relationship, error)
	CreateRelationship(ctx context.Context, in graph.NewRelationshipInput) (*graph.Relationship, error)
	AppendRelationshipVersion(ctx context.Context, canonicalID uuid.UUID, in graph.VersionInput) (*graph.Relationship, error)
}

type Linker struct {
	store            GraphStore
	logger           *slog.Logger
	matchThreshold   float64
	suggestThreshold float64
}

func New(store GraphStore, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{
		store:            store,
		logger:           logger,
		matchThreshold:   defaultMatchThreshold,
		suggestThreshold: defaultSuggestThreshold,
	}
}

// EntityResult reports how a candidate landed in the graph.
type EntityResult struct {
	Object *graph.Object
	// Created is true when a new canonical lineage was started.
	Created bool
	// SuggestedMatch is set when the candidate was created as new but a
	// same-type head scored in the suggestion band.
	SuggestedMatch *graph.Object
	// Similarity of the suggested match, when present.
	Similarity float64
}

// LinkEntity resolves one scored candidate. Exact (type, natural key) match
// wins; otherwise same-type heads are compared by normalized-name overlap.
// A match receives the candidate's properties additively as a new version;
// no match starts version 1 under a fresh canonical id.
func (l *Linker) LinkEntity(ctx context.Context, cand llm.CandidateEntity, score float64, status graph.Status, branchID uuid.UUID) (*EntityResult, error) {
	head, err := l.store.HeadByNaturalKey(ctx, branchID, cand.Type, cand.NaturalKey)
	switch {
	case err == nil:
		obj, err := l.mergeInto(ctx, head, cand.Properties, score, status)
		if err != nil {
			return nil, err
		}
		return &EntityResult{Object: obj}, nil
	case errors.Is(err, graph.ErrNotFound), errors.Is(err, graph.ErrDeleted):
		// fall through to similarity search
	default:
		return nil, fmt.Errorf("lookup by natural key: %w", err)
	}

	match, suggestion, sim, err := l.bestSimilar(ctx, branchID, cand)
	if err != nil {
		return nil, err
	}
	if match != nil {
		l.logger.Debug("similarity match",
			"type", cand.Type, "candidate", cand.NaturalKey,
			"matched", match.NaturalKey, "similarity", sim)
		obj, err := l.mergeInto(ctx, match, cand.Properties, score, status)
		if err != nil {
			return nil, err
		}
		return &EntityResult{Object: obj, Similarity: sim}, nil
	}

	obj, err := l.store.CreateObject(ctx, graph.NewObjectInput{
		Type:       cand.Type,
		NaturalKey: cand.NaturalKey,
		Status:     status,
		Properties: cand.Properties,
		Confidence: score,
		BranchID:   branchID,
	})
	if err != nil {
		return nil, fmt.Errorf("create object: %w", err)
	}
	return &EntityResult{Object: obj, Created: true, SuggestedMatch: suggestion, Similarity: sim}, nil
}

// bestSimilar scans same-type heads for the strongest name overlap. Returns
// a definite match, or a suggestion-band head, or neither.
func (l *Linker) bestSimilar(ctx context.Context, branchID uuid.UUID, cand llm.CandidateEntity) (match, suggestion *graph.Object, sim float64, err error) {
	heads, err := l.store.HeadsByType(ctx, branchID, cand.Type)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("list heads by type: %w", err)
	}
	candName := displayName(cand.Properties, cand.NaturalKey)
	var best *graph.Object
	var bestSim float64
	for i := range heads {
		h := &heads[i]
		s := nameSimilarity(candName, displayName(h.Properties, h.NaturalKey))
		if s > bestSim {
			best, bestSim = h, s
		}
	}
	switch {
	case best == nil || bestSim < l.suggestThreshold:
		return nil, nil, 0, nil
	case bestSim >= l.matchThreshold:
		return best, nil, bestSim, nil
	default:
		return nil, best, bestSim, nil
	}
}

// mergeInto appends a new version carrying the additive property merge:
// candidate values fill gaps, and replace existing non-null values only
// when the candidate scored at least as high as the stored head.
func (l *Linker) mergeInto(ctx context.Context, head *graph.Object, props map[string]any, score float64, status graph.Status) (*graph.Object, error) {
	merged := make(map[string]any, len(head.Properties)+len(props))
	for k, v := range head.Properties {
		merged[k] = v
	}
	for k, v := range props {
		existing, ok := merged[k]
		if !ok || existing == nil || score >= head.Confidence {
			merged[k] = v
		}
	}
	obj, err := l.store.AppendVersion(ctx, head.CanonicalID, graph.VersionInput{
		Status:     mergeStatus(head.Status, status),
		Properties: merged,
		Confidence: max(head.Confidence, score),
	})
	if err != nil {
		return nil, fmt.Errorf("append version: %w", err)
	}
	return obj, nil
}

// mergeStatus upgrades draft to accepted but never downgrades, and leaves
// rejected lineages rejected.
func mergeStatus(existing, incoming graph.Status) graph.Status {
	if existing == graph.StatusRejected {
		return graph.StatusRejected
	}
	if existing == graph.StatusAccepted || incoming == graph.StatusAccepted {
		return graph.StatusAccepted
	}
	return graph.StatusDraft
}

// RelationshipResult reports how a relationship candidate landed.
type RelationshipResult struct {
	Relationship *graph.Relationship
	Created      bool
}

// Session tracks the objects linked during one job so relationship
// endpoints can resolve to them before the branch is queried. Entries are
// identified by (type, natural key); bare-key resolution returns the
// earliest-linked entry, matching the store's earliest-created head order.
type Session struct {
	entries []sessionEntry
	index   map[string]int // "type|key" -> entries position
}

type sessionEntry struct {
	typ, key    string
	canonicalID uuid.UUID
}

func NewSession() *Session {
	return &Session{index: make(map[string]int)}
}

// Put records a linked object. Re-linking the same (type, key) updates the
// entry in place; a same-key object of another type gets its own slot.
func (s *Session) Put(typ, key string, canonicalID uuid.UUID) {
	k := typ + "|" + key
	if i, ok := s.index[k]; ok {
		s.entries[i].canonicalID = canonicalID
		return
	}
	s.index[k] = len(s.entries)
	s.entries = append(s.entries, sessionEntry{typ: typ, key: key, canonicalID: canonicalID})
}

// Resolve returns the earliest-linked object matching a bare natural key.
func (s *Session) Resolve(key string) (uuid.UUID, bool) {
	if s == nil {
		return uuid.Nil, false
	}
	for _, e := range s.entries {
		if e.key == key {
			return e.canonicalID, true
		}
	}
	return uuid.Nil, false
}

// LinkRelationship resolves both endpoints and links the relationship.
// Endpoints resolve first through the session (objects linked earlier in
// the same job), then through the branch's live heads. An unresolvable
// endpoint returns ErrEndpointMissing.
func (l *Linker) LinkRelationship(ctx context.Context, cand llm.CandidateRelationship, score float64, status graph.Status, branchID uuid.UUID, session *Session) (*RelationshipResult, error) {
	sourceID, err := l.resolveEndpoint(ctx, branchID, cand.SourceKey, session)
	if err != nil {
		return nil, err
	}
	targetID, err := l.resolveEndpoint(ctx, branchID, cand.TargetKey, session)
	if err != nil {
		return nil, err
	}

	head, err := l.store.RelationshipHead(ctx, branchID, cand.Type, sourceID, targetID)
	switch {
	case err == nil:
		merged := make(map[string]any, len(head.Properties)+len(cand.Properties))
		for k, v := range head.Properties {
			merged[k] = v
		}
		for k, v := range cand.Properties {
			existing, ok := merged[k]
			if !ok || existing == nil || score >= head.Confidence {
				merged[k] = v
			}
		}
		rel, err := l.store.AppendRelationshipVersion(ctx, head.CanonicalID, graph.VersionInput{
			Status:     mergeStatus(head.Status, status),
			Properties: merged,
			Confidence: max(head.Confidence, score),
		})
		if err != nil {
			return nil, fmt.Errorf("append relationship version: %w", err)
		}
		return &RelationshipResult{Relationship: rel}, nil
	case errors.Is(err, graph.ErrNotFound):
	default:
		return nil, fmt.Errorf("lookup relationship head: %w", err)
	}

	rel, err := l.store.CreateRelationship(ctx, graph.NewRelationshipInput{
		Type:       cand.Type,
		SourceID:   sourceID,
		TargetID:   targetID,
		Status:     status,
		Properties: cand.Properties,
		Confidence: score,
		BranchID:   branchID,
	})
	if err != nil {
		return nil, fmt.Errorf("create relationship: %w", err)
	}
	return &RelationshipResult{Relationship: rel, Created: true}, nil
}

func (l *Linker) resolveEndpoint(ctx context.Context, branchID uuid.UUID, naturalKey string, session *Session) (uuid.UUID, error) {
	if id, ok := session.Resolve(naturalKey); ok {
		return id, nil
	}
	heads, err := l.store.HeadsByKey(ctx, branchID, naturalKey)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve endpoint %q: %w", naturalKey, err)
	}
	if len(heads) == 0 {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrEndpointMissing, naturalKey)
	}
	return heads[0].CanonicalID, nil
}
