package graph

import (
	"time"

	"github.com/google/uuid"
)

// Status of a graph object version.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Kind distinguishes entity heads from relationship heads in merge-time
// views.
type Kind string

const (
	KindObject       Kind = "object"
	KindRelationship Kind = "relationship"
)

// Object is one version row of a versioned graph entity. Exactly one row
// exists per (canonical_id, version); the head of a canonical id is the
// highest version that is not superseded. Rows are never deleted, only
// superseded or marked rejected.
type Object struct {
	ID          uuid.UUID      `json:"id"`
	CanonicalID uuid.UUID      `json:"canonical_id"`
	Version     int            `json:"version"`
	Type        string         `json:"type"`
	NaturalKey  string         `json:"natural_key"`
	Status      Status         `json:"status"`
	Properties  map[string]any `json:"properties"`
	Confidence  float64        `json:"confidence"`
	ContentHash string         `json:"content_hash"`
	BranchID    uuid.UUID      `json:"branch_id"`
	// FoldedFrom carries the canonical ids merged into this lineage by
	// branch reconciliation; the cross-reference that prevents re-pairing.
	FoldedFrom []uuid.UUID `json:"folded_from,omitempty"`
	// MergedHashes carries both branches' content hashes on a fold version.
	MergedHashes []string   `json:"merged_hashes,omitempty"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Relationship is one version row of a versioned graph relationship,
// identified by (type, source, target) canonical ids.
type Relationship struct {
	ID           uuid.UUID      `json:"id"`
	CanonicalID  uuid.UUID      `json:"canonical_id"`
	Version      int            `json:"version"`
	Type         string         `json:"type"`
	SourceID     uuid.UUID      `json:"source_id"` // canonical id of the source object
	TargetID     uuid.UUID      `json:"target_id"` // canonical id of the target object
	Status       Status         `json:"status"`
	Properties   map[string]any `json:"properties"`
	Confidence   float64        `json:"confidence"`
	ContentHash  string         `json:"content_hash"`
	BranchID     uuid.UUID      `json:"branch_id"`
	FoldedFrom   []uuid.UUID    `json:"folded_from,omitempty"`
	SupersededAt *time.Time     `json:"superseded_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Branch is an independently-evolving version history scoped to a project.
type Branch struct {
	ID             uuid.UUID  `json:"id"`
	ProjectID      *uuid.UUID `json:"project_id,omitempty"`
	Name           string     `json:"name"`
	ParentBranchID *uuid.UUID `json:"parent_branch_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Head is the merge-time view of a current version row, uniform across
// objects and relationships so the reconciler can pair either kind.
type Head struct {
	Kind        Kind
	ID          uuid.UUID
	CanonicalID uuid.UUID
	Version     int
	Type        string
	NaturalKey  string    // objects only
	SourceID    uuid.UUID // relationships only
	TargetID    uuid.UUID // relationships only
	Status      Status
	Properties  map[string]any
	Confidence  float64
	ContentHash string
	BranchID    uuid.UUID
	FoldedFrom  []uuid.UUID
	CreatedAt   time.Time
}

// IdentityKey is the pairing key used by branch reconciliation:
// (type, natural key) for objects, (type, source, target) for relationships.
func (h Head) IdentityKey() string {
	if h.Kind == KindRelationship {
		return "r|" + h.Type + "|" + h.SourceID.String() + "|" + h.TargetID.String()
	}
	return "o|" + h.Type + "|" + h.NaturalKey
}

// CrossReferences reports whether either head's lineage already folded the
// other's in, meaning they are not independent creations.
func (h Head) CrossReferences(other Head) bool {
	for _, c := range h.FoldedFrom {
		if c == other.CanonicalID {
			return true
		}
	}
	for _, c := range other.FoldedFrom {
		if c == h.CanonicalID {
			return true
		}
	}
	return false
}
