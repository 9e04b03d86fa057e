package graph

import (
	"testing"

	"github.com/google/uuid"
)

func TestContentHash_Stable(t *testing.T) {
	a := ContentHash("Person", "jane.doe@example.com", map[string]any{"name": "Jane", "role": "CTO"})
	b := ContentHash("Person", "jane.doe@example.com", map[string]any{"role": "CTO", "name": "Jane"})
	if a != b {
		t.Errorf("hash should be independent of map iteration order: %s != %s", a, b)
	}
}

func TestContentHash_SensitiveToContent(t *testing.T) {
	base := ContentHash("Person", "jane.doe@example.com", map[string]any{"name": "Jane"})
	tests := []struct {
		name string
		typ  string
		key  string
		prop map[string]any
	}{
		{"different type", "Company", "jane.doe@example.com", map[string]any{"name": "Jane"}},
		{"different key", "Person", "john.doe@example.com", map[string]any{"name": "Jane"}},
		{"different value", "Person", "jane.doe@example.com", map[string]any{"name": "Janet"}},
		{"extra property", "Person", "jane.doe@example.com", map[string]any{"name": "Jane", "role": "CTO"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContentHash(tt.typ, tt.key, tt.prop); got == base {
				t.Errorf("expected different hash for %s", tt.name)
			}
		})
	}
}

func TestHead_IdentityKey(t *testing.T) {
	src, tgt := uuid.New(), uuid.New()
	obj := Head{Kind: KindObject, Type: "Person", NaturalKey: "jane.doe@example.com"}
	rel := Head{Kind: KindRelationship, Type: "works_at", SourceID: src, TargetID: tgt}

	if obj.IdentityKey() != "o|Person|jane.doe@example.com" {
		t.Errorf("unexpected object key %q", obj.IdentityKey())
	}
	want := "r|works_at|" + src.String() + "|" + tgt.String()
	if rel.IdentityKey() != want {
		t.Errorf("unexpected relationship key %q", rel.IdentityKey())
	}

	// Same type and key on different branches still pair.
	other := Head{Kind: KindObject, Type: "Person", NaturalKey: "jane.doe@example.com", BranchID: uuid.New()}
	if obj.IdentityKey() != other.IdentityKey() {
		t.Error("identity key must not depend on branch")
	}
}

func TestHead_CrossReferences(t *testing.T) {
	a := Head{CanonicalID: uuid.New()}
	b := Head{CanonicalID: uuid.New()}
	if a.CrossReferences(b) {
		t.Error("independent heads should not cross-reference")
	}

	b.FoldedFrom = []uuid.UUID{a.CanonicalID}
	if !a.CrossReferences(b) {
		t.Error("b folded a's lineage in; should cross-reference")
	}
	if !b.CrossReferences(a) {
		t.Error("cross-reference must be symmetric")
	}
}
