package linker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/graph"
	"github.com/loomworks/loom/internal/llm"
)

// fakeStore is an in-memory GraphStore keeping only head rows plus a
// version counter, which is all the linker observes.
type fakeStore struct {
	objects       map[uuid.UUID]*graph.Object // by canonical id
	relationships map[uuid.UUID]*graph.Relationship
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:       make(map[uuid.UUID]*graph.Object),
		relationships: make(map[uuid.UUID]*graph.Relationship),
	}
}

func (f *fakeStore) HeadByNaturalKey(_ context.Context, branchID uuid.UUID, typ, key string) (*graph.Object, error) {
	for _, o := range f.objects {
		if o.BranchID == branchID && o.Type == typ && o.NaturalKey == key {
			return o, nil
		}
	}
	return nil, graph.ErrNotFound
}

func (f *fakeStore) HeadsByType(_ context.Context, branchID uuid.UUID, typ string) ([]graph.Object, error) {
	var out []graph.Object
	for _, o := range f.objects {
		if o.BranchID == branchID && o.Type == typ {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) HeadsByKey(_ context.Context, branchID uuid.UUID, key string) ([]graph.Object, error) {
	var out []graph.Object
	for _, o := range f.objects {
		if o.BranchID == branchID && o.NaturalKey == key {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateObject(_ context.Context, in graph.NewObjectInput) (*graph.Object, error) {
	o := &graph.Object{
		ID:          uuid.New(),
		CanonicalID: uuid.New(),
		Version:     1,
		Type:        in.Type,
		NaturalKey:  in.NaturalKey,
		Status:      in.Status,
		Properties:  in.Properties,
		Confidence:  in.Confidence,
		BranchID:    in.BranchID,
		CreatedAt:   time.Now(),
	}
	f.objects[o.CanonicalID] = o
	return o, nil
}

func (f *fakeStore) AppendVersion(_ context.Context, canonicalID uuid.UUID, in graph.VersionInput) (*graph.Object, error) {
	head, ok := f.objects[canonicalID]
	if !ok {
		return nil, graph.ErrNotFound
	}
	next := *head
	next.ID = uuid.New()
	next.Version++
	next.Status = in.Status
	next.Properties = in.Properties
	next.Confidence = in.Confidence
	f.objects[canonicalID] = &next
	return &next, nil
}

func (f *fakeStore) RelationshipHead(_ context.Context, branchID uuid.UUID, typ string, src, tgt uuid.UUID) (*graph.Relationship, error) {
	for _, r := range f.relationships {
		if r.BranchID == branchID && r.Type == typ && r.SourceID == src && r.TargetID == tgt {
			return r, nil
		}
	}
	return nil, graph.ErrNotFound
}

func (f *fakeStore) CreateRelationship(_ context.Context, in graph.NewRelationshipInput) (*graph.Relationship, error) {
	r := &graph.Relationship{
		ID:          uuid.New(),
		CanonicalID: uuid.New(),
		Version:     1,
		Type:        in.Type,
		SourceID:    in.SourceID,
		TargetID:    in.TargetID,
		Status:      in.Status,
		Properties:  in.Properties,
		Confidence:  in.Confidence,
		BranchID:    in.BranchID,
	}
	f.relationships[r.CanonicalID] = r
	return r, nil
}

func (f *fakeStore) AppendRelationshipVersion(_ context.Context, canonicalID uuid.UUID, in graph.VersionInput) (*graph.Relationship, error) {
	head, ok := f.relationships[canonicalID]
	if !ok {
		return nil, graph.ErrNotFound
	}
	next := *head
	next.ID = uuid.New()
	next.Version++
	next.Status = in.Status
	next.Properties = in.Properties
	next.Confidence = in.Confidence
	f.relationships[canonicalID] = &next
	return &next, nil
}

func TestLinkEntity_CreatesWhenNoMatch(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)
	branch := uuid.New()

	res, err := l.LinkEntity(context.Background(), llm.CandidateEntity{
		Type:       "Person",
		NaturalKey: "jane.doe@example.com",
		Properties: map[string]any{"name": "Jane Doe"},
	}, 0.9, graph.StatusAccepted, branch)
	if err != nil {
		t.Fatalf("LinkEntity failed: %v", err)
	}
	if !res.Created {
		t.Error("expected a new object")
	}
	if res.Object.Version != 1 {
		t.Errorf("new object should be version 1, got %d", res.Object.Version)
	}
	if res.Object.Status != graph.StatusAccepted {
		t.Errorf("expected accepted, got %s", res.Object.Status)
	}
}

func TestLinkEntity_ExactMatchMergesAdditively(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)
	branch := uuid.New()
	ctx := context.Background()

	first, err := l.LinkEntity(ctx, llm.CandidateEntity{
		Type:       "Person",
		NaturalKey: "jane.doe@example.com",
		Properties: map[string]any{"name": "Jane Doe", "role": "CTO"},
	}, 0.9, graph.StatusAccepted, branch)
	if err != nil {
		t.Fatalf("first link failed: %v", err)
	}

	second, err := l.LinkEntity(ctx, llm.CandidateEntity{
		Type:       "Person",
		NaturalKey: "jane.doe@example.com",
		Properties: map[string]any{"role": "intern", "location": "Berlin"},
	}, 0.4, graph.StatusDraft, branch)
	if err != nil {
		t.Fatalf("second link failed: %v", err)
	}

	if second.Created {
		t.Error("exact key match must merge, not create")
	}
	if second.Object.CanonicalID != first.Object.CanonicalID {
		t.Error("merge must stay on the same canonical lineage")
	}
	if second.Object.Version != 2 {
		t.Errorf("expected version 2, got %d", second.Object.Version)
	}
	if got := second.Object.Properties["role"]; got != "CTO" {
		t.Errorf("lower-confidence candidate must not overwrite role, got %v", got)
	}
	if got := second.Object.Properties["location"]; got != "Berlin" {
		t.Errorf("new property should be filled in, got %v", got)
	}
	if second.Object.Status != graph.StatusAccepted {
		t.Errorf("draft merge must not downgrade accepted head, got %s", second.Object.Status)
	}
}

func TestLinkEntity_HigherConfidenceOverwrites(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)
	branch := uuid.New()
	ctx := context.Background()

	if _, err := l.LinkEntity(ctx, llm.CandidateEntity{
		Type:       "Person",
		NaturalKey: "jane.doe@example.com",
		Properties: map[string]any{"role": "intern"},
	}, 0.4, graph.StatusDraft, branch); err != nil {
		t.Fatalf("first link failed: %v", err)
	}

	res, err := l.LinkEntity(ctx, llm.CandidateEntity{
		Type:       "Person",
		NaturalKey: "jane.doe@example.com",
		Properties: map[string]any{"role": "CTO"},
	}, 0.95, graph.StatusAccepted, branch)
	if err != nil {
		t.Fatalf("second link failed: %v", err)
	}
	if got := res.Object.Properties["role"]; got != "CTO" {
		t.Errorf("higher-confidence candidate should overwrite, got %v", got)
	}
	if res.Object.Confidence != 0.95 {
		t.Errorf("confidence should rise to 0.95, got %g", res.Object.Confidence)
	}
}

func TestLinkEntity_SimilarityMatch(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)
	branch := uuid.New()
	ctx := context.Background()

	first, err := l.LinkEntity(ctx, llm.CandidateEntity{
		Type:       "Person",
		NaturalKey: "jane.doe@example.com",
		Properties: map[string]any{"name": "Jane Doe"},
	}, 0.9, graph.StatusAccepted, branch)
	if err != nil {
		t.Fatalf("first link failed: %v", err)
	}

	// Different natural key, identical normalized name.
	res, err := l.LinkEntity(ctx, llm.CandidateEntity{
		Type:       "Person",
		NaturalKey: "jane-doe",
		Properties: map[string]any{"name": "jane doe", "role": "CTO"},
	}, 0.8, graph.StatusDraft, branch)
	if err != nil {
		t.Fatalf("similarity link failed: %v", err)
	}
	if res.Created {
		t.Error("identical normalized name should merge, not create")
	}
	if res.Object.CanonicalID != first.Object.CanonicalID {
		t.Error("similarity merge must land on the existing lineage")
	}
}

func TestLinkEntity_SuggestionBand(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)
	branch := uuid.New()
	ctx := context.Background()

	first, err := l.LinkEntity(ctx, llm.CandidateEntity{
		Type:       "Person",
		NaturalKey: "jane.doe@example.com",
		Properties: map[string]any{"name": "Jane Doe"},
	}, 0.9, graph.StatusAccepted, branch)
	if err != nil {
		t.Fatalf("first link failed: %v", err)
	}

	// No token overlap with "Jane Doe".
	far, err := l.LinkEntity(ctx, llm.CandidateEntity{
		Type:       "Person",
		NaturalKey: "jim.roe@example.com",
		Properties: map[string]any{"name": "Jim Roe"},
	}, 0.9, graph.StatusAccepted, branch)
	if err != nil {
		t.Fatalf("far link failed: %v", err)
	}
	if !far.Created || far.SuggestedMatch != nil {
		t.Error("dissimilar candidate should create with no suggestion")
	}

	// Overlap 2/3 with "Jane Doe": inside the suggestion band.
	near, err := l.LinkEntity(ctx, llm.CandidateEntity{
		Type:       "Person",
		NaturalKey: "jane.smith@example.com",
		Properties: map[string]any{"name": "Jane Doe Smith"},
	}, 0.9, graph.StatusAccepted, branch)
	if err != nil {
		t.Fatalf("near link failed: %v", err)
	}
	if !near.Created {
		t.Error("suggestion-band candidate must still create a new object")
	}
	if near.SuggestedMatch == nil {
		t.Fatal("expected a suggested duplicate")
	}
	if near.SuggestedMatch.CanonicalID != first.Object.CanonicalID {
		t.Error("suggestion should point at the near-duplicate head")
	}
}

func TestLinkRelationship(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)
	branch := uuid.New()
	ctx := context.Background()

	jane, _ := l.LinkEntity(ctx, llm.CandidateEntity{
		Type: "Person", NaturalKey: "jane.doe@example.com",
		Properties: map[string]any{"name": "Jane Doe"},
	}, 0.9, graph.StatusAccepted, branch)
	acme, _ := l.LinkEntity(ctx, llm.CandidateEntity{
		Type: "Company", NaturalKey: "acme",
		Properties: map[string]any{"name": "Acme"},
	}, 0.9, graph.StatusAccepted, branch)

	session := NewSession()
	session.Put("Person", "jane.doe@example.com", jane.Object.CanonicalID)
	session.Put("Company", "acme", acme.Object.CanonicalID)

	res, err := l.LinkRelationship(ctx, llm.CandidateRelationship{
		Type:      "works_at",
		SourceKey: "jane.doe@example.com",
		TargetKey: "acme",
	}, 0.8, graph.StatusAccepted, branch, session)
	if err != nil {
		t.Fatalf("LinkRelationship failed: %v", err)
	}
	if !res.Created {
		t.Error("expected a new relationship")
	}
	if res.Relationship.SourceID != jane.Object.CanonicalID || res.Relationship.TargetID != acme.Object.CanonicalID {
		t.Error("endpoints should resolve through the session")
	}

	// Same (type, source, target) merges as a new version.
	again, err := l.LinkRelationship(ctx, llm.CandidateRelationship{
		Type:       "works_at",
		SourceKey:  "jane.doe@example.com",
		TargetKey:  "acme",
		Properties: map[string]any{"since": "2021"},
	}, 0.9, graph.StatusAccepted, branch, session)
	if err != nil {
		t.Fatalf("second LinkRelationship failed: %v", err)
	}
	if again.Created {
		t.Error("same endpoints should merge, not create")
	}
	if again.Relationship.Version != 2 {
		t.Errorf("expected version 2, got %d", again.Relationship.Version)
	}
}

func TestLinkRelationship_MissingEndpoint(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)
	branch := uuid.New()

	_, err := l.LinkRelationship(context.Background(), llm.CandidateRelationship{
		Type:      "works_at",
		SourceKey: "ghost",
		TargetKey: "acme",
	}, 0.8, graph.StatusAccepted, branch, nil)
	if !errors.Is(err, ErrEndpointMissing) {
		t.Errorf("expected ErrEndpointMissing, got %v", err)
	}
}

func TestLinkRelationship_EndpointFromStore(t *testing.T) {
	store := newFakeStore()
	l := New(store, nil)
	branch := uuid.New()
	ctx := context.Background()

	jane, _ := store.CreateObject(ctx, graph.NewObjectInput{
		Type: "Person", NaturalKey: "jane.doe@example.com", Status: graph.StatusAccepted, BranchID: branch,
	})
	acme, _ := store.CreateObject(ctx, graph.NewObjectInput{
		Type: "Company", NaturalKey: "acme", Status: graph.StatusAccepted, BranchID: branch,
	})

	res, err := l.LinkRelationship(ctx, llm.CandidateRelationship{
		Type:      "works_at",
		SourceKey: "jane.doe@example.com",
		TargetKey: "acme",
	}, 0.8, graph.StatusAccepted, branch, nil)
	if err != nil {
		t.Fatalf("LinkRelationship failed: %v", err)
	}
	if res.Relationship.SourceID != jane.CanonicalID || res.Relationship.TargetID != acme.CanonicalID {
		t.Error("endpoints should resolve through live heads when absent from the session")
	}
}

func TestSession_SameKeyDifferentTypes(t *testing.T) {
	s := NewSession()
	person := uuid.New()
	company := uuid.New()

	s.Put("Person", "acme", person)
	s.Put("Company", "acme", company)

	got, ok := s.Resolve("acme")
	if !ok || got != person {
		t.Errorf("bare key should resolve to the earliest-linked entry, got %s", got)
	}

	// Re-linking the same (type, key) updates in place and must not clobber
	// the other type's entry.
	replaced := uuid.New()
	s.Put("Person", "acme", replaced)
	got, ok = s.Resolve("acme")
	if !ok || got != replaced {
		t.Errorf("re-link should update the Person entry, got %s", got)
	}
	if len(s.entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(s.entries))
	}
	if s.entries[1].canonicalID != company {
		t.Error("Company entry should be untouched")
	}

	var nilSession *Session
	if _, ok := nilSession.Resolve("acme"); ok {
		t.Error("nil session should resolve nothing")
	}
}

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"Jane Doe", "jane doe", 1.0},
		{"Jane Doe", "Jane Doe Smith", 2.0 / 3.0},
		{"Jane Doe", "Jim Roe", 0},
		{"", "Jane", 0},
	}
	for _, tt := range tests {
		if got := nameSimilarity(tt.a, tt.b); got != tt.want {
			t.Errorf("nameSimilarity(%q, %q) = %g, want %g", tt.a, tt.b, got, tt.want)
		}
	}
}
