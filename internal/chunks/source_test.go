package chunks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestSource_PrefersStoreChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chunks") {
			t.Errorf("unexpected fallback fetch: %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"chunks": []Chunk{{Index: 0, Text: "first"}, {Index: 1, Text: "second"}},
		})
	}))
	defer srv.Close()

	src := NewSource(NewClient(srv.URL))
	got, err := src.Fetch(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(got) != 2 || got[1].Text != "second" {
		t.Errorf("unexpected chunks: %+v", got)
	}
}

func TestSource_FallsBackToSplitting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/chunks") {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"text": "First paragraph.\n\nSecond paragraph."})
	}))
	defer srv.Close()

	src := NewSource(NewClient(srv.URL))
	got, err := src.Fetch(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 locally split chunk, got %d", len(got))
	}
	if !strings.Contains(got[0].Text, "Second paragraph.") {
		t.Errorf("split chunk missing content: %q", got[0].Text)
	}
}
