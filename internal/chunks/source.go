package chunks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Source resolves a document's chunks: the chunk store first, falling back
// to splitting the raw document locally when the store has none.
type Source struct {
	client *Client
}

func NewSource(client *Client) *Source {
	return &Source{client: client}
}

func (s *Source) Fetch(ctx context.Context, documentID uuid.UUID) ([]Chunk, error) {
	out, err := s.client.GetChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		return out, nil
	}

	text, err := s.client.GetDocumentText(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fallback document fetch: %w", err)
	}
	return Split(text), nil
}
