// Package chunks supplies the ordered text chunks of a document, either
// from the chunk store service or by splitting the raw document locally.
package chunks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Chunk is one ordered segment of a document.
type Chunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Client fetches a document's chunks from the chunk store service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// GetChunks returns the document's chunks in order. An empty result is not
// an error; callers may fall back to local splitting.
func (c *Client) GetChunks(ctx context.Context, documentID uuid.UUID) ([]Chunk, error) {
	url := fmt.Sprintf("%s/api/v1/documents/%s/chunks", c.baseURL, documentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build chunk store request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chunk store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chunk store returned %d for document %s", resp.StatusCode, documentID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chunk store response: %w", err)
	}

	var out struct {
		Chunks []Chunk `json:"chunks"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse chunk store response: %w", err)
	}
	return out.Chunks, nil
}

// GetDocumentText fetches the raw text of a document, used when the store
// holds no precomputed chunks.
func (c *Client) GetDocumentText(ctx context.Context, documentID uuid.UUID) (string, error) {
	url := fmt.Sprintf("%s/api/v1/documents/%s", c.baseURL, documentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build document request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("document request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chunk store returned %d for document %s", resp.StatusCode, documentID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read document response: %w", err)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("parse document response: %w", err)
	}
	return out.Text, nil
}
