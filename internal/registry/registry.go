// Package registry fetches entity type schemas from the type registry
// service.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/llm"
)

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

// GetEntityTypes returns the schema and prompt fragment for each entity
// type registered to a project.
func (c *Client) GetEntityTypes(ctx context.Context, projectID uuid.UUID) ([]llm.EntityType, error) {
	url := fmt.Sprintf("%s/api/v1/projects/%s/entity-types", c.baseURL, projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build registry request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned %d for project %s", resp.StatusCode, projectID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read registry response: %w", err)
	}

	var out struct {
		EntityTypes []llm.EntityType `json:"entity_types"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse registry response: %w", err)
	}
	return out.EntityTypes, nil
}
