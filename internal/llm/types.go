package llm

import (
	"context"

	"github.com/google/uuid"
)

// Method selects the extraction strategy used for an LLM call. All methods
// normalize to the same candidate shape so downstream stages are
// method-agnostic.
type Method string

const (
	// MethodJSONFreeform uses JSON-mode output with no schema constraint.
	// Maximizes property completeness.
	MethodJSONFreeform Method = "json_freeform"
	// MethodResponseSchema uses strict schema-validated output. Faster, may
	// omit optional fields.
	MethodResponseSchema Method = "response_schema"
	// MethodFunctionCalling extracts via a forced tool call.
	MethodFunctionCalling Method = "function_calling"
)

// Valid reports whether m is one of the known extraction methods.
func (m Method) Valid() bool {
	switch m {
	case MethodJSONFreeform, MethodResponseSchema, MethodFunctionCalling:
		return true
	}
	return false
}

// PropertySpec describes one property of an entity type schema.
type PropertySpec struct {
	Type        string `json:"type"` // string | number | boolean | array
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// EntityType is one extractable type from the project's type registry:
// its property schema plus the extraction prompt fragment.
type EntityType struct {
	Name       string                  `json:"name"`
	Prompt     string                  `json:"prompt,omitempty"`
	Properties map[string]PropertySpec `json:"properties"`
}

// RequiredProperties returns the names of required properties, for
// schema-compliance scoring.
func (t EntityType) RequiredProperties() []string {
	var req []string
	for name, spec := range t.Properties {
		if spec.Required {
			req = append(req, name)
		}
	}
	return req
}

// CandidateEntity is the ephemeral output of one LLM call for one entity.
// It is consumed by the scorer and linker, then discarded.
type CandidateEntity struct {
	Type       string         `json:"type"`
	NaturalKey string         `json:"natural_key"`
	Properties map[string]any `json:"properties"`
	// Confidence is the model's self-reported confidence, nil when absent.
	Confidence *float64 `json:"confidence,omitempty"`
	// SourceSpans are verbatim text spans the model attributes the
	// extraction to, used for context-support scoring.
	SourceSpans []string `json:"source_spans,omitempty"`

	ChunkIndex int
	JobID      uuid.UUID
}

// CandidateRelationship is the ephemeral output of one LLM call for one
// relationship between two candidate or existing entities, referenced by
// natural key.
type CandidateRelationship struct {
	Type        string         `json:"type"`
	SourceKey   string         `json:"source_key"`
	TargetKey   string         `json:"target_key"`
	Properties  map[string]any `json:"properties,omitempty"`
	Confidence  *float64       `json:"confidence,omitempty"`
	SourceSpans []string       `json:"source_spans,omitempty"`

	ChunkIndex int
	JobID      uuid.UUID
}

// TokenUsage is the provider-reported token accounting for one call.
type TokenUsage struct {
	Prompt     int `json:"prompt_tokens"`
	Completion int `json:"completion_tokens"`
	Total      int `json:"total_tokens"`
}

// Request is one extraction call over a single chunk.
type Request struct {
	ChunkText  string
	Types      []EntityType
	Method     Method
	ChunkIndex int
	JobID      uuid.UUID
}

// Result is the normalized output of one extraction call.
type Result struct {
	Entities      []CandidateEntity
	Relationships []CandidateRelationship
	Usage         TokenUsage
}

// Provider is the single capability interface over the extraction
// strategies.
type Provider interface {
	Extract(ctx context.Context, req Request) (*Result, error)
	// EstimateTokens returns the approximate prompt token cost of extracting
	// from text, used as the rate-limiter acquisition count.
	EstimateTokens(text string) int
}
