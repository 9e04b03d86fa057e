package score

import (
	"strings"

	"github.com/loomworks/loom/internal/llm"
)

// neutralConfidence is used when the model reports no confidence and when no
// source spans exist to judge context support.
const neutralConfidence = 0.5

// Weights controls the relative importance of the three confidence factors.
// Fixed per extraction method: schema-validated methods weight compliance
// higher because their output shape is already constrained.
type Weights struct {
	Model   float64
	Schema  float64
	Context float64
}

// MethodWeights returns the factor weights for an extraction method.
func MethodWeights(m llm.Method) Weights {
	switch m {
	case llm.MethodResponseSchema, llm.MethodFunctionCalling:
		return Weights{Model: 0.3, Schema: 0.45, Context: 0.25}
	default: // json_freeform
		return Weights{Model: 0.4, Schema: 0.3, Context: 0.3}
	}
}

// Confidence is a derived score in [0,1] plus its component breakdown.
// It is attached to a candidate before linking and never persisted
// standalone; only the resulting object status reflects it.
type Confidence struct {
	Score   float64 `json:"score"`
	Model   float64 `json:"model"`
	Schema  float64 `json:"schema"`
	Context float64 `json:"context"`
}

// Thresholds is the job-level decision configuration. RejectBelow must be
// strictly less than AutoAcceptAt; validated at job submission.
type Thresholds struct {
	RejectBelow   float64
	AutoAcceptAt  float64
	RequireReview bool
}

// Decision is the routing outcome for a scored candidate.
type Decision string

const (
	// Discard: score below the reject threshold; logged as a skipped
	// validation step, never written to the graph.
	Discard Decision = "discard"
	// Draft: accepted but unreviewed, requires human confirmation.
	Draft Decision = "draft"
	// Accept: written as accepted.
	Accept Decision = "accepted"
)

// Score combines model confidence, schema compliance and context support
// into a weighted average for one candidate entity.
func Score(c llm.CandidateEntity, entityType llm.EntityType, chunkText string, method llm.Method) Confidence {
	w := MethodWeights(method)

	model := neutralConfidence
	if c.Confidence != nil {
		model = clamp(*c.Confidence)
	}
	schema := schemaCompliance(c, entityType)
	context := contextSupport(c.SourceSpans, chunkText)

	return Confidence{
		Score:   clamp(model*w.Model + schema*w.Schema + context*w.Context),
		Model:   model,
		Schema:  schema,
		Context: context,
	}
}

// ScoreRelationship scores a candidate relationship. Relationships have no
// property schema; compliance measures endpoint completeness.
func ScoreRelationship(r llm.CandidateRelationship, chunkText string, method llm.Method) Confidence {
	w := MethodWeights(method)

	model := neutralConfidence
	if r.Confidence != nil {
		model = clamp(*r.Confidence)
	}
	schema := 1.0
	if r.SourceKey == "" || r.TargetKey == "" {
		schema = 0
	}
	context := contextSupport(r.SourceSpans, chunkText)

	return Confidence{
		Score:   clamp(model*w.Model + schema*w.Schema + context*w.Context),
		Model:   model,
		Schema:  schema,
		Context: context,
	}
}

// Decide applies the two-threshold policy. A score at or above AutoAcceptAt
// is downgraded to Draft when the job requires manual review.
func Decide(score float64, t Thresholds) Decision {
	switch {
	case score < t.RejectBelow:
		return Discard
	case score < t.AutoAcceptAt:
		return Draft
	case t.RequireReview:
		return Draft
	default:
		return Accept
	}
}

// schemaCompliance is the fraction of required properties that are present
// and well-typed. An entity type with no required properties is fully
// compliant.
func schemaCompliance(c llm.CandidateEntity, entityType llm.EntityType) float64 {
	required := entityType.RequiredProperties()
	if len(required) == 0 {
		return 1.0
	}

	ok := 0
	for _, name := range required {
		v, present := c.Properties[name]
		if present && wellTyped(v, entityType.Properties[name].Type) {
			ok++
		}
	}
	return float64(ok) / float64(len(required))
}

func wellTyped(v any, specType string) bool {
	if v == nil {
		return false
	}
	switch specType {
	case "string":
		s, ok := v.(string)
		return ok && s != ""
	case "number":
		switch v.(type) {
		case float64, int:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true // unconstrained property type
	}
}

// contextSupport is the fraction of reported source spans that actually
// appear in the chunk text (case-insensitive). Neutral when the model
// reported no spans.
func contextSupport(spans []string, chunkText string) float64 {
	if len(spans) == 0 {
		return neutralConfidence
	}

	lower := strings.ToLower(chunkText)
	found := 0
	for _, span := range spans {
		s := strings.ToLower(strings.TrimSpace(span))
		if s != "" && strings.Contains(lower, s) {
			found++
		}
	}
	return float64(found) / float64(len(spans))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
