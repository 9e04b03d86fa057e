package score

import (
	"math"
	"testing"

	"github.com/loomworks/loom/internal/llm"
)

func floatPtr(f float64) *float64 { return &f }

var personType = llm.EntityType{
	Name: "Person",
	Properties: map[string]llm.PropertySpec{
		"name":  {Type: "string", Required: true},
		"email": {Type: "string", Required: true},
		"age":   {Type: "number"},
	},
}

func TestDecide(t *testing.T) {
	thresholds := Thresholds{RejectBelow: 0.3, AutoAcceptAt: 0.8}

	tests := []struct {
		name          string
		score         float64
		requireReview bool
		want          Decision
	}{
		{"below reject", 0.2, false, Discard},
		{"just below reject", 0.29999, false, Discard},
		{"at reject boundary", 0.3, false, Draft},
		{"mid band", 0.55, false, Draft},
		{"just below accept", 0.79999, false, Draft},
		{"at accept boundary", 0.8, false, Accept},
		{"high score", 0.9, false, Accept},
		{"high score with review", 0.9, true, Draft},
		{"mid band with review", 0.55, true, Draft},
		{"below reject with review", 0.2, true, Discard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := thresholds
			th.RequireReview = tt.requireReview
			if got := Decide(tt.score, th); got != tt.want {
				t.Errorf("Decide(%g, review=%v) = %q, want %q", tt.score, tt.requireReview, got, tt.want)
			}
		})
	}
}

func TestScore_ThreeCandidateScenario(t *testing.T) {
	// Job with reject_below=0.3, auto_accept_at=0.8 and three candidates
	// whose scores land at 0.2, 0.55 and 0.9: discarded, draft, accepted.
	th := Thresholds{RejectBelow: 0.3, AutoAcceptAt: 0.8}

	decisions := []Decision{
		Decide(0.2, th),
		Decide(0.55, th),
		Decide(0.9, th),
	}

	want := []Decision{Discard, Draft, Accept}
	for i, got := range decisions {
		if got != want[i] {
			t.Errorf("candidate %d: got %q, want %q", i, got, want[i])
		}
	}
}

func TestScore_SchemaCompliance(t *testing.T) {
	chunk := "Jane Doe <jane@example.com> is 41."

	tests := []struct {
		name       string
		properties map[string]any
		wantSchema float64
	}{
		{"all required present", map[string]any{"name": "Jane Doe", "email": "jane@example.com"}, 1.0},
		{"one required missing", map[string]any{"name": "Jane Doe"}, 0.5},
		{"required present but empty", map[string]any{"name": "", "email": "jane@example.com"}, 0.5},
		{"required present but wrong type", map[string]any{"name": 12.0, "email": "jane@example.com"}, 0.5},
		{"none present", map[string]any{}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := llm.CandidateEntity{Type: "Person", NaturalKey: "jane", Properties: tt.properties}
			conf := Score(c, personType, chunk, llm.MethodJSONFreeform)
			if math.Abs(conf.Schema-tt.wantSchema) > 1e-9 {
				t.Errorf("schema compliance = %g, want %g", conf.Schema, tt.wantSchema)
			}
		})
	}
}

func TestScore_NoRequiredPropertiesIsCompliant(t *testing.T) {
	loose := llm.EntityType{Name: "Concept", Properties: map[string]llm.PropertySpec{
		"summary": {Type: "string"},
	}}
	c := llm.CandidateEntity{Type: "Concept", NaturalKey: "k", Properties: map[string]any{}}

	conf := Score(c, loose, "text", llm.MethodJSONFreeform)
	if conf.Schema != 1.0 {
		t.Errorf("schema compliance = %g, want 1.0 when nothing is required", conf.Schema)
	}
}

func TestScore_ContextSupport(t *testing.T) {
	chunk := "Jane Doe joined Acme Corp in March."

	tests := []struct {
		name  string
		spans []string
		want  float64
	}{
		{"no spans is neutral", nil, 0.5},
		{"all spans found", []string{"Jane Doe", "Acme Corp"}, 1.0},
		{"case-insensitive match", []string{"jane doe"}, 1.0},
		{"half found", []string{"Jane Doe", "Globex"}, 0.5},
		{"none found", []string{"Globex"}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := llm.CandidateEntity{
				Type:       "Person",
				NaturalKey: "jane",
				Properties: map[string]any{"name": "Jane Doe", "email": "j@x.com"},
				SourceSpans: tt.spans,
			}
			conf := Score(c, personType, chunk, llm.MethodJSONFreeform)
			if math.Abs(conf.Context-tt.want) > 1e-9 {
				t.Errorf("context support = %g, want %g", conf.Context, tt.want)
			}
		})
	}
}

func TestScore_ModelConfidenceDefaultsNeutral(t *testing.T) {
	c := llm.CandidateEntity{Type: "Person", NaturalKey: "k", Properties: map[string]any{}}
	conf := Score(c, personType, "", llm.MethodJSONFreeform)
	if conf.Model != neutralConfidence {
		t.Errorf("model component = %g, want neutral %g", conf.Model, neutralConfidence)
	}

	c.Confidence = floatPtr(0.9)
	conf = Score(c, personType, "", llm.MethodJSONFreeform)
	if conf.Model != 0.9 {
		t.Errorf("model component = %g, want 0.9", conf.Model)
	}
}

func TestScore_WeightedCombination(t *testing.T) {
	// Full compliance, full context, model 0.9 under json_freeform weights
	// (0.4/0.3/0.3): 0.9*0.4 + 1*0.3 + 1*0.3 = 0.96.
	c := llm.CandidateEntity{
		Type:        "Person",
		NaturalKey:  "jane",
		Properties:  map[string]any{"name": "Jane Doe", "email": "j@x.com"},
		Confidence:  floatPtr(0.9),
		SourceSpans: []string{"Jane Doe"},
	}
	conf := Score(c, personType, "Jane Doe works here.", llm.MethodJSONFreeform)
	if math.Abs(conf.Score-0.96) > 1e-9 {
		t.Errorf("score = %g, want 0.96", conf.Score)
	}
}

func TestMethodWeights_SchemaMethodsWeightComplianceHigher(t *testing.T) {
	freeform := MethodWeights(llm.MethodJSONFreeform)
	schema := MethodWeights(llm.MethodResponseSchema)
	tool := MethodWeights(llm.MethodFunctionCalling)

	if schema.Schema <= freeform.Schema {
		t.Errorf("response_schema compliance weight %g should exceed freeform %g", schema.Schema, freeform.Schema)
	}
	if tool != schema {
		t.Errorf("function_calling weights %+v should match response_schema %+v", tool, schema)
	}
	for name, w := range map[string]Weights{"freeform": freeform, "schema": schema} {
		if sum := w.Model + w.Schema + w.Context; math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("%s weights sum to %g, want 1.0", name, sum)
		}
	}
}

func TestScoreRelationship(t *testing.T) {
	r := llm.CandidateRelationship{Type: "works_at", SourceKey: "a", TargetKey: "b", Confidence: floatPtr(0.8)}
	conf := ScoreRelationship(r, "chunk", llm.MethodResponseSchema)
	if conf.Schema != 1.0 {
		t.Errorf("complete endpoints should be compliant, got %g", conf.Schema)
	}
	if conf.Model != 0.8 {
		t.Errorf("model component = %g, want 0.8", conf.Model)
	}
	if conf.Context != neutralConfidence {
		t.Errorf("no spans should score neutral context, got %g", conf.Context)
	}

	r.SourceSpans = []string{"works at"}
	supported := ScoreRelationship(r, "Jane works at Acme.", llm.MethodResponseSchema)
	if supported.Context != 1.0 {
		t.Errorf("span present in chunk should score 1.0 context, got %g", supported.Context)
	}
	if supported.Score <= conf.Score {
		t.Error("supported spans should raise the combined score")
	}
}
