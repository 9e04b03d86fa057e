package llm

import "github.com/sashabaranov/go-openai/jsonschema"

// resultSchema builds the JSON schema for the normalized extraction result,
// used by the response_schema and function_calling strategies.
func resultSchema() jsonschema.Definition {
	entity := jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"type":        {Type: jsonschema.String, Description: "One of the allowed entity types"},
			"natural_key": {Type: jsonschema.String, Description: "Stable identifying value for the entity"},
			"properties":  {Type: jsonschema.Object, Description: "Extracted property values"},
			"confidence":  {Type: jsonschema.Number, Description: "Model confidence in [0,1]"},
			"source_spans": {
				Type:        jsonschema.Array,
				Items:       &jsonschema.Definition{Type: jsonschema.String},
				Description: "Verbatim supporting quotes from the chunk",
			},
		},
		Required: []string{"type", "natural_key", "properties"},
	}

	relationship := jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"type":       {Type: jsonschema.String},
			"source_key": {Type: jsonschema.String},
			"target_key": {Type: jsonschema.String},
			"properties": {Type: jsonschema.Object},
			"confidence": {Type: jsonschema.Number},
		},
		Required: []string{"type", "source_key", "target_key"},
	}

	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"entities": {
				Type:  jsonschema.Array,
				Items: &entity,
			},
			"relationships": {
				Type:  jsonschema.Array,
				Items: &relationship,
			},
		},
		Required: []string{"entities", "relationships"},
	}
}
