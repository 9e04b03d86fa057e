package llm

import (
	"fmt"
	"sort"
	"strings"
)

const systemPrompt = `You are an extraction engine that reads a document chunk and emits structured entities and relationships from it.

Respond with a single JSON object of this shape:

{
  "entities": [
    {
      "type": "<one of the allowed entity types>",
      "natural_key": "<stable identifying value for this entity, e.g. an email, a full name, a ticket id>",
      "properties": { "<property>": <value>, ... },
      "confidence": <0.0-1.0 how certain you are this entity is real and correctly typed>,
      "source_spans": ["<short verbatim quotes from the chunk that support this entity>"]
    }
  ],
  "relationships": [
    {
      "type": "<relationship type>",
      "source_key": "<natural_key of the source entity>",
      "target_key": "<natural_key of the target entity>",
      "properties": {},
      "confidence": <0.0-1.0>
    }
  ]
}

Rules:
- Only emit entities of the allowed types listed below.
- natural_key must be the most stable identifier present in the text. Prefer emails and explicit ids over names.
- source_spans must be verbatim substrings of the chunk.
- Emit a relationship only when both endpoints appear in this chunk or are clearly referenced.
- Do not invent properties that the text does not support.`

// buildUserPrompt renders the allowed types (with their schemas and per-type
// guidance) followed by the chunk text.
func buildUserPrompt(req Request) string {
	var sb strings.Builder

	sb.WriteString("Allowed entity types:\n\n")
	for _, t := range req.Types {
		sb.WriteString("## ")
		sb.WriteString(t.Name)
		sb.WriteString("\n")
		if t.Prompt != "" {
			sb.WriteString(t.Prompt)
			sb.WriteString("\n")
		}

		names := make([]string, 0, len(t.Properties))
		for name := range t.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			spec := t.Properties[name]
			req := "optional"
			if spec.Required {
				req = "required"
			}
			sb.WriteString(fmt.Sprintf("- %s (%s, %s)", name, spec.Type, req))
			if spec.Description != "" {
				sb.WriteString(": " + spec.Description)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Document chunk:\n\n")
	sb.WriteString(req.ChunkText)
	return sb.String()
}
