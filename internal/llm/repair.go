package llm

import "strings"

// repairJSON attempts to fix common formatting issues in LLM JSON output:
// markdown code fences around the payload, prose before/after the object,
// and missing opening quotes on keys.
func repairJSON(s string) string {
	s = stripFences(s)
	s = trimToObject(s)
	return fixUnquotedKeys(s)
}

// stripFences removes a ```json ... ``` (or plain ```) wrapper.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// trimToObject cuts leading/trailing prose around the outermost JSON object.
func trimToObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// fixUnquotedKeys adds a missing opening quote before keys, e.g.
// `, type":` -> `, "type":`.
func fixUnquotedKeys(s string) string {
	result := []rune(s)
	fixed := make([]rune, 0, len(result)+16)

	i := 0
	for i < len(result) {
		ch := result[i]
		if ch != '{' && ch != ',' {
			fixed = append(fixed, ch)
			i++
			continue
		}

		fixed = append(fixed, ch)
		i++

		for i < len(result) && (result[i] == ' ' || result[i] == '\n' || result[i] == '\t') {
			fixed = append(fixed, result[i])
			i++
		}

		if i >= len(result) || result[i] == '"' || !isKeyRune(result[i]) {
			continue
		}

		keyStart := i
		for i < len(result) && (isKeyRune(result[i]) || result[i] == '_') {
			i++
		}

		if i+1 < len(result) && result[i] == '"' && result[i+1] == ':' {
			// Unquoted key followed by `":` — insert the opening quote.
			fixed = append(fixed, '"')
			fixed = append(fixed, result[keyStart:i]...)
			continue
		}
		fixed = append(fixed, result[keyStart:i]...)
	}

	return string(fixed)
}

func isKeyRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
