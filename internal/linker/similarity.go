package linker

import "strings"

// normalizeTokens lowercases a name-like value and splits it into tokens,
// dropping punctuation so "Jane Doe" and "jane.doe" overlap.
func normalizeTokens(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

// nameSimilarity is the Jaccard overlap of normalized name tokens, in
// [0, 1]. Empty names never match.
func nameSimilarity(a, b string) float64 {
	ta, tb := normalizeTokens(a), normalizeTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// displayName picks the property most useful for similarity comparison.
func displayName(props map[string]any, naturalKey string) string {
	for _, k := range []string{"name", "title", "full_name", "label"} {
		if v, ok := props[k].(string); ok && v != "" {
			return v
		}
	}
	return naturalKey
}
