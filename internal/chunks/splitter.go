package chunks

import "strings"

const (
	maxChunkRunes = 6000
	// Oversized paragraphs split on sentence ends near this point.
	softBoundary = 4000
)

// Split breaks raw document text into ordered chunks. It breaks on blank
// lines (paragraph boundaries) and size boundaries, never mid-word, and
// preserves document order.
func Split(text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []Chunk
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Text: s})
		}
		current.Reset()
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		for _, piece := range splitOversized(p) {
			if current.Len() > 0 && current.Len()+len(piece) > maxChunkRunes {
				flush()
			}
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(piece)
		}
	}
	flush()
	return chunks
}

// splitOversized cuts a paragraph longer than the chunk limit at sentence
// or word boundaries.
func splitOversized(p string) []string {
	if len(p) <= maxChunkRunes {
		return []string{p}
	}
	var out []string
	for len(p) > maxChunkRunes {
		cut := softBoundary
		if idx := strings.LastIndex(p[:maxChunkRunes], ". "); idx > softBoundary/2 {
			cut = idx + 1
		} else if idx := strings.LastIndex(p[:maxChunkRunes], " "); idx > 0 {
			cut = idx
		}
		out = append(out, strings.TrimSpace(p[:cut]))
		p = strings.TrimSpace(p[cut:])
	}
	if p != "" {
		out = append(out, p)
	}
	return out
}
