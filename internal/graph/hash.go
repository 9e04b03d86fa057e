package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ContentHash produces a stable digest of an object's semantic content:
// type, natural key, and properties in sorted-key order. Two versions with
// equal hashes carry identical content regardless of how they were produced.
func ContentHash(typ, naturalKey string, properties map[string]any) string {
	var b strings.Builder
	b.WriteString(typ)
	b.WriteByte('\n')
	b.WriteString(naturalKey)
	b.WriteByte('\n')
	writeCanonical(&b, properties)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// RelationshipContentHash is the relationship analogue, keyed by type and
// canonical endpoint ids.
func RelationshipContentHash(typ, sourceID, targetID string, properties map[string]any) string {
	var b strings.Builder
	b.WriteString(typ)
	b.WriteByte('\n')
	b.WriteString(sourceID)
	b.WriteByte('\n')
	b.WriteString(targetID)
	b.WriteByte('\n')
	writeCanonical(&b, properties)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(b *strings.Builder, props map[string]any) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := json.Marshal(props[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%v", props[k]))
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.Write(v)
		b.WriteByte('\n')
	}
}
