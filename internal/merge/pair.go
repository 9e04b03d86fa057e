// Package merge reconciles two branches of the versioned graph: heads that
// were created independently for the same logical thing are folded into one
// canonical lineage.
package merge

import (
	"sort"

	"github.com/loomworks/loom/internal/graph"
)

// Pairing joins one head from each side that describe the same logical
// object or relationship.
type Pairing struct {
	A graph.Head
	B graph.Head
}

// Pair computes the fold set for two branches' heads. Heads pair when they
// share an identity key — (type, natural key) for objects, (type, source,
// target) for relationships — while carrying distinct canonical ids. Heads
// whose lineages already cross-reference still pair: that state only occurs
// when a fold was interrupted before retiring the absorbed head, and pairing
// again lets the fold finish. The result depends only on the input sets:
// ordering within either slice never changes the pairing.
func Pair(headsA, headsB []graph.Head) []Pairing {
	byKeyA := groupByIdentity(headsA)
	byKeyB := groupByIdentity(headsB)

	keys := make([]string, 0, len(byKeyA))
	for k := range byKeyA {
		if _, ok := byKeyB[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var out []Pairing
	for _, k := range keys {
		a := pickCanonical(byKeyA[k])
		b := pickCanonical(byKeyB[k])
		if a.CanonicalID == b.CanonicalID {
			continue // same lineage visible on both branches; nothing to fold
		}
		out = append(out, Pairing{A: a, B: b})
	}
	return out
}

func groupByIdentity(heads []graph.Head) map[string][]graph.Head {
	out := make(map[string][]graph.Head, len(heads))
	for _, h := range heads {
		k := h.IdentityKey()
		out[k] = append(out[k], h)
	}
	return out
}

// pickCanonical breaks ties when one side carries several heads with the
// same identity key: earliest created wins, then lowest canonical id.
func pickCanonical(heads []graph.Head) graph.Head {
	best := heads[0]
	for _, h := range heads[1:] {
		if h.CreatedAt.Before(best.CreatedAt) ||
			(h.CreatedAt.Equal(best.CreatedAt) && h.CanonicalID.String() < best.CanonicalID.String()) {
			best = h
		}
	}
	return best
}

// Survivor decides which side's canonical lineage absorbs the other:
// earliest created, then lowest canonical id. Deterministic regardless of
// argument order.
func Survivor(p Pairing) (survivor, absorbed graph.Head) {
	a, b := p.A, p.B
	if b.CreatedAt.Before(a.CreatedAt) ||
		(b.CreatedAt.Equal(a.CreatedAt) && b.CanonicalID.String() < a.CanonicalID.String()) {
		return b, a
	}
	return a, b
}
