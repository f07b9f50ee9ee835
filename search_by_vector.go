package kronroe

import (
	"context"
	"fmt"
	"time"
)

// VectorHit pairs a fact with its cosine similarity score.
type VectorHit struct {
	Fact  Fact
	Score float32
}

// SearchByVector returns the top-k facts by cosine similarity to query,
// restricted to facts that pass the temporal filter: currently-valid if
// at is nil, valid-at(*at) otherwise. The query's dimension is validated
// against the vector index's established dimension before any scan, per
// §4.3's "orchestrator always pre-validates" contract.
func (g *Graph) SearchByVector(ctx context.Context, query []float32, k int, at *time.Time) ([]VectorHit, error) {
	g.vecMu.Lock()
	dim, dimSet := g.vector.Dim()
	g.vecMu.Unlock()
	if dimSet && len(query) != dim {
		return nil, errInvalidEmbedding(fmt.Sprintf("query dimension %d does not match established dimension %d", len(query), dim))
	}

	var keep func(Fact) bool
	if at != nil {
		t := *at
		keep = func(f Fact) bool { return f.WasValidAt(t) }
	} else {
		keep = func(f Fact) bool { return f.IsCurrentlyValid() }
	}

	matching, err := g.scanPrefix(nil, keep)
	if err != nil {
		return nil, err
	}

	allowSet := make(map[FactID]struct{}, len(matching))
	factsByID := make(map[FactID]Fact, len(matching))
	for _, f := range matching {
		allowSet[f.ID] = struct{}{}
		factsByID[f.ID] = f
	}

	g.vecMu.Lock()
	scored := g.vector.Search(query, k, allowSet)
	g.vecMu.Unlock()

	out := make([]VectorHit, 0, len(scored))
	for _, s := range scored {
		if f, ok := factsByID[s.id]; ok {
			out = append(out, VectorHit{Fact: f.Clone(), Score: s.score})
		}
	}
	return out, nil
}
