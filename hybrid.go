package kronroe

import (
	"context"
	"math"
	"sort"
	"time"
)

// TemporalAdjustmentKind selects the shape of the hybrid ranker's
// optional temporal decay.
type TemporalAdjustmentKind int

const (
	// NoTemporalAdjustment disables the temporal term entirely.
	NoTemporalAdjustment TemporalAdjustmentKind = iota
	// HalfLifeDaysAdjustment applies exponential half-life decay
	// parameterized by Days (must be > 0).
	HalfLifeDaysAdjustment
)

// TemporalAdjustment configures the hybrid ranker's optional decay term.
type TemporalAdjustment struct {
	Kind TemporalAdjustmentKind
	Days float64
}

// HybridParams configures SearchHybrid. Zero values are not necessarily
// valid defaults — see DefaultHybridParams and ValidateHybridParams.
type HybridParams struct {
	K                int
	CandidateWindow  int
	RankConstant     int
	TextWeight       float64
	VectorWeight     float64
	TemporalWeight   float64
	Temporal         TemporalAdjustment
}

// DefaultHybridParams returns a reasonable starting point: k=10,
// candidate_window=50, rank_constant=60 (the conventional RRF default),
// equal text/vector weights, no temporal adjustment.
func DefaultHybridParams() HybridParams {
	return HybridParams{
		K:               10,
		CandidateWindow: 50,
		RankConstant:    60,
		TextWeight:      0.5,
		VectorWeight:    0.5,
	}
}

// ValidateHybridParams rejects parameter combinations that would produce
// a meaningless or undefined ranking (§4.6).
func ValidateHybridParams(p HybridParams) error {
	if p.K < 1 {
		return errSearch("k must be >= 1", nil)
	}
	if p.CandidateWindow < 1 {
		return errSearch("candidate_window must be >= 1", nil)
	}
	if p.RankConstant < 1 {
		return errSearch("rank_constant must be >= 1", nil)
	}
	if p.TextWeight < 0 || p.VectorWeight < 0 || p.TemporalWeight < 0 {
		return errSearch("weights must be >= 0", nil)
	}
	if p.TextWeight == 0 && p.VectorWeight == 0 {
		return errSearch("at least one of text_weight or vector_weight must be > 0", nil)
	}
	if p.Temporal.Kind == HalfLifeDaysAdjustment && p.Temporal.Days <= 0 {
		return errSearch("half_life_days must be > 0", nil)
	}
	return nil
}

// ScoreBreakdown exposes the components of a hybrid hit's final score.
// The invariant final_score ≈ text_rrf_contrib + vector_rrf_contrib +
// temporal_adjustment must hold to f64 epsilon.
type ScoreBreakdown struct {
	FinalScore        float64
	TextRRFContrib     float64
	VectorRRFContrib   float64
	TemporalAdjustment float64
}

// HybridHit pairs a fact with its score breakdown.
type HybridHit struct {
	Fact       Fact
	Breakdown  ScoreBreakdown
}

// SearchHybrid fuses the text and vector retrieval channels via weighted
// Reciprocal Rank Fusion with an optional exponential half-life temporal
// adjustment, per §4.6. at, if non-nil, fixes both the "currently valid"
// temporal filter for the vector channel and the reference time for
// decay; nil means "now".
func (g *Graph) SearchHybrid(ctx context.Context, textQuery string, vectorQuery []float32, params HybridParams, at *time.Time) ([]HybridHit, error) {
	if err := ValidateHybridParams(params); err != nil {
		return nil, err
	}

	textRanked, err := g.searchTextRanked(ctx, textQuery, params.CandidateWindow)
	if err != nil {
		return nil, err
	}
	vecRanked, err := g.searchVectorRanked(ctx, vectorQuery, params.CandidateWindow, at)
	if err != nil {
		return nil, err
	}

	type accum struct {
		textContrib float64
		vecContrib  float64
	}
	byID := make(map[FactID]*accum)
	order := make([]FactID, 0)

	get := func(id FactID) *accum {
		a, ok := byID[id]
		if !ok {
			a = &accum{}
			byID[id] = a
			order = append(order, id)
		}
		return a
	}

	for rank, id := range textRanked {
		get(id).textContrib += params.TextWeight / float64(params.RankConstant+rank+1)
	}
	for rank, id := range vecRanked {
		get(id).vecContrib += params.VectorWeight / float64(params.RankConstant+rank+1)
	}

	breakdowns := make(map[FactID]ScoreBreakdown, len(order))
	for _, id := range order {
		a := byID[id]
		breakdowns[id] = ScoreBreakdown{
			FinalScore:       a.textContrib + a.vecContrib,
			TextRRFContrib:   a.textContrib,
			VectorRRFContrib: a.vecContrib,
		}
	}

	if params.Temporal.Kind != NoTemporalAdjustment && params.TemporalWeight > 0 {
		referenceTime := time.Now()
		if at != nil {
			referenceTime = *at
		}
		temporalScale := 0.1 * params.TemporalWeight
		if temporalScale < 0 {
			temporalScale = 0
		}

		for _, id := range order {
			fact, found, ferr := g.findByID(nil, id)
			if ferr != nil {
				return nil, errStorage("looking up fact for temporal adjustment", ferr)
			}
			if !found {
				continue
			}
			ageDays := referenceTime.Sub(fact.ValidFrom).Hours() / 24.0
			if ageDays < 0 {
				ageDays = 0
			}

			var adjustment float64
			switch params.Temporal.Kind {
			case HalfLifeDaysAdjustment:
				decay := math.Exp(-math.Ln2 * ageDays / params.Temporal.Days)
				adjustment = clamp((decay-0.5)*2*temporalScale, -temporalScale, temporalScale)
			}

			bd := breakdowns[id]
			bd.TemporalAdjustment = adjustment
			bd.FinalScore += adjustment
			breakdowns[id] = bd
		}
	}

	hits := make([]HybridHit, 0, len(order))
	for _, id := range order {
		fact, found, ferr := g.findByID(nil, id)
		if ferr != nil {
			return nil, errStorage("hydrating hybrid hit", ferr)
		}
		if !found {
			continue
		}
		hits = append(hits, HybridHit{Fact: fact.Clone(), Breakdown: breakdowns[id]})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Breakdown.FinalScore != hits[j].Breakdown.FinalScore {
			return hits[i].Breakdown.FinalScore > hits[j].Breakdown.FinalScore
		}
		return hits[i].Fact.ID < hits[j].Fact.ID
	})
	if len(hits) > params.K {
		hits = hits[:params.K]
	}
	return hits, nil
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// searchTextRanked returns fact ids ranked by the full-text channel. If
// text search is disabled on this Graph, it returns an empty list rather
// than an error so the hybrid ranker stays usable in vector-only mode
// (§4.6 step 1, §9 supplemented degrade path).
func (g *Graph) searchTextRanked(ctx context.Context, query string, limit int) ([]FactID, error) {
	if !g.TextSearchEnabled {
		return nil, nil
	}
	facts, err := g.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]FactID, len(facts))
	for i, f := range facts {
		ids[i] = f.ID
	}
	return ids, nil
}

// searchVectorRanked returns fact ids ranked by the vector channel.
func (g *Graph) searchVectorRanked(ctx context.Context, query []float32, limit int, at *time.Time) ([]FactID, error) {
	if limit == 0 {
		return nil, nil
	}
	hits, err := g.SearchByVector(ctx, query, limit, at)
	if err != nil {
		return nil, err
	}
	ids := make([]FactID, len(hits))
	for i, h := range hits {
		ids[i] = h.Fact.ID
	}
	return ids, nil
}
