package kronroe

import (
	"context"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// aliasPredicates are the predicates treated as naming an alias for their
// subject when building the lexical index's alias map (§4.5 step 2).
var aliasPredicates = map[string]bool{"alias": true, "has_alias": true, "aka": true}

// searchDoc is one document in the on-demand lexical index: a fact id
// plus the bag of tokens built from its subject, predicate, aliases, and
// textual object.
type searchDoc struct {
	id     FactID
	tokens map[string]struct{}
	text   string // the concatenated document text; the ranking passes read only tokens
}

// buildAliasMap scans facts for alias/has_alias/aka predicates and
// collects each subject's textual aliases.
func buildAliasMap(facts []Fact) map[string][]string {
	out := make(map[string][]string)
	for _, f := range facts {
		if !aliasPredicates[f.Predicate] {
			continue
		}
		if text, ok := f.Object.TextLike(); ok {
			out[f.Subject] = append(out[f.Subject], text)
		}
	}
	return out
}

func normalizePredicate(p string) string {
	return strings.ReplaceAll(p, "_", " ")
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// buildSearchIndex builds the per-call in-memory lexical index described
// in §4.5 step 3: subject, predicate, the subject's aliases, the textual
// object, and the underscore-normalized predicate all contribute tokens.
func buildSearchIndex(facts []Fact) []searchDoc {
	aliases := buildAliasMap(facts)

	docs := make([]searchDoc, 0, len(facts))
	for _, f := range facts {
		var b strings.Builder
		b.WriteString(f.Subject)
		b.WriteByte(' ')
		b.WriteString(f.Predicate)
		b.WriteByte(' ')
		for _, a := range aliases[f.Subject] {
			b.WriteString(a)
			b.WriteByte(' ')
		}
		if text, ok := f.Object.TextLike(); ok {
			b.WriteString(text)
			b.WriteByte(' ')
		}
		b.WriteString(normalizePredicate(f.Predicate))

		content := b.String()
		tokSet := make(map[string]struct{})
		for _, t := range tokenize(content) {
			tokSet[t] = struct{}{}
		}
		docs = append(docs, searchDoc{id: f.ID, tokens: tokSet, text: content})
	}
	return docs
}

// Search implements the on-demand full-text retrieval channel of §4.5:
// exact tokenized match first, falling back to an edit-distance-1 fuzzy
// SHOULD query over the same tokens if the exact pass returns no hits.
func (g *Graph) Search(ctx context.Context, query string, limit int) ([]Fact, error) {
	if strings.TrimSpace(query) == "" || limit == 0 {
		return nil, nil
	}

	facts, err := g.scanPrefix(nil, func(Fact) bool { return true })
	if err != nil {
		return nil, err
	}
	docs := buildSearchIndex(facts)
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	ranked := rankExact(docs, queryTokens)
	if len(ranked) == 0 {
		g.log.Warn().Str("query", query).Msg("exact full-text match empty, falling back to fuzzy")
		ranked = rankFuzzy(docs, queryTokens)
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	factByID := make(map[FactID]Fact, len(facts))
	for _, f := range facts {
		factByID[f.ID] = f
	}
	out := make([]Fact, 0, len(ranked))
	for _, id := range ranked {
		if f, ok := factByID[id]; ok {
			out = append(out, f.Clone())
		}
	}
	return out, nil
}

type docScore struct {
	id    FactID
	score int
}

// rankExact counts exact token overlap between the query and each
// document, a standard analyser pass (tokenize + lowercase, no
// stemming), and returns ids ordered by descending overlap.
func rankExact(docs []searchDoc, queryTokens []string) []FactID {
	var scored []docScore
	for _, d := range docs {
		hits := 0
		for _, qt := range queryTokens {
			if _, ok := d.tokens[qt]; ok {
				hits++
			}
		}
		if hits > 0 {
			scored = append(scored, docScore{id: d.id, score: hits})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	ids := make([]FactID, len(scored))
	for i, s := range scored {
		ids[i] = s.id
	}
	return ids
}

// rankFuzzy builds a boolean SHOULD query over the query tokens, matching
// a document token if its edit distance to any query token is <= 1, the
// fuzzy fallback required by §4.5 step 5 (e.g. "alcie" must match
// "alice"). levenshtein.Distance alone is insert/delete/substitute only,
// so an adjacent transposition like "alcie"/"alice" costs 2 under it; a
// document token within a single adjacent swap of a query token is
// scored as a distance-1 match too, matching the original's
// transposition_cost_one fuzzy term query.
func rankFuzzy(docs []searchDoc, queryTokens []string) []FactID {
	var scored []docScore
	for _, d := range docs {
		hits := 0
		for token := range d.tokens {
			for _, qt := range queryTokens {
				if levenshtein.Distance(token, qt, nil) <= 1 || isAdjacentTransposition(token, qt) {
					hits++
					break
				}
			}
		}
		if hits > 0 {
			scored = append(scored, docScore{id: d.id, score: hits})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	ids := make([]FactID, len(scored))
	for i, s := range scored {
		ids[i] = s.id
	}
	return ids
}

// isAdjacentTransposition reports whether a and b are identical except
// for one pair of adjacent characters swapped, the one edit shape plain
// Levenshtein distance cannot see as cost 1.
func isAdjacentTransposition(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	if len(ra) != len(rb) {
		return false
	}
	var diff []int
	for i := range ra {
		if ra[i] != rb[i] {
			diff = append(diff, i)
			if len(diff) > 2 {
				return false
			}
		}
	}
	if len(diff) != 2 {
		return false
	}
	i, j := diff[0], diff[1]
	return j == i+1 && ra[i] == rb[j] && ra[j] == rb[i]
}
