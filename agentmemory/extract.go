// Package agentmemory is the higher-level "agent memory" convenience API
// the core specification explicitly treats as an external collaborator:
// it distills unstructured text into structured (subject, predicate,
// object) triples via an LLM and asserts them through a kronroe.Graph's
// public operation surface. None of this logic lives in the core — it
// only ever calls AssertFact/CurrentFacts/CorrectFact like any other
// caller would.
package agentmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kronroe/kronroe"
)

// Generator produces raw LLM text completions for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// JSONGenerator is a Generator that can be asked to produce JSON
// directly, skipping markdown-fence extraction.
type JSONGenerator interface {
	Generator
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Embedder computes vector embeddings for text, used to decide whether a
// newly extracted triple should correct an existing one rather than
// stand beside it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// similarityThreshold is the minimum cosine similarity between a new
// triple's object text and an existing current fact's object text (for
// the same subject/predicate) to auto-correct rather than co-exist.
// Conservative, to avoid false positives.
const similarityThreshold = 0.85

// ExtractOpts controls an extraction run.
type ExtractOpts struct {
	DefaultSubject string
	At             time.Time // valid_from for newly asserted facts; zero value = time.Now()
}

// ExtractResult summarizes the outcome of an extraction run.
type ExtractResult struct {
	Asserted  []kronroe.FactID
	Corrected int
	Errors    []error
}

// Extractor distills unstructured text into Kronroe facts using an LLM.
type Extractor struct {
	graph    *kronroe.Graph
	embedder Embedder
	gen      Generator
}

// NewExtractor creates an extractor writing through graph, using gen to
// produce triples and embedder (optional, may be nil) to compare new
// triples against existing facts for auto-correction.
func NewExtractor(graph *kronroe.Graph, embedder Embedder, gen Generator) *Extractor {
	return &Extractor{graph: graph, embedder: embedder, gen: gen}
}

type extractedTriple struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Extract prompts the generator, parses triples from its response, and
// asserts each one. If an embedder is configured and the subject already
// has a current fact for the same predicate whose object text is highly
// similar to the new one, the old fact is corrected instead of a
// duplicate being asserted alongside it.
func (e *Extractor) Extract(ctx context.Context, text string, opts ExtractOpts) (*ExtractResult, error) {
	prompt := defaultPrompt(text)

	var raw string
	var err error
	if jg, ok := e.gen.(JSONGenerator); ok {
		raw, err = jg.GenerateJSON(ctx, prompt)
	} else {
		raw, err = e.gen.Generate(ctx, prompt)
	}
	if err != nil {
		return nil, fmt.Errorf("agentmemory: extraction generation failed: %w", err)
	}

	triples, parseErrs := parseResponse(raw)
	result := &ExtractResult{Errors: parseErrs}

	at := opts.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	for _, tr := range triples {
		subject := tr.Subject
		if subject == "" {
			subject = opts.DefaultSubject
		}
		if subject == "" || tr.Predicate == "" || strings.TrimSpace(tr.Object) == "" {
			continue
		}

		if corrected, err := e.tryCorrectExisting(ctx, subject, tr.Predicate, tr.Object, at); err != nil {
			result.Errors = append(result.Errors, err)
		} else if corrected {
			result.Corrected++
			continue
		}

		id, err := e.graph.AssertFact(ctx, subject, tr.Predicate, kronroe.TextValue(tr.Object), at)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("asserting %s %s: %w", subject, tr.Predicate, err))
			continue
		}
		result.Asserted = append(result.Asserted, id)
	}

	return result, nil
}

// tryCorrectExisting looks for a current fact sharing subject/predicate
// whose object text is similar enough to newObject to treat the new
// triple as a correction rather than a new assertion.
func (e *Extractor) tryCorrectExisting(ctx context.Context, subject, predicate, newObject string, at time.Time) (bool, error) {
	if e.embedder == nil {
		return false, nil
	}
	current, err := e.graph.CurrentFacts(ctx, subject, predicate)
	if err != nil {
		return false, err
	}
	if len(current) == 0 {
		return false, nil
	}

	texts := make([]string, 0, len(current)+1)
	texts = append(texts, newObject)
	for _, f := range current {
		if t, ok := f.Object.TextLike(); ok {
			texts = append(texts, t)
		} else {
			texts = append(texts, "")
		}
	}
	embeddings, err := e.embedder.Embed(ctx, texts)
	if err != nil || len(embeddings) != len(texts) {
		return false, err
	}
	newEmb := embeddings[0]

	var best int = -1
	var bestSim float32
	for i, f := range current {
		sim := kronroe.CosineSimilarity(newEmb, embeddings[i+1])
		if sim > bestSim {
			bestSim, best = sim, i
		}
		_ = f
	}
	if best < 0 || bestSim < similarityThreshold {
		return false, nil
	}

	_, err = e.graph.CorrectFact(ctx, current[best].ID, kronroe.TextValue(newObject), at)
	if err != nil {
		return false, err
	}
	return true, nil
}

func parseResponse(raw string) ([]extractedTriple, []error) {
	raw = strings.TrimSpace(raw)

	var triples []extractedTriple
	if err := json.Unmarshal([]byte(raw), &triples); err != nil {
		if start := strings.Index(raw, "["); start >= 0 {
			if end := strings.LastIndex(raw, "]"); end > start {
				if err2 := json.Unmarshal([]byte(raw[start:end+1]), &triples); err2 == nil {
					return triples, nil
				}
			}
		}
		return nil, []error{fmt.Errorf("agentmemory: failed to parse extraction response: %w", err)}
	}
	return triples, nil
}

func defaultPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Extract factual claims from the following text as a JSON array of objects, each with fields \"subject\", \"predicate\", \"object\" (all strings).\n")
	b.WriteString("Return ONLY the JSON array, no other text.\n\nText:\n")
	b.WriteString(text)
	return b.String()
}
