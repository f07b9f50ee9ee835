// Package mcpserver exposes a kronroe.Graph as an MCP (Model Context
// Protocol) server, bridging tool calls to the core operation surface. It
// is an external collaborator in the same sense as cmd/kronroectl: it
// only ever calls kronroe's public methods, never touches the substrate
// directly.
package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kronroe/kronroe"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Embedder computes a single query embedding for vector/hybrid search.
// Optional — a MemoryServer with a nil embedder simply never offers the
// vector-query fields any reach into search_hybrid's vector channel.
type Embedder interface {
	Single(ctx context.Context, text string) ([]float32, error)
}

// MemoryServer bridges MCP tool calls to a kronroe.Graph.
type MemoryServer struct {
	graph    *kronroe.Graph
	embedder Embedder
}

// NewMemoryServer creates a server backed by the given graph. embedder may
// be nil, in which case memory_search never populates the vector channel.
func NewMemoryServer(graph *kronroe.Graph, embedder Embedder) *MemoryServer {
	return &MemoryServer{graph: graph, embedder: embedder}
}

// --- Input types (MCP SDK infers JSON schemas from struct tags) ---

// AssertInput is the input schema for the memory_assert tool.
type AssertInput struct {
	Subject        string `json:"subject" jsonschema:"the entity this fact is about (e.g. a person or project)"`
	Predicate      string `json:"predicate" jsonschema:"the relation name, e.g. \"likes\", \"works_at\", \"email\""`
	Object         string `json:"object" jsonschema:"the value of the fact, stored as text"`
	ValidFrom      string `json:"valid_from,omitempty" jsonschema:"RFC3339 timestamp the fact becomes true at (default: now)"`
	IdempotencyKey string `json:"idempotency_key,omitempty" jsonschema:"if set, repeating the same key returns the original fact id instead of asserting a duplicate"`
}

// SearchInput is the input schema for the memory_search tool.
type SearchInput struct {
	Query        string  `json:"query,omitempty" jsonschema:"natural language / keyword search text"`
	Limit        int     `json:"limit,omitempty" jsonschema:"maximum number of results (default 10)"`
	TextWeight   float64 `json:"text_weight,omitempty" jsonschema:"weight of the full-text channel (default 0.5)"`
	VectorWeight float64 `json:"vector_weight,omitempty" jsonschema:"weight of the semantic channel, used only if an embedder is configured (default 0.5)"`
}

// CurrentFactsInput is the input schema for the memory_current tool.
type CurrentFactsInput struct {
	Subject   string `json:"subject" jsonschema:"the entity to query"`
	Predicate string `json:"predicate,omitempty" jsonschema:"restrict to a single relation; omit to list every currently valid fact about the subject"`
}

// FactsAtInput is the input schema for the memory_history tool.
type FactsAtInput struct {
	Subject   string `json:"subject" jsonschema:"the entity to query"`
	Predicate string `json:"predicate" jsonschema:"the relation name"`
	At        string `json:"at,omitempty" jsonschema:"RFC3339 timestamp to evaluate validity at (default: now)"`
}

// GetInput is the input schema for the memory_get tool.
type GetInput struct {
	ID string `json:"id" jsonschema:"the fact id"`
}

// InvalidateInput is the input schema for the memory_invalidate tool.
type InvalidateInput struct {
	ID string `json:"id" jsonschema:"the fact id to invalidate"`
	At string `json:"at,omitempty" jsonschema:"RFC3339 timestamp the fact stops being valid at (default: now)"`
}

// CorrectInput is the input schema for the memory_correct tool.
type CorrectInput struct {
	ID     string `json:"id" jsonschema:"the fact id being corrected"`
	Object string `json:"object" jsonschema:"the corrected value"`
	At     string `json:"at,omitempty" jsonschema:"RFC3339 timestamp the correction takes effect at (default: now)"`
}

// --- Tool registration ---

// Register adds all memory tools to the given MCP server.
func (ms *MemoryServer) Register(s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name: "memory_assert",
		Description: `Assert a fact of the form (subject, predicate, object), valid from a point in time. Use this whenever you learn something worth remembering.

Pass idempotency_key when the same logical assertion might be retried (e.g. from a flaky caller) — repeating the key returns the original fact instead of creating a duplicate.

To correct a fact rather than add a contradicting one, use memory_correct instead.`,
	}, ms.HandleAssert)

	mcp.AddTool(s, &mcp.Tool{
		Name: "memory_search",
		Description: `Hybrid full-text + semantic search over all asserted facts, ranked by reciprocal rank fusion; no recency adjustment is applied. Use this to recall information from previous sessions without knowing the exact subject/predicate.`,
	}, ms.HandleSearch)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "memory_current",
		Description: `List currently-valid facts about a subject, optionally restricted to one predicate. Use this when you already know the subject and want a complete, current picture.`,
	}, ms.HandleCurrentFacts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "memory_history",
		Description: `Show what was true for a (subject, predicate) pair at a specific point in time, per the bi-temporal model. Omit "at" to see what is true now.`,
	}, ms.HandleFactsAt)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "memory_get",
		Description: `Fetch a single fact by its id.`,
	}, ms.HandleGet)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "memory_invalidate",
		Description: `Mark a fact as no longer valid as of a point in time, without asserting a replacement. Use memory_correct instead if you already know the new value.`,
	}, ms.HandleInvalidate)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "memory_correct",
		Description: `Invalidate a fact and assert its replacement in one call, preserving the old fact's history rather than deleting it.`,
	}, ms.HandleCorrect)
}

// --- Handlers ---

func (ms *MemoryServer) HandleAssert(ctx context.Context, _ *mcp.CallToolRequest, input AssertInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.Subject) == "" || strings.TrimSpace(input.Predicate) == "" {
		return textResult("Error: subject and predicate are required", true), nil, nil
	}
	if strings.TrimSpace(input.Object) == "" {
		return textResult("Error: object is required", true), nil, nil
	}

	validFrom, err := parseOptionalTime(input.ValidFrom)
	if err != nil {
		return textResult(fmt.Sprintf("Error parsing valid_from: %v", err), true), nil, nil
	}

	var id kronroe.FactID
	if input.IdempotencyKey != "" {
		id, err = ms.graph.AssertFactIdempotent(ctx, input.IdempotencyKey, input.Subject, input.Predicate, kronroe.TextValue(input.Object), validFrom)
	} else {
		id, err = ms.graph.AssertFact(ctx, input.Subject, input.Predicate, kronroe.TextValue(input.Object), validFrom)
	}
	if err != nil {
		return textResult(fmt.Sprintf("Error asserting fact: %v", err), true), nil, nil
	}

	return textResult(fmt.Sprintf("Asserted fact %s: %s %s %s", id, input.Subject, input.Predicate, input.Object), false), nil, nil
}

func (ms *MemoryServer) HandleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.Query) == "" {
		return textResult("Error: query is required", true), nil, nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}

	params := kronroe.DefaultHybridParams()
	params.K = limit
	if input.TextWeight > 0 {
		params.TextWeight = input.TextWeight
	}
	if input.VectorWeight > 0 {
		params.VectorWeight = input.VectorWeight
	}

	var vectorQuery []float32
	if ms.embedder != nil {
		emb, err := ms.embedder.Single(ctx, input.Query)
		if err != nil {
			return textResult(fmt.Sprintf("Error computing query embedding: %v", err), true), nil, nil
		}
		vectorQuery = emb
	} else {
		params.VectorWeight = 0
	}

	hits, err := ms.graph.SearchHybrid(ctx, input.Query, vectorQuery, params, nil)
	if err != nil {
		return textResult(fmt.Sprintf("Error searching: %v", err), true), nil, nil
	}
	if len(hits) == 0 {
		return textResult("No matching memories found.", false), nil, nil
	}

	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] (id=%s, score=%.4f) %s %s = ", i+1, h.Fact.ID, h.Breakdown.FinalScore, h.Fact.Subject, h.Fact.Predicate)
		writeObject(&b, h.Fact.Object)
		fmt.Fprintln(&b)
	}
	return textResult(b.String(), false), nil, nil
}

func (ms *MemoryServer) HandleCurrentFacts(ctx context.Context, _ *mcp.CallToolRequest, input CurrentFactsInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.Subject) == "" {
		return textResult("Error: subject is required", true), nil, nil
	}

	var facts []kronroe.Fact
	var err error
	if input.Predicate != "" {
		facts, err = ms.graph.CurrentFacts(ctx, input.Subject, input.Predicate)
	} else {
		all, aerr := ms.graph.AllFactsAbout(ctx, input.Subject)
		err = aerr
		for _, f := range all {
			if f.IsCurrentlyValid() {
				facts = append(facts, f)
			}
		}
	}
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true), nil, nil
	}
	return textResult(formatFacts(facts), false), nil, nil
}

func (ms *MemoryServer) HandleFactsAt(ctx context.Context, _ *mcp.CallToolRequest, input FactsAtInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.Subject) == "" || strings.TrimSpace(input.Predicate) == "" {
		return textResult("Error: subject and predicate are required", true), nil, nil
	}
	at, err := parseOptionalTime(input.At)
	if err != nil {
		return textResult(fmt.Sprintf("Error parsing at: %v", err), true), nil, nil
	}

	facts, err := ms.graph.FactsAt(ctx, input.Subject, input.Predicate, at)
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true), nil, nil
	}
	return textResult(formatFacts(facts), false), nil, nil
}

func (ms *MemoryServer) HandleGet(ctx context.Context, _ *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.ID) == "" {
		return textResult("Error: id is required", true), nil, nil
	}
	fact, err := ms.graph.FactByID(ctx, kronroe.FactID(input.ID))
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true), nil, nil
	}
	return textResult(formatFacts([]kronroe.Fact{fact}), false), nil, nil
}

func (ms *MemoryServer) HandleInvalidate(ctx context.Context, _ *mcp.CallToolRequest, input InvalidateInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.ID) == "" {
		return textResult("Error: id is required", true), nil, nil
	}
	at, err := parseOptionalTime(input.At)
	if err != nil {
		return textResult(fmt.Sprintf("Error parsing at: %v", err), true), nil, nil
	}
	if err := ms.graph.InvalidateFact(ctx, kronroe.FactID(input.ID), at); err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true), nil, nil
	}
	return textResult(fmt.Sprintf("Invalidated fact %s as of %s.", input.ID, at.Format(time.RFC3339)), false), nil, nil
}

func (ms *MemoryServer) HandleCorrect(ctx context.Context, _ *mcp.CallToolRequest, input CorrectInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.ID) == "" || strings.TrimSpace(input.Object) == "" {
		return textResult("Error: id and object are required", true), nil, nil
	}
	at, err := parseOptionalTime(input.At)
	if err != nil {
		return textResult(fmt.Sprintf("Error parsing at: %v", err), true), nil, nil
	}
	newID, err := ms.graph.CorrectFact(ctx, kronroe.FactID(input.ID), kronroe.TextValue(input.Object), at)
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true), nil, nil
	}
	return textResult(fmt.Sprintf("Corrected fact %s -> new fact %s.", input.ID, newID), false), nil, nil
}

// --- helpers ---

func parseOptionalTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

func formatFacts(facts []kronroe.Fact) string {
	if len(facts) == 0 {
		return "No facts found."
	}
	var b strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&b, "[id=%s] %s %s = ", f.ID, f.Subject, f.Predicate)
		writeObject(&b, f.Object)
		fmt.Fprintf(&b, " (valid_from=%s", f.ValidFrom.Format(time.RFC3339))
		if f.ValidTo != nil {
			fmt.Fprintf(&b, ", valid_to=%s", f.ValidTo.Format(time.RFC3339))
		}
		fmt.Fprintln(&b, ")")
	}
	return b.String()
}

func writeObject(b *strings.Builder, v kronroe.Value) {
	if t, ok := v.TextLike(); ok {
		b.WriteString(t)
		return
	}
	if n, ok := v.AsNumber(); ok {
		fmt.Fprintf(b, "%g", n)
		return
	}
	if bv, ok := v.AsBool(); ok {
		fmt.Fprintf(b, "%t", bv)
		return
	}
}

// textResult builds a CallToolResult with a single text content block.
func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: isError,
	}
}
