package agentmemory_test

import (
	"context"
	"testing"
	"time"

	"github.com/kronroe/kronroe"
	"github.com/kronroe/kronroe/agentmemory"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	response string
}

func (s *stubGenerator) Generate(_ context.Context, _ string) (string, error) {
	return s.response, nil
}

func (s *stubGenerator) GenerateJSON(_ context.Context, _ string) (string, error) {
	return s.response, nil
}

type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := s.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0, 0}
		}
	}
	return out, nil
}

func newGraph(t *testing.T) *kronroe.Graph {
	t.Helper()
	g, err := kronroe.OpenInMemory(kronroe.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestExtractAssertsTriples(t *testing.T) {
	g := newGraph(t)
	gen := &stubGenerator{response: `[{"subject":"alice","predicate":"likes","object":"coffee"}]`}
	ex := agentmemory.NewExtractor(g, nil, gen)

	result, err := ex.Extract(context.Background(), "Alice likes coffee.", agentmemory.ExtractOpts{})
	require.NoError(t, err)
	require.Len(t, result.Asserted, 1)
	require.Empty(t, result.Errors)

	facts, err := g.CurrentFacts(context.Background(), "alice", "likes")
	require.NoError(t, err)
	require.Len(t, facts, 1)
}

func TestExtractUsesDefaultSubjectWhenMissing(t *testing.T) {
	g := newGraph(t)
	gen := &stubGenerator{response: `[{"predicate":"likes","object":"coffee"}]`}
	ex := agentmemory.NewExtractor(g, nil, gen)

	result, err := ex.Extract(context.Background(), "likes coffee", agentmemory.ExtractOpts{DefaultSubject: "alice"})
	require.NoError(t, err)
	require.Len(t, result.Asserted, 1)

	facts, err := g.CurrentFacts(context.Background(), "alice", "likes")
	require.NoError(t, err)
	require.Len(t, facts, 1)
}

func TestExtractParsesMarkdownFencedJSON(t *testing.T) {
	g := newGraph(t)
	gen := &stubGenerator{response: "```json\n[{\"subject\":\"bob\",\"predicate\":\"title\",\"object\":\"cto\"}]\n```"}
	ex := agentmemory.NewExtractor(g, nil, gen)

	result, err := ex.Extract(context.Background(), "Bob is the CTO.", agentmemory.ExtractOpts{})
	require.NoError(t, err)
	require.Len(t, result.Asserted, 1)
}

func TestExtractCorrectsHighlySimilarExistingFact(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	oldID, err := g.AssertFact(ctx, "alice", "title", kronroe.TextValue("engineer"), time.Now().UTC())
	require.NoError(t, err)

	emb := &stubEmbedder{vectors: map[string][]float32{
		"senior engineer": {1, 0, 0},
		"engineer":        {1, 0, 0.01},
	}}
	gen := &stubGenerator{response: `[{"subject":"alice","predicate":"title","object":"senior engineer"}]`}
	ex := agentmemory.NewExtractor(g, emb, gen)

	result, err := ex.Extract(ctx, "Alice was promoted to senior engineer.", agentmemory.ExtractOpts{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Corrected)
	require.Empty(t, result.Asserted)

	old, err := g.FactByID(ctx, oldID)
	require.NoError(t, err)
	require.NotNil(t, old.ValidTo)

	current, err := g.CurrentFacts(ctx, "alice", "title")
	require.NoError(t, err)
	require.Len(t, current, 1)
	text, ok := current[0].Object.TextLike()
	require.True(t, ok)
	require.Equal(t, "senior engineer", text)
}

func TestExtractSkipsDissimilarFactsWithoutCorrecting(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	_, err := g.AssertFact(ctx, "alice", "title", kronroe.TextValue("engineer"), time.Now().UTC())
	require.NoError(t, err)

	emb := &stubEmbedder{vectors: map[string][]float32{
		"cto":      {0, 1, 0},
		"engineer": {1, 0, 0},
	}}
	gen := &stubGenerator{response: `[{"subject":"alice","predicate":"title","object":"cto"}]`}
	ex := agentmemory.NewExtractor(g, emb, gen)

	result, err := ex.Extract(ctx, "Alice is now CTO.", agentmemory.ExtractOpts{})
	require.NoError(t, err)
	require.Equal(t, 0, result.Corrected)
	require.Len(t, result.Asserted, 1)

	current, err := g.CurrentFacts(ctx, "alice", "title")
	require.NoError(t, err)
	require.Len(t, current, 2)
}

func TestExtractReportsParseErrors(t *testing.T) {
	g := newGraph(t)
	gen := &stubGenerator{response: "not json at all"}
	ex := agentmemory.NewExtractor(g, nil, gen)

	result, err := ex.Extract(context.Background(), "garbage", agentmemory.ExtractOpts{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Errors)
	require.Empty(t, result.Asserted)
}
