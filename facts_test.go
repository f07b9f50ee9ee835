package kronroe_test

import (
	"context"
	"testing"
	"time"

	"github.com/kronroe/kronroe"
	"github.com/stretchr/testify/require"
)

func openGraph(t *testing.T) *kronroe.Graph {
	t.Helper()
	g, err := kronroe.OpenInMemory(kronroe.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestAssertFactThenCurrentFacts(t *testing.T) {
	g := openGraph(t)
	ctx := context.Background()
	validFrom := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	id, err := g.AssertFact(ctx, "alice", "employer", kronroe.TextValue("acme"), validFrom)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	facts, err := g.CurrentFacts(ctx, "alice", "employer")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.Equal(t, id, facts[0].ID)
	require.True(t, facts[0].IsCurrentlyValid())
	require.Equal(t, float32(1.0), facts[0].Confidence)
}

func TestAssertFactIdempotentDeduplicates(t *testing.T) {
	g := openGraph(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id1, err := g.AssertFactIdempotent(ctx, "req-1", "alice", "employer", kronroe.TextValue("acme"), now)
	require.NoError(t, err)

	id2, err := g.AssertFactIdempotent(ctx, "req-1", "alice", "employer", kronroe.TextValue("acme"), now)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	facts, err := g.CurrentFacts(ctx, "alice", "employer")
	require.NoError(t, err)
	require.Len(t, facts, 1)
}

func TestAssertFactIdempotentDistinctKeysDoNotDedupe(t *testing.T) {
	g := openGraph(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id1, err := g.AssertFactIdempotent(ctx, "req-1", "alice", "employer", kronroe.TextValue("acme"), now)
	require.NoError(t, err)
	id2, err := g.AssertFactIdempotent(ctx, "req-2", "alice", "employer", kronroe.TextValue("acme"), now)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

func TestFactsAtPointInTime(t *testing.T) {
	g := openGraph(t)
	ctx := context.Background()

	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	id, err := g.AssertFact(ctx, "bob", "title", kronroe.TextValue("engineer"), jan)
	require.NoError(t, err)
	require.NoError(t, g.InvalidateFact(ctx, id, jun))

	beforeJun, err := g.FactsAt(ctx, "bob", "title", jun.AddDate(0, -1, 0))
	require.NoError(t, err)
	require.Len(t, beforeJun, 1)

	afterJun, err := g.FactsAt(ctx, "bob", "title", jun.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, afterJun, 0)

	current, err := g.CurrentFacts(ctx, "bob", "title")
	require.NoError(t, err)
	require.Len(t, current, 0)
}

func TestAllFactsAboutIncludesMultiplePredicates(t *testing.T) {
	g := openGraph(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := g.AssertFact(ctx, "carol", "employer", kronroe.TextValue("acme"), now)
	require.NoError(t, err)
	_, err = g.AssertFact(ctx, "carol", "title", kronroe.TextValue("cto"), now)
	require.NoError(t, err)
	_, err = g.AssertFact(ctx, "dave", "employer", kronroe.TextValue("acme"), now)
	require.NoError(t, err)

	facts, err := g.AllFactsAbout(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, facts, 2)
}

func TestFactByIDNotFound(t *testing.T) {
	g := openGraph(t)
	ctx := context.Background()

	_, err := g.FactByID(ctx, "does-not-exist")
	require.Error(t, err)
	var kerr *kronroe.KronroeError
	require.ErrorAs(t, err, &kerr)
	require.Equal(t, kronroe.KindNotFound, kerr.Kind())
}

func TestInvalidateFactSetsBothTimestamps(t *testing.T) {
	g := openGraph(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := g.AssertFact(ctx, "erin", "status", kronroe.TextValue("active"), now)
	require.NoError(t, err)

	closedAt := now.Add(time.Hour)
	require.NoError(t, g.InvalidateFact(ctx, id, closedAt))

	f, err := g.FactByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, f.ValidTo)
	require.NotNil(t, f.ExpiredAt)
	require.True(t, f.ValidTo.Equal(closedAt))
	require.True(t, f.ExpiredAt.Equal(closedAt))
}

func TestInvalidateFactNotFound(t *testing.T) {
	g := openGraph(t)
	ctx := context.Background()

	err := g.InvalidateFact(ctx, "missing", time.Now())
	require.Error(t, err)
}

func TestCorrectFactPreservesHistoryAndAssertsReplacement(t *testing.T) {
	g := openGraph(t)
	ctx := context.Background()
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	oldID, err := g.AssertFact(ctx, "frank", "title", kronroe.TextValue("engineer"), jan)
	require.NoError(t, err)

	newID, err := g.CorrectFact(ctx, oldID, kronroe.TextValue("senior engineer"), mar)
	require.NoError(t, err)
	require.NotEqual(t, oldID, newID)

	old, err := g.FactByID(ctx, oldID)
	require.NoError(t, err)
	require.NotNil(t, old.ValidTo)
	require.True(t, old.ValidTo.Equal(mar))

	current, err := g.CurrentFacts(ctx, "frank", "title")
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.Equal(t, newID, current[0].ID)
	text, ok := current[0].Object.TextLike()
	require.True(t, ok)
	require.Equal(t, "senior engineer", text)
}

func TestAssertFactWithEmbeddingEstablishesDimension(t *testing.T) {
	g := openGraph(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := g.AssertFactWithEmbedding(ctx, "greg", "bio", kronroe.TextValue("likes hiking"), now, []float32{0.1, 0.2, 0.3})
	require.NoError(t, err)

	_, err = g.AssertFactWithEmbedding(ctx, "greg", "bio2", kronroe.TextValue("likes running"), now, []float32{0.1, 0.2})
	require.Error(t, err)
	var kerr *kronroe.KronroeError
	require.ErrorAs(t, err, &kerr)
	require.Equal(t, kronroe.KindInvalidEmbedding, kerr.Kind())
}

func TestAssertFactWithEmbeddingRejectsEmpty(t *testing.T) {
	g := openGraph(t)
	ctx := context.Background()

	_, err := g.AssertFactWithEmbedding(ctx, "greg", "bio", kronroe.TextValue("x"), time.Now(), nil)
	require.Error(t, err)
}
