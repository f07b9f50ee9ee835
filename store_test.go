package kronroe_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kronroe/kronroe"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kronroe.db")

	g, err := kronroe.Open(path, kronroe.Options{})
	require.NoError(t, err)
	require.NoError(t, g.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestOpenInMemoryCleansUpOnClose(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	g, err := kronroe.OpenInMemory(kronroe.Options{})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = g.AssertFact(ctx, "alice", "likes", kronroe.TextValue("tea"), time.Now())
	require.NoError(t, err)

	require.NoError(t, g.Close())

	leftover, err := filepath.Glob(filepath.Join(tmp, "kronroe-mem-*.db"))
	require.NoError(t, err)
	require.Empty(t, leftover)
}

func TestReopenPersistsFactsAndRebuildsVectorIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kronroe.db")
	ctx := context.Background()

	g, err := kronroe.Open(path, kronroe.Options{})
	require.NoError(t, err)

	_, err = g.AssertFactWithEmbedding(ctx, "alice", "likes", kronroe.TextValue("tea"), time.Now(), []float32{1, 0, 0})
	require.NoError(t, err)
	require.NoError(t, g.Close())

	g2, err := kronroe.Open(path, kronroe.Options{})
	require.NoError(t, err)
	defer g2.Close()

	facts, err := g2.CurrentFacts(ctx, "alice", "likes")
	require.NoError(t, err)
	require.Len(t, facts, 1)

	hits, err := g2.SearchByVector(ctx, []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestNextIDIsMonotonicallyOrdered(t *testing.T) {
	g, err := kronroe.OpenInMemory(kronroe.Options{})
	require.NoError(t, err)
	defer g.Close()

	ctx := context.Background()
	var ids []kronroe.FactID
	for i := 0; i < 20; i++ {
		id, err := g.AssertFact(ctx, "alice", "counter", kronroe.NumberValue(float64(i)), time.Now())
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		require.True(t, ids[i-1] < ids[i], "ids should be lexicographically increasing: %s !< %s", ids[i-1], ids[i])
	}
}
