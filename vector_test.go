package kronroe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVectorIndexInsertAndSearch(t *testing.T) {
	idx := NewVectorIndex()

	require.NoError(t, idx.Insert("a", []float32{1, 0, 0}))
	require.NoError(t, idx.Insert("b", []float32{0, 1, 0}))
	require.NoError(t, idx.Insert("c", []float32{1, 0, 0}))

	dim, ok := idx.Dim()
	require.True(t, ok)
	require.Equal(t, 3, dim)
	require.Equal(t, 3, idx.Len())

	allow := map[FactID]struct{}{"a": {}, "b": {}, "c": {}}
	hits := idx.Search([]float32{1, 0, 0}, 2, allow)
	require.Len(t, hits, 2)
}

func TestVectorIndexInsertRejectsDimMismatch(t *testing.T) {
	idx := NewVectorIndex()
	require.NoError(t, idx.Insert("a", []float32{1, 0, 0}))

	err := idx.Insert("b", []float32{1, 0})
	require.Error(t, err)
}

func TestVectorIndexInsertRejectsEmpty(t *testing.T) {
	idx := NewVectorIndex()
	err := idx.Insert("a", nil)
	require.Error(t, err)
}

func TestVectorIndexInsertReplacesInPlace(t *testing.T) {
	idx := NewVectorIndex()
	require.NoError(t, idx.Insert("a", []float32{1, 0, 0}))
	require.NoError(t, idx.Insert("a", []float32{0, 1, 0}))
	require.Equal(t, 1, idx.Len())

	allow := map[FactID]struct{}{"a": {}}
	hits := idx.Search([]float32{0, 1, 0}, 1, allow)
	require.Len(t, hits, 1)
	require.InDelta(t, 1.0, hits[0].score, 1e-6)
}

func TestVectorIndexRemove(t *testing.T) {
	idx := NewVectorIndex()
	require.NoError(t, idx.Insert("a", []float32{1, 0}))
	require.NoError(t, idx.Insert("b", []float32{0, 1}))

	idx.Remove("a")
	require.Equal(t, 1, idx.Len())

	// removing an absent id is a no-op
	idx.Remove("nonexistent")
	require.Equal(t, 1, idx.Len())
}

func TestVectorIndexSearchEmptyCases(t *testing.T) {
	idx := NewVectorIndex()
	require.NoError(t, idx.Insert("a", []float32{1, 0}))

	require.Nil(t, idx.Search([]float32{1, 0}, 0, map[FactID]struct{}{"a": {}}))
	require.Nil(t, idx.Search([]float32{1, 0}, 5, map[FactID]struct{}{}))
	require.Nil(t, idx.Search([]float32{0, 0}, 5, map[FactID]struct{}{"a": {}}))
}

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-6)
	require.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	require.Equal(t, float32(0), CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
}

func TestEncodeDecodeFloat32sRoundTrip(t *testing.T) {
	in := []float32{1.5, -2.25, 0, 3.125}
	encoded := EncodeFloat32s(in)
	require.Len(t, encoded, 16)

	out, err := DecodeFloat32s(encoded)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeFloat32sRejectsBadLength(t *testing.T) {
	_, err := DecodeFloat32s([]byte{1, 2, 3})
	require.Error(t, err)
}
