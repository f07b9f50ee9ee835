package kronroe

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// vectorEntry is one row of the flat in-memory vector index.
type vectorEntry struct {
	id        FactID
	embedding []float32
}

// VectorIndex is an in-memory flat index: insert-or-replace, remove, and
// top-k cosine search restricted to an allow-list. The dimension is
// established on the first insert and never changes afterward (§4.3).
// Not safe for concurrent use on its own — the orchestrator serializes
// access behind Graph.vecMu.
type VectorIndex struct {
	entries []vectorEntry
	byID    map[FactID]int
	dim     int
	dimSet  bool
}

// NewVectorIndex returns an empty index with no dimension established.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{byID: make(map[FactID]int)}
}

// Dim returns the established dimension and whether one has been set.
func (v *VectorIndex) Dim() (int, bool) { return v.dim, v.dimSet }

// Len returns the number of entries currently held.
func (v *VectorIndex) Len() int { return len(v.entries) }

// Insert adds or replaces the embedding for id. It fails if embedding is
// empty, or if a dimension is already established and len(embedding)
// differs from it. An existing entry for id is replaced in place
// (supports correction/re-embed flows) rather than appended.
func (v *VectorIndex) Insert(id FactID, embedding []float32) error {
	if len(embedding) == 0 {
		return errInvalidEmbedding("embedding must not be empty")
	}
	if v.dimSet && len(embedding) != v.dim {
		return errInvalidEmbedding(fmt.Sprintf("embedding dimension %d does not match established dimension %d", len(embedding), v.dim))
	}
	return v.insertLocked(id, embedding)
}

// insertLocked performs the insert without the empty/dim validation that
// Insert applies — used during rebuild-from-db, where corrupt rows are
// already rejected by the byte-length check upstream and the dimension
// check-and-set has already happened durably via embedding_meta.
func (v *VectorIndex) insertLocked(id FactID, embedding []float32) error {
	cp := make([]float32, len(embedding))
	copy(cp, embedding)

	if !v.dimSet {
		v.dim = len(cp)
		v.dimSet = true
	}

	if idx, ok := v.byID[id]; ok {
		v.entries[idx].embedding = cp
		return nil
	}
	v.entries = append(v.entries, vectorEntry{id: id, embedding: cp})
	v.byID[id] = len(v.entries) - 1
	return nil
}

// Remove deletes the entry for id via a swap-remove located through the
// id->position map, so it takes constant time. No-op if
// absent. Not invoked by invalidation, which preserves embeddings for
// historical point-in-time vector queries; present for explicit
// compaction only.
func (v *VectorIndex) Remove(id FactID) {
	idx, ok := v.byID[id]
	if !ok {
		return
	}
	last := len(v.entries) - 1
	v.entries[idx] = v.entries[last]
	v.entries = v.entries[:last]
	delete(v.byID, id)
	if idx != last {
		v.byID[v.entries[idx].id] = idx
	}
}

// scoredHit is an intermediate (id, score) pair during search.
type scoredHit struct {
	id    FactID
	score float32
}

// Search returns the top-k entries by cosine similarity to query, among
// those whose id is present in allowSet. Returns empty if k is 0,
// allowSet is empty, the index is empty, or query has zero L2-norm.
// Ties are broken arbitrarily (callers must tolerate equal-score
// permutations); cosine similarity on a dimension mismatch is 0, though
// the orchestrator always pre-validates query dimension before calling.
func (v *VectorIndex) Search(query []float32, k int, allowSet map[FactID]struct{}) []scoredHit {
	if k == 0 || len(allowSet) == 0 || len(v.entries) == 0 {
		return nil
	}
	qNorm := l2Norm(query)
	if qNorm == 0 {
		return nil
	}

	hits := make([]scoredHit, 0, len(v.entries))
	for _, e := range v.entries {
		if _, ok := allowSet[e.id]; !ok {
			continue
		}
		hits = append(hits, scoredHit{id: e.id, score: cosineSimilarity(query, e.embedding, qNorm)})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func l2Norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

// cosineSimilarity computes the cosine similarity of a and b given a's
// precomputed L2 norm. Returns 0 on a dimension mismatch or if b's norm
// is zero.
func cosineSimilarity(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	bNorm := l2Norm(b)
	if bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (float64(aNorm) * float64(bNorm)))
}

// CosineSimilarity is the public form for callers comparing embeddings
// outside the index (agentmemory uses it to detect near-duplicate facts).
func CosineSimilarity(a, b []float32) float32 {
	return cosineSimilarity(a, b, l2Norm(a))
}

// EncodeFloat32s packs a float32 slice into little-endian bytes, the
// exact persisted layout for the embeddings table (§6).
func EncodeFloat32s(fs []float32) []byte {
	buf := make([]byte, 4*len(fs))
	for i, f := range fs {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeFloat32s unpacks little-endian bytes into a float32 slice. The
// caller must ensure len(b) is a multiple of 4.
func DecodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
