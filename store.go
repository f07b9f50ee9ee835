package kronroe

import (
	"crypto/rand"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// Bucket names for the four durable tables named in the substrate
// contract. Each is created if missing the first time Open initializes
// the database, all within one write transaction.
var (
	bucketFacts         = []byte("facts")
	bucketIdempotency   = []byte("idempotency")
	bucketEmbeddings    = []byte("embeddings")
	bucketEmbeddingMeta = []byte("embedding_meta")
)

const dimMetaKey = "dim"

// Graph is the orchestrator: the single entry point wiring the durable
// substrate, the in-memory vector index, and the ambient logging around
// them. It owns the substrate handle and the vector-index mutex
// exclusively — callers never see either directly.
type Graph struct {
	db   *bolt.DB
	path string
	log  zerolog.Logger

	vecMu  sync.Mutex
	vector *VectorIndex

	metrics *Metrics

	// TextSearchEnabled controls whether the hybrid ranker's text channel
	// is consulted. When false, search_hybrid treats the text channel as
	// always empty, matching the original build's feature-gated degrade
	// path (§4.6 step 1) without needing a Go build tag.
	TextSearchEnabled bool

	idMu    sync.Mutex
	idEntr  *ulid.MonotonicEntropy
	ephemeral bool
}

// Options configures Open/OpenInMemory.
type Options struct {
	// Logger receives structured operation logs. Defaults to a no-op
	// logger (zerolog.Nop()) if unset.
	Logger zerolog.Logger
	// Metrics, if non-nil, receives per-operation counters and
	// latencies. Construct with NewMetrics against a registry the
	// caller owns.
	Metrics *Metrics
}

// Open opens (creating if absent) a durable store at path on disk.
func Open(path string, opts Options) (*Graph, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		opts.Logger.Error().Err(err).Str("path", path).Msg("failed to open database")
		return nil, errStorage("opening database", err)
	}
	return newGraph(db, path, opts, false)
}

// OpenInMemory opens a store with no caller-visible path, for tests and
// embedding contexts where a filesystem is unavailable. bbolt has no
// first-class in-memory backend; this allocates a private temp file that
// Close removes, so no state outlives Close and no caller ever observes
// or depends on the path.
func OpenInMemory(opts Options) (*Graph, error) {
	f, err := os.CreateTemp("", "kronroe-mem-*.db")
	if err != nil {
		return nil, errStorage("allocating in-memory backing file", err)
	}
	path := f.Name()
	f.Close()

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		opts.Logger.Error().Err(err).Msg("failed to open in-memory-backed database")
		os.Remove(path)
		return nil, errStorage("opening in-memory database", err)
	}
	return newGraph(db, path, opts, true)
}

func newGraph(db *bolt.DB, path string, opts Options, ephemeral bool) (*Graph, error) {
	g := &Graph{
		db:                db,
		path:              path,
		log:               opts.Logger,
		metrics:           opts.Metrics,
		TextSearchEnabled: true,
		ephemeral:         ephemeral,
		idEntr:            ulid.Monotonic(rand.Reader, 0),
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketFacts, bucketIdempotency, bucketEmbeddings, bucketEmbeddingMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		g.log.Error().Err(err).Str("path", path).Msg("failed to initialize tables")
		db.Close()
		return nil, errStorage("initializing tables", err)
	}

	idx, err := rebuildVectorIndexFromDB(db)
	if err != nil {
		g.log.Error().Err(err).Str("path", path).Msg("failed to rebuild vector index from embeddings bucket")
		db.Close()
		return nil, err
	}
	g.vector = idx

	g.log.Debug().Str("path", path).Int("vector_entries", idx.Len()).Msg("kronroe store opened")
	return g, nil
}

// Close releases the substrate handle. If the store was opened with
// OpenInMemory, the ephemeral backing file is removed afterward.
func (g *Graph) Close() error {
	path, ephemeral := g.path, g.ephemeral
	err := g.db.Close()
	if ephemeral {
		os.Remove(path)
	}
	if err != nil {
		return errStorage("closing database", err)
	}
	return nil
}

// VectorIndexSize reports the number of entries currently held in the
// in-memory vector index, for callers wiring it into a gauge (see
// NewMetrics).
func (g *Graph) VectorIndexSize() int {
	g.vecMu.Lock()
	defer g.vecMu.Unlock()
	return g.vector.Len()
}

// nextID allocates a new time-sortable, monotonic-per-millisecond fact id
// with a random tail, per §3.
func (g *Graph) nextID() FactID {
	g.idMu.Lock()
	defer g.idMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), g.idEntr)
	return FactID(id.String())
}

func factKey(subject, predicate string, id FactID) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", subject, predicate, id))
}

// rebuildVectorIndexFromDB reads the embeddings table and reconstructs a
// fresh in-memory VectorIndex, per §4.1's "rebuild on open" contract. An
// absent embeddings bucket is treated as empty for forward compatibility
// with older store files, though in this implementation the bucket is
// always created by Open.
func rebuildVectorIndexFromDB(db *bolt.DB) (*VectorIndex, error) {
	idx := NewVectorIndex()
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEmbeddings)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if len(v)%4 != 0 {
				return fmt.Errorf("corrupt embedding row for fact %q: length %d not a multiple of 4", k, len(v))
			}
			floats, err := DecodeFloat32s(v)
			if err != nil {
				return err
			}
			return idx.insertLocked(FactID(k), floats)
		})
	})
	if err != nil {
		return nil, errStorage("rebuilding vector index", err)
	}
	return idx, nil
}
