package kronroe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ExportData is the top-level structure for a portable backup. Embeddings
// are deliberately excluded — they are model-specific binary blobs that
// do not transfer portably; re-assert with embeddings after import via
// AssertFactWithEmbedding if needed.
type ExportData struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Facts      []Fact    `json:"facts"`
}

const exportVersion = 1

// Export walks the facts bucket in key order and returns every fact
// (including historical, invalidated ones) as a portable backup. This is
// an administrative convenience on top of the durable substrate, not
// part of the core query surface.
func (g *Graph) Export(ctx context.Context) (*ExportData, error) {
	data := &ExportData{Version: exportVersion, ExportedAt: time.Now().UTC()}

	err := g.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFacts).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var f Fact
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("decoding fact at key %q: %w", k, err)
			}
			data.Facts = append(data.Facts, f)
		}
		return nil
	})
	if err != nil {
		return nil, errStorage("exporting facts", err)
	}
	return data, nil
}

// ImportResult summarizes an import.
type ImportResult struct {
	Imported int
	Skipped  int
}

// Import writes every fact in data into the store, preserving its
// original id, timestamps, and closing timestamps exactly (a direct
// bucket write, not a re-assert through AssertFact, so that historical
// invalidated facts keep their original recorded_at). Facts whose id
// already exists are skipped.
func (g *Graph) Import(ctx context.Context, data *ExportData) (*ImportResult, error) {
	if data.Version != exportVersion {
		return nil, errStorage(fmt.Sprintf("unsupported export version %d", data.Version), nil)
	}

	result := &ImportResult{}
	err := g.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFacts)
		for _, f := range data.Facts {
			key := factKey(f.Subject, f.Predicate, f.ID)
			if existing := b.Get(key); existing != nil {
				result.Skipped++
				continue
			}
			enc, err := json.Marshal(f)
			if err != nil {
				return err
			}
			if err := b.Put(key, enc); err != nil {
				return err
			}
			result.Imported++
		}
		return nil
	})
	if err != nil {
		return nil, errStorage("importing facts", err)
	}
	return result, nil
}
