package kronroe

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

// AssertFact allocates a new id, composes the key
// "{subject}:{predicate}:{id}", writes the fact within a fresh write
// transaction, and commits. Returns the new id.
func (g *Graph) AssertFact(ctx context.Context, subject, predicate string, object Value, validFrom time.Time) (id FactID, err error) {
	start := time.Now()
	defer func() { g.metrics.observe("assert_fact", start, err) }()

	err = g.db.Update(func(tx *bolt.Tx) error {
		var werr error
		id, werr = g.writeFactInTxn(tx, subject, predicate, object, validFrom)
		return werr
	})
	if err != nil {
		return "", errStorage("asserting fact", err)
	}
	g.log.Debug().Str("subject", subject).Str("predicate", predicate).Str("fact_id", string(id)).Msg("fact asserted")
	return id, nil
}

// writeFactInTxn constructs and serializes a new Fact and writes it into
// the facts bucket within the caller's already-open write transaction.
// Shared by AssertFact and AssertFactWithEmbedding.
func (g *Graph) writeFactInTxn(tx *bolt.Tx, subject, predicate string, object Value, validFrom time.Time) (FactID, error) {
	id := g.nextID()
	fact := Fact{
		ID:         id,
		Subject:    subject,
		Predicate:  predicate,
		Object:     object,
		ValidFrom:  validFrom,
		RecordedAt: time.Now().UTC(),
		Confidence: 1.0,
	}
	data, err := json.Marshal(fact)
	if err != nil {
		return "", err
	}
	b := tx.Bucket(bucketFacts)
	if err := b.Put(factKey(subject, predicate, id), data); err != nil {
		return "", err
	}
	return id, nil
}

// AssertFactIdempotent first attempts a read-transaction lookup of key in
// the idempotency table; on hit it returns the stored id without opening
// a write transaction. On miss it opens a write transaction, re-checks
// the key to close the TOCTOU window against a concurrent writer, and if
// still absent writes both the fact row and the key->id row atomically.
func (g *Graph) AssertFactIdempotent(ctx context.Context, key, subject, predicate string, object Value, validFrom time.Time) (id FactID, err error) {
	start := time.Now()
	defer func() { g.metrics.observe("assert_fact_idempotent", start, err) }()

	if existingID, ok, lookupErr := g.lookupIdempotencyKey(key); lookupErr != nil {
		err = errStorage("checking idempotency key", lookupErr)
		return "", err
	} else if ok {
		return existingID, nil
	}

	err = g.db.Update(func(tx *bolt.Tx) error {
		idem := tx.Bucket(bucketIdempotency)
		if existing := idem.Get([]byte(key)); existing != nil {
			g.log.Warn().Str("idempotency_key", key).Msg("idempotency key raced onto a concurrent writer")
			id = FactID(existing)
			return nil
		}
		newID, werr := g.writeFactInTxn(tx, subject, predicate, object, validFrom)
		if werr != nil {
			return werr
		}
		if werr := idem.Put([]byte(key), []byte(newID)); werr != nil {
			return werr
		}
		id = newID
		return nil
	})
	if err != nil {
		id = ""
		err = errStorage("asserting idempotent fact", err)
		return id, err
	}
	return id, nil
}

func (g *Graph) lookupIdempotencyKey(key string) (FactID, bool, error) {
	var id FactID
	var found bool
	err := g.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketIdempotency).Get([]byte(key)); v != nil {
			id = FactID(v)
			found = true
		}
		return nil
	})
	return id, found, err
}

// AssertFactWithEmbedding performs the 7-step assert-with-embedding
// algorithm of §4.4: reject empty embeddings, check-and-set the
// established dimension, write the fact row and the embedding bytes in
// one write transaction, commit, then mirror the insert into the
// in-memory vector index only after the commit succeeds.
func (g *Graph) AssertFactWithEmbedding(ctx context.Context, subject, predicate string, object Value, validFrom time.Time, embedding []float32) (id FactID, err error) {
	start := time.Now()
	defer func() { g.metrics.observe("assert_fact_with_embedding", start, err) }()

	if len(embedding) == 0 {
		err = errInvalidEmbedding("embedding must not be empty")
		return "", err
	}

	err = g.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketEmbeddingMeta)
		if v := meta.Get([]byte(dimMetaKey)); v != nil {
			existingDim := int(beUint64(v))
			if existingDim != len(embedding) {
				return errInvalidEmbedding("embedding dimension does not match the established dimension")
			}
		} else if err := meta.Put([]byte(dimMetaKey), beBytes(uint64(len(embedding)))); err != nil {
			return err
		}

		newID, err := g.writeFactInTxn(tx, subject, predicate, object, validFrom)
		if err != nil {
			return err
		}

		if err := tx.Bucket(bucketEmbeddings).Put([]byte(newID), EncodeFloat32s(embedding)); err != nil {
			return err
		}
		id = newID
		return nil
	})
	if err != nil {
		if ke, ok := err.(*KronroeError); ok {
			return "", ke
		}
		return "", errStorage("asserting fact with embedding", err)
	}

	// Only after a successful commit do we mirror into the in-memory
	// index; a crash here is harmless since rebuild-on-open reconstructs
	// the index from the embeddings table.
	g.vecMu.Lock()
	_ = g.vector.Insert(id, embedding)
	g.vecMu.Unlock()

	return id, nil
}

// CurrentFacts prefix-scans "{subject}:{predicate}:" and keeps only
// currently-valid facts.
func (g *Graph) CurrentFacts(ctx context.Context, subject, predicate string) ([]Fact, error) {
	prefix := []byte(subject + ":" + predicate + ":")
	return g.scanPrefix(prefix, func(f Fact) bool { return f.IsCurrentlyValid() })
}

// FactsAt prefix-scans "{subject}:{predicate}:" and keeps facts whose
// bi-temporal interval contained t.
func (g *Graph) FactsAt(ctx context.Context, subject, predicate string, t time.Time) ([]Fact, error) {
	prefix := []byte(subject + ":" + predicate + ":")
	return g.scanPrefix(prefix, func(f Fact) bool { return f.WasValidAt(t) })
}

// AllFactsAbout prefix-scans "{subject}:" with no temporal filter.
func (g *Graph) AllFactsAbout(ctx context.Context, subject string) ([]Fact, error) {
	prefix := []byte(subject + ":")
	return g.scanPrefix(prefix, func(Fact) bool { return true })
}

func (g *Graph) scanPrefix(prefix []byte, keep func(Fact) bool) ([]Fact, error) {
	var out []Fact
	err := g.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFacts).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var f Fact
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			if keep(f) {
				out = append(out, f.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, errStorage("scanning facts", err)
	}
	return out, nil
}

// FactByID performs a linear scan over the facts table and returns the
// matching fact, or a not-found error if absent. The key structure
// "{subject}:{predicate}:{id}" is not indexed by id, so lookup by id
// alone cannot avoid the scan (§4.2).
func (g *Graph) FactByID(ctx context.Context, id FactID) (Fact, error) {
	fact, found, err := g.findByID(nil, id)
	if err != nil {
		return Fact{}, errStorage("looking up fact by id", err)
	}
	if !found {
		return Fact{}, errNotFound("fact " + string(id) + " not found")
	}
	return fact.Clone(), nil
}

// findByID runs the linear-scan lookup either inside an existing
// transaction (tx != nil) or a fresh read transaction.
func (g *Graph) findByID(tx *bolt.Tx, id FactID) (Fact, bool, error) {
	scan := func(tx *bolt.Tx) (Fact, bool, error) {
		var found Fact
		var ok bool
		c := tx.Bucket(bucketFacts).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var f Fact
			if err := json.Unmarshal(v, &f); err != nil {
				return Fact{}, false, err
			}
			if f.ID == id {
				found, ok = f, true
				break
			}
		}
		return found, ok, nil
	}
	if tx != nil {
		return scan(tx)
	}
	var fact Fact
	var found bool
	err := g.db.View(func(tx *bolt.Tx) error {
		f, ok, err := scan(tx)
		fact, found = f, ok
		return err
	})
	return fact, found, err
}

// InvalidateFact locates the fact by id and, if present, overwrites its
// row with ValidTo = ExpiredAt = t. Re-invalidating is permitted and
// simply re-stamps the timestamps; it is not itself idempotency-tracked.
func (g *Graph) InvalidateFact(ctx context.Context, id FactID, t time.Time) (err error) {
	start := time.Now()
	defer func() { g.metrics.observe("invalidate_fact", start, err) }()

	err = g.db.Update(func(tx *bolt.Tx) error {
		fact, found, err := g.findByID(tx, id)
		if err != nil {
			return err
		}
		if !found {
			return errNotFound("fact " + string(id) + " not found")
		}
		tCopy := t
		fact.ValidTo = &tCopy
		fact.ExpiredAt = &tCopy
		data, err := json.Marshal(fact)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketFacts).Put(factKey(fact.Subject, fact.Predicate, fact.ID), data)
	})
	if ke, ok := err.(*KronroeError); ok {
		return ke
	}
	if err != nil {
		return errStorage("invalidating fact", err)
	}
	g.log.Debug().Str("fact_id", string(id)).Msg("fact invalidated")
	return nil
}

// CorrectFact loads the old fact, invalidates it at t, and asserts a new
// fact sharing subject/predicate with object = newObject and
// ValidFrom = t. The two writes are deliberately two separate
// transactions (§4.2, §9 Design Notes): a crash between them leaves a
// cleanly invalidated old fact and no replacement, which the caller may
// retry.
func (g *Graph) CorrectFact(ctx context.Context, id FactID, newObject Value, t time.Time) (_ FactID, err error) {
	start := time.Now()
	defer func() { g.metrics.observe("correct_fact", start, err) }()

	old, err := g.FactByID(ctx, id)
	if err != nil {
		return "", err
	}
	if err := g.InvalidateFact(ctx, id, t); err != nil {
		return "", err
	}
	return g.AssertFact(ctx, old.Subject, old.Predicate, newObject, t)
}

func beBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
