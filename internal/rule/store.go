package rule

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRules      = []byte("rules")
	bucketTransitive = []byte("transitive")
)

// ErrStorageIO wraps any failure of the underlying bbolt transaction. Per
// spec §4.3, a failed apply_update leaves the store unchanged.
type ErrStorageIO struct{ Err error }

func (e *ErrStorageIO) Error() string { return fmt.Sprintf("storage_io: %v", e.Err) }
func (e *ErrStorageIO) Unwrap() error { return e.Err }

// Store is a persistent, crash-safe key-value mapping from (Kind,
// Identifier) to Rule, backed by bbolt. Writes are serialized by bbolt's
// single-writer transaction model; reads run concurrently via read-only
// transactions. See spec §4.3.
type Store struct {
	db *bolt.DB

	mu         sync.RWMutex
	onMutate   func()
	hashCache  *uint64
	countCache map[Kind]int
}

// Open opens (creating if necessary) the rule database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, &ErrStorageIO{Err: err}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRules); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketTransitive)
		return err
	})
	if err != nil {
		db.Close()
		return nil, &ErrStorageIO{Err: err}
	}
	return &Store{db: db}, nil
}

// OnMutate registers a callback invoked after every successful ApplyUpdate,
// before ApplyUpdate returns. The Policy Engine's cache (C4) wires its
// Flush here to satisfy the cache-coherence invariant (spec §4.4(i)).
func (s *Store) OnMutate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMutate = fn
}

func (s *Store) Close() error { return s.db.Close() }

func keyBytes(k Key) []byte {
	text, _ := k.Kind.MarshalText()
	return append(append([]byte{}, text...), append([]byte(":"), k.Identifier...)...)
}

// ListByKind returns every active rule of the given Kind, for callers (the
// Policy Engine's SigningID wildcard resolution) that must scan rather than
// do an exact-key lookup.
func (s *Store) ListByKind(kind Kind) ([]Rule, error) {
	var out []Rule
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRules)
		return b.ForEach(func(_, raw []byte) error {
			var r Rule
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			if r.Kind == kind {
				out = append(out, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, &ErrStorageIO{Err: err}
	}
	return out, nil
}

// Get returns the rule for (kind, id), or ok=false if absent or removed.
func (s *Store) Get(kind Kind, id string) (Rule, bool, error) {
	var out Rule
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRules)
		raw := b.Get(keyBytes(Key{Kind: kind, Identifier: id}))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &out)
	})
	if err != nil {
		return Rule{}, false, &ErrStorageIO{Err: err}
	}
	return out, found, nil
}

// ApplyUpdate transactionally applies an ordered batch of rules. A Remove
// policy entry deletes the rule at that key. On success the store's cached
// hash/counts are invalidated and onMutate is invoked before returning.
func (s *Store) ApplyUpdate(batch []Rule, syncType SyncType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRules)
		t := tx.Bucket(bucketTransitive)

		if syncType == Clean || syncType == CleanAll {
			if err := clearNonTransitive(b, t, syncType == CleanAll); err != nil {
				return err
			}
		}

		for _, r := range batch {
			key := keyBytes(r.Key())
			if r.Policy == Remove {
				if err := b.Delete(key); err != nil {
					return err
				}
				if err := t.Delete(key); err != nil {
					return err
				}
				continue
			}
			raw, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := b.Put(key, raw); err != nil {
				return err
			}
			if r.Transitive {
				if err := t.Put(key, []byte{1}); err != nil {
					return err
				}
			} else {
				_ = t.Delete(key)
			}
		}
		return nil
	})
	if err != nil {
		return &ErrStorageIO{Err: err}
	}

	s.hashCache = nil
	s.countCache = nil
	if s.onMutate != nil {
		s.onMutate()
	}
	return nil
}

func clearNonTransitive(rules, transitive *bolt.Bucket, all bool) error {
	var toDelete [][]byte
	c := rules.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if !all && transitive.Get(k) != nil {
			continue
		}
		toDelete = append(toDelete, append([]byte{}, k...))
	}
	for _, k := range toDelete {
		if err := rules.Delete(k); err != nil {
			return err
		}
		if all {
			if err := transitive.Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}

// Counts returns the number of active (non-Remove) rules per Kind.
func (s *Store) Counts() (map[Kind]int, error) {
	s.mu.RLock()
	if s.countCache != nil {
		defer s.mu.RUnlock()
		out := make(map[Kind]int, len(s.countCache))
		for k, v := range s.countCache {
			out[k] = v
		}
		return out, nil
	}
	s.mu.RUnlock()

	counts := make(map[Kind]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRules)
		return b.ForEach(func(_, raw []byte) error {
			var r Rule
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			counts[r.Kind]++
			return nil
		})
	})
	if err != nil {
		return nil, &ErrStorageIO{Err: err}
	}

	s.mu.Lock()
	s.countCache = counts
	s.mu.Unlock()

	out := make(map[Kind]int, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out, nil
}

// RulesHash returns a content-addressed hash of the active (non-Remove)
// rule multiset, stable regardless of insertion order (spec §3, property
// 4): it XORs a per-rule digest, which is commutative and, since (Kind, Id)
// is unique, collision-safe for equal multisets.
func (s *Store) RulesHash() (string, error) {
	s.mu.RLock()
	if s.hashCache != nil {
		defer s.mu.RUnlock()
		return fmt.Sprintf("%016x", *s.hashCache), nil
	}
	s.mu.RUnlock()

	var acc uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRules)
		return b.ForEach(func(_, raw []byte) error {
			acc ^= xxhash.Sum64(raw)
			return nil
		})
	})
	if err != nil {
		return "", &ErrStorageIO{Err: err}
	}

	s.mu.Lock()
	s.hashCache = &acc
	s.mu.Unlock()

	return fmt.Sprintf("%016x", acc), nil
}

// All returns every active rule, sorted by (Kind, Identifier), for
// diagnostics.
func (s *Store) All() ([]Rule, error) {
	var out []Rule
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRules)
		return b.ForEach(func(_, raw []byte) error {
			var r Rule
			if err := json.Unmarshal(raw, &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, &ErrStorageIO{Err: err}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Identifier < out[j].Identifier
	})
	return out, nil
}
