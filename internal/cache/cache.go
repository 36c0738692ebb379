// Package cache implements the Auth Result Cache (C4): a bounded map from
// target fingerprint to a recent Decision, fast enough to consult on every
// execve.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/northpolesec/santa-sub009/internal/target"
)

// Cache is the Auth Result Cache. Lookup/Insert are safe for concurrent
// use; they take a shared lock and rely on the underlying LRU's own
// locking, while Flush and FlushNonRoot hold the exclusive lock while they
// evict entries in place.
type Cache struct {
	mu  sync.RWMutex
	lru *lru.Cache[target.Fingerprint, target.Decision]
	cap int
}

// New builds a cache bounded to size entries, evicted LRU under pressure
// (spec §4.4 "Eviction").
func New(size int) (*Cache, error) {
	l, err := lru.New[target.Fingerprint, target.Decision](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, cap: size}, nil
}

// Lookup returns the cached Decision for fp, if any.
func (c *Cache) Lookup(fp target.Fingerprint) (target.Decision, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Get(fp)
}

// Insert stores d under fp, honoring spec §4.4's caching rules: ASK_USER is
// never cached (invariant iii); NotCacheable decisions are dropped;
// NegativeOnly (DENY) decisions are cached same as YES (invariant ii).
func (c *Cache) Insert(fp target.Fingerprint, d target.Decision) {
	if d.Outcome == target.AskUser {
		return
	}
	if d.Cacheable == target.NotCacheable {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.lru.Add(fp, d)
}

// Flush evicts every entry. Callers invoke this on every rule-store
// mutation (invariant i): conservative invalidation beats tracking which
// fingerprints a given rule change could affect.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// FlushNonRoot evicts every entry whose fingerprint names a file on a
// device other than rootDevice, used when a removable volume is unmounted
// (spec §4.4) — targets still resident on the root volume need not be
// re-decided.
func (c *Cache) FlushNonRoot(rootDevice uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fp := range c.lru.Keys() {
		if fp.Vnode.Device != rootDevice {
			c.lru.Remove(fp)
		}
	}
}

// Len reports the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}
