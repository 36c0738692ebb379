// Package control implements the Control Surface (C9): idempotent
// apply-operations driven by the out-of-scope sync collaborator, wired
// to the Rule Store and the FAA engine (spec §4.9, §6.4).
package control

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/northpolesec/santa-sub009/internal/cache"
	"github.com/northpolesec/santa-sub009/internal/faa"
	"github.com/northpolesec/santa-sub009/internal/policy"
	"github.com/northpolesec/santa-sub009/internal/rule"
)

// RuleStore is the subset of rule.Store the Control Surface needs.
type RuleStore interface {
	ApplyUpdate(batch []rule.Rule, syncType rule.SyncType) error
	Counts() (map[rule.Kind]int, error)
	RulesHash() (string, error)
}

// Surface applies sync-collaborator directives transactionally via the
// Rule Store and the FAA engine. Every method is idempotent with respect
// to repeated delivery of identical content (spec §6.4).
type Surface struct {
	store   RuleStore
	faa     *faa.Engine
	cache   *cache.Cache
	modeRef *atomic.Int32 // shared with the Policy Engine's caller

	mu                 sync.Mutex
	lastSuccessfulSync time.Time
}

// New builds a Surface wired to the given collaborators. modeRef is a
// shared atomic holding the current policy.Mode, so SetClientMode takes
// effect for the very next decision without a restart.
func New(store RuleStore, faaEngine *faa.Engine, resultCache *cache.Cache, modeRef *atomic.Int32) *Surface {
	return &Surface{store: store, faa: faaEngine, cache: resultCache, modeRef: modeRef}
}

// ApplyRuleBatch applies a rule-store mutation batch (spec §6.4).
func (s *Surface) ApplyRuleBatch(syncType rule.SyncType, rules []rule.Rule) error {
	if err := s.store.ApplyUpdate(rules, syncType); err != nil {
		return fmt.Errorf("control: apply rule batch: %w", err)
	}
	// Rule mutation invalidates cached decisions conservatively (spec
	// §4.4, §5): flush rather than try to prove which entries are safe.
	// The concrete Rule Store also flushes via its OnMutate hook (wired
	// in internal/engine), so coherence holds even for mutations, like
	// RecordTransitive, that never go through the Control Surface.
	s.cache.Flush()
	s.markSynced()
	return nil
}

// ReloadFAAPolicy parses and compiles a new FAA policy document, leaving
// the previously active compiled set untouched on failure (spec §4.5
// step 1, §6.4).
func (s *Surface) ReloadFAAPolicy(docYAML []byte) error {
	var doc faa.Document
	if err := yaml.Unmarshal(docYAML, &doc); err != nil {
		return fmt.Errorf("control: decode FAA policy: %w", err)
	}
	cs, err := faa.Compile(doc)
	if err != nil {
		return fmt.Errorf("control: compile FAA policy: %w", err)
	}
	s.faa.Reload(cs)
	s.markSynced()
	return nil
}

// SetClientMode updates the daemon's mode (spec §6.4).
func (s *Surface) SetClientMode(mode policy.Mode) {
	s.modeRef.Store(int32(mode))
	s.markSynced()
}

// FlushCache drops every cached decision (spec §6.4).
func (s *Surface) FlushCache() {
	s.cache.Flush()
	s.markSynced()
}

// GetRuleCounts is a read-back of the Rule Store's per-kind counts.
func (s *Surface) GetRuleCounts() (map[rule.Kind]int, error) {
	return s.store.Counts()
}

// GetRulesHash is a read-back of the Rule Store's content-addressed hash.
func (s *Surface) GetRulesHash() (string, error) {
	return s.store.RulesHash()
}

// LastSuccessfulSync reports the timestamp of the most recent successful
// apply-operation (spec §4.9: "a set of idempotent apply-operations and
// read-backs (counts, hash, last-successful-sync timestamp)").
func (s *Surface) LastSuccessfulSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccessfulSync
}

func (s *Surface) markSynced() {
	s.mu.Lock()
	s.lastSuccessfulSync = time.Now()
	s.mu.Unlock()
}
