package rule

import (
	"math/rand"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestApplyUpdateAndGet(t *testing.T) {
	s := openTestStore(t)

	err := s.ApplyUpdate([]Rule{
		{Kind: BinarySHA256, Identifier: "aaa", Policy: Allowlist},
		{Kind: TeamID, Identifier: "Z", Policy: Blocklist},
	}, Normal)
	if err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	r, ok, err := s.Get(BinarySHA256, "aaa")
	if err != nil || !ok {
		t.Fatalf("Get: %v ok=%v", err, ok)
	}
	if r.Policy != Allowlist {
		t.Errorf("policy = %v, want Allowlist", r.Policy)
	}

	if _, ok, _ := s.Get(BinarySHA256, "bbb"); ok {
		t.Errorf("expected miss for unknown identifier")
	}
}

func TestApplyUpdateRemove(t *testing.T) {
	s := openTestStore(t)
	must(t, s.ApplyUpdate([]Rule{{Kind: CDHash, Identifier: "x", Policy: Allowlist}}, Normal))
	must(t, s.ApplyUpdate([]Rule{{Kind: CDHash, Identifier: "x", Policy: Remove}}, Normal))

	if _, ok, _ := s.Get(CDHash, "x"); ok {
		t.Errorf("rule should have been removed")
	}
}

func TestCleanSyncPreservesTransitive(t *testing.T) {
	s := openTestStore(t)
	must(t, s.ApplyUpdate([]Rule{
		{Kind: TeamID, Identifier: "Z", Policy: Blocklist},
		{Kind: BinarySHA256, Identifier: "compiled", Policy: Allowlist, Transitive: true},
	}, Normal))

	must(t, s.ApplyUpdate([]Rule{{Kind: TeamID, Identifier: "NEW", Policy: Allowlist}}, Clean))

	if _, ok, _ := s.Get(TeamID, "Z"); ok {
		t.Errorf("Clean sync should remove non-transitive rules")
	}
	if _, ok, _ := s.Get(BinarySHA256, "compiled"); !ok {
		t.Errorf("Clean sync should preserve transitive rules")
	}
}

func TestCleanAllSyncRemovesTransitive(t *testing.T) {
	s := openTestStore(t)
	must(t, s.ApplyUpdate([]Rule{
		{Kind: BinarySHA256, Identifier: "compiled", Policy: Allowlist, Transitive: true},
	}, Normal))

	must(t, s.ApplyUpdate(nil, CleanAll))

	if _, ok, _ := s.Get(BinarySHA256, "compiled"); ok {
		t.Errorf("CleanAll sync should remove transitive rules too")
	}
}

func TestRulesHashStableUnderPermutation(t *testing.T) {
	batch := []Rule{
		{Kind: BinarySHA256, Identifier: "a", Policy: Allowlist},
		{Kind: TeamID, Identifier: "Z", Policy: Blocklist},
		{Kind: CertSHA256, Identifier: "c", Policy: Blocklist},
	}

	s1 := openTestStore(t)
	must(t, s1.ApplyUpdate(batch, Normal))
	h1, err := s1.RulesHash()
	if err != nil {
		t.Fatalf("RulesHash: %v", err)
	}

	shuffled := append([]Rule{}, batch...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	s2 := openTestStore(t)
	must(t, s2.ApplyUpdate(shuffled, Normal))
	h2, err := s2.RulesHash()
	if err != nil {
		t.Fatalf("RulesHash: %v", err)
	}

	if h1 != h2 {
		t.Errorf("hash not stable under permutation: %s != %s", h1, h2)
	}
}

func TestOnMutateInvokedOnSuccess(t *testing.T) {
	s := openTestStore(t)
	var calls int
	s.OnMutate(func() { calls++ })

	must(t, s.ApplyUpdate([]Rule{{Kind: TeamID, Identifier: "Z", Policy: Allowlist}}, Normal))
	if calls != 1 {
		t.Errorf("onMutate calls = %d, want 1", calls)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
