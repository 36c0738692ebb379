package cache

import (
	"testing"

	"github.com/northpolesec/santa-sub009/internal/target"
)

func TestInsertLookup(t *testing.T) {
	c, err := New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fp := target.Fingerprint{FileSHA256: "abc"}
	c.Insert(fp, target.Decision{Outcome: target.Allow, Cacheable: target.Cacheable})

	d, ok := c.Lookup(fp)
	if !ok || d.Outcome != target.Allow {
		t.Fatalf("Lookup = %v, %v", d, ok)
	}
}

func TestAskUserNeverCached(t *testing.T) {
	c, _ := New(8)
	fp := target.Fingerprint{FileSHA256: "abc"}
	c.Insert(fp, target.Decision{Outcome: target.AskUser, Cacheable: target.NotCacheable})

	if _, ok := c.Lookup(fp); ok {
		t.Errorf("ASK_USER decisions must never be cached")
	}
}

func TestNotCacheableDropped(t *testing.T) {
	c, _ := New(8)
	fp := target.Fingerprint{FileSHA256: "abc"}
	c.Insert(fp, target.Decision{Outcome: target.Allow, Cacheable: target.NotCacheable})

	if _, ok := c.Lookup(fp); ok {
		t.Errorf("NotCacheable decisions must not be cached")
	}
}

func TestNegativeCachingKeepsDeny(t *testing.T) {
	c, _ := New(8)
	fp := target.Fingerprint{FileSHA256: "abc"}
	c.Insert(fp, target.Decision{Outcome: target.Deny, Cacheable: target.NegativeOnly})

	d, ok := c.Lookup(fp)
	if !ok || d.Outcome != target.Deny {
		t.Errorf("DENY must be negatively cached: got %v, %v", d, ok)
	}
}

func TestFlushEvictsEverything(t *testing.T) {
	c, _ := New(8)
	fp := target.Fingerprint{FileSHA256: "abc"}
	c.Insert(fp, target.Decision{Outcome: target.Allow, Cacheable: target.Cacheable})
	c.Flush()

	if _, ok := c.Lookup(fp); ok {
		t.Errorf("Flush should have evicted all entries")
	}
}

func TestFlushNonRootKeepsRootDevice(t *testing.T) {
	c, _ := New(8)
	root := target.Fingerprint{FileSHA256: "root", Vnode: target.VnodeID{Device: 1}}
	removable := target.Fingerprint{FileSHA256: "usb", Vnode: target.VnodeID{Device: 2}}
	c.Insert(root, target.Decision{Outcome: target.Allow, Cacheable: target.Cacheable})
	c.Insert(removable, target.Decision{Outcome: target.Allow, Cacheable: target.Cacheable})

	c.FlushNonRoot(1)

	if _, ok := c.Lookup(root); !ok {
		t.Errorf("root-device entry should survive FlushNonRoot")
	}
	if _, ok := c.Lookup(removable); ok {
		t.Errorf("removable-device entry should be evicted by FlushNonRoot")
	}
}
