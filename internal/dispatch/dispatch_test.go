package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/northpolesec/santa-sub009/internal/cache"
	"github.com/northpolesec/santa-sub009/internal/daemonlog"
	"github.com/northpolesec/santa-sub009/internal/faa"
	"github.com/northpolesec/santa-sub009/internal/policy"
	"github.com/northpolesec/santa-sub009/internal/target"
)

type fakeEngine struct {
	mu      sync.Mutex
	calls   int
	outcome target.Outcome
	delay   time.Duration
	hint    *policy.TransitiveHint

	transitiveCalls []string // createdFileSHA256 values RecordTransitive was called with
}

func (f *fakeEngine) Decide(t *target.Target, cfg policy.Config) (target.Decision, *policy.TransitiveHint, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return target.Decision{Outcome: f.outcome, Cacheable: target.Cacheable}, f.hint, nil
}

func (f *fakeEngine) RecordTransitive(hint policy.TransitiveHint, createdFileSHA256 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitiveCalls = append(f.transitiveCalls, createdFileSHA256)
	return nil
}

type fakeExtractor struct {
	sha256 string
}

func (f *fakeExtractor) Extract(path string, t *target.Target) error {
	t.FileSHA256 = f.sha256
	return nil
}

type fakeRecorder struct {
	mu          sync.Mutex
	executions  []target.Decision
	fileAccess  []faa.EventRecord
	gaps        []uint64
}

func (f *fakeRecorder) RecordExecution(t target.Target, d target.Decision, deadlineExceeded bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions = append(f.executions, d)
}
func (f *fakeRecorder) RecordFileAccess(rec faa.EventRecord, proc target.Target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fileAccess = append(f.fileAccess, rec)
}
func (f *fakeRecorder) RecordSequenceGap(kind Kind, drops uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gaps = append(f.gaps, drops)
}

func newTestDispatcher(t *testing.T, outcome target.Outcome) (*Dispatcher, *fakeEngine, *fakeRecorder) {
	t.Helper()
	c, err := cache.New(64)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	log, err := daemonlog.Open("")
	if err != nil {
		t.Fatalf("daemonlog.Open: %v", err)
	}
	var mode atomic.Int32
	eng := &fakeEngine{outcome: outcome}
	rec := &fakeRecorder{}
	d := New(eng, c, faa.NewEngine(), log, &mode, rec, nil, 2)
	return d, eng, rec
}

func TestExecutionAuthAllowsAndCaches(t *testing.T) {
	d, eng, _ := newTestDispatcher(t, target.Allow)
	tgt := &target.Target{FileSHA256: "abc"}

	resp := d.OnEvent(context.Background(), Event{Kind: KindExecutionAuth, Seq: 1, Target: tgt})
	if resp.Outcome != target.Allow {
		t.Fatalf("Outcome = %v, want Allow", resp.Outcome)
	}
	if eng.calls != 1 {
		t.Fatalf("engine called %d times, want 1", eng.calls)
	}

	resp = d.OnEvent(context.Background(), Event{Kind: KindExecutionAuth, Seq: 2, Target: tgt})
	if resp.Outcome != target.Allow {
		t.Fatalf("Outcome = %v, want Allow on cache hit", resp.Outcome)
	}
	if eng.calls != 1 {
		t.Fatalf("engine called %d times after cache hit, want still 1", eng.calls)
	}
}

func TestExecutionAuthUnresolvedTargetUsesModeDefault(t *testing.T) {
	d, eng, rec := newTestDispatcher(t, target.Allow)
	resp := d.OnEvent(context.Background(), Event{Kind: KindExecutionAuth, Seq: 1, Target: nil})
	if resp.Outcome != target.Allow {
		t.Fatalf("Outcome = %v, want Allow in MONITOR mode for unresolved target", resp.Outcome)
	}
	if eng.calls != 0 {
		t.Fatalf("engine should never be called for an unresolved target")
	}
	if len(rec.executions) != 1 || rec.executions[0].Reason != target.ReasonTargetUnresolved {
		t.Fatalf("expected one target_unresolved execution record, got %+v", rec.executions)
	}
}

func TestSequenceGapRecorded(t *testing.T) {
	d, _, rec := newTestDispatcher(t, target.Allow)

	d.OnEvent(context.Background(), Event{Kind: KindExecutionAuth, Seq: 1, Target: &target.Target{FileSHA256: "a"}})
	d.OnEvent(context.Background(), Event{Kind: KindExecutionAuth, Seq: 5, Target: &target.Target{FileSHA256: "b"}})

	if len(rec.gaps) != 1 || rec.gaps[0] != 3 {
		t.Fatalf("gaps = %v, want [3] for seq 1 -> 5", rec.gaps)
	}
}

func TestSequenceGapNotRecordedOnContiguousOrDuplicate(t *testing.T) {
	d, _, rec := newTestDispatcher(t, target.Allow)

	d.OnEvent(context.Background(), Event{Kind: KindNotify, Seq: 10})
	d.OnEvent(context.Background(), Event{Kind: KindNotify, Seq: 11})
	d.OnEvent(context.Background(), Event{Kind: KindNotify, Seq: 11})

	if len(rec.gaps) != 0 {
		t.Fatalf("gaps = %v, want none for contiguous/duplicate sequence", rec.gaps)
	}
}

func TestExecutionAuthDeadlineExceededFallsBackByMode(t *testing.T) {
	d, _, rec := newTestDispatcher(t, target.Allow)
	d.eventLog = rec
	var mode atomic.Int32
	mode.Store(int32(policy.Lockdown))
	d.modeRef = &mode

	tgt := &target.Target{FileSHA256: "slow"}
	ev := Event{
		Kind:     KindExecutionAuth,
		Seq:      1,
		Target:   tgt,
		Deadline: time.Now().Add(-time.Millisecond), // already expired
	}
	resp := d.OnEvent(context.Background(), ev)
	if !resp.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %+v", resp)
	}
	if resp.Outcome != target.Deny {
		t.Fatalf("Outcome = %v, want Deny (LOCKDOWN mode default)", resp.Outcome)
	}
}

func TestFileAccessAuthDenyOnUnlistedWrite(t *testing.T) {
	d, _, rec := newTestDispatcher(t, target.Allow)
	notAudit := false
	cs, err := faa.Compile(faa.Document{
		Version: "1",
		WatchItems: map[string]faa.WatchItemDoc{
			"Cookies": {
				Paths:   []faa.PathEntry{{Path: "/tmp/cookies/*"}},
				Options: faa.OptionsDoc{AuditOnly: &notAudit},
			},
		},
	})
	if err != nil {
		t.Fatalf("faa.Compile: %v", err)
	}
	d.faa.Reload(cs)

	resp := d.OnEvent(context.Background(), Event{
		Kind:       KindFileAccessAuth,
		Seq:        1,
		PathTarget: faa.PathTarget{Path: "/tmp/cookies/a", ReadOnly: false},
		ProcFacts:  faa.ProcessFacts{BinaryPath: "/usr/bin/curl", PID: 100},
	})
	if resp.Outcome != target.Deny {
		t.Fatalf("Outcome = %v, want Deny for unlisted writer", resp.Outcome)
	}
	if len(rec.fileAccess) != 1 {
		t.Fatalf("expected one file-access record, got %d", len(rec.fileAccess))
	}
}

func TestTransitiveHintRecordedOnSubsequentNotify(t *testing.T) {
	d, eng, _ := newTestDispatcher(t, target.Allow)
	eng.hint = &policy.TransitiveHint{SourceRuleIdentifier: "compiler-rule"}
	d.extractor = &fakeExtractor{sha256: "created-hash"}

	d.OnEvent(context.Background(), Event{
		Kind:   KindExecutionAuth,
		Seq:    1,
		Target: &target.Target{FileSHA256: "compiler-binary", PID: 42},
	})

	d.OnEvent(context.Background(), Event{
		Kind:       KindNotify,
		Seq:        1,
		PathTarget: faa.PathTarget{Path: "/tmp/created-binary"},
		ProcFacts:  faa.ProcessFacts{PID: 42},
	})

	if len(eng.transitiveCalls) != 1 || eng.transitiveCalls[0] != "created-hash" {
		t.Fatalf("transitiveCalls = %v, want one call with created-hash", eng.transitiveCalls)
	}
}

func TestTransitiveHintIgnoredWithoutExtractor(t *testing.T) {
	d, eng, _ := newTestDispatcher(t, target.Allow)
	eng.hint = &policy.TransitiveHint{SourceRuleIdentifier: "compiler-rule"}

	d.OnEvent(context.Background(), Event{
		Kind:   KindExecutionAuth,
		Seq:    1,
		Target: &target.Target{FileSHA256: "compiler-binary", PID: 42},
	})
	d.OnEvent(context.Background(), Event{
		Kind:       KindNotify,
		Seq:        1,
		PathTarget: faa.PathTarget{Path: "/tmp/created-binary"},
		ProcFacts:  faa.ProcessFacts{PID: 42},
	})

	if len(eng.transitiveCalls) != 0 {
		t.Fatalf("transitiveCalls = %v, want none without a codesign.Extractor", eng.transitiveCalls)
	}
}

func TestFileAccessAuthAllowsUnmatchedPath(t *testing.T) {
	d, _, _ := newTestDispatcher(t, target.Allow)
	resp := d.OnEvent(context.Background(), Event{
		Kind:       KindFileAccessAuth,
		Seq:        1,
		PathTarget: faa.PathTarget{Path: "/tmp/unwatched", ReadOnly: false},
		ProcFacts:  faa.ProcessFacts{BinaryPath: "/usr/bin/anything", PID: 1},
	})
	if resp.Outcome != target.Allow {
		t.Fatalf("Outcome = %v, want Allow for a path no watch item covers", resp.Outcome)
	}
}
