// Package dispatch implements the Event Dispatcher (C1): classifies
// AUTH/NOTIFY events from the host event source, answers AUTH events
// before their deadline, and maintains per-event-type sequence-gap
// telemetry (spec §4.1).
package dispatch

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/northpolesec/santa-sub009/internal/cache"
	"github.com/northpolesec/santa-sub009/internal/codesign"
	"github.com/northpolesec/santa-sub009/internal/daemonlog"
	"github.com/northpolesec/santa-sub009/internal/faa"
	"github.com/northpolesec/santa-sub009/internal/policy"
	"github.com/northpolesec/santa-sub009/internal/target"
)

// Kind classifies an incoming event (spec §4.1).
type Kind int

const (
	KindExecutionAuth Kind = iota
	KindFileAccessAuth
	KindMountAuth
	KindNotify
)

// Event is what the out-of-scope host event source delivers to on_event.
type Event struct {
	Kind     Kind
	Seq      uint64 // monotonically increasing per event-type, reported by the source
	Deadline time.Time

	Target     *target.Target // nil if extraction failed (target_unresolved)
	PathTarget faa.PathTarget
	ProcFacts  faa.ProcessFacts
}

// Response is the dispatcher's verdict for an AUTH event.
type Response struct {
	Outcome          target.Outcome
	DeadlineExceeded bool
}

// PolicyEngine is the subset of policy.Engine the dispatcher drives.
type PolicyEngine interface {
	Decide(t *target.Target, cfg policy.Config) (target.Decision, *policy.TransitiveHint, error)
	RecordTransitive(hint policy.TransitiveHint, createdFileSHA256 string) error
}

// Dispatcher classifies and answers events (spec §4.1). AUTH handling
// runs on a worker pool bounded to GOMAXPROCS, matching the spec's "sized
// to the number of CPUs" requirement (spec §5).
type Dispatcher struct {
	engine PolicyEngine
	cache  *cache.Cache
	faa    *faa.Engine
	log    *daemonlog.Logger

	sem *semaphore.Weighted

	mu      atomic.Value // holds policy.Config, installed by SetConfig
	modeRef *atomic.Int32

	seqMu    atomicSeqTracker
	eventLog EventRecorder

	extractor codesign.Extractor

	// pendingTransitive correlates an ALLOWLIST_COMPILER-allowed process
	// (keyed by PID) with the binary it subsequently creates, so the
	// create-NOTIFY for that PID can call PolicyEngine.RecordTransitive
	// with the new binary's hash (spec §4.2).
	pendingTransitive sync.Map
}

// EventRecorder hands completed event telemetry to the Decision Logger.
type EventRecorder interface {
	RecordExecution(t target.Target, d target.Decision, deadlineExceeded bool)
	RecordFileAccess(rec faa.EventRecord, proc target.Target)
	RecordSequenceGap(kind Kind, drops uint64)
}

// New builds a Dispatcher. workerLimit <= 0 defaults to GOMAXPROCS. extractor
// may be nil, in which case a created binary's hash is never resolved and
// RecordTransitive is never called (transitive allowlisting is inert rather
// than wired to a host code-signing extractor).
func New(engine PolicyEngine, resultCache *cache.Cache, faaEngine *faa.Engine, logger *daemonlog.Logger, modeRef *atomic.Int32, recorder EventRecorder, extractor codesign.Extractor, workerLimit int) *Dispatcher {
	if workerLimit <= 0 {
		workerLimit = runtime.GOMAXPROCS(0)
	}
	d := &Dispatcher{
		engine:    engine,
		cache:     resultCache,
		faa:       faaEngine,
		log:       logger,
		sem:       semaphore.NewWeighted(int64(workerLimit)),
		modeRef:   modeRef,
		eventLog:  recorder,
		extractor: extractor,
	}
	d.mu.Store(policy.Config{Mode: policy.Monitor})
	return d
}

// SetConfig installs the policy.Config used for every subsequent
// decision (mode-dependent fallback, failsafe cert set, path regexes).
func (d *Dispatcher) SetConfig(cfg policy.Config) {
	d.mu.Store(cfg)
}

// config returns the current policy.Config with Mode overridden from the
// shared modeRef, so SetClientMode (Control Surface, spec §4.9) takes
// effect immediately without re-publishing the whole Config.
func (d *Dispatcher) config() policy.Config {
	cfg := d.mu.Load().(policy.Config)
	cfg.Mode = policy.Mode(d.modeRef.Load())
	return cfg
}

// OnEvent classifies and answers ev, honoring ev.Deadline for AUTH kinds
// (spec §4.1: "on_event(event) -> ResponseFuture").
func (d *Dispatcher) OnEvent(ctx context.Context, ev Event) Response {
	if gap := d.seqMu.observe(ev.Kind, ev.Seq); gap > 0 {
		d.eventLog.RecordSequenceGap(ev.Kind, gap)
	}

	switch ev.Kind {
	case KindNotify:
		return d.handleNotify(ev)
	case KindExecutionAuth:
		return d.handleExecutionAuth(ctx, ev)
	case KindFileAccessAuth:
		return d.handleFileAccessAuth(ev)
	case KindMountAuth:
		return d.handleMountAuth(ev)
	default:
		return Response{}
	}
}

func (d *Dispatcher) handleExecutionAuth(ctx context.Context, ev Event) Response {
	if ev.Target == nil {
		// target_unresolved (spec §4.1, §7): decide by mode, non-cacheable.
		cfg := d.config()
		dec := modeDefault(cfg.Mode)
		d.eventLog.RecordExecution(target.Target{}, dec, false)
		return Response{Outcome: dec.Outcome}
	}

	fp := target.Fingerprint{FileSHA256: ev.Target.FileSHA256}
	if dec, ok := d.cache.Lookup(fp); ok {
		return Response{Outcome: dec.Outcome}
	}

	acquireCtx := ctx
	var cancel context.CancelFunc
	if !ev.Deadline.IsZero() {
		acquireCtx, cancel = context.WithDeadline(ctx, ev.Deadline)
		defer cancel()
	}
	if err := d.sem.Acquire(acquireCtx, 1); err != nil {
		return d.deadlineExceeded(ev)
	}
	defer d.sem.Release(1)

	if !ev.Deadline.IsZero() && time.Now().After(ev.Deadline) {
		return d.deadlineExceeded(ev)
	}

	cfg := d.config()
	dec, hint, err := d.engine.Decide(ev.Target, cfg)
	if err != nil {
		d.log.Error("dispatch", "policy decide: %v", err)
		dec = modeDefault(cfg.Mode)
	}

	if dec.Cacheable == target.Cacheable || dec.Cacheable == target.NegativeOnly {
		d.cache.Insert(fp, dec)
	}
	d.eventLog.RecordExecution(*ev.Target, dec, false)
	if hint != nil {
		d.pendingTransitive.Store(ev.Target.PID, *hint)
	}

	return Response{Outcome: dec.Outcome}
}

// handleNotify correlates a file-create NOTIFY event with a transitive
// hint recorded when its creating process was itself allowed by an
// ALLOWLIST_COMPILER rule, and, once the created binary's hash is
// resolved, materializes it into a new BINARY_SHA256/ALLOWLIST rule (spec
// §4.2 "Transitive allowlisting").
func (d *Dispatcher) handleNotify(ev Event) Response {
	v, ok := d.pendingTransitive.LoadAndDelete(ev.ProcFacts.PID)
	if !ok {
		return Response{}
	}
	hint := v.(policy.TransitiveHint)
	if d.extractor == nil {
		return Response{}
	}

	var created target.Target
	if err := d.extractor.Extract(ev.PathTarget.Path, &created); err != nil {
		d.log.Error("dispatch", "transitive extract %s: %v", ev.PathTarget.Path, err)
		return Response{}
	}
	if created.FileSHA256 == "" {
		return Response{}
	}
	if err := d.engine.RecordTransitive(hint, created.FileSHA256); err != nil {
		d.log.Error("dispatch", "record transitive for %s: %v", ev.PathTarget.Path, err)
	}
	return Response{}
}

func (d *Dispatcher) handleFileAccessAuth(ev Event) Response {
	decision, rec, matched := d.faa.Evaluate(ev.PathTarget, ev.ProcFacts)
	if !matched {
		return Response{Outcome: target.Allow}
	}
	if rec != nil {
		proc := target.Target{Path: ev.ProcFacts.BinaryPath, PID: ev.ProcFacts.PID}
		d.eventLog.RecordFileAccess(*rec, proc)
	}
	if decision == faa.Deny {
		return Response{Outcome: target.Deny}
	}
	return Response{Outcome: target.Allow}
}

// handleMountAuth answers every mount event with the same mode-dependent
// fallback as an unresolved execution target; no device policy is
// applied. Concrete removable-volume rules are owned by the out-of-scope
// host integration; the dispatcher's only responsibility here is to never
// block past the deadline.
func (d *Dispatcher) handleMountAuth(ev Event) Response {
	cfg := d.config()
	return Response{Outcome: modeDefault(cfg.Mode).Outcome}
}

func (d *Dispatcher) deadlineExceeded(ev Event) Response {
	cfg := d.config()
	dec := modeDefault(cfg.Mode)
	dec.Reason = target.ReasonDeadlineExceeded
	dec.DeadlineExceeded = true
	if ev.Target != nil {
		d.eventLog.RecordExecution(*ev.Target, dec, true)
	}
	return Response{Outcome: dec.Outcome, DeadlineExceeded: true}
}

func modeDefault(mode policy.Mode) target.Decision {
	switch mode {
	case policy.Lockdown:
		return target.Decision{Outcome: target.Deny, Reason: target.ReasonTargetUnresolved, Cacheable: target.NotCacheable}
	case policy.Standalone:
		return target.Decision{Outcome: target.AskUser, Reason: target.ReasonTargetUnresolved, Cacheable: target.NotCacheable}
	default:
		return target.Decision{Outcome: target.Allow, Reason: target.ReasonTargetUnresolved, Cacheable: target.NotCacheable}
	}
}
