// Package engine wires the daemon's components (C1-C9) into a single
// running instance and handles host power events: Suspend marks the
// daemon suspended before a host sleep, and Resume refreshes the Telemetry
// Spool's size estimate after wake. Neither pauses the Event Dispatcher's
// worker pool, and Resume does not re-establish event-source subscriptions.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/northpolesec/santa-sub009/internal/adminfeed"
	"github.com/northpolesec/santa-sub009/internal/cache"
	"github.com/northpolesec/santa-sub009/internal/cel"
	"github.com/northpolesec/santa-sub009/internal/codesign"
	"github.com/northpolesec/santa-sub009/internal/config"
	"github.com/northpolesec/santa-sub009/internal/control"
	"github.com/northpolesec/santa-sub009/internal/daemonlog"
	"github.com/northpolesec/santa-sub009/internal/dispatch"
	"github.com/northpolesec/santa-sub009/internal/eventlog"
	"github.com/northpolesec/santa-sub009/internal/faa"
	"github.com/northpolesec/santa-sub009/internal/policy"
	"github.com/northpolesec/santa-sub009/internal/rule"
	"github.com/northpolesec/santa-sub009/internal/spool"
	"github.com/northpolesec/santa-sub009/internal/target"
	"github.com/northpolesec/santa-sub009/internal/tty"
)

// Engine owns every component and the goroutines gluing them together.
type Engine struct {
	Config config.Config

	RuleStore  *rule.Store
	CELEngine  *cel.Engine
	Policy     *policy.Engine
	Cache      *cache.Cache
	FAA        *faa.Engine
	Spool      *spool.Writer
	DaemonLog  *daemonlog.Logger
	AdminFeed  *adminfeed.Hub
	TTY        *tty.Writer
	Control    *control.Surface
	Dispatcher *dispatch.Dispatcher

	modeRef atomic.Int32

	mu        sync.Mutex
	suspended bool
}

// New constructs every component from cfg and wires them together. It does
// not start any goroutines; call Run to do that. extractor resolves
// code-signing facts for a transitively-allowlisted binary once created
// (spec §4.2); it may be nil, in which case transitive allowlisting never
// completes a hint, since extraction is the out-of-scope host-integration
// concern described by internal/codesign.
func New(cfg config.Config, extractor codesign.Extractor) (*Engine, error) {
	store, err := rule.Open(cfg.RuleStorePath)
	if err != nil {
		return nil, fmt.Errorf("engine: open rule store: %w", err)
	}

	celEngine, err := cel.NewEngine()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: build CEL engine: %w", err)
	}

	resultCache, err := cache.New(cfg.CacheSize)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: build cache: %w", err)
	}

	compression := spool.Uncompressed
	switch cfg.SpoolCompression {
	case "gzip":
		compression = spool.Gzip
	case "zstd", "":
		compression = spool.Zstd
	}
	spoolWriter, err := spool.NewWriter(cfg.SpoolDir, cfg.SpoolMaxBytes, compression)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: build spool writer: %w", err)
	}

	logger, err := daemonlog.Open(cfg.DaemonLogPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: open daemon log: %w", err)
	}

	hub := adminfeed.NewHub()
	logger.SetBroadcaster(hub)

	// The cache-coherence invariant (spec §4.4(i): flush on every rule
	// store write) is structural rather than per-call-site convention:
	// every ApplyUpdate, whether from the Control Surface or from
	// RecordTransitive, flushes the Auth Result Cache through this hook.
	store.OnMutate(resultCache.Flush)

	policyEngine := policy.New(store, celEngine)
	faaEngine := faa.NewEngine()
	ttyWriter := tty.NewWriter()

	e := &Engine{
		Config:    cfg,
		RuleStore: store,
		CELEngine: celEngine,
		Policy:    policyEngine,
		Cache:     resultCache,
		FAA:       faaEngine,
		Spool:     spoolWriter,
		DaemonLog: logger,
		AdminFeed: hub,
		TTY:       ttyWriter,
	}
	e.modeRef.Store(int32(cfg.ParsedMode()))

	e.Control = control.New(store, faaEngine, resultCache, &e.modeRef)
	e.Dispatcher = dispatch.New(policyEngine, resultCache, faaEngine, logger, &e.modeRef, &spoolRecorder{e: e}, extractor, 0)

	policyCfg, err := cfg.PolicyConfig()
	if err != nil {
		store.Close()
		logger.Close()
		return nil, fmt.Errorf("engine: build policy config: %w", err)
	}
	e.Dispatcher.SetConfig(policyCfg)

	return e, nil
}

// Run starts the admin feed's websocket hub event loop; it returns once
// stop is closed.
func (e *Engine) Run(stop <-chan struct{}) {
	e.AdminFeed.Run(stop)
}

// Close releases every component's held resources (file handles, the bolt
// database, the TTY writer's goroutine).
func (e *Engine) Close() error {
	e.TTY.Close()
	if err := e.RuleStore.Close(); err != nil {
		return fmt.Errorf("engine: close rule store: %w", err)
	}
	return e.DaemonLog.Close()
}

// Suspend marks the daemon suspended ahead of a host sleep and logs it.
// AUTH events still flow through the Dispatcher unimpeded and its worker
// pool is not paused. Nothing is flushed here: WriteBatch already renames
// each batch's spool file into place before it returns.
func (e *Engine) Suspend() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.suspended = true
	e.DaemonLog.Info("engine", "suspending ahead of host sleep")
}

// Resume reverses Suspend and refreshes the spool's cached size estimate,
// since disk state may have changed while the process was frozen (spec
// §4.6 step 1). It does not re-establish event-source subscriptions.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.suspended {
		return
	}
	e.suspended = false
	e.Spool.Refresh()
	e.DaemonLog.Info("engine", "resumed from host sleep")
}

// spoolRecorder adapts the Dispatcher's EventRecorder callbacks into
// framed Decision Logger records written to the Telemetry Spool, and
// mirrors each into the admin feed (spec §4.7, SUPPLEMENTED FEATURES).
type spoolRecorder struct {
	e *Engine
}

func (r *spoolRecorder) RecordExecution(t target.Target, d target.Decision, deadlineExceeded bool) {
	rec := eventlog.Record{
		TimestampUnixNano: time.Now().UnixNano(),
		Kind:              eventlog.EventExecution,
		Target:            t,
		Decision:          d,
		ArgvLimit:         r.e.Config.ArgvLimit,
		MachineID:         t.MachineID,
	}
	r.writeAndPublish(rec, d)
}

func (r *spoolRecorder) RecordFileAccess(ev faa.EventRecord, proc target.Target) {
	rec := eventlog.FromFAAEvent(time.Now().UnixNano(), ev, "", proc.MachineID, proc)
	rec.ArgvLimit = r.e.Config.ArgvLimit
	dec := target.Decision{Outcome: target.Allow}
	if ev.Decision == faa.Deny {
		dec.Outcome = target.Deny
	}
	r.writeAndPublish(rec, dec)
}

func (r *spoolRecorder) RecordSequenceGap(kind dispatch.Kind, drops uint64) {
	r.e.DaemonLog.Warn("dispatch", "sequence gap on event kind %d: %d dropped", kind, drops)
}

func (r *spoolRecorder) writeAndPublish(rec eventlog.Record, d target.Decision) {
	if _, err := r.e.Spool.WriteBatch(rec.Marshal()); err != nil {
		r.e.DaemonLog.Error("spool", "write batch: %v", err)
	}
	kind := "decision"
	if rec.Kind == eventlog.EventFileAccess {
		kind = "faa"
	}
	r.e.AdminFeed.Publish(adminfeed.Event{
		Kind: kind,
		Data: map[string]any{
			"outcome": d.Outcome.String(),
			"reason":  string(d.Reason),
			"path":    rec.AccessedPath,
		},
	})
}
