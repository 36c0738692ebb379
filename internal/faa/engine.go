package faa

import (
	"sync"
	"sync/atomic"
)

// Decision is the outcome of evaluating a filesystem AUTH event against
// the compiled FAA rule set (spec §4.5).
type Decision int

const (
	Allow Decision = iota
	Deny
	Audit
)

// PathTarget is one path+read-only-flag pair carried by a filesystem AUTH
// event (spec §4.5).
type PathTarget struct {
	Path     string
	ReadOnly bool
}

// EventRecord is produced for every AUDIT or DENY outcome (spec §4.5,
// §4.7): the Decision Logger attaches watch-item name, policy version, and
// accessed path.
type EventRecord struct {
	WatchItemName string
	AccessedPath  string
	Decision      Decision
	Silent        bool
	SilentTTY     bool
}

// muteSet lists instigating binaries whose filesystem activity is dropped
// before Data-centric evaluation (spec §4.5 "Mute set"): highly active
// system daemons whose read/write churn would otherwise dominate FAA
// telemetry without representing a meaningful access-control decision.
var muteSet = map[string]struct{}{
	"/usr/libexec/trustd":          {},
	"/usr/sbin/cfprefsd":           {},
	"/usr/libexec/opendirectoryd":  {},
	"/usr/sbin/mds":                {},
	"/usr/libexec/mdworker_shared": {},
	"/usr/libexec/logd":            {},
}

// Engine evaluates filesystem AUTH events against the most recently
// compiled WatchItem set. Reload installs a new set via a single atomic
// pointer swap (spec §4.5, §5), visible to Evaluate on its very next call.
type Engine struct {
	current atomic.Pointer[CompiledSet]

	mu            sync.Mutex
	processRuleOf map[processKey]*WatchItem // process affinity for Process-centric rules
}

type processKey struct {
	pid       int
	startedAt int64
}

// NewEngine builds an Engine with no compiled rules loaded.
func NewEngine() *Engine {
	e := &Engine{processRuleOf: make(map[processKey]*WatchItem)}
	e.current.Store(&CompiledSet{})
	return e
}

// Reload atomically installs a new CompiledSet, visible to subsequent
// Evaluate calls. Call sites are expected to have already validated doc via
// Compile and kept the prior set active on failure (spec §4.5 step 1).
func (e *Engine) Reload(cs *CompiledSet) {
	e.current.Store(cs)
	e.mu.Lock()
	e.processRuleOf = make(map[processKey]*WatchItem)
	e.mu.Unlock()
}

// Current returns the currently active compiled set.
func (e *Engine) Current() *CompiledSet {
	return e.current.Load()
}

// Evaluate resolves a Decision for a path target and its instigating
// process (spec §4.5). ok=false means no WatchItem applies — the caller
// should not have invoked Evaluate for this path at all, since only
// subscribed (watched) paths reach the FAA engine.
func (e *Engine) Evaluate(pt PathTarget, proc ProcessFacts) (Decision, *EventRecord, bool) {
	cs := e.current.Load()
	if len(cs.Items) == 0 {
		return Allow, nil, false
	}

	if _, muted := muteSet[proc.BinaryPath]; muted {
		if !e.anyProcessCentricMatches(cs, proc) {
			return Allow, nil, false
		}
	}

	item, viaProcess := e.selectRule(cs, pt, proc)
	if item == nil {
		return Allow, nil, false
	}

	if item.AllowReadAccess && pt.ReadOnly {
		return Allow, nil, true
	}

	// For a Process-centric rule, the instigating process already matched
	// to select this rule (spec §4.5): the remaining question is whether
	// the accessed path is in the rule's path set. For a Data-centric rule,
	// the path already matched to select this rule: the remaining question
	// is whether the instigating process is in the rule's process set.
	var member bool
	if viaProcess {
		member = pathInList(item.Paths, pt.Path)
	} else {
		member = processMatchesAny(item.Processes, proc)
	}

	allowOnMembership := item.RuleType.membershipMeansAllow()
	if member == allowOnMembership {
		return Allow, nil, true
	}

	decision := Deny
	if item.AuditOnly {
		decision = Audit
	}
	rec := &EventRecord{
		WatchItemName: item.Name,
		AccessedPath:  pt.Path,
		Decision:      decision,
		Silent:        item.Silent,
		SilentTTY:     item.SilentTTY,
	}
	return decision, rec, true
}

// selectRule implements the per-event rule selection of spec §4.5: a
// matching Process-centric rule wins outright (and is pinned for the
// process's lifetime); otherwise the longest-matching Data-centric rule is
// chosen.
func (e *Engine) selectRule(cs *CompiledSet, pt PathTarget, proc ProcessFacts) (*WatchItem, bool) {
	key := processKey{pid: proc.PID, startedAt: proc.StartedAt}

	e.mu.Lock()
	if pinned, ok := e.processRuleOf[key]; ok {
		e.mu.Unlock()
		return pinned, true
	}
	e.mu.Unlock()

	for i := range cs.Items {
		item := &cs.Items[i]
		if !item.RuleType.isProcessCentric() {
			continue
		}
		if processMatchesAny(item.Processes, proc) {
			e.mu.Lock()
			e.processRuleOf[key] = item
			e.mu.Unlock()
			return item, true
		}
	}

	var best *WatchItem
	bestSpecificity := -1
	for i := range cs.Items {
		item := &cs.Items[i]
		if item.RuleType.isProcessCentric() {
			continue
		}
		for _, pg := range item.Paths {
			if !pg.Match(pt.Path) {
				continue
			}
			if s := pg.specificity(); s > bestSpecificity {
				bestSpecificity = s
				best = item
			}
		}
	}
	return best, false
}

func (e *Engine) anyProcessCentricMatches(cs *CompiledSet, proc ProcessFacts) bool {
	for i := range cs.Items {
		if cs.Items[i].RuleType.isProcessCentric() && processMatchesAny(cs.Items[i].Processes, proc) {
			return true
		}
	}
	return false
}

func processMatchesAny(criteria []ProcessCriteria, proc ProcessFacts) bool {
	for _, pc := range criteria {
		if pc.Matches(proc) {
			return true
		}
	}
	return false
}

func pathInList(globs []PathGlob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// IsWatchedPath reports whether path is covered by any Data-centric
// WatchItem's path set. Symlink targets are never resolved, so a watch
// only ever matches the literal path given. The Dispatcher does not call
// it: file-access AUTH events carry no operation type, so an event that
// creates a hard link to a watched path is evaluated like any other access
// and is not refused for being a link.
func (e *Engine) IsWatchedPath(path string) bool {
	cs := e.current.Load()
	for i := range cs.Items {
		if cs.Items[i].RuleType.isProcessCentric() {
			continue
		}
		if pathInList(cs.Items[i].Paths, path) {
			return true
		}
	}
	return false
}
