package faa

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/northpolesec/santa-sub009/internal/matchutil"
)

// RuleType is a WatchItem's evaluation semantics (spec §3, §4.5).
type RuleType int

const (
	PathsWithAllowedProcesses RuleType = iota
	PathsWithDeniedProcesses
	ProcessesWithAllowedPaths
	ProcessesWithDeniedPaths
)

func parseRuleType(s string) (RuleType, error) {
	switch s {
	case "", "PathsWithAllowedProcesses":
		return PathsWithAllowedProcesses, nil
	case "PathsWithDeniedProcesses":
		return PathsWithDeniedProcesses, nil
	case "ProcessesWithAllowedPaths":
		return ProcessesWithAllowedPaths, nil
	case "ProcessesWithDeniedPaths":
		return ProcessesWithDeniedPaths, nil
	default:
		return 0, fmt.Errorf("unknown RuleType %q", s)
	}
}

// isProcessCentric reports whether process membership, not path
// membership, is the rule's primary match key (spec §4.5).
func (rt RuleType) isProcessCentric() bool {
	return rt == ProcessesWithAllowedPaths || rt == ProcessesWithDeniedPaths
}

// membershipMeansAllow reports whether membership in the rule's set means ALLOW
// (true) or DENY/AUDIT (false).
func (rt RuleType) membershipMeansAllow() bool {
	return rt == PathsWithAllowedProcesses || rt == ProcessesWithAllowedPaths
}

// PathGlob is one compiled entry of a WatchItem's Paths list.
type PathGlob struct {
	Pattern  string
	IsPrefix bool
	glob     glob.Glob
}

// Match reports whether p matches the accessed path, honoring IsPrefix.
func (p PathGlob) Match(accessed string) bool {
	if p.IsPrefix {
		return strings.HasPrefix(accessed, strings.TrimSuffix(p.Pattern, "*"))
	}
	return p.glob.Match(accessed)
}

// Specificity orders candidate matches for the longest-match rule (spec
// §4.5): longer literal patterns beat shorter ones; a literal match beats a
// prefix match of equal length.
func (p PathGlob) specificity() int {
	n := len(p.Pattern) * 2
	if p.IsPrefix {
		n--
	}
	return n
}

// ProcessCriteria is one compiled entry of a WatchItem's Processes list.
type ProcessCriteria struct {
	BinaryPath     string
	TeamID         string
	CertSHA256     string
	CDHash         string
	SigningID      string
	PlatformBinary bool
	hasSigningID   bool
}

// Matches reports whether every specified attribute matches the given
// process facts (spec §4.5: "a process entry matches iff every specified
// attribute matches").
func (pc ProcessCriteria) Matches(p ProcessFacts) bool {
	if pc.BinaryPath != "" && pc.BinaryPath != p.BinaryPath {
		return false
	}
	if pc.TeamID != "" && pc.TeamID != p.TeamID {
		return false
	}
	if pc.CertSHA256 != "" && pc.CertSHA256 != p.CertSHA256 {
		return false
	}
	if pc.CDHash != "" && pc.CDHash != p.CDHash {
		return false
	}
	if pc.hasSigningID && !matchutil.MatchSingleWildcard(pc.SigningID, p.SigningID) {
		return false
	}
	if pc.PlatformBinary && !p.PlatformBinary {
		return false
	}
	return true
}

// ProcessFacts is what the Dispatcher supplies about the process
// instigating a filesystem AUTH event.
type ProcessFacts struct {
	BinaryPath     string
	TeamID         string
	CertSHA256     string
	CDHash         string
	SigningID      string
	PlatformBinary bool
	PID            int
	StartedAt      int64 // monotonic-ish process start marker, to avoid PID-reuse collisions
}

// WatchItem is a compiled FAA rule (spec §3).
type WatchItem struct {
	Name      string
	RuleType  RuleType
	Paths     []PathGlob
	Processes []ProcessCriteria

	AllowReadAccess     bool
	AuditOnly           bool
	Silent              bool
	SilentTTY           bool
	EventDetailURL      string
	EventDetailText     string
}

// compileProcess validates and compiles a ProcessDoc (spec §6.1: a
// wildcarded SigningID requires TeamID or PlatformBinary=true).
func compileProcess(d ProcessDoc) (ProcessCriteria, error) {
	pc := ProcessCriteria{
		BinaryPath:     d.BinaryPath,
		TeamID:         d.TeamID,
		CertSHA256:     d.CertificateSha256,
		CDHash:         d.CDHash,
		SigningID:      d.SigningID,
		PlatformBinary: d.PlatformBinary,
		hasSigningID:   d.SigningID != "",
	}
	if matchutil.HasWildcard(d.SigningID) && d.TeamID == "" && !d.PlatformBinary {
		return ProcessCriteria{}, fmt.Errorf("wildcarded SigningID %q requires TeamID or PlatformBinary=true", d.SigningID)
	}
	return pc, nil
}

// countComponents returns the number of '/'-delimited path components.
func countComponents(path string) int {
	n := 0
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			n++
		}
	}
	return n
}

// compileWatchItem validates and compiles one named WatchItemDoc.
func compileWatchItem(name string, d WatchItemDoc) (WatchItem, error) {
	if !nameRe.MatchString(name) {
		return WatchItem{}, &ValidationError{WatchItem: name, Msg: "name must match [A-Za-z_][A-Za-z0-9_]*"}
	}
	if len(d.Paths) == 0 {
		return WatchItem{}, &ValidationError{WatchItem: name, Msg: "Paths must be non-empty"}
	}

	rt, err := parseRuleType(d.Options.RuleType)
	if err != nil {
		return WatchItem{}, &ValidationError{WatchItem: name, Msg: err.Error()}
	}

	auditOnly := true
	if d.Options.AuditOnly != nil {
		auditOnly = *d.Options.AuditOnly
	}

	w := WatchItem{
		Name:            name,
		RuleType:        rt,
		AllowReadAccess: d.Options.AllowReadAccess,
		AuditOnly:       auditOnly,
		Silent:          d.Options.EnableSilentMode,
		SilentTTY:       d.Options.EnableSilentTTYMode,
		EventDetailURL:  d.Options.EventDetailURL,
		EventDetailText: d.Options.EventDetailText,
	}

	for _, pe := range d.Paths {
		if pe.Path == "" {
			return WatchItem{}, &ValidationError{WatchItem: name, Msg: "empty Path entry"}
		}
		if countComponents(pe.Path) >= maxPathComponents {
			return WatchItem{}, &ValidationError{WatchItem: name, Msg: fmt.Sprintf("path %q has %d or more components", pe.Path, maxPathComponents)}
		}
		g, err := glob.Compile(pe.Path, '/')
		if err != nil {
			return WatchItem{}, &ValidationError{WatchItem: name, Msg: fmt.Sprintf("invalid glob %q: %v", pe.Path, err)}
		}
		w.Paths = append(w.Paths, PathGlob{Pattern: pe.Path, IsPrefix: pe.IsPrefix, glob: g})
	}

	for _, pd := range d.Processes {
		pc, err := compileProcess(pd)
		if err != nil {
			return WatchItem{}, &ValidationError{WatchItem: name, Msg: err.Error()}
		}
		w.Processes = append(w.Processes, pc)
	}

	return w, nil
}

// CompiledSet is the atomically-swapped result of compiling a Document.
type CompiledSet struct {
	EventDetailURL  string
	EventDetailText string
	Items           []WatchItem
}

// Compile parses and compiles a Document into a CompiledSet. A single
// invalid WatchItem fails the whole reload (spec §4.5 step 1: "without
// disturbing the currently active compiled set"), leaving it to the caller
// to keep the prior CompiledSet active.
func Compile(doc Document) (*CompiledSet, error) {
	cs := &CompiledSet{EventDetailURL: doc.EventDetailURL, EventDetailText: doc.EventDetailText}
	for name, wd := range doc.WatchItems {
		w, err := compileWatchItem(name, wd)
		if err != nil {
			return nil, err
		}
		cs.Items = append(cs.Items, w)
	}
	return cs, nil
}
