// Package policy implements the Policy Engine (C2): rule precedence
// resolution, CEL rule evaluation, fail-safe protection, mode-based
// fallback, and the transitive-allowlisting hint.
package policy

import (
	"github.com/northpolesec/santa-sub009/internal/cel"
	"github.com/northpolesec/santa-sub009/internal/matchutil"
	"github.com/northpolesec/santa-sub009/internal/rule"
	"github.com/northpolesec/santa-sub009/internal/target"
)

// RuleStore is the subset of rule.Store the engine depends on, so tests can
// substitute an in-memory fake.
type RuleStore interface {
	Get(kind rule.Kind, id string) (rule.Rule, bool, error)
	ListByKind(kind rule.Kind) ([]rule.Rule, error)
	ApplyUpdate(batch []rule.Rule, syncType rule.SyncType) error
}

// Engine is the Policy Engine (C2). It is safe for concurrent use: all
// state is either immutable after construction or owned by RuleStore.
type Engine struct {
	store RuleStore
	cel   *cel.Engine
}

// New builds a Policy Engine over the given rule store. celEngine may be
// nil if no CEL_EXPR rules will ever be evaluated.
func New(store RuleStore, celEngine *cel.Engine) *Engine {
	return &Engine{store: store, cel: celEngine}
}

// TransitiveHint is emitted when an ALLOWLIST_COMPILER rule allows a
// process; the caller (Dispatcher) correlates the hinted process with the
// binary it subsequently creates and calls Engine.RecordTransitive with the
// resulting hash once observed (spec §4.2).
type TransitiveHint struct {
	SourceRuleIdentifier string
}

// precedenceStep is one level of the rule-precedence ladder (spec §4.2).
type precedenceStep struct {
	kind   rule.Kind
	id     string
	reason target.Reason
}

// Decide resolves a Decision for target t under the given mode and config.
// The highest-precedence matching rule wins; see spec §4.2 for the ordered
// list. A non-nil TransitiveHint is returned alongside an ALLOW decided by
// an AllowlistCompiler rule when transitive allowlisting is enabled.
func (e *Engine) Decide(t *target.Target, cfg Config) (target.Decision, *TransitiveHint, error) {
	before := []precedenceStep{
		{rule.CDHash, t.CDHash, target.ReasonCDHashRule},
		{rule.BinarySHA256, t.FileSHA256, target.ReasonBinaryRule},
	}
	after := []precedenceStep{
		{rule.CertSHA256, t.LeafCertSHA256(), target.ReasonCertRule},
		{rule.TeamID, t.TeamID, target.ReasonTeamIDRule},
	}

	for _, step := range before {
		if d, hint, applies, err := e.tryExact(step, t); err != nil {
			return target.Decision{}, nil, err
		} else if applies {
			return e.applyFailsafe(d, t, cfg), e.filterHint(hint, cfg), nil
		}
	}

	if t.SigningID != "" {
		r, ok, err := e.matchSigningID(t.SigningID)
		if err != nil {
			return target.Decision{}, nil, err
		}
		if ok {
			d, hint, applies, err := e.resolveRule(r, t, target.ReasonSigningIDRule)
			if err != nil {
				return target.Decision{}, nil, err
			}
			if applies {
				return e.applyFailsafe(d, t, cfg), e.filterHint(hint, cfg), nil
			}
		}
	}

	for _, step := range after {
		if d, hint, applies, err := e.tryExact(step, t); err != nil {
			return target.Decision{}, nil, err
		} else if applies {
			return e.applyFailsafe(d, t, cfg), e.filterHint(hint, cfg), nil
		}
	}

	if d, ok := e.matchPathRegex(t, cfg); ok {
		return e.applyFailsafe(d, t, cfg), nil, nil
	}

	return e.applyFailsafe(e.modeFallback(cfg.Mode), t, cfg), nil, nil
}

// tryExact looks up an exact (kind, id) rule and, if present and it
// applies, resolves it into a Decision.
func (e *Engine) tryExact(step precedenceStep, t *target.Target) (target.Decision, *TransitiveHint, bool, error) {
	if step.id == "" {
		return target.Decision{}, nil, false, nil
	}
	r, ok, err := e.store.Get(step.kind, step.id)
	if err != nil {
		return target.Decision{}, nil, false, err
	}
	if !ok || r.Policy == rule.Remove {
		return target.Decision{}, nil, false, nil
	}
	return e.resolveRule(r, t, step.reason)
}

// matchSigningID resolves a SigningID rule against the target's signing ID.
// An exact match wins; otherwise the store is scanned for a wildcarded
// SigningID rule (single '*' per spec §4.5/§6.1) that matches. A
// "platform:…" rule identifier matches a platform binary's signing ID by
// the same single-wildcard semantics since platform binaries' signing IDs
// always begin with "platform:".
func (e *Engine) matchSigningID(signingID string) (rule.Rule, bool, error) {
	if r, ok, err := e.store.Get(rule.SigningID, signingID); err != nil {
		return rule.Rule{}, false, err
	} else if ok && r.Policy != rule.Remove {
		return r, true, nil
	}

	candidates, err := e.store.ListByKind(rule.SigningID)
	if err != nil {
		return rule.Rule{}, false, err
	}
	for _, r := range candidates {
		if r.Policy == rule.Remove || !matchutil.HasWildcard(r.Identifier) {
			continue
		}
		if matchutil.MatchSingleWildcard(r.Identifier, signingID) {
			return r, true, nil
		}
	}
	return rule.Rule{}, false, nil
}

// resolveRule interprets a matched rule's Policy, including CEL_EXPR
// evaluation, and reports whether the rule applies to this Target (a CEL
// program may evaluate to "does not apply", in which case precedence
// continues to the next level; spec §4.2).
func (e *Engine) resolveRule(r rule.Rule, t *target.Target, reason target.Reason) (target.Decision, *TransitiveHint, bool, error) {
	policyKind := r.Policy

	if r.Policy == rule.CELExpr {
		if e.cel == nil || len(r.CELProgram) == 0 {
			return target.Decision{}, nil, false, nil
		}
		verdict, err := e.cel.Evaluate(r.CELProgram, t)
		if err != nil {
			return target.Decision{}, nil, false, err
		}
		switch verdict {
		case cel.Fallthrough:
			return target.Decision{}, nil, false, nil
		case cel.ForceAllow:
			policyKind = rule.Allowlist
		case cel.ForceBlock:
			policyKind = rule.Blocklist
		case cel.AppliesAsStated:
			// A CEL_EXPR rule carries no other policy, so AppliesAsStated
			// is always treated as Blocklist (deny-by-reference).
			policyKind = rule.Blocklist
		}
		reason = target.ReasonCELRule
	}

	switch policyKind {
	case rule.Allowlist:
		return target.Decision{
			Outcome:         target.Allow,
			MatchedRuleKind: r.Kind.String(),
			Reason:          reason,
			Cacheable:       target.Cacheable,
			CustomMessage:   r.CustomMessage,
			CustomURL:       r.CustomURL,
		}, nil, true, nil

	case rule.AllowlistCompiler:
		d := target.Decision{
			Outcome:         target.Allow,
			MatchedRuleKind: r.Kind.String(),
			Reason:          reason,
			Cacheable:       target.Cacheable,
			CustomMessage:   r.CustomMessage,
			CustomURL:       r.CustomURL,
		}
		return d, &TransitiveHint{SourceRuleIdentifier: r.Identifier}, true, nil

	case rule.Blocklist:
		return target.Decision{
			Outcome:         target.Deny,
			MatchedRuleKind: r.Kind.String(),
			Reason:          reason,
			Cacheable:       target.NegativeOnly,
			CustomMessage:   r.CustomMessage,
			CustomURL:       r.CustomURL,
		}, nil, true, nil

	case rule.SilentBlocklist:
		return target.Decision{
			Outcome:         target.Deny,
			MatchedRuleKind: r.Kind.String(),
			Reason:          reason,
			Cacheable:       target.NegativeOnly,
			Silent:          true,
			CustomMessage:   r.CustomMessage,
			CustomURL:       r.CustomURL,
		}, nil, true, nil

	default:
		return target.Decision{}, nil, false, nil
	}
}

func (e *Engine) matchPathRegex(t *target.Target, cfg Config) (target.Decision, bool) {
	if cfg.BlockedPathRegex != nil && cfg.BlockedPathRegex.MatchString(t.Path) {
		return target.Decision{
			Outcome:         target.Deny,
			MatchedRuleKind: "PATH_REGEX",
			Reason:          target.ReasonPathRegexRule,
			Cacheable:       target.NegativeOnly,
		}, true
	}
	if cfg.AllowedPathRegex != nil && cfg.AllowedPathRegex.MatchString(t.Path) {
		return target.Decision{
			Outcome:         target.Allow,
			MatchedRuleKind: "PATH_REGEX",
			Reason:          target.ReasonPathRegexRule,
			Cacheable:       target.Cacheable,
		}, true
	}
	return target.Decision{}, false
}

// modeFallback is the outcome when no rule matched (spec §4.2).
func (e *Engine) modeFallback(mode Mode) target.Decision {
	switch mode {
	case Monitor:
		return target.Decision{Outcome: target.Allow, Reason: target.ReasonUnknownAllowMon, Cacheable: target.Cacheable}
	case Lockdown:
		return target.Decision{Outcome: target.Deny, Reason: target.ReasonUnknownDenyLock, Cacheable: target.NegativeOnly}
	default: // Standalone
		return target.Decision{Outcome: target.AskUser, Reason: target.ReasonUnknownAskUser, Cacheable: target.NotCacheable}
	}
}

// applyFailsafe rewrites a DENY into an ALLOW for protected signing
// identities (spec §4.2 "Fail-safe"); it never touches ALLOW/ASK_USER.
func (e *Engine) applyFailsafe(d target.Decision, t *target.Target, cfg Config) target.Decision {
	if d.Outcome != target.Deny {
		return d
	}
	if !cfg.IsFailsafeProtected(t.CertSHA256Chain) {
		return d
	}
	return target.Decision{
		Outcome:   target.Allow,
		Reason:    target.ReasonFailsafeRoot,
		Cacheable: target.Cacheable,
	}
}

// filterHint suppresses a TransitiveHint when configuration has not turned
// on the ALLOWLIST_COMPILER hinting behavior (spec §4.2: the hint is only
// emitted "when configuration enables it").
func (e *Engine) filterHint(hint *TransitiveHint, cfg Config) *TransitiveHint {
	if hint == nil || !cfg.EnableTransitiveAllowlisting {
		return nil
	}
	return hint
}

// RecordTransitive materializes a transitive-allowlisting hint into the
// rule store as a new BINARY_SHA256/ALLOWLIST rule once the binary the
// hinted process created is observed (spec §4.2).
func (e *Engine) RecordTransitive(hint TransitiveHint, createdFileSHA256 string) error {
	return e.store.ApplyUpdate([]rule.Rule{{
		Kind:       rule.BinarySHA256,
		Identifier: createdFileSHA256,
		Policy:     rule.Allowlist,
		Comment:    "transitive allowlist via " + hint.SourceRuleIdentifier,
		Transitive: true,
	}}, rule.Normal)
}
