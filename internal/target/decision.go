package target

import "github.com/pkg/errors"

// Outcome is the result of an authorization decision.
type Outcome int

const (
	Allow Outcome = iota
	Deny
	AskUser
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "ALLOW"
	case Deny:
		return "DENY"
	case AskUser:
		return "ASK_USER"
	default:
		return "UNKNOWN"
	}
}

func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "ALLOW":
		*o = Allow
	case "DENY":
		*o = Deny
	case "ASK_USER":
		*o = AskUser
	default:
		return errors.Errorf("unknown outcome %q", text)
	}
	return nil
}

// Cacheability controls how the Auth Result Cache (C4) may store a Decision.
type Cacheability int

const (
	NotCacheable Cacheability = iota
	Cacheable
	NegativeOnly
)

// Reason is an enumerated, stable identifier for telemetry (spec §3).
type Reason string

const (
	ReasonCDHashRule        Reason = "cdhash_rule"
	ReasonBinaryRule        Reason = "binary_rule"
	ReasonSigningIDRule     Reason = "signing_id_rule"
	ReasonCertRule          Reason = "cert_rule"
	ReasonTeamIDRule        Reason = "team_id_rule"
	ReasonPathRegexRule     Reason = "path_regex_rule"
	ReasonCELRule           Reason = "cel_rule"
	ReasonFailsafeRoot      Reason = "failsafe_root"
	ReasonUnknownAllowMon   Reason = "unknown_allow_monitor"
	ReasonUnknownDenyLock   Reason = "unknown_deny_lockdown"
	ReasonUnknownAskUser    Reason = "unknown_ask_user"
	ReasonTargetUnresolved  Reason = "target_unresolved"
	ReasonDeadlineExceeded  Reason = "deadline_exceeded"
)

// Decision is the outcome of the Policy Engine for a single Target (spec §3).
type Decision struct {
	Outcome         Outcome
	MatchedRuleKind string // rule.Kind.String(), or "" if no rule matched
	Reason          Reason
	Cacheable       Cacheability
	Silent          bool
	CustomMessage   string
	CustomURL       string

	// DeadlineExceeded flags that this decision was the mode-safe default
	// applied because the AUTH deadline would otherwise be missed (spec §4.1).
	DeadlineExceeded bool
}
