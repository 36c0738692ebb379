// Package rule defines Santa's rule records: the identifiers, kinds, and
// policies the Policy Engine (C2) matches a Target against.
package rule

import (
	"github.com/pkg/errors"
)

// Kind is the type of identifier a Rule matches against a Target.
// Full documentation: https://github.com/google/santa/blob/main/Docs/details/rules.md
type Kind int

const (
	// BinarySHA256 rules match the SHA-256 hash of the entire executable.
	BinarySHA256 Kind = iota

	// CertSHA256 rules match the SHA-256 fingerprint of an X.509 leaf signing
	// certificate. Broader reach than an individual binary rule: a signing
	// certificate can sign any number of binaries.
	CertSHA256

	// TeamID rules match Apple's 10-character developer-account identifier.
	// Broader reach than a certificate rule.
	TeamID

	// SigningID rules match a developer-controlled identifier of the form
	// "TEAMID:bundleID" (or "platform:bundleID" for platform binaries).
	SigningID

	// CDHash rules match a binary's code-directory hash, which is pinned to
	// a single signed version (unlike BinarySHA256, which is pinned to the
	// exact bytes on disk).
	CDHash

	// FileAccessIdent identifies a FAA WatchItem by name; rules of this kind
	// do not participate in execution decisions.
	FileAccessIdent
)

func (k *Kind) UnmarshalText(text []byte) error {
	switch t := string(text); t {
	case "BINARY_SHA256":
		*k = BinarySHA256
	case "CERT_SHA256":
		*k = CertSHA256
	case "TEAM_ID":
		*k = TeamID
	case "SIGNING_ID":
		*k = SigningID
	case "CDHASH":
		*k = CDHash
	case "FILE_ACCESS_IDENT":
		*k = FileAccessIdent
	default:
		return errors.Errorf("unknown rule kind %q", t)
	}
	return nil
}

func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case BinarySHA256:
		return []byte("BINARY_SHA256"), nil
	case CertSHA256:
		return []byte("CERT_SHA256"), nil
	case TeamID:
		return []byte("TEAM_ID"), nil
	case SigningID:
		return []byte("SIGNING_ID"), nil
	case CDHash:
		return []byte("CDHASH"), nil
	case FileAccessIdent:
		return []byte("FILE_ACCESS_IDENT"), nil
	default:
		return nil, errors.Errorf("unknown rule kind %d", k)
	}
}

func (k Kind) String() string {
	text, err := k.MarshalText()
	if err != nil {
		return "UNKNOWN"
	}
	return string(text)
}

// Policy is the outcome a matching Rule prescribes.
type Policy int

const (
	Allowlist Policy = iota
	Blocklist

	// AllowlistCompiler is a transitive allowlist: binaries later created by
	// an allowed compiler are hinted as allowed once observed. Requires
	// transitive allowlisting to be enabled in daemon configuration.
	AllowlistCompiler

	// SilentBlocklist denies without presenting a user notification.
	SilentBlocklist

	// Remove deletes the rule with the same (Kind, Identifier) from the
	// store; it is never itself a stored, matchable rule.
	Remove

	// CELExpr defers the outcome to the rule's CELProgram (see internal/cel).
	CELExpr
)

func (p *Policy) UnmarshalText(text []byte) error {
	switch t := string(text); t {
	case "ALLOWLIST":
		*p = Allowlist
	case "BLOCKLIST":
		*p = Blocklist
	case "ALLOWLIST_COMPILER":
		*p = AllowlistCompiler
	case "SILENT_BLOCKLIST":
		*p = SilentBlocklist
	case "REMOVE":
		*p = Remove
	case "CEL_EXPR":
		*p = CELExpr
	default:
		return errors.Errorf("unknown rule policy %q", t)
	}
	return nil
}

func (p Policy) MarshalText() ([]byte, error) {
	switch p {
	case Allowlist:
		return []byte("ALLOWLIST"), nil
	case Blocklist:
		return []byte("BLOCKLIST"), nil
	case AllowlistCompiler:
		return []byte("ALLOWLIST_COMPILER"), nil
	case SilentBlocklist:
		return []byte("SILENT_BLOCKLIST"), nil
	case Remove:
		return []byte("REMOVE"), nil
	case CELExpr:
		return []byte("CEL_EXPR"), nil
	default:
		return nil, errors.Errorf("unknown rule policy %d", p)
	}
}

func (p Policy) String() string {
	text, err := p.MarshalText()
	if err != nil {
		return "UNKNOWN"
	}
	return string(text)
}

// Key uniquely identifies a Rule in the store. (Kind, Identifier) is unique
// by invariant: inserting a rule with an existing key replaces it.
type Key struct {
	Kind       Kind
	Identifier string
}

// Rule is an immutable record once inserted: callers that want to change a
// rule's policy insert a new Rule with the same Key, which replaces it.
type Rule struct {
	Identifier    string `json:"identifier"`
	Kind          Kind   `json:"kind"`
	Policy        Policy `json:"policy"`
	CELProgram    []byte `json:"cel_program,omitempty"`
	CustomMessage string `json:"custom_message,omitempty"`
	CustomURL     string `json:"custom_url,omitempty"`
	Comment       string `json:"comment,omitempty"`

	// Transitive marks a rule that was materialized by the Policy Engine's
	// transitive-allowlisting hint rather than received from a sync batch.
	// CLEAN syncs preserve transitive rules; CLEAN_ALL removes them too.
	Transitive bool `json:"transitive,omitempty"`
}

// Key returns the Rule's storage key.
func (r Rule) Key() Key {
	return Key{Kind: r.Kind, Identifier: r.Identifier}
}

// SyncType controls what apply_update clears before applying a batch.
type SyncType int

const (
	// Normal applies the batch on top of the existing rule set.
	Normal SyncType = iota

	// Clean removes non-transitive rules before applying the batch.
	Clean

	// CleanAll removes all rules, including transitive ones, before
	// applying the batch.
	CleanAll
)

func (s SyncType) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case Clean:
		return "CLEAN"
	case CleanAll:
		return "CLEAN_ALL"
	default:
		return "UNKNOWN"
	}
}
