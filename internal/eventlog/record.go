// Package eventlog implements the Decision Logger (C7): a compact,
// forward/backward-compatible wire record for each decision and its
// enriched Target (spec §4.7, §6.3), encoded with raw protobuf wire
// primitives rather than generated message code so field numbers stay the
// single source of truth for byte-level stability across versions.
package eventlog

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/northpolesec/santa-sub009/internal/faa"
	"github.com/northpolesec/santa-sub009/internal/target"
)

// Field numbers are the wire-stable identifiers referenced by spec §6.3
// ("Consumers require byte-level stability of field identifiers across
// versions"). Never renumber an existing field; append new ones.
const (
	fieldTimestampUnixNano = 1
	fieldEventKind         = 2
	fieldFileSHA256        = 3
	fieldCDHash            = 4
	fieldSigningID         = 5
	fieldTeamID            = 6
	fieldCertSHA256Leaf    = 7
	fieldMatchedRuleKind   = 8
	fieldOutcome           = 9
	fieldReason            = 10
	fieldExecutingUID      = 11
	fieldPID               = 12
	fieldPPID              = 13
	fieldArgv              = 14 // repeated
	fieldEnvKey            = 15 // repeated
	fieldParentName        = 16
	fieldMachineID         = 17
	fieldPath              = 18
	fieldWatchItemName     = 19
	fieldPolicyVersion     = 20
	fieldAccessedPath      = 21
)

// EventKind distinguishes an execution decision from an FAA decision in
// the logged record.
type EventKind int32

const (
	EventExecution EventKind = iota
	EventFileAccess
)

// Record is the Decision Logger's in-memory view of one logged event,
// assembled by the engine's spool recorder from the Dispatcher's callbacks
// before being hand off to the spool or a
// line sink (spec §4.7).
type Record struct {
	TimestampUnixNano int64
	Kind              EventKind

	Target   target.Target
	Decision target.Decision

	ArgvLimit int // 0 means "use DefaultArgvLimit"

	MachineID string

	// FAA-only fields.
	WatchItemName string
	PolicyVersion string
	AccessedPath  string
}

// DefaultArgvLimit bounds argv entries recorded when Record.ArgvLimit is unset.
const DefaultArgvLimit = 32

// Marshal encodes r as a single protobuf-wire-compatible record (spec
// §6.3): unknown trailing fields are tolerated by any reader that skips
// fields it doesn't recognize (protowire's own contract), and every field
// here is optional on decode, so a record missing a field decodes with
// Go's zero value for it.
func (r Record) Marshal() []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldTimestampUnixNano, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.TimestampUnixNano))

	b = protowire.AppendTag(b, fieldEventKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Kind))

	b = appendStringIfSet(b, fieldFileSHA256, r.Target.FileSHA256)
	b = appendStringIfSet(b, fieldCDHash, r.Target.CDHash)
	b = appendStringIfSet(b, fieldSigningID, r.Target.SigningID)
	b = appendStringIfSet(b, fieldTeamID, r.Target.TeamID)
	b = appendStringIfSet(b, fieldCertSHA256Leaf, r.Target.LeafCertSHA256())
	b = appendStringIfSet(b, fieldMatchedRuleKind, r.Decision.MatchedRuleKind)

	b = protowire.AppendTag(b, fieldOutcome, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Decision.Outcome))

	b = appendStringIfSet(b, fieldReason, string(r.Decision.Reason))

	b = protowire.AppendTag(b, fieldExecutingUID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(r.Target.ExecutingUID)))

	b = protowire.AppendTag(b, fieldPID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(r.Target.PID)))
	b = protowire.AppendTag(b, fieldPPID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(r.Target.PPID)))

	limit := r.ArgvLimit
	if limit <= 0 {
		limit = DefaultArgvLimit
	}
	argv := r.Target.Argv
	if len(argv) > limit {
		argv = argv[:limit]
	}
	for _, a := range argv {
		b = protowire.AppendTag(b, fieldArgv, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(a))
	}

	for k := range r.Target.Env {
		b = protowire.AppendTag(b, fieldEnvKey, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(k))
	}

	b = appendStringIfSet(b, fieldParentName, r.Target.ParentName)
	b = appendStringIfSet(b, fieldMachineID, r.MachineID)
	b = appendStringIfSet(b, fieldPath, r.Target.Path)

	if r.Kind == EventFileAccess {
		b = appendStringIfSet(b, fieldWatchItemName, r.WatchItemName)
		b = appendStringIfSet(b, fieldPolicyVersion, r.PolicyVersion)
		b = appendStringIfSet(b, fieldAccessedPath, r.AccessedPath)
	}

	return b
}

func appendStringIfSet(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, []byte(s))
}

// FromFAAEvent builds a Record for a filesystem AUTH decision (spec §4.7:
// "For FAA events, also the watch-item name, policy_version, and
// accessed_path").
func FromFAAEvent(ts int64, rec faa.EventRecord, policyVersion, machineID string, proc target.Target) Record {
	outcome := target.Deny
	if rec.Decision == faa.Audit {
		outcome = target.Allow
	}
	return Record{
		TimestampUnixNano: ts,
		Kind:              EventFileAccess,
		Target:            proc,
		Decision: target.Decision{
			Outcome: outcome,
			Reason:  faaReason(rec.Decision),
			Silent:  rec.Silent,
		},
		MachineID:     machineID,
		WatchItemName: rec.WatchItemName,
		PolicyVersion: policyVersion,
		AccessedPath:  rec.AccessedPath,
	}
}

func faaReason(d faa.Decision) target.Reason {
	switch d {
	case faa.Audit:
		return "faa_audit"
	case faa.Deny:
		return "faa_deny"
	default:
		return "faa_allow"
	}
}
