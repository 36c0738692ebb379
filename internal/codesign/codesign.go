// Package codesign models the out-of-scope extraction of code-signing
// facts (CDHash, signing identity, certificate chain, Team ID) from an
// on-disk binary. The Policy Engine (C4.2) and FAA engine (C4.5) both
// consume a target.Target/ProcessFacts that already carries these facts;
// how they were extracted is a host-integration concern this module never
// implements.
package codesign

import "github.com/northpolesec/santa-sub009/internal/target"

// Extractor resolves code-signing facts for a path on disk.
type Extractor interface {
	// Extract populates the signing-related fields of a target.Target for
	// the binary at path. Non-signing fields (PID, Argv, Env, ...) are left
	// untouched and must be filled in by the caller.
	Extract(path string, t *target.Target) error
}
