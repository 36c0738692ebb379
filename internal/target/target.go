// Package target defines the subject of an authorization decision and the
// decision itself.
package target

import "time"

// SigningFlag enumerates code-signing properties of a Target relevant to
// policy decisions.
type SigningFlag int

const (
	FlagPlatformBinary SigningFlag = 1 << iota
	FlagHardened
)

// Target is the subject of a decision: a would-be-executed binary (for
// execution-AUTH events) or an accessed path plus instigating process (for
// FAA events reference the same identifying fields). Signing metadata is
// assumed extracted by an out-of-scope host collaborator (spec §1).
type Target struct {
	FileSHA256   string
	CDHash       string
	SigningID    string // "TEAMID:bundleID" or "platform:bundleID"
	TeamID       string
	CertSHA256Chain []string
	SigningTime  time.Time
	SigningFlags SigningFlag
	Path         string
	ExecutingUID int
	BundleID     string
	BundleHash   string

	// Argv and Env back CEL rule activations (spec §4.2) and Decision
	// Logger records (spec §4.7).
	Argv []string
	Env  map[string]string

	PID, PPID     int
	ParentName    string
	MachineID     string
}

// LeafCertSHA256 returns the leaf (first) certificate in the chain, or "".
func (t Target) LeafCertSHA256() string {
	if len(t.CertSHA256Chain) == 0 {
		return ""
	}
	return t.CertSHA256Chain[0]
}

// HasFlag reports whether the given signing flag is set.
func (t Target) HasFlag(f SigningFlag) bool {
	return t.SigningFlags&f != 0
}

// VnodeID identifies a specific on-disk file instance. Target carries no
// vnode identity and the Dispatcher builds each Fingerprint from
// FileSHA256 alone, so Fingerprint.Vnode is always the zero value: files
// with the same hash share one cache entry whatever their path or inode.
type VnodeID struct {
	Device     uint64
	Inode      uint64
	Generation uint64
}

// Fingerprint is the Auth Result Cache lookup key (spec §3, CacheEntry).
type Fingerprint struct {
	FileSHA256 string
	Vnode      VnodeID
}
