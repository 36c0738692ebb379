package policy

import "regexp"

// Config is the subset of daemon configuration the Policy Engine reads on
// every decision. It is built by config.Config.PolicyConfig and installed
// with Dispatcher.SetConfig when the engine is constructed; the Control
// Surface (C9) changes only the mode, through the shared mode value the
// Dispatcher reads on every decision.
type Config struct {
	Mode Mode

	// BlockedPathRegex/AllowedPathRegex back the lowest-precedence,
	// regex-over-path rule source (spec §4.2 step 6).
	BlockedPathRegex *regexp.Regexp
	AllowedPathRegex *regexp.Regexp

	// EnableTransitiveAllowlisting turns on the ALLOWLIST_COMPILER hinting
	// behavior described in spec §4.2.
	EnableTransitiveAllowlisting bool

	// FailsafeCertSHA256 lists leaf certificate hashes that must never be
	// denied: the operating system's init-signing identity and Santa's own
	// signing identity (spec §4.2 "Fail-safe").
	FailsafeCertSHA256 map[string]struct{}
}

// IsFailsafeProtected reports whether any certificate hash in chain is one
// of the identities a DENY may never be returned for.
func (c Config) IsFailsafeProtected(chain []string) bool {
	if len(c.FailsafeCertSHA256) == 0 {
		return false
	}
	for _, cert := range chain {
		if _, ok := c.FailsafeCertSHA256[cert]; ok {
			return true
		}
	}
	return false
}
