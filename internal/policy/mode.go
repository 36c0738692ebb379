package policy

import "github.com/pkg/errors"

// Mode is the daemon's client mode (spec §1, §4.2).
type Mode int

const (
	Monitor Mode = iota
	Lockdown
	Standalone
)

func (m Mode) String() string {
	switch m {
	case Monitor:
		return "MONITOR"
	case Lockdown:
		return "LOCKDOWN"
	case Standalone:
		return "STANDALONE"
	default:
		return "UNKNOWN"
	}
}

func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "MONITOR":
		*m = Monitor
	case "LOCKDOWN":
		*m = Lockdown
	case "STANDALONE":
		*m = Standalone
	default:
		return errors.Errorf("unknown client mode %q", text)
	}
	return nil
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
