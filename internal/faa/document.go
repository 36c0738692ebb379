// Package faa implements the File-Access Watch-Item Engine (C5): parsing
// and compiling the FAA policy document (spec §6.1) and evaluating it
// against filesystem AUTH events (spec §4.5).
package faa

import (
	"fmt"
	"regexp"
)

// nameRe is the required form of a WatchItem name (spec §6.1).
var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Document is the parsed FAA policy document (spec §6.1), decoded from
// YAML following the rest of the retrieval pack's config conventions.
type Document struct {
	Version         string                  `yaml:"Version"`
	EventDetailURL  string                  `yaml:"EventDetailURL,omitempty"`
	EventDetailText string                  `yaml:"EventDetailText,omitempty"`
	WatchItems      map[string]WatchItemDoc `yaml:"WatchItems,omitempty"`
}

// PathEntry accepts either a bare path string or {Path, IsPrefix}.
type PathEntry struct {
	Path     string `yaml:"Path"`
	IsPrefix bool   `yaml:"IsPrefix"`
}

// UnmarshalYAML lets a WatchItem's Paths list mix bare strings and
// {Path, IsPrefix} maps, per spec §6.1.
func (p *PathEntry) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		p.Path = s
		p.IsPrefix = false
		return nil
	}
	type plain PathEntry
	var pl plain
	if err := unmarshal(&pl); err != nil {
		return err
	}
	*p = PathEntry(pl)
	return nil
}

// OptionsDoc is a WatchItem's Options block (spec §6.1). Pointer fields
// distinguish "unset" (apply the documented default) from an explicit
// false.
type OptionsDoc struct {
	AllowReadAccess     bool   `yaml:"AllowReadAccess,omitempty"`
	AuditOnly           *bool  `yaml:"AuditOnly,omitempty"`
	RuleType            string `yaml:"RuleType,omitempty"`
	EnableSilentMode    bool   `yaml:"EnableSilentMode,omitempty"`
	EnableSilentTTYMode bool   `yaml:"EnableSilentTTYMode,omitempty"`
	EventDetailURL      string `yaml:"EventDetailURL,omitempty"`
	EventDetailText     string `yaml:"EventDetailText,omitempty"`
}

// ProcessDoc is one entry of a WatchItem's Processes list (spec §6.1).
type ProcessDoc struct {
	BinaryPath        string `yaml:"BinaryPath,omitempty"`
	TeamID            string `yaml:"TeamID,omitempty"`
	CertificateSha256 string `yaml:"CertificateSha256,omitempty"`
	CDHash            string `yaml:"CDHash,omitempty"`
	SigningID         string `yaml:"SigningID,omitempty"`
	PlatformBinary    bool   `yaml:"PlatformBinary,omitempty"`
}

// WatchItemDoc is one entry of Document.WatchItems (spec §6.1).
type WatchItemDoc struct {
	Paths     []PathEntry   `yaml:"Paths"`
	Options   OptionsDoc    `yaml:"Options,omitempty"`
	Processes []ProcessDoc  `yaml:"Processes,omitempty"`
}

// ValidationError reports a rejected WatchItem without touching the
// currently active compiled set (spec §4.5 step 1, error kind
// policy_invalid in spec §7).
type ValidationError struct {
	WatchItem string
	Msg       string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("policy_invalid: watch item %q: %s", e.WatchItem, e.Msg)
}

// maxPathComponents bounds glob recursion depth (spec §4.5 step 2, property 12).
const maxPathComponents = 40
