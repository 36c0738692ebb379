// Package config loads and saves the daemon's own TOML configuration
// (grounded on strongdm-leash's internal/configstore/loadsave.go): client
// mode, rule-store path, spool limits, and FAA reload interval.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/northpolesec/santa-sub009/internal/policy"
)

// ParseError represents a TOML decode failure, mirroring the lineage's
// configstore.ParseError so callers can unwrap to the underlying
// *toml.DecodeError.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Config is the daemon's persisted configuration.
type Config struct {
	Mode                         string `toml:"mode"`
	RuleStorePath                string `toml:"rule_store_path"`
	SpoolDir                     string `toml:"spool_dir"`
	SpoolMaxBytes                int64  `toml:"spool_max_bytes"`
	SpoolCompression             string `toml:"spool_compression"`
	FAAPolicyPath                string `toml:"faa_policy_path"`
	FAAReloadIntervalSeconds     int    `toml:"faa_reload_interval_seconds"`
	CacheSize                    int    `toml:"cache_size"`
	EnableTransitiveAllowlisting bool   `toml:"enable_transitive_allowlisting"`
	BlockedPathRegex             string `toml:"blocked_path_regex"`
	AllowedPathRegex             string `toml:"allowed_path_regex"`
	FailsafeCertSHA256           []string `toml:"failsafe_cert_sha256"`
	AdminFeedListenAddr          string `toml:"admin_feed_listen_addr"`
	DaemonLogPath                string `toml:"daemon_log_path"`
	ArgvLimit                    int    `toml:"argv_limit"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Mode:                     "MONITOR",
		RuleStorePath:            "/var/db/santad/rules.db",
		SpoolDir:                 "/var/db/santad/spool",
		SpoolMaxBytes:            256 << 20,
		SpoolCompression:         "zstd",
		FAAPolicyPath:            "/var/db/santad/faa-policy.yaml",
		FAAReloadIntervalSeconds: 30,
		CacheSize:                8192,
		ArgvLimit:                32,
	}
}

// FAAReloadInterval is FAAReloadIntervalSeconds as a time.Duration.
func (c Config) FAAReloadInterval() time.Duration {
	return time.Duration(c.FAAReloadIntervalSeconds) * time.Second
}

// ParsedMode parses Mode into a policy.Mode, defaulting to Monitor for an empty
// or unparsable value so a missing config never fails startup.
func (c Config) ParsedMode() policy.Mode {
	var m policy.Mode
	if err := m.UnmarshalText([]byte(c.Mode)); err != nil {
		return policy.Monitor
	}
	return m
}

// PolicyConfig builds the policy.Config the Policy Engine reads on every
// decision: compiled path regexes, the failsafe certificate set, and the
// transitive-allowlisting toggle (spec §4.2). Mode is left at its zero
// value; callers overlay the live mode from the shared atomic (see
// internal/dispatch.Dispatcher.config).
func (c Config) PolicyConfig() (policy.Config, error) {
	pc := policy.Config{EnableTransitiveAllowlisting: c.EnableTransitiveAllowlisting}

	if c.BlockedPathRegex != "" {
		re, err := regexp.Compile(c.BlockedPathRegex)
		if err != nil {
			return policy.Config{}, fmt.Errorf("compile blocked_path_regex: %w", err)
		}
		pc.BlockedPathRegex = re
	}
	if c.AllowedPathRegex != "" {
		re, err := regexp.Compile(c.AllowedPathRegex)
		if err != nil {
			return policy.Config{}, fmt.Errorf("compile allowed_path_regex: %w", err)
		}
		pc.AllowedPathRegex = re
	}

	if len(c.FailsafeCertSHA256) > 0 {
		pc.FailsafeCertSHA256 = make(map[string]struct{}, len(c.FailsafeCertSHA256))
		for _, cert := range c.FailsafeCertSHA256 {
			pc.FailsafeCertSHA256[cert] = struct{}{}
		}
	}

	return pc, nil
}

// Load reads the persisted config from path. A missing file yields
// Default() rather than an error, matching the lineage's Load semantics.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var decoded Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			return cfg, &ParseError{Path: path, Err: decodeErr}
		}
		return cfg, err
	}
	mergeDefaults(&decoded, cfg)
	return decoded, nil
}

// mergeDefaults fills zero-valued fields of decoded from defaults, so a
// config file that sets only a few keys still gets sane values for the
// rest.
func mergeDefaults(decoded *Config, defaults Config) {
	if decoded.Mode == "" {
		decoded.Mode = defaults.Mode
	}
	if decoded.RuleStorePath == "" {
		decoded.RuleStorePath = defaults.RuleStorePath
	}
	if decoded.SpoolDir == "" {
		decoded.SpoolDir = defaults.SpoolDir
	}
	if decoded.SpoolMaxBytes == 0 {
		decoded.SpoolMaxBytes = defaults.SpoolMaxBytes
	}
	if decoded.SpoolCompression == "" {
		decoded.SpoolCompression = defaults.SpoolCompression
	}
	if decoded.FAAPolicyPath == "" {
		decoded.FAAPolicyPath = defaults.FAAPolicyPath
	}
	if decoded.FAAReloadIntervalSeconds == 0 {
		decoded.FAAReloadIntervalSeconds = defaults.FAAReloadIntervalSeconds
	}
	if decoded.CacheSize == 0 {
		decoded.CacheSize = defaults.CacheSize
	}
	if decoded.ArgvLimit == 0 {
		decoded.ArgvLimit = defaults.ArgvLimit
	}
}

// Save persists cfg atomically via a tmp file in the same directory
// followed by rename (grounded on the lineage's configstore.Save).
func Save(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "santad-config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleaned := false
	defer func() {
		if !cleaned {
			os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}

	encoder := toml.NewEncoder(tmp)
	if err := encoder.Encode(cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	cleaned = true
	return nil
}
