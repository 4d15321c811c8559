// Package config loads Heksher's runtime configuration from environment
// variables (spec.md §6), with an optional TOML file overlay for
// operators who prefer a file to a long env block.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds every knob spec.md §6 names, plus the listen address and
// request-deadline knobs §5/§6 require but leave to the implementation.
type Config struct {
	DBConnectionString     string   `toml:"db_connection_string"`
	StartupContextFeatures []string `toml:"startup_context_features"`
	DocOnly                bool     `toml:"doc_only"`
	ListenAddr             string   `toml:"listen_addr"`
	RequestTimeoutSeconds  int      `toml:"request_timeout_seconds"`
}

// Default returns the baseline configuration before any env var or file
// overlay is applied.
func Default() Config {
	return Config{
		ListenAddr:            ":8000",
		RequestTimeoutSeconds: 30,
	}
}

// fileOverlay is the shape of an optional --config TOML file. Every field
// is optional; a zero value leaves the existing config value untouched.
type fileOverlay struct {
	DBConnectionString     string   `toml:"db_connection_string"`
	StartupContextFeatures []string `toml:"startup_context_features"`
	DocOnly                *bool    `toml:"doc_only"`
	ListenAddr             string   `toml:"listen_addr"`
	RequestTimeoutSeconds  int      `toml:"request_timeout_seconds"`
}

// LoadFile overlays cfg with the contents of a TOML file. A missing field
// in the file leaves the corresponding cfg field unchanged.
func LoadFile(cfg Config, path string) (Config, error) {
	var ov fileOverlay
	if _, err := toml.DecodeFile(path, &ov); err != nil {
		return cfg, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if ov.DBConnectionString != "" {
		cfg.DBConnectionString = ov.DBConnectionString
	}
	if len(ov.StartupContextFeatures) > 0 {
		cfg.StartupContextFeatures = ov.StartupContextFeatures
	}
	if ov.DocOnly != nil {
		cfg.DocOnly = *ov.DocOnly
	}
	if ov.ListenAddr != "" {
		cfg.ListenAddr = ov.ListenAddr
	}
	if ov.RequestTimeoutSeconds != 0 {
		cfg.RequestTimeoutSeconds = ov.RequestTimeoutSeconds
	}
	return cfg, nil
}

// LoadEnv overlays cfg with environment variables, which take precedence
// over any file overlay (spec.md §6: HEKSHER_DB_CONNECTION_STRING,
// HEKSHER_STARTUP_CONTEXT_FEATURES, DOC_ONLY).
func LoadEnv(cfg Config) (Config, error) {
	if v, ok := os.LookupEnv("HEKSHER_DB_CONNECTION_STRING"); ok {
		cfg.DBConnectionString = v
	}
	if v, ok := os.LookupEnv("HEKSHER_STARTUP_CONTEXT_FEATURES"); ok {
		cfg.StartupContextFeatures = splitSemicolons(v)
	}
	if v, ok := os.LookupEnv("DOC_ONLY"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return cfg, fmt.Errorf("config: DOC_ONLY: %w", err)
		}
		cfg.DocOnly = b
	}
	if v, ok := os.LookupEnv("HEKSHER_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("HEKSHER_REQUEST_TIMEOUT_SECONDS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return cfg, fmt.Errorf("config: HEKSHER_REQUEST_TIMEOUT_SECONDS: %w", err)
		}
		cfg.RequestTimeoutSeconds = n
	}
	return cfg, nil
}

func splitSemicolons(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the invariants heksherd needs before it can start: a
// connection string is always required outside DOC_ONLY mode.
func (c Config) Validate() error {
	if c.DocOnly {
		return nil
	}
	if strings.TrimSpace(c.DBConnectionString) == "" {
		return fmt.Errorf("config: HEKSHER_DB_CONNECTION_STRING is required outside DOC_ONLY mode")
	}
	return nil
}
