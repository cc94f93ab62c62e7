// Package config loads the broker's runtime configuration from environment
// variables only — there is no YAML profile layer here, just the same
// FromEnv idiom internal/log uses for its own settings.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	conductorerrors "github.com/lumenops/tradingbroker/pkg/errors"
)

const (
	defaultHost         = "127.0.0.1"
	defaultPort         = "8787"
	defaultMaxBodyBytes = 1 << 20 // 1 MiB
	minMaxBodyBytes     = 1024
	stateSubdir         = ".trading-cli/observability"
)

// Config holds everything cmd/broker needs to start listening.
//
// Supported environment variables:
//   - BROKER_HOST: listen host (default 127.0.0.1)
//   - BROKER_PORT: listen port (default 8787)
//   - BROKER_STATE_FILE: path to the workflow state snapshot (default
//     <cwd>/.trading-cli/observability/broker-state.json)
//   - BROKER_AUDIT_FILE: path to the append-only audit log (default
//     <cwd>/.trading-cli/observability/broker-audit.jsonl)
//   - BROKER_MAX_BODY_BYTES: request body cap in bytes (default 1048576,
//     floor 1024)
type Config struct {
	Host         string
	Port         string
	StateFile    string
	AuditFile    string
	MaxBodyBytes int64
	Project      string
	Location     string
}

// FromEnv builds a Config from the process environment, applying defaults
// and validating the few fields that can't simply fall back silently.
func FromEnv() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, &conductorerrors.ConfigError{Key: "cwd", Reason: "could not resolve working directory", Cause: err}
	}
	defaultDir := filepath.Join(cwd, stateSubdir)

	cfg := &Config{
		Host:         envOr("BROKER_HOST", defaultHost),
		Port:         envOr("BROKER_PORT", defaultPort),
		StateFile:    envOr("BROKER_STATE_FILE", filepath.Join(defaultDir, "broker-state.json")),
		AuditFile:    envOr("BROKER_AUDIT_FILE", filepath.Join(defaultDir, "broker-audit.jsonl")),
		MaxBodyBytes: defaultMaxBodyBytes,
		Project:      envOr("OBS_PROJECT", "local"),
		Location:     envOr("OBS_LOCATION", "us-central1"),
	}

	if raw := os.Getenv("BROKER_MAX_BODY_BYTES"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &conductorerrors.ConfigError{Key: "BROKER_MAX_BODY_BYTES", Reason: "must be an integer", Cause: err}
		}
		if n < minMaxBodyBytes {
			return nil, &conductorerrors.ConfigError{Key: "BROKER_MAX_BODY_BYTES", Reason: "must be at least 1024 bytes"}
		}
		cfg.MaxBodyBytes = n
	}

	return cfg, nil
}

// Addr returns the host:port pair net/http.Server expects.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
