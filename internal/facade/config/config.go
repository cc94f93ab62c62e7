// Package config loads the control façade's runtime configuration from
// environment variables only, mirroring internal/broker/config's FromEnv
// idiom.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	conductorerrors "github.com/lumenops/tradingbroker/pkg/errors"
)

const (
	defaultHost          = "127.0.0.1"
	defaultPort          = "8791"
	defaultMaxBodyBytes  = 1 << 20
	minMaxBodyBytes      = 1024
	defaultBrokerBaseURL = "http://127.0.0.1:8787"
	defaultControlToken  = "local-dev-token"
	observabilitySubdir  = ".trading-cli/observability"
)

// Config holds everything cmd/trace-api needs to start listening.
//
// Supported environment variables:
//   - TRACE_API_HOST (default 127.0.0.1), TRACE_API_PORT (default 8791)
//   - TRACE_API_MAX_BODY_BYTES (default 1048576, floor 1024)
//   - TRADES_DIR (default <cwd>/TRADES)
//   - BROKER_BASE_URL (default http://127.0.0.1:8787)
//   - OBS_PROJECT, OBS_LOCATION (default local, us-central1)
//   - OBS_CONTROL_TOKEN (default local-dev-token; a dev-only value — /api/config
//     never returns it)
//   - OBS_CONTROL_AUDIT_FILE (default <cwd>/.trading-cli/observability/control-audit.jsonl)
//   - OBS_SUPERVISOR_DIR (default <cwd>/.trading-cli/observability/pids) — where
//     managed-bot pidfiles live
type Config struct {
	Host             string
	Port             string
	MaxBodyBytes     int64
	TradesDir        string
	BrokerBaseURL    string
	Project          string
	Location         string
	ControlToken     string
	ControlAuditFile string
	SupervisorDir    string
}

// FromEnv builds a Config from the process environment.
func FromEnv() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, &conductorerrors.ConfigError{Key: "cwd", Reason: "could not resolve working directory", Cause: err}
	}
	obsDir := filepath.Join(cwd, observabilitySubdir)

	cfg := &Config{
		Host:             envOr("TRACE_API_HOST", defaultHost),
		Port:             envOr("TRACE_API_PORT", defaultPort),
		MaxBodyBytes:     defaultMaxBodyBytes,
		TradesDir:        envOr("TRADES_DIR", filepath.Join(cwd, "TRADES")),
		BrokerBaseURL:    envOr("BROKER_BASE_URL", defaultBrokerBaseURL),
		Project:          envOr("OBS_PROJECT", "local"),
		Location:         envOr("OBS_LOCATION", "us-central1"),
		ControlToken:     envOr("OBS_CONTROL_TOKEN", defaultControlToken),
		ControlAuditFile: envOr("OBS_CONTROL_AUDIT_FILE", filepath.Join(obsDir, "control-audit.jsonl")),
		SupervisorDir:    envOr("OBS_SUPERVISOR_DIR", filepath.Join(obsDir, "pids")),
	}

	if raw := os.Getenv("TRACE_API_MAX_BODY_BYTES"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &conductorerrors.ConfigError{Key: "TRACE_API_MAX_BODY_BYTES", Reason: "must be an integer", Cause: err}
		}
		if n < minMaxBodyBytes {
			return nil, &conductorerrors.ConfigError{Key: "TRACE_API_MAX_BODY_BYTES", Reason: "must be at least 1024 bytes"}
		}
		cfg.MaxBodyBytes = n
	}

	return cfg, nil
}

// Addr returns the host:port pair net/http.Server expects.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// IsDevToken reports whether the configured control token is still the
// insecure default, so callers can decide whether to warn at startup.
func (c *Config) IsDevToken() bool {
	return c.ControlToken == defaultControlToken
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
