package config_test

import (
	"testing"

	"github.com/lumenops/tradingbroker/internal/broker/config"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Host)
	require.Equal(t, "8787", cfg.Port)
	require.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	require.Equal(t, "127.0.0.1:8787", cfg.Addr())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("BROKER_HOST", "0.0.0.0")
	t.Setenv("BROKER_PORT", "9000")
	t.Setenv("BROKER_MAX_BODY_BYTES", "2048")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.Addr())
	require.Equal(t, int64(2048), cfg.MaxBodyBytes)
}

func TestFromEnv_RejectsMaxBodyBytesBelowFloor(t *testing.T) {
	t.Setenv("BROKER_MAX_BODY_BYTES", "100")

	_, err := config.FromEnv()
	require.Error(t, err)
}

func TestFromEnv_RejectsNonIntegerMaxBodyBytes(t *testing.T) {
	t.Setenv("BROKER_MAX_BODY_BYTES", "not-a-number")

	_, err := config.FromEnv()
	require.Error(t, err)
}
