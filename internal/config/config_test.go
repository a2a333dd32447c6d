package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/nonexistent/engine-core.yaml")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8766, cfg.Engines.PortRangeStart)
	assert.Equal(t, "disabled", cfg.Autochain.AutoRegenerateDefects)
	assert.Equal(t, 5, cfg.JobStore.LockRetryAttempts)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/nonexistent/engine-core.yaml")
	t.Setenv("ENGINE_CORE_ENGINES__PORT_RANGE_START", "9000")
	t.Setenv("ENGINE_CORE_AUTOCHAIN__AUTO_REGENERATE_DEFECTS", "bundled")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Engines.PortRangeStart)
	assert.Equal(t, "bundled", cfg.Autochain.AutoRegenerateDefects)
}

func TestValidateRejectsBadPortRange(t *testing.T) {
	cfg := defaultConfig()
	cfg.Engines.PortRangeEnd = cfg.Engines.PortRangeStart
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadAutochainMode(t *testing.T) {
	cfg := defaultConfig()
	cfg.Autochain.AutoRegenerateDefects = "sometimes"
	require.Error(t, cfg.Validate())
}
