package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
accounts:
  primary:
    api_key: pk
    secret_key: ps
  mirror:
    api_key: mk
    secret_key: ms
policy:
  cancel_limits_on_first_target: true
  main_tick_interval_seconds: 5
  mirror_tick_interval_seconds: 15
system:
  log_level: INFO
`

func TestLoadConfig_Valid(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.True(t, cfg.Policy.CancelLimitsOnFirstTarget)
	assert.Equal(t, 5, cfg.Policy.MainTickIntervalSeconds)
	assert.Equal(t, 15, cfg.Policy.MirrorTickIntervalSeconds)
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "laddered", cfg.Policy.DefaultApproach)
	assert.Equal(t, float64(5), cfg.Policy.BreakevenBufferBps)
	assert.Equal(t, float64(10), cfg.Policy.FillToleranceBps)
	assert.Equal(t, 30, cfg.Policy.SnapshotFlushIntervalSecs)
	assert.Equal(t, 3, cfg.Policy.UnprotectedAlertThreshold)
	assert.Equal(t, "position_guard.db", cfg.System.DBPath)
	assert.Equal(t, 8, cfg.Concurrency.TickPoolSize)
}

func TestLoadConfig_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_PG_API_KEY", "expanded_key")

	content := `
accounts:
  primary:
    api_key: ${TEST_PG_API_KEY}
    secret_key: ps
  mirror:
    api_key: mk
    secret_key: ms
policy:
  main_tick_interval_seconds: 5
  mirror_tick_interval_seconds: 15
system:
  log_level: INFO
`
	cfg, err := LoadConfig(writeConfig(t, content))
	require.NoError(t, err)
	assert.Equal(t, "expanded_key", cfg.Accounts["primary"].APIKey)
}

func TestLoadConfig_MissingAccountIsFatal(t *testing.T) {
	content := `
accounts:
  primary:
    api_key: pk
    secret_key: ps
policy:
  main_tick_interval_seconds: 5
  mirror_tick_interval_seconds: 15
system:
  log_level: INFO
`
	_, err := LoadConfig(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accounts.mirror")
}

func TestLoadConfig_MissingCredentialsIsFatal(t *testing.T) {
	content := `
accounts:
  primary:
    api_key: pk
    secret_key: ps
  mirror:
    api_key: mk
    secret_key: ""
policy:
  main_tick_interval_seconds: 5
  mirror_tick_interval_seconds: 15
system:
  log_level: INFO
`
	_, err := LoadConfig(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret key is required")
}

func TestValidate_InvalidValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MainTickIntervalSeconds = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Policy.DefaultApproach = "yolo"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.System.LogLevel = "LOUD"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Policy.BreakevenBufferBps = -1
	assert.Error(t, cfg.Validate())
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	s := cfg.String()
	assert.NotContains(t, s, "ps")
	assert.NotContains(t, s, "ms")
}

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}
