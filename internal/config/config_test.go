package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tokenBudget:
  limit: 200000
delegation:
  maxDepth: 5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(200000), cfg.TokenBudget.Limit)
	require.Equal(t, 0.85, cfg.TokenBudget.WarningThreshold)
	require.Equal(t, int64(1024), cfg.TokenBudget.Reserve)
	require.Equal(t, 60000, cfg.Tools.TimeoutMs)
	require.Equal(t, 5, cfg.Delegation.MaxDepth)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, 500, cfg.Retry.BaseBackoffMs)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tokenBudget:
  limit: 1000
  bogusField: true
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInvalidWarningThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tokenBudget:
  warningThreshold: 1.5
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, 0.85, cfg.TokenBudget.WarningThreshold)
	require.Equal(t, int64(1024), cfg.TokenBudget.Reserve)
	require.Equal(t, 60000, cfg.Tools.TimeoutMs)
	require.NotNil(t, cfg.Sandbox.Enabled)
	require.True(t, *cfg.Sandbox.Enabled)
	require.Equal(t, 3, cfg.Delegation.MaxDepth)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, 500, cfg.Retry.BaseBackoffMs)
}

func TestLoadHonorsExplicitSandboxDisable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sandbox:
  enabled: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Sandbox.Enabled)
	require.False(t, *cfg.Sandbox.Enabled)
	sandbox := cfg.Sandbox.ToSandbox()
	require.True(t, sandbox.IsAllowed("/anywhere/at/all"))
}

func TestToBudgetConfigConverts(t *testing.T) {
	tb := TokenBudgetConfig{Limit: 5000, WarningThreshold: 0.5, Reserve: 100}
	bc := tb.ToBudgetConfig()
	require.Equal(t, int64(5000), bc.Limit)
	require.Equal(t, 0.5, bc.WarningThreshold)
	require.Equal(t, int64(100), bc.Reserve)
}
