package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 3, cfg.Lifecycle.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Lifecycle.SnapshotTTL)
	assert.Equal(t, []string{"RouterFactory", "AuthGuardFactory", "RouteConfig"}, cfg.Lifecycle.RequiredDependencies)
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riskdesk.yaml")
	body := `
session_id: tab-7
lifecycle:
  max_retries: 5
  retry_delay_base: 250ms
  timeout: 3s
navigation:
  default_page: risk-input
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tab-7", cfg.SessionID)
	assert.Equal(t, 5, cfg.Lifecycle.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Lifecycle.RetryDelayBase)
	assert.Equal(t, 3*time.Second, cfg.Lifecycle.Timeout)
	assert.Equal(t, "risk-input", cfg.Navigation.DefaultPage)
	// untouched keys keep their defaults
	assert.Equal(t, 5*time.Minute, cfg.Lifecycle.SnapshotTTL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lifecycle:\n  max_retries: 0\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MaxRetries")
}

func TestValidateRejectsAdminDefaultPage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Navigation.DefaultPage = "pengaturan"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin page")
}

func TestLoadAppliesEnvironment(t *testing.T) {
	t.Setenv("RISKDESK_API_TOKEN", "tok-1")
	t.Setenv("RISKDESK_SESSION", "tab-9")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cfg.APIToken)
	assert.Equal(t, "tab-9", cfg.SessionID)
}
