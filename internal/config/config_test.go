package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5*time.Second, cfg.Transport.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.Transport.KeepaliveInterval)
	assert.Equal(t, 3, cfg.Transport.KeepaliveMaxMissed)
	assert.Equal(t, 60*time.Second, cfg.Health.CheckInterval)
	assert.Equal(t, 3, cfg.Health.MaxRetryAttempts)
	assert.Equal(t, 5*time.Second, cfg.Health.RetryDelay)
	assert.Equal(t, 5*time.Second, cfg.Process.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Registry.RegistrationTimeout)
	assert.Equal(t, 5*time.Second, cfg.Registry.CommandAckTimeout)
	assert.Equal(t, 60*time.Second, cfg.Registry.HeartbeatStale)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	content := `
listen: ":9000"
health:
  check_interval: 30s
  max_retry_attempts: 5
transport:
  connect_timeout: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// File values override defaults
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, 30*time.Second, cfg.Health.CheckInterval)
	assert.Equal(t, 5, cfg.Health.MaxRetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.Transport.ConnectTimeout)

	// Unset values keep defaults
	assert.Equal(t, 5*time.Second, cfg.Health.RetryDelay)
	assert.Equal(t, 5*time.Second, cfg.Process.PollInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	content := `
health:
  max_retry_attempts: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	// Run from an empty dir so no fleet.yaml is picked up
	dir := t.TempDir()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(oldWd) //nolint:errcheck

	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, Default().Health.CheckInterval, cfg.Health.CheckInterval)
}

func TestFindExplicitMissing(t *testing.T) {
	_, err := Find(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
