package agentd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fleeterrors "github.com/jmagar/dash-sub004/internal/errors"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"server_url: ws://fleet.example:8443/ws/agent\nagent_id: h1\nlog_dir: /var/log/fleet\nheartbeat_interval: 30s\n",
	), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://fleet.example:8443/ws/agent", cfg.ServerURL)
	assert.Equal(t, "h1", cfg.AgentID)
	assert.Equal(t, "/var/log/fleet", cfg.LogDir)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"server_url: ws://file.example/ws/agent\nagent_id: from-file\n",
	), 0o644))

	t.Setenv("FLEET_SERVER_URL", "ws://env.example/ws/agent")
	t.Setenv("FLEET_AGENT_ID", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://env.example/ws/agent", cfg.ServerURL)
	assert.Equal(t, "from-env", cfg.AgentID)
}

func TestLoadConfigMissingServerURL(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, fleeterrors.IsCode(err, fleeterrors.ErrConfig))
}

func TestLoadConfigDefaultsAgentIDToHostname(t *testing.T) {
	t.Setenv("FLEET_SERVER_URL", "ws://env.example/ws/agent")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	hostname, _ := os.Hostname()
	assert.Equal(t, hostname, cfg.AgentID)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{not yaml"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.True(t, fleeterrors.IsCode(err, fleeterrors.ErrConfig))
}
