// Package agentd is the fleet agent that runs on managed hosts: it keeps a
// websocket to the registry, heartbeats with system metrics, and serves
// process listing, kill and command execution requests.
package agentd

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jmagar/dash-sub004/internal/errors"
)

// Config is the agent's runtime configuration, written next to the binary by
// the installer and overridable through the environment.
type Config struct {
	ServerURL string `yaml:"server_url"`
	AgentID   string `yaml:"agent_id"`
	LogDir    string `yaml:"log_dir"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
}

// DefaultConfig returns the agent defaults before any file or env overrides.
func DefaultConfig() Config {
	return Config{
		LogDir:            ".",
		HeartbeatInterval: 10 * time.Second,
		ReconnectDelay:    5 * time.Second,
		MaxReconnectDelay: time.Minute,
	}
}

// LoadConfig reads the YAML config file the installer laid down, then applies
// environment overrides. A missing file is fine when env carries the values.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, errors.WrapWithCode(err, errors.ErrConfig,
				"could not read agent config "+path, "")
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, errors.WrapWithCode(err, errors.ErrConfig,
					"malformed agent config "+path, "check the YAML syntax")
			}
		}
	}

	if v := os.Getenv("FLEET_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("FLEET_AGENT_ID"); v != "" {
		cfg.AgentID = v
	}
	if v := os.Getenv("FLEET_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}

	if cfg.AgentID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return cfg, errors.WrapWithCode(err, errors.ErrConfig,
				"no agent id configured and hostname lookup failed",
				"set agent_id in the config file or FLEET_AGENT_ID")
		}
		cfg.AgentID = hostname
	}
	if cfg.ServerURL == "" {
		return cfg, errors.New(errors.ErrConfig,
			"no server URL configured",
			"set server_url in the config file or FLEET_SERVER_URL")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	return cfg, nil
}
