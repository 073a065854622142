package config

import "time"

// Config holds every tunable the engine reads. All timing policy lives here
// so that the transport pool, health monitor, process monitor, and registry
// share one set of constants instead of each carrying its own defaults.
type Config struct {
	// Listen is the HTTP bind address for the agent registry endpoint.
	Listen string `yaml:"listen" mapstructure:"listen"`

	Transport TransportConfig `yaml:"transport" mapstructure:"transport"`
	Health    HealthConfig    `yaml:"health" mapstructure:"health"`
	Process   ProcessConfig   `yaml:"process" mapstructure:"process"`
	Registry  RegistryConfig  `yaml:"registry" mapstructure:"registry"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Agent     AgentConfig     `yaml:"agent" mapstructure:"agent"`
}

// TransportConfig controls the SSH connection pool.
type TransportConfig struct {
	// ConnectTimeout bounds dialing plus the SSH handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// KeepaliveInterval is how often a no-op probe is sent on open connections.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" mapstructure:"keepalive_interval"`

	// KeepaliveMaxMissed is how many consecutive failed probes mark a
	// connection dead and evict it from the pool.
	KeepaliveMaxMissed int `yaml:"keepalive_max_missed" mapstructure:"keepalive_max_missed"`

	// IdleTimeout is how long a released connection may sit unused before
	// the reaper closes it.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`

	// ReapInterval is how often the idle reaper runs.
	ReapInterval time.Duration `yaml:"reap_interval" mapstructure:"reap_interval"`
}

// HealthConfig controls per-host liveness monitoring.
type HealthConfig struct {
	// CheckInterval is the scheduled probe cadence per host.
	CheckInterval time.Duration `yaml:"check_interval" mapstructure:"check_interval"`

	// MaxRetryAttempts bounds the retry loop after a failed probe.
	MaxRetryAttempts int `yaml:"max_retry_attempts" mapstructure:"max_retry_attempts"`

	// RetryDelay is the base backoff delay; attempt n waits RetryDelay*2^(n-1).
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
}

// ProcessConfig controls process polling.
type ProcessConfig struct {
	// PollInterval is the process listing cadence per watched host.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// RegistryConfig controls the agent registry endpoint.
type RegistryConfig struct {
	// RegistrationTimeout is how long a fresh channel may take to complete
	// the registration handshake before being dropped.
	RegistrationTimeout time.Duration `yaml:"registration_timeout" mapstructure:"registration_timeout"`

	// CommandAckTimeout is how long ExecuteCommand waits for an ack.
	CommandAckTimeout time.Duration `yaml:"command_ack_timeout" mapstructure:"command_ack_timeout"`

	// HeartbeatStale is how long since the last heartbeat before an open
	// channel is reported as Error rather than Connected.
	HeartbeatStale time.Duration `yaml:"heartbeat_stale" mapstructure:"heartbeat_stale"`
}

// CacheConfig controls the shared host/process cache.
type CacheConfig struct {
	// TTL is the default time-to-live for cached entries.
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// AgentConfig describes how the installer lays the agent down on hosts.
type AgentConfig struct {
	// BinarySource is the local path of the agent binary to push.
	BinarySource string `yaml:"binary_source" mapstructure:"binary_source"`

	// InstallDir is the remote directory the binary and config land in.
	InstallDir string `yaml:"install_dir" mapstructure:"install_dir"`

	// ServiceName is the native service name registered on hosts.
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	// Image is the container image used when installing in a container.
	Image string `yaml:"image" mapstructure:"image"`

	// ServerURL is the registry endpoint agents phone home to.
	ServerURL string `yaml:"server_url" mapstructure:"server_url"`
}

// Default returns a Config with the canonical policy constants.
func Default() *Config {
	return &Config{
		Listen: ":8443",
		Transport: TransportConfig{
			ConnectTimeout:     5 * time.Second,
			KeepaliveInterval:  10 * time.Second,
			KeepaliveMaxMissed: 3,
			IdleTimeout:        10 * time.Minute,
			ReapInterval:       1 * time.Minute,
		},
		Health: HealthConfig{
			CheckInterval:    60 * time.Second,
			MaxRetryAttempts: 3,
			RetryDelay:       5 * time.Second,
		},
		Process: ProcessConfig{
			PollInterval: 5 * time.Second,
		},
		Registry: RegistryConfig{
			RegistrationTimeout: 5 * time.Second,
			CommandAckTimeout:   5 * time.Second,
			HeartbeatStale:      60 * time.Second,
		},
		Cache: CacheConfig{
			TTL: 60 * time.Second,
		},
		Agent: AgentConfig{
			BinarySource: "/usr/local/lib/fleet/fleet-agent",
			InstallDir:   "/opt/fleet-agent",
			ServiceName:  "fleet-agent",
			Image:        "fleet/agent:latest",
			ServerURL:    "ws://localhost:8443/ws/agent",
		},
	}
}
