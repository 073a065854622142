package config

import (
	"os"
	"path/filepath"

	"github.com/jmagar/dash-sub004/internal/errors"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "fleet.yaml"
	// GlobalConfigDir is the directory for global config.
	GlobalConfigDir = ".config/fleet"
)

// Load reads config from the specified path, merging file values over defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found",
				"Create "+ConfigFileName+" or pass --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	return parseConfig(v, path)
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. fleet.yaml in the current directory
// 3. ~/.config/fleet/fleet.yaml
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err == nil {
		local := filepath.Join(cwd, ConfigFileName)
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		global := filepath.Join(home, GlobalConfigDir, ConfigFileName)
		if _, err := os.Stat(global); err == nil {
			return global, nil
		}
	}

	return "", nil
}

// LoadOrDefault loads config from the found path, or returns defaults if no
// config file exists anywhere in the search order.
func LoadOrDefault(explicit string) (*Config, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// parseConfig merges viper values over the defaults.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := Default()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configs that would make the scheduling loops degenerate.
func (c *Config) Validate() error {
	if c.Health.MaxRetryAttempts < 1 {
		return errors.New(errors.ErrConfig,
			"health.max_retry_attempts must be at least 1",
			"Remove the setting to use the default of 3")
	}
	if c.Health.CheckInterval <= 0 {
		return errors.New(errors.ErrConfig,
			"health.check_interval must be positive",
			"Remove the setting to use the default of 60s")
	}
	if c.Process.PollInterval <= 0 {
		return errors.New(errors.ErrConfig,
			"process.poll_interval must be positive",
			"Remove the setting to use the default of 5s")
	}
	if c.Transport.KeepaliveMaxMissed < 1 {
		return errors.New(errors.ErrConfig,
			"transport.keepalive_max_missed must be at least 1",
			"Remove the setting to use the default of 3")
	}
	return nil
}
