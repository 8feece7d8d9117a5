// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

// Package config loads the server configuration from a YAML file, JAVUMBO_*
// environment variables, and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of recognized options.
type Config struct {
	DataDir              string `mapstructure:"data_dir"`
	ListenAddress        string `mapstructure:"listen_address"`
	SessionTTLSeconds    int    `mapstructure:"session_ttl_seconds"`
	SweepIntervalSeconds int    `mapstructure:"sweep_interval_seconds"`
	BusyRetryAttempts    int    `mapstructure:"busy_retry_attempts"`
	ExportZipLevel       int    `mapstructure:"export_zip_level"`
	SecretKey            string `mapstructure:"secret_key"`
}

// SessionTTL returns the session eviction TTL as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// SweepInterval returns the sweep cadence as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// Load reads configuration. cfgFile may be empty, in which case only
// defaults and the environment apply.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetDefault("data_dir", "./data")
	v.SetDefault("listen_address", ":8000")
	v.SetDefault("session_ttl_seconds", 300)
	v.SetDefault("sweep_interval_seconds", 30)
	v.SetDefault("busy_retry_attempts", 5)
	v.SetDefault("export_zip_level", 6)
	v.SetDefault("secret_key", "")

	v.SetEnvPrefix("JAVUMBO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ExportZipLevel < 0 || cfg.ExportZipLevel > 9 {
		return nil, fmt.Errorf("export_zip_level must be 0..9, got %d", cfg.ExportZipLevel)
	}
	return &cfg, nil
}
