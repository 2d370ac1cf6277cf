// Package config provides configuration management for kpfind.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrz1836/kpfind/internal/fileutil"
)

// ErrNoConfig indicates the configuration file does not exist.
var ErrNoConfig = errors.New("configuration file not found")

// Config represents the application configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Home     string         `yaml:"home"`
	Cache    CacheConfig    `yaml:"cache"`
	Search   SearchConfig   `yaml:"search"`
	Security SecurityConfig `yaml:"security"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CacheConfig defines the session cache daemon settings.
type CacheConfig struct {
	// Socket is the unix socket path. Relative paths resolve against the
	// working directory.
	Socket string `yaml:"socket"`

	// DefaultTimeoutSeconds is used when -t is not given. 0 disables caching.
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`

	// MaxTTLSeconds caps the lifetime of a cached session.
	MaxTTLSeconds int `yaml:"max_ttl_seconds"`

	// IdleTimeoutSeconds is how long the daemon lingers with no live session.
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`

	// DialAttempts bounds connection attempts while the daemon starts up.
	DialAttempts int `yaml:"dial_attempts"`

	DialBaseDelayMS int `yaml:"dial_base_delay_ms"`
	DialMaxDelayMS  int `yaml:"dial_max_delay_ms"`
}

// SearchConfig defines search defaults.
type SearchConfig struct {
	DefaultFlags []string `yaml:"default_flags"`

	// MatchTimeoutMS bounds a single pattern evaluation.
	MatchTimeoutMS int `yaml:"match_timeout_ms"`
}

// SecurityConfig defines security settings.
type SecurityConfig struct {
	MemoryLock bool `yaml:"memory_lock"`

	// UnlockBurst and UnlockPerMinute shape the token bucket that limits
	// unlock attempts per database inside the daemon. Zero or less disables it.
	UnlockBurst     int     `yaml:"unlock_burst"`
	UnlockPerMinute float64 `yaml:"unlock_per_minute"`
}

// OutputConfig defines output formatting settings.
type OutputConfig struct {
	DefaultFormat   string `yaml:"default_format"`
	RevealPasswords bool   `yaml:"reveal_passwords"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`

	// File receives client logs. Empty means stderr.
	File string `yaml:"file"`

	// DaemonFile receives daemon logs. Empty means the daemon's stderr,
	// which is /dev/null for a spawned daemon.
	DaemonFile string `yaml:"daemon_file"`
}

// Load reads configuration from the specified file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	if err := fileutil.EnsurePrivateDir(filepath.Dir(path)); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return fileutil.WriteAtomic(path, data, 0o600)
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// DefaultHome returns the default kpfind home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kpfind"
	}
	return filepath.Join(home, ".kpfind")
}

// SocketPath returns the absolute socket path.
func (c *Config) SocketPath() (string, error) {
	path, err := fileutil.ExpandHome(c.Cache.Socket)
	if err != nil {
		return "", err
	}
	return filepath.Abs(path)
}

// DefaultTimeout returns the configured default session TTL.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Cache.DefaultTimeoutSeconds) * time.Second
}

// MaxTTL returns the session TTL cap.
func (c *Config) MaxTTL() time.Duration {
	return time.Duration(c.Cache.MaxTTLSeconds) * time.Second
}

// IdleTimeout returns how long an empty daemon stays up.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Cache.IdleTimeoutSeconds) * time.Second
}

// MatchTimeout returns the per-evaluation pattern timeout.
func (c *Config) MatchTimeout() time.Duration {
	return time.Duration(c.Search.MatchTimeoutMS) * time.Millisecond
}

// GetLoggingLevel returns the configured logging level.
func (c *Config) GetLoggingLevel() string {
	return c.Logging.Level
}

// GetOutputFormat returns the default output format.
func (c *Config) GetOutputFormat() string {
	return c.Output.DefaultFormat
}
