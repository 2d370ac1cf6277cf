package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names.
const (
	EnvHome         = "KPFIND_HOME"
	EnvSocket       = "KPFIND_SOCKET"
	EnvTimeout      = "KPFIND_TIMEOUT"
	EnvIdleTimeout  = "KPFIND_IDLE_TIMEOUT"
	EnvOutputFormat = "KPFIND_OUTPUT_FORMAT"
	EnvLogLevel     = "KPFIND_LOG_LEVEL"
	EnvReveal       = "KPFIND_REVEAL"
)

// ApplyEnvironment applies environment variable overrides to the configuration.
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := strings.TrimSpace(os.Getenv(EnvSocket)); v != "" {
		cfg.Cache.Socket = v
	}

	// KPFIND_TIMEOUT sets the default session TTL in seconds
	if v := os.Getenv(EnvTimeout); v != "" {
		if ttl, err := strconv.Atoi(v); err == nil && ttl >= 0 {
			cfg.Cache.DefaultTimeoutSeconds = ttl
		}
	}

	if v := os.Getenv(EnvIdleTimeout); v != "" {
		if idle, err := strconv.Atoi(v); err == nil && idle > 0 {
			cfg.Cache.IdleTimeoutSeconds = idle
		}
	}

	if v := os.Getenv(EnvOutputFormat); v != "" {
		cfg.Output.DefaultFormat = strings.ToLower(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	if v := os.Getenv(EnvReveal); v != "" {
		cfg.Output.RevealPasswords = parseBool(v)
	}
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}
