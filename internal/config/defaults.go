package config

// DefaultSocket is the cache socket name, created in the working directory
// unless configured otherwise.
const DefaultSocket = "kpfind.sock"

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Home:    "~/.kpfind",
		Cache: CacheConfig{
			Socket:                DefaultSocket,
			DefaultTimeoutSeconds: 0, // caching is opt-in
			MaxTTLSeconds:         12 * 60 * 60,
			IdleTimeoutSeconds:    5 * 60,
			DialAttempts:          6,
			DialBaseDelayMS:       50,
			DialMaxDelayMS:        800,
		},
		Search: SearchConfig{
			DefaultFlags:   []string{"I"},
			MatchTimeoutMS: 2000,
		},
		Security: SecurityConfig{
			MemoryLock:      true,
			UnlockBurst:     5,
			UnlockPerMinute: 0,
		},
		Output: OutputConfig{
			DefaultFormat:   "auto",
			RevealPasswords: false,
		},
		Logging: LoggingConfig{
			Level:      "warn",
			File:       "",
			DaemonFile: "~/.kpfind/daemon.log",
		},
	}
}
