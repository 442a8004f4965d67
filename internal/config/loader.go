package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// validClassNames are the volatility class names accepted in ttl.profiles.
var validClassNames = map[string]bool{
	"realtime": true, "dynamic": true, "user-profile": true, "static-reference": true,
}

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Leave unresolved references intact so validation can surface them
		return match
	})
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Store.Shards <= 0 {
		return fmt.Errorf("store.shards must be positive, got %d", cfg.Store.Shards)
	}
	if cfg.Store.MaxEntries < 0 {
		return fmt.Errorf("store.max_entries must not be negative, got %d", cfg.Store.MaxEntries)
	}

	if cfg.TTL.Min <= 0 {
		return fmt.Errorf("ttl.min must be positive, got %v", cfg.TTL.Min)
	}
	if cfg.TTL.Max < cfg.TTL.Min {
		return fmt.Errorf("ttl.max (%v) must not be below ttl.min (%v)", cfg.TTL.Max, cfg.TTL.Min)
	}
	if cfg.TTL.CriticalCeiling <= 0 {
		return fmt.Errorf("ttl.critical_ceiling must be positive, got %v", cfg.TTL.CriticalCeiling)
	}
	for dataType, class := range cfg.TTL.Profiles {
		if !validClassNames[class] {
			return fmt.Errorf("ttl.profiles[%q]: unknown volatility class %q", dataType, class)
		}
	}

	if cfg.Memory.ThresholdBytes <= 0 {
		return fmt.Errorf("memory.threshold_bytes must be positive, got %d", cfg.Memory.ThresholdBytes)
	}
	if cfg.Memory.HighWater <= 0 || cfg.Memory.HighWater >= 1 {
		return fmt.Errorf("memory.high_water must be in (0,1), got %v", cfg.Memory.HighWater)
	}

	if cfg.Refresh.Concurrency <= 0 {
		return fmt.Errorf("refresh.concurrency must be positive, got %d", cfg.Refresh.Concurrency)
	}
	if cfg.Refresh.BackoffMultiplier < 1 {
		return fmt.Errorf("refresh.backoff_multiplier must be >= 1, got %v", cfg.Refresh.BackoffMultiplier)
	}
	if cfg.Refresh.DefaultMaxRetries < 0 {
		return fmt.Errorf("refresh.default_max_retries must not be negative, got %d", cfg.Refresh.DefaultMaxRetries)
	}

	if cfg.Bus.HistorySize <= 0 {
		return fmt.Errorf("bus.history_size must be positive, got %d", cfg.Bus.HistorySize)
	}

	if cfg.Broadcast.Enabled && cfg.Broadcast.RedisAddr == "" {
		return fmt.Errorf("broadcast.redis_addr is required when broadcast is enabled")
	}

	return nil
}
