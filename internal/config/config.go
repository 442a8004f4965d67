package config

import (
	"time"
)

// Config is the complete engine configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	TTL       TTLConfig       `yaml:"ttl"`
	Memory    MemoryConfig    `yaml:"memory"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Audit     AuditConfig     `yaml:"audit"`
	Bus       BusConfig       `yaml:"bus"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Admin     AdminConfig     `yaml:"admin"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// StoreConfig controls the sharded entry store.
type StoreConfig struct {
	Shards     int `yaml:"shards"`      // rounded up to a power of two
	MaxEntries int `yaml:"max_entries"` // per-store LRU cap, 0 = unbounded
}

// TTLConfig bounds the adaptive TTL engine.
type TTLConfig struct {
	Min             time.Duration     `yaml:"min"`
	Max             time.Duration     `yaml:"max"`
	CriticalCeiling time.Duration     `yaml:"critical_ceiling"`
	Profiles        map[string]string `yaml:"profiles"` // dataType → volatility class name
}

// MemoryConfig controls the memory optimizer.
type MemoryConfig struct {
	ThresholdBytes int64         `yaml:"threshold_bytes"`
	HighWater      float64       `yaml:"high_water"`
	Interval       time.Duration `yaml:"interval"`
	HistorySize    int           `yaml:"history_size"`
	Weights        ScoreWeights  `yaml:"weights"`
}

// ScoreWeights weight the eviction value score components.
type ScoreWeights struct {
	Recency   float64 `yaml:"recency"`
	Frequency float64 `yaml:"frequency"`
	Life      float64 `yaml:"life"`
	Size      float64 `yaml:"size"`
}

// RefreshConfig controls the background refresher.
type RefreshConfig struct {
	Concurrency       int            `yaml:"concurrency"`
	Tick              time.Duration  `yaml:"tick"`
	BackoffBase       time.Duration  `yaml:"backoff_base"`
	BackoffMax        time.Duration  `yaml:"backoff_max"`
	BackoffMultiplier float64        `yaml:"backoff_multiplier"`
	DefaultMaxRetries int            `yaml:"default_max_retries"`
	Breaker           BreakerConfig  `yaml:"breaker"`
}

// BreakerConfig controls the circuit breaker wrapped around fetchers.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

// AuditConfig controls the consistency auditor.
type AuditConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// BusConfig controls the invalidation event history.
type BusConfig struct {
	HistorySize int `yaml:"history_size"`
}

// BroadcastConfig wires the cross-process invalidation channel.
type BroadcastConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RedisAddr string `yaml:"redis_addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Channel   string `yaml:"channel"`
}

// AdminConfig controls the optional admin HTTP listener.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Store: StoreConfig{
			Shards:     16,
			MaxEntries: 0,
		},
		TTL: TTLConfig{
			Min:             time.Second,
			Max:             24 * time.Hour,
			CriticalCeiling: 5 * time.Minute,
		},
		Memory: MemoryConfig{
			ThresholdBytes: 256 << 20,
			HighWater:      0.8,
			Interval:       30 * time.Second,
			HistorySize:    128,
			Weights: ScoreWeights{
				Recency:   0.4,
				Frequency: 0.3,
				Life:      0.2,
				Size:      0.1,
			},
		},
		Refresh: RefreshConfig{
			Concurrency:       4,
			Tick:              time.Second,
			BackoffBase:       500 * time.Millisecond,
			BackoffMax:        time.Minute,
			BackoffMultiplier: 2.0,
			DefaultMaxRetries: 3,
			Breaker: BreakerConfig{
				Enabled:             true,
				ConsecutiveFailures: 5,
				OpenTimeout:         30 * time.Second,
			},
		},
		Audit: AuditConfig{
			Interval: time.Minute,
		},
		Bus: BusConfig{
			HistorySize: 1024,
		},
		Broadcast: BroadcastConfig{
			Channel: "cachekit:invalidations",
		},
		Admin: AdminConfig{
			Addr: ":9303",
		},
	}
}
