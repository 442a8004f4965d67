package cachekit

import (
	"github.com/wudi/cachekit/internal/audit"
	"github.com/wudi/cachekit/internal/broadcast"
	"github.com/wudi/cachekit/internal/bus"
	"github.com/wudi/cachekit/internal/config"
	"github.com/wudi/cachekit/internal/graph"
	"github.com/wudi/cachekit/internal/memory"
	"github.com/wudi/cachekit/internal/metrics"
	"github.com/wudi/cachekit/internal/refresh"
	"github.com/wudi/cachekit/internal/store"
	"github.com/wudi/cachekit/internal/ttl"
)

// Aliases for the types that appear in the Manager API, so callers need
// only this package.
type (
	Config = config.Config

	Entry      = store.Entry
	StoreStats = store.Stats

	Event          = bus.Event
	Reason         = bus.Reason
	EventStats     = bus.Stats
	Subscriber     = bus.Subscriber
	SubscriberFunc = bus.SubscriberFunc

	Ref      = graph.Ref
	Strength = graph.Strength

	TTLContext  = ttl.Context
	UserProfile = ttl.UserProfile
	SystemLoad  = ttl.SystemLoad

	Fetcher       = refresh.Fetcher
	Priority      = refresh.Priority
	TaskView      = refresh.TaskView
	RefreshStatus = refresh.Status

	Pressure = memory.Pressure
	GCStat   = memory.GCStat

	Report = audit.Report
	Issue  = audit.Issue

	MetricsSnapshot = metrics.Snapshot

	Broadcaster      = broadcast.Broadcaster
	BroadcastOptions = broadcast.Options
)

// Dependency edge strengths.
const (
	Weak   = graph.Weak
	Strong = graph.Strong
)

// Refresh task priorities.
const (
	PriorityLow      = refresh.PriorityLow
	PriorityNormal   = refresh.PriorityNormal
	PriorityHigh     = refresh.PriorityHigh
	PriorityCritical = refresh.PriorityCritical
)

// Invalidation reasons.
const (
	ReasonManual     = bus.ReasonManual
	ReasonTag        = bus.ReasonTag
	ReasonTTLExpiry  = bus.ReasonTTLExpiry
	ReasonUserAction = bus.ReasonUserAction
)

// Memory pressure levels.
const (
	PressureNone     = memory.PressureNone
	PressureLow      = memory.PressureLow
	PressureMedium   = memory.PressureMedium
	PressureHigh     = memory.PressureHigh
	PressureCritical = memory.PressureCritical
)

// System load signals for TTL computation.
const (
	LoadLow    = ttl.LoadLow
	LoadNormal = ttl.LoadNormal
	LoadHigh   = ttl.LoadHigh
)

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return config.DefaultConfig()
}

// LoadConfig reads and validates a YAML configuration file, expanding
// ${ENV} references.
func LoadConfig(path string) (*Config, error) {
	return config.NewLoader().Load(path)
}

// NewRedisBroadcaster creates a Redis pub/sub broadcaster for cross-process
// invalidation.
func NewRedisBroadcaster(opts BroadcastOptions) Broadcaster {
	return broadcast.NewRedis(opts)
}
