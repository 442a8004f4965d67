// Package ttl computes recommended time-to-live values per data type.
//
// The engine is a pure function of its inputs: identical (dataType, Context)
// pairs always produce the same duration.
package ttl

import (
	"strings"
	"sync"
	"time"
)

// VolatilityClass orders data types by how quickly they go stale.
type VolatilityClass int

const (
	ClassRealtime VolatilityClass = iota
	ClassDynamic
	ClassUserProfile
	ClassStaticReference
)

func (c VolatilityClass) String() string {
	switch c {
	case ClassRealtime:
		return "realtime"
	case ClassDynamic:
		return "dynamic"
	case ClassUserProfile:
		return "user-profile"
	case ClassStaticReference:
		return "static-reference"
	default:
		return "unknown"
	}
}

// ParseClass maps a class name to its VolatilityClass.
func ParseClass(name string) (VolatilityClass, bool) {
	switch name {
	case "realtime":
		return ClassRealtime, true
	case "dynamic":
		return ClassDynamic, true
	case "user-profile":
		return ClassUserProfile, true
	case "static-reference":
		return ClassStaticReference, true
	}
	return 0, false
}

// baseTTL is the per-class starting point before modifiers.
var baseTTL = map[VolatilityClass]time.Duration{
	ClassRealtime:        10 * time.Second,
	ClassDynamic:         time.Minute,
	ClassUserProfile:     10 * time.Minute,
	ClassStaticReference: time.Hour,
}

// SystemLoad is the coarse load signal fed into TTL computation.
type SystemLoad int

const (
	LoadLow SystemLoad = iota
	LoadNormal
	LoadHigh
)

// UserProfile carries the session signals that may lengthen TTLs.
type UserProfile struct {
	ActiveSession  bool
	RecentActivity bool
}

// Context is the explicit signal set recognized by the engine. Unknown or
// zero fields fall back to neutral behavior.
type Context struct {
	TimeOfDay   int // hour in [0,24)
	DayOfWeek   time.Weekday
	SystemLoad  SystemLoad
	UserProfile *UserProfile
}

const (
	highLoadFactor = 0.5  // shed staleness risk under load
	offPeakFactor  = 1.25 // quiet hours tolerate longer TTLs
	trustedFactor  = 1.2  // active session, fewer forced refreshes
	criticalFactor = 0.4  // critical data is always shorter-lived
)

// Engine maps data types to volatility profiles and applies contextual
// modifiers. The profile table is the only shared state.
type Engine struct {
	min             time.Duration
	max             time.Duration
	criticalCeiling time.Duration

	mu       sync.RWMutex
	profiles map[string]VolatilityClass
}

// Options bound the computed TTLs.
type Options struct {
	Min             time.Duration
	Max             time.Duration
	CriticalCeiling time.Duration
}

// NewEngine creates a TTL engine with the given bounds.
func NewEngine(opts Options) *Engine {
	min := opts.Min
	if min <= 0 {
		min = time.Second
	}
	max := opts.Max
	if max <= 0 {
		max = 24 * time.Hour
	}
	ceiling := opts.CriticalCeiling
	if ceiling <= 0 {
		ceiling = 5 * time.Minute
	}

	return &Engine{
		min:             min,
		max:             max,
		criticalCeiling: ceiling,
		profiles:        make(map[string]VolatilityClass),
	}
}

// RegisterProfile pins a data type to a volatility class, overriding the
// name-based classification.
func (e *Engine) RegisterProfile(dataType string, class VolatilityClass) {
	e.mu.Lock()
	e.profiles[dataType] = class
	e.mu.Unlock()
}

// Classify returns the volatility class for a data type. Registered profiles
// win; otherwise the name is inspected.
func (e *Engine) Classify(dataType string) VolatilityClass {
	e.mu.RLock()
	class, ok := e.profiles[dataType]
	e.mu.RUnlock()
	if ok {
		return class
	}

	name := strings.ToLower(dataType)
	switch {
	case strings.Contains(name, "realtime"), strings.Contains(name, "live"):
		return ClassRealtime
	case strings.Contains(name, "static"), strings.Contains(name, "reference"):
		return ClassStaticReference
	case strings.Contains(name, "profile"), strings.Contains(name, "user"):
		return ClassUserProfile
	default:
		return ClassDynamic
	}
}

// IsCritical reports whether the data type carries the critical marker.
func IsCritical(dataType string) bool {
	return strings.Contains(strings.ToLower(dataType), "critical")
}

// Calculate returns the recommended TTL for the data type under the given
// context, clamped to the engine bounds. Critical data types always come out
// strictly shorter than an otherwise identical non-critical type, and never
// above the critical ceiling.
func (e *Engine) Calculate(dataType string, ctx Context) time.Duration {
	ttl := float64(baseTTL[e.Classify(dataType)])

	if ctx.SystemLoad == LoadHigh {
		ttl *= highLoadFactor
	}
	if ctx.TimeOfDay >= 0 && ctx.TimeOfDay < 6 {
		ttl *= offPeakFactor
	}
	if p := ctx.UserProfile; p != nil && p.ActiveSession && p.RecentActivity {
		ttl *= trustedFactor
	}

	// The critical factor applies before clamping, and the critical floor
	// sits below the shared minimum, so critical stays strictly shorter
	// even when the non-critical value clamps to the minimum.
	if IsCritical(dataType) {
		ttl *= criticalFactor
		floor := time.Duration(float64(e.min) * criticalFactor)
		return clamp(time.Duration(ttl), floor, e.criticalCeiling)
	}

	return clamp(time.Duration(ttl), e.min, e.max)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if hi < lo {
		hi = lo
	}
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
