// Package audit verifies the cache against its own bookkeeping: entries
// expected to exist, entries flagged stale, dependency edges pointing at
// nothing, and duplicate tag registrations. Each check produces a weighted
// consistency score in [0,1].
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/wudi/cachekit/internal/graph"
	"github.com/wudi/cachekit/internal/store"
)

// IssueType classifies one consistency finding.
type IssueType int

const (
	// IssueMissing: an entry registered as expected is absent.
	IssueMissing IssueType = iota
	// IssueStale: an entry is flagged stale and awaiting refresh.
	IssueStale
	// IssueOrphanedTag: a dependency edge points at an entry that no
	// longer exists.
	IssueOrphanedTag
	// IssueDuplicateTag: an entry carries the same tag more than once.
	IssueDuplicateTag
)

func (t IssueType) String() string {
	switch t {
	case IssueMissing:
		return "missing"
	case IssueStale:
		return "stale"
	case IssueOrphanedTag:
		return "orphaned_tag"
	case IssueDuplicateTag:
		return "duplicate_tag"
	default:
		return "unknown"
	}
}

// Severity weights an issue's contribution to the score.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

func (s Severity) weight() float64 {
	switch s {
	case SeverityHigh:
		return 1.0
	case SeverityMedium:
		return 0.5
	default:
		return 0.2
	}
}

// Issue is one consistency finding.
type Issue struct {
	Type      IssueType `json:"type"`
	Severity  Severity  `json:"severity"`
	Namespace string    `json:"namespace,omitempty"`
	Key       string    `json:"key,omitempty"`
	Tag       string    `json:"tag,omitempty"`
	Detail    string    `json:"detail"`
}

// Report is the outcome of one audit pass.
type Report struct {
	Timestamp       time.Time `json:"timestamp"`
	EntriesChecked  int       `json:"entries_checked"`
	Issues          []Issue   `json:"issues"`
	Score           float64   `json:"score"`
	Recommendations []string  `json:"recommendations"`
}

// Auditor runs consistency passes against the store and dependency graph.
type Auditor struct {
	store *store.Store
	graph *graph.Graph
	clock clockwork.Clock
	log   *zap.Logger

	interval time.Duration

	mu           sync.Mutex
	expectations map[graph.Ref]struct{}
	lastReport   *Report

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates an auditor over the given store and graph.
func New(st *store.Store, g *graph.Graph, interval time.Duration, clock clockwork.Clock, log *zap.Logger) *Auditor {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Auditor{
		store:        st,
		graph:        g,
		clock:        clock,
		log:          log,
		interval:     interval,
		expectations: make(map[graph.Ref]struct{}),
		stop:         make(chan struct{}),
	}
}

// Expect registers an entry that future audits must find present.
func (a *Auditor) Expect(namespace, key string) {
	a.mu.Lock()
	a.expectations[graph.Ref{Namespace: namespace, Key: key}] = struct{}{}
	a.mu.Unlock()
}

// Unexpect drops a presence expectation.
func (a *Auditor) Unexpect(namespace, key string) {
	a.mu.Lock()
	delete(a.expectations, graph.Ref{Namespace: namespace, Key: key})
	a.mu.Unlock()
}

// ForceCheck runs a full audit pass now and returns the report.
func (a *Auditor) ForceCheck() Report {
	now := a.clock.Now()
	entries := a.store.GetAll()

	live := make(map[graph.Ref]*store.Entry, len(entries))
	for _, e := range entries {
		live[graph.Ref{Namespace: e.Namespace, Key: e.Key}] = e
	}

	var issues []Issue

	a.mu.Lock()
	expected := make([]graph.Ref, 0, len(a.expectations))
	for ref := range a.expectations {
		expected = append(expected, ref)
	}
	a.mu.Unlock()

	for _, ref := range expected {
		if _, ok := live[ref]; !ok {
			issues = append(issues, Issue{
				Type:      IssueMissing,
				Severity:  SeverityHigh,
				Namespace: ref.Namespace,
				Key:       ref.Key,
				Detail:    "expected entry is absent",
			})
		}
	}

	for _, e := range entries {
		issues = append(issues, a.inspect(e, now)...)
	}

	for tag, refs := range a.graph.Snapshot() {
		for _, ref := range refs {
			if _, ok := live[ref]; !ok {
				issues = append(issues, Issue{
					Type:      IssueOrphanedTag,
					Severity:  SeverityMedium,
					Namespace: ref.Namespace,
					Key:       ref.Key,
					Tag:       tag,
					Detail:    fmt.Sprintf("tag %q references a removed entry", tag),
				})
			}
		}
	}

	checked := len(entries) + len(expected)
	report := Report{
		Timestamp:       now,
		EntriesChecked:  checked,
		Issues:          issues,
		Score:           score(issues, checked),
		Recommendations: recommend(issues),
	}

	a.mu.Lock()
	a.lastReport = &report
	a.mu.Unlock()

	if len(issues) > 0 {
		a.log.Warn("consistency audit found issues",
			zap.Int("entries_checked", checked),
			zap.Int("issues", len(issues)),
			zap.Float64("score", report.Score),
		)
	}
	return report
}

// inspect audits one entry. A panic inspecting one entry is contained so
// the pass completes for the rest.
func (a *Auditor) inspect(e *store.Entry, now time.Time) (issues []Issue) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Warn("entry inspection panicked",
				zap.String("namespace", e.Namespace),
				zap.String("key", e.Key),
				zap.Any("panic", r),
			)
		}
	}()

	// Expiry is re-derived here rather than trusted to the read path: an
	// entry nobody re-reads after its deadline is otherwise invisible.
	switch {
	case e.Expired(now):
		issues = append(issues, Issue{
			Type:      IssueStale,
			Severity:  SeverityMedium,
			Namespace: e.Namespace,
			Key:       e.Key,
			Detail:    "ttl deadline passed without eviction",
		})
	case e.Stale:
		issues = append(issues, Issue{
			Type:      IssueStale,
			Severity:  SeverityMedium,
			Namespace: e.Namespace,
			Key:       e.Key,
			Detail:    "entry is flagged stale",
		})
	}

	seen := make(map[string]struct{}, len(e.Tags))
	for _, tag := range e.Tags {
		if _, dup := seen[tag]; dup {
			issues = append(issues, Issue{
				Type:      IssueDuplicateTag,
				Severity:  SeverityLow,
				Namespace: e.Namespace,
				Key:       e.Key,
				Tag:       tag,
				Detail:    fmt.Sprintf("tag %q registered more than once", tag),
			})
			continue
		}
		seen[tag] = struct{}{}
	}
	return issues
}

// score maps weighted issues over the checked population to [0,1]. An
// empty, issue-free cache is perfectly consistent.
func score(issues []Issue, checked int) float64 {
	if len(issues) == 0 {
		return 1
	}
	var penalty float64
	for _, is := range issues {
		penalty += is.Severity.weight()
	}
	if checked < 1 {
		checked = 1
	}
	s := 1 - penalty/float64(checked)
	if s < 0 {
		return 0
	}
	return s
}

// recommend derives remediation hints from the dominant issue type.
func recommend(issues []Issue) []string {
	if len(issues) == 0 {
		return nil
	}
	counts := make(map[IssueType]int)
	for _, is := range issues {
		counts[is.Type]++
	}
	dominant := issues[0].Type
	for t, n := range counts {
		if n > counts[dominant] {
			dominant = t
		}
	}
	switch dominant {
	case IssueMissing:
		return []string{"re-populate or unregister the missing entries"}
	case IssueStale:
		return []string{"schedule refresh for stale entries or shorten their TTL"}
	case IssueOrphanedTag:
		return []string{"prune dependency tags left behind by removed entries"}
	default:
		return []string{"deduplicate tag registrations at write time"}
	}
}

// Score returns the most recent consistency score, or 1 before any pass.
func (a *Auditor) Score() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastReport == nil {
		return 1
	}
	return a.lastReport.Score
}

// LastReport returns a copy of the most recent report, if any.
func (a *Auditor) LastReport() (Report, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastReport == nil {
		return Report{}, false
	}
	r := *a.lastReport
	r.Issues = append([]Issue(nil), a.lastReport.Issues...)
	r.Recommendations = append([]string(nil), a.lastReport.Recommendations...)
	return r, true
}

// Run executes periodic audit passes until Stop or cancellation.
func (a *Auditor) Run(ctx context.Context) {
	ticker := a.clock.NewTicker(a.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				a.ForceCheck()
			case <-ctx.Done():
				return
			case <-a.stop:
				return
			}
		}
	}()
}

// Stop halts the periodic pass.
func (a *Auditor) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}
