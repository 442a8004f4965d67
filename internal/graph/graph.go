// Package graph tracks which cache entries depend on which invalidation
// tags, in both directions, so tag invalidation can cascade.
package graph

import (
	"strings"
	"sync"

	"github.com/wudi/cachekit/internal/errors"
)

// Strength decides what a tag invalidation does to a dependent entry.
type Strength int

const (
	// Weak marks the entry stale but leaves it servable.
	Weak Strength = iota
	// Strong removes the entry outright.
	Strong
)

func (s Strength) String() string {
	if s == Strong {
		return "strong"
	}
	return "weak"
}

// Ref identifies one cache entry. The (namespace, key) pair is the true
// identity everywhere in the engine.
type Ref struct {
	Namespace string
	Key       string
}

// Graph holds tag → refs and ref → tags indexes, kept in sync under one
// lock. Keys never double as tags: tags are plain labels validated on entry.
type Graph struct {
	mu    sync.RWMutex
	byTag map[string]map[Ref]Strength
	byRef map[Ref]map[string]Strength
}

// New creates an empty dependency graph.
func New() *Graph {
	return &Graph{
		byTag: make(map[string]map[Ref]Strength),
		byRef: make(map[Ref]map[string]Strength),
	}
}

// ValidateTag rejects tags that are empty or could collide with composite
// entry identities.
func ValidateTag(tag string) error {
	if tag == "" {
		return errors.ErrInvalidTag.WithDetail("tag is empty")
	}
	if strings.ContainsRune(tag, 0) {
		return errors.ErrInvalidTag.WithDetail("tag contains NUL")
	}
	return nil
}

// Add registers edges between ref and each tag with the given strength.
// Re-adding an existing edge overwrites its strength.
func (g *Graph) Add(ref Ref, tags []string, strength Strength) error {
	for _, tag := range tags {
		if err := ValidateTag(tag); err != nil {
			return err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, tag := range tags {
		if g.byTag[tag] == nil {
			g.byTag[tag] = make(map[Ref]Strength)
		}
		g.byTag[tag][ref] = strength

		if g.byRef[ref] == nil {
			g.byRef[ref] = make(map[string]Strength)
		}
		g.byRef[ref][tag] = strength
	}
	return nil
}

// RemoveRef drops every edge touching ref. Called whenever the entry leaves
// the store for any reason.
func (g *Graph) RemoveRef(ref Ref) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for tag := range g.byRef[ref] {
		delete(g.byTag[tag], ref)
		if len(g.byTag[tag]) == 0 {
			delete(g.byTag, tag)
		}
	}
	delete(g.byRef, ref)
}

// RefsForTag returns the refs currently attached to tag.
func (g *Graph) RefsForTag(tag string) []Ref {
	g.mu.RLock()
	defer g.mu.RUnlock()

	refs := make([]Ref, 0, len(g.byTag[tag]))
	for ref := range g.byTag[tag] {
		refs = append(refs, ref)
	}
	return refs
}

// Partition splits the refs attached to tag by edge strength.
func (g *Graph) Partition(tag string) (strong, weak []Ref) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for ref, strength := range g.byTag[tag] {
		if strength == Strong {
			strong = append(strong, ref)
		} else {
			weak = append(weak, ref)
		}
	}
	return strong, weak
}

// TagsForRef returns a copy of the tag set attached to ref.
func (g *Graph) TagsForRef(ref Ref) map[string]Strength {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tags := make(map[string]Strength, len(g.byRef[ref]))
	for tag, strength := range g.byRef[ref] {
		tags[tag] = strength
	}
	return tags
}

// Snapshot returns a copy of the full tag → refs mapping.
func (g *Graph) Snapshot() map[string][]Ref {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string][]Ref, len(g.byTag))
	for tag, refs := range g.byTag {
		list := make([]Ref, 0, len(refs))
		for ref := range refs {
			list = append(list, ref)
		}
		out[tag] = list
	}
	return out
}

// Tags returns the number of distinct tags with at least one edge.
func (g *Graph) Tags() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byTag)
}

// Edges returns the total number of edges.
func (g *Graph) Edges() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, refs := range g.byTag {
		n += len(refs)
	}
	return n
}
