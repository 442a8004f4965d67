package graph

import (
	"errors"
	"sort"
	"testing"

	cacheerrors "github.com/wudi/cachekit/internal/errors"
)

func ref(ns, key string) Ref {
	return Ref{Namespace: ns, Key: key}
}

func TestAdd_ForwardAndReverseEdges(t *testing.T) {
	g := New()
	r := ref("products", "sku-1")

	if err := g.Add(r, []string{"catalog", "sale"}, Strong); err != nil {
		t.Fatalf("Add: %v", err)
	}

	refs := g.RefsForTag("catalog")
	if len(refs) != 1 || refs[0] != r {
		t.Errorf("forward edge missing: %v", refs)
	}

	tags := g.TagsForRef(r)
	if len(tags) != 2 || tags["catalog"] != Strong || tags["sale"] != Strong {
		t.Errorf("reverse edges wrong: %v", tags)
	}
}

func TestAdd_InvalidTag(t *testing.T) {
	g := New()

	err := g.Add(ref("ns", "k"), []string{""}, Weak)
	if !errors.Is(err, cacheerrors.ErrInvalidTag) {
		t.Errorf("expected ErrInvalidTag, got %v", err)
	}

	// A composite identity must not be usable as a tag.
	err = g.Add(ref("ns", "k"), []string{"ns\x00key"}, Weak)
	if !errors.Is(err, cacheerrors.ErrInvalidTag) {
		t.Errorf("expected ErrInvalidTag for NUL tag, got %v", err)
	}
}

func TestRemoveRef_CleansBothIndexes(t *testing.T) {
	g := New()
	a := ref("ns", "a")
	b := ref("ns", "b")
	g.Add(a, []string{"shared"}, Strong)
	g.Add(b, []string{"shared"}, Strong)

	g.RemoveRef(a)

	refs := g.RefsForTag("shared")
	if len(refs) != 1 || refs[0] != b {
		t.Errorf("expected only b to remain, got %v", refs)
	}
	if tags := g.TagsForRef(a); len(tags) != 0 {
		t.Errorf("reverse edges for removed ref remain: %v", tags)
	}

	g.RemoveRef(b)
	if g.Tags() != 0 {
		t.Error("empty tag bucket should be dropped")
	}

	// Removing an absent ref is a no-op.
	g.RemoveRef(a)
}

func TestPartition(t *testing.T) {
	g := New()
	g.Add(ref("ns", "s1"), []string{"t"}, Strong)
	g.Add(ref("ns", "s2"), []string{"t"}, Strong)
	g.Add(ref("ns", "w1"), []string{"t"}, Weak)

	strong, weak := g.Partition("t")
	if len(strong) != 2 {
		t.Errorf("expected 2 strong refs, got %v", strong)
	}
	if len(weak) != 1 || weak[0] != ref("ns", "w1") {
		t.Errorf("expected w1 weak, got %v", weak)
	}
}

func TestAdd_OverwritesStrength(t *testing.T) {
	g := New()
	r := ref("ns", "k")
	g.Add(r, []string{"t"}, Weak)
	g.Add(r, []string{"t"}, Strong)

	strong, weak := g.Partition("t")
	if len(strong) != 1 || len(weak) != 0 {
		t.Errorf("strength overwrite failed: strong=%v weak=%v", strong, weak)
	}
	if g.Edges() != 1 {
		t.Errorf("expected a single edge, got %d", g.Edges())
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	g := New()
	g.Add(ref("ns", "k"), []string{"t"}, Strong)

	snap := g.Snapshot()
	snap["t"] = append(snap["t"], ref("ns", "other"))
	snap["new"] = []Ref{ref("ns", "x")}

	if len(g.RefsForTag("t")) != 1 {
		t.Error("mutating the snapshot must not affect the graph")
	}
	if g.Tags() != 1 {
		t.Error("snapshot mutation leaked a tag into the graph")
	}
}

func TestSnapshot_MultipleTags(t *testing.T) {
	g := New()
	g.Add(ref("a", "1"), []string{"x", "y"}, Strong)
	g.Add(ref("b", "2"), []string{"y"}, Weak)

	snap := g.Snapshot()
	var tags []string
	for tag := range snap {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	if len(tags) != 2 || tags[0] != "x" || tags[1] != "y" {
		t.Errorf("unexpected snapshot tags: %v", tags)
	}
	if len(snap["y"]) != 2 {
		t.Errorf("expected 2 refs under y, got %v", snap["y"])
	}
}
