package memorygraph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinaes/succ-amanstore/internal/relstore"
	"github.com/vinaes/succ-amanstore/internal/vectorindex"
)

// fakeStore is a minimal in-memory relstore.Store covering only the memory
// and link operations the graph package exercises; every other method panics
// if called, so a test that accidentally depends on unimplemented behavior
// fails loudly instead of silently no-op'ing.
type fakeStore struct {
	relstore.Store
	memories map[int64]*relstore.Memory
	links    map[int64]*relstore.MemoryLink
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{memories: map[int64]*relstore.Memory{}, links: map[int64]*relstore.MemoryLink{}}
}

func (f *fakeStore) addMemory(m *relstore.Memory) int64 {
	f.nextID++
	m.ID = f.nextID
	f.memories[m.ID] = m
	return m.ID
}

func (f *fakeStore) GetMemory(ctx context.Context, id int64) (*relstore.Memory, error) {
	m, ok := f.memories[id]
	if !ok {
		return nil, nil
	}
	return m, nil
}

func (f *fakeStore) ListMemories(ctx context.Context, filter relstore.MemoryFilter) ([]*relstore.Memory, error) {
	var out []*relstore.Memory
	for _, m := range f.memories {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) CreateLink(ctx context.Context, l *relstore.MemoryLink) (int64, bool, error) {
	for _, existing := range f.links {
		if existing.SourceID == l.SourceID && existing.TargetID == l.TargetID && existing.Relation == l.Relation {
			return existing.ID, false, nil
		}
	}
	f.nextID++
	l.ID = f.nextID
	f.links[l.ID] = l
	return l.ID, true, nil
}

func (f *fakeStore) InvalidateLink(ctx context.Context, sourceID, targetID int64, relation relstore.LinkRelation) error {
	for _, l := range f.links {
		if l.SourceID == sourceID && l.TargetID == targetID && l.Relation == relation {
			now := time.Now()
			l.ValidUntil = &now
			return nil
		}
	}
	return nil
}

func (f *fakeStore) ListLinks(ctx context.Context, memoryID int64, asOf *time.Time) ([]*relstore.MemoryLink, error) {
	t := time.Now()
	if asOf != nil {
		t = *asOf
	}
	var out []*relstore.MemoryLink
	for _, l := range f.links {
		if l.SourceID != memoryID && l.TargetID != memoryID {
			continue
		}
		if !l.IsEffectiveAt(t) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeStore) SaveCentrality(ctx context.Context, rows []*relstore.Centrality) error {
	return nil
}

// fakeVector is a trivial vectorindex.Store returning a fixed, caller-supplied
// ranked candidate list regardless of the query vector.
type fakeVector struct {
	results []*vectorindex.Result
}

func (f *fakeVector) Add(ctx context.Context, ids []string, vectors [][]float32) error { return nil }
func (f *fakeVector) Search(ctx context.Context, query []float32, k int) ([]*vectorindex.Result, error) {
	if k < len(f.results) {
		return f.results[:k], nil
	}
	return f.results, nil
}
func (f *fakeVector) Delete(ctx context.Context, ids []string) error { return nil }
func (f *fakeVector) AllIDs() []string                               { return nil }
func (f *fakeVector) Close() error                                   { return nil }

func TestCreateLink_RejectsSelfLink(t *testing.T) {
	g := New(newFakeStore(), nil, nil)
	_, _, err := g.CreateLink(context.Background(), 1, 1, relstore.RelationRelated, 0.5, nil, nil)
	require.Error(t, err)
}

func TestCreateLink_RejectsUnknownRelation(t *testing.T) {
	g := New(newFakeStore(), nil, nil)
	_, _, err := g.CreateLink(context.Background(), 1, 2, relstore.LinkRelation("bogus"), 0.5, nil, nil)
	require.Error(t, err)
}

func TestCreateLink_IdempotentOnDuplicate(t *testing.T) {
	g := New(newFakeStore(), nil, nil)
	ctx := context.Background()
	id1, created1, err := g.CreateLink(ctx, 1, 2, relstore.RelationRelated, 0.5, nil, nil)
	require.NoError(t, err)
	assert.True(t, created1)

	id2, created2, err := g.CreateLink(ctx, 1, 2, relstore.RelationRelated, 0.9, nil, nil)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, id1, id2)
}

func TestAutoLink_NeverSelfLinksAndRespectsMax(t *testing.T) {
	store := newFakeStore()
	selfID := store.addMemory(&relstore.Memory{Content: "self"})

	vec := &fakeVector{results: []*vectorindex.Result{
		{ID: fmt.Sprintf("%d", selfID), Score: 1.0},
		{ID: "2", Score: 0.99},
		{ID: "3", Score: 0.97},
		{ID: "4", Score: 0.96},
	}}

	g := New(store, vec, nil)
	links, err := g.AutoLink(context.Background(), selfID, []float32{0.1, 0.2}, 0.5, 2)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(links), 2)
	for _, l := range links {
		assert.NotEqual(t, selfID, l.TargetID)
		assert.GreaterOrEqual(t, l.Weight, 0.5)
	}
}

func TestAutoLink_FiltersBelowThreshold(t *testing.T) {
	store := newFakeStore()
	vec := &fakeVector{results: []*vectorindex.Result{
		{ID: "2", Score: 0.3},
	}}
	g := New(store, vec, nil)
	links, err := g.AutoLink(context.Background(), 1, []float32{0.1}, 0.9, 5)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestAutoLink_NoVectorStoreIsUnsupported(t *testing.T) {
	g := New(newFakeStore(), nil, nil)
	_, err := g.AutoLink(context.Background(), 1, []float32{0.1}, 0.5, 5)
	require.Error(t, err)
}

func TestFindConnected_RespectsMaxDepth(t *testing.T) {
	store := newFakeStore()
	a := store.addMemory(&relstore.Memory{Content: "a"})
	b := store.addMemory(&relstore.Memory{Content: "b"})
	c := store.addMemory(&relstore.Memory{Content: "c"})
	d := store.addMemory(&relstore.Memory{Content: "d"})

	ctx := context.Background()
	_, _, _ = store.CreateLink(ctx, &relstore.MemoryLink{SourceID: a, TargetID: b, Relation: relstore.RelationRelated, Weight: 1})
	_, _, _ = store.CreateLink(ctx, &relstore.MemoryLink{SourceID: b, TargetID: c, Relation: relstore.RelationRelated, Weight: 1})
	_, _, _ = store.CreateLink(ctx, &relstore.MemoryLink{SourceID: c, TargetID: d, Relation: relstore.RelationRelated, Weight: 1})

	g := New(store, nil, nil)
	connected, err := g.FindConnected(ctx, a, 2, nil)
	require.NoError(t, err)

	ids := map[int64]bool{}
	for _, cm := range connected {
		ids[cm.Memory.ID] = true
		assert.LessOrEqual(t, cm.Depth, 2)
	}
	assert.True(t, ids[b])
	assert.True(t, ids[c])
	assert.False(t, ids[d], "d is 3 hops away, beyond maxDepth=2")
}

func TestGetGraphStats_CountsIsolatedAndRelations(t *testing.T) {
	store := newFakeStore()
	a := store.addMemory(&relstore.Memory{Content: "a"})
	b := store.addMemory(&relstore.Memory{Content: "b"})
	store.addMemory(&relstore.Memory{Content: "isolated"})

	ctx := context.Background()
	_, _, _ = store.CreateLink(ctx, &relstore.MemoryLink{SourceID: a, TargetID: b, Relation: relstore.RelationCausedBy, Weight: 1})

	g := New(store, nil, nil)
	stats, err := g.GetGraphStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalMemories)
	assert.Equal(t, 1, stats.TotalLinks)
	assert.Equal(t, 1, stats.IsolatedMemories)
	assert.Equal(t, 1, stats.RelationCounts[relstore.RelationCausedBy])
}
