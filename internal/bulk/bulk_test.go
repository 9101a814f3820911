package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinaes/succ-amanstore/internal/relstore"
	"github.com/vinaes/succ-amanstore/internal/vectorindex"
)

// memStore is a small in-memory relstore.Store exercising only what bulk
// needs; WithTx snapshots state via a deep JSON round-trip so a returned
// error rolls back exactly like a real transaction.
type memStore struct {
	relstore.Store
	docs       map[int64]*relstore.Document
	fileHashes map[string]*relstore.FileHash // keyed by projectID+"/"+path
	memories   map[int64]*relstore.Memory
	globals    map[int64]*relstore.Memory
	links      map[int64]*relstore.MemoryLink
	centrality map[int64]*relstore.Centrality
	tokenFreqs map[string]map[string]int
	tokenStats map[string]*relstore.TokenStat
	nextID     int64
}

func newMemStore() *memStore {
	return &memStore{
		docs:       map[int64]*relstore.Document{},
		fileHashes: map[string]*relstore.FileHash{},
		memories:   map[int64]*relstore.Memory{},
		globals:    map[int64]*relstore.Memory{},
		links:      map[int64]*relstore.MemoryLink{},
		centrality: map[int64]*relstore.Centrality{},
		tokenFreqs: map[string]map[string]int{},
		tokenStats: map[string]*relstore.TokenStat{},
	}
}

func (m *memStore) clone() *memStore {
	b, _ := json.Marshal(m)
	var cp memStore
	_ = json.Unmarshal(b, &cp)
	return &cp
}

func (m *memStore) UpsertDocuments(ctx context.Context, docs []*relstore.Document) ([]int64, error) {
	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		m.nextID++
		d.ID = m.nextID
		m.docs[d.ID] = d
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (m *memStore) GetDocumentsByPath(ctx context.Context, projectID, filePath string) ([]*relstore.Document, error) {
	var out []*relstore.Document
	for _, d := range m.docs {
		if d.FilePath == filePath {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) DeleteDocumentsByProject(ctx context.Context, projectID string) error {
	for id, d := range m.docs {
		if d.ProjectID == projectID {
			delete(m.docs, id)
		}
	}
	return nil
}

func (m *memStore) SaveFileHash(ctx context.Context, fh *relstore.FileHash) error {
	m.fileHashes[fh.ProjectID+"/"+fh.FilePath] = fh
	return nil
}

func (m *memStore) ListFileHashes(ctx context.Context, projectID string) ([]*relstore.FileHash, error) {
	var out []*relstore.FileHash
	for _, fh := range m.fileHashes {
		if fh.ProjectID == projectID {
			out = append(out, fh)
		}
	}
	return out, nil
}

func (m *memStore) SaveMemory(ctx context.Context, mem *relstore.Memory) (int64, error) {
	m.nextID++
	mem.ID = m.nextID
	m.memories[mem.ID] = mem
	return mem.ID, nil
}

func (m *memStore) SaveMemoriesBatch(ctx context.Context, mems []*relstore.Memory) ([]int64, error) {
	ids := make([]int64, 0, len(mems))
	for _, mem := range mems {
		id, _ := m.SaveMemory(ctx, mem)
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) ListMemories(ctx context.Context, filter relstore.MemoryFilter) ([]*relstore.Memory, error) {
	var out []*relstore.Memory
	for _, mem := range m.memories {
		if filter.ProjectID != "" && mem.ProjectID != filter.ProjectID {
			continue
		}
		out = append(out, mem)
	}
	return out, nil
}

func (m *memStore) DeleteMemoriesByProject(ctx context.Context, projectID string) error {
	for id, mem := range m.memories {
		if mem.ProjectID == projectID {
			delete(m.memories, id)
		}
	}
	return nil
}

func (m *memStore) InvalidateMemory(ctx context.Context, id, supersededBy int64) error {
	if mem, ok := m.memories[id]; ok {
		mem.InvalidatedBy = &supersededBy
	}
	return nil
}

func (m *memStore) SaveGlobalMemory(ctx context.Context, mem *relstore.Memory) (int64, error) {
	m.nextID++
	mem.ID = m.nextID
	m.globals[mem.ID] = mem
	return mem.ID, nil
}

func (m *memStore) ListGlobalMemories(ctx context.Context, filter relstore.MemoryFilter) ([]*relstore.Memory, error) {
	var out []*relstore.Memory
	for _, mem := range m.globals {
		out = append(out, mem)
	}
	return out, nil
}

func (m *memStore) CreateLink(ctx context.Context, l *relstore.MemoryLink) (int64, bool, error) {
	m.nextID++
	l.ID = m.nextID
	m.links[l.ID] = l
	return l.ID, true, nil
}

func (m *memStore) ListLinks(ctx context.Context, memoryID int64, asOf *time.Time) ([]*relstore.MemoryLink, error) {
	var out []*relstore.MemoryLink
	for _, l := range m.links {
		if l.SourceID == memoryID || l.TargetID == memoryID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) SaveCentrality(ctx context.Context, rows []*relstore.Centrality) error {
	for _, c := range rows {
		m.centrality[c.MemoryID] = c
	}
	return nil
}

func (m *memStore) GetCentrality(ctx context.Context, memoryID int64) (*relstore.Centrality, error) {
	c, ok := m.centrality[memoryID]
	if !ok {
		return nil, relstore.ErrNotFound
	}
	return c, nil
}

func (m *memStore) SaveTokenFrequencies(ctx context.Context, scope string, freqs map[string]int) error {
	m.tokenFreqs[scope] = freqs
	return nil
}

func (m *memStore) GetTokenFrequencies(ctx context.Context, scope string) (map[string]int, error) {
	return m.tokenFreqs[scope], nil
}

func (m *memStore) SaveTokenStat(ctx context.Context, stat *relstore.TokenStat) error {
	m.tokenStats[stat.Scope] = stat
	return nil
}

func (m *memStore) GetTokenStat(ctx context.Context, scope string) (*relstore.TokenStat, error) {
	s, ok := m.tokenStats[scope]
	if !ok {
		return nil, relstore.ErrNotFound
	}
	return s, nil
}

func (m *memStore) WithTx(ctx context.Context, fn func(tx relstore.Store) error) error {
	snapshot := m.clone()
	if err := fn(m); err != nil {
		*m = *snapshot
		return err
	}
	return nil
}

func fixedNow() string { return "2024-01-01T00:00:00Z" }

func TestExportImportRoundTrip_PreservesCountsAndEmbeddings(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	_, err := store.SaveMemory(ctx, &relstore.Memory{ProjectID: "p1", Content: "m1", Embedding: []float32{0.1, 0.2, 0.3}})
	require.NoError(t, err)
	_, err = store.SaveMemory(ctx, &relstore.Memory{ProjectID: "p1", Content: "m2", Embedding: []float32{0.4, 0.5, 0.6}})
	require.NoError(t, err)

	env, err := Export(ctx, store, ExportOptions{ProjectID: "p1", Backend: "embedded"}, fixedNow)
	require.NoError(t, err)
	assert.Len(t, env.Memories, 2)

	result, err := Import(ctx, store, "p1", env, nil)
	require.NoError(t, err)
	assert.Len(t, result.MemoryIDRemap, 2)

	env2, err := Export(ctx, store, ExportOptions{ProjectID: "p1", Backend: "embedded"}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, len(env.Memories), len(env2.Memories))

	gotEmbeddings := map[string]bool{}
	for _, m := range env2.Memories {
		gotEmbeddings[floatsKey(m.Embedding)] = true
	}
	for _, m := range env.Memories {
		assert.True(t, gotEmbeddings[floatsKey(m.Embedding)], "embedding %v missing after round trip", m.Embedding)
	}
}

func floatsKey(fs []float32) string {
	b, _ := json.Marshal(fs)
	return string(b)
}

func TestImport_RemapsLinksToNewMemoryIDs(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	id1, _ := store.SaveMemory(ctx, &relstore.Memory{ProjectID: "p1", Content: "a"})
	id2, _ := store.SaveMemory(ctx, &relstore.Memory{ProjectID: "p1", Content: "b"})
	_, _, err := store.CreateLink(ctx, &relstore.MemoryLink{SourceID: id1, TargetID: id2, Relation: relstore.RelationRelated, Weight: 1})
	require.NoError(t, err)

	env, err := Export(ctx, store, ExportOptions{ProjectID: "p1", Backend: "embedded"}, fixedNow)
	require.NoError(t, err)
	require.Len(t, env.MemoryLinks, 1)

	result, err := Import(ctx, store, "p1", env, nil)
	require.NoError(t, err)

	newSrc := result.MemoryIDRemap[id1]
	newDst := result.MemoryIDRemap[id2]

	found := false
	for _, l := range store.links {
		if l.SourceID == newSrc && l.TargetID == newDst {
			found = true
		}
	}
	assert.True(t, found, "expected a remapped link between the new ids")
}

func TestRestore_DestructiveClearsBeforeReinsert(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	_, err := store.SaveMemory(ctx, &relstore.Memory{ProjectID: "p1", Content: "old"})
	require.NoError(t, err)

	env := &Envelope{
		Memories: []*relstore.Memory{{ProjectID: "p1", Content: "new"}},
	}
	err = Restore(ctx, store, "p1", env, true)
	require.NoError(t, err)

	mems, _ := store.ListMemories(ctx, relstore.MemoryFilter{ProjectID: "p1"})
	require.Len(t, mems, 1)
	assert.Equal(t, "new", mems[0].Content)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	_, err := store.SaveMemory(ctx, &relstore.Memory{ProjectID: "p1", Content: "keep-me"})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx relstore.Store) error {
		_, _ = tx.SaveMemory(ctx, &relstore.Memory{ProjectID: "p1", Content: "will-be-rolled-back"})
		return errors.New("boom")
	})
	require.Error(t, err)

	mems, _ := store.ListMemories(ctx, relstore.MemoryFilter{ProjectID: "p1"})
	require.Len(t, mems, 1)
	assert.Equal(t, "keep-me", mems[0].Content)
}

func TestBackfill_DryRunCountsOnlySkipsNoEmbeddingRows(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	_, err := store.SaveMemory(ctx, &relstore.Memory{ProjectID: "p1", Content: "has-embedding", Embedding: []float32{0.1}})
	require.NoError(t, err)
	_, err = store.SaveMemory(ctx, &relstore.Memory{ProjectID: "p1", Content: "no-embedding"})
	require.NoError(t, err)

	vec := &countingVectorStore{}
	stats, err := Backfill(ctx, store, vec, "p1", CollectionMemories, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Upserted)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, vec.addCalls, "dry run must not write to the vector store")
}

func TestBackfill_RealRunWritesToVectorStore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	_, err := store.SaveMemory(ctx, &relstore.Memory{ProjectID: "p1", Content: "has-embedding", Embedding: []float32{0.1, 0.2}})
	require.NoError(t, err)

	vec := &countingVectorStore{}
	stats, err := Backfill(ctx, store, vec, "p1", CollectionMemories, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Upserted)
	assert.Equal(t, 1, vec.addCalls)
}

type countingVectorStore struct {
	addCalls int
}

func (v *countingVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	v.addCalls++
	return nil
}
func (v *countingVectorStore) Search(ctx context.Context, query []float32, k int) ([]*vectorindex.Result, error) {
	return nil, nil
}
func (v *countingVectorStore) Delete(ctx context.Context, ids []string) error { return nil }
func (v *countingVectorStore) AllIDs() []string                              { return nil }
func (v *countingVectorStore) Close() error                                  { return nil }
