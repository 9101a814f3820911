package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinaes/succ-amanstore/internal/config"
	"github.com/vinaes/succ-amanstore/internal/relstore"
)

// fakeStore backs the dispatcher tests with an in-memory map, embedding a
// nil relstore.Store so any method this suite doesn't exercise panics loudly
// rather than silently doing nothing.
type fakeStore struct {
	relstore.Store
	memories       map[int64]*relstore.Memory
	globalMemories map[int64]*relstore.Memory
	links          []*relstore.MemoryLink
	deltas         []*relstore.LearningDelta
	documents      map[int64]*relstore.Document
	fileHashes     map[string]*relstore.FileHash
	nextID         int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		memories:       make(map[int64]*relstore.Memory),
		globalMemories: make(map[int64]*relstore.Memory),
		documents:      make(map[int64]*relstore.Document),
		fileHashes:     make(map[string]*relstore.FileHash),
		nextID:         1,
	}
}

func fileHashKey(projectID, filePath string) string { return projectID + "\x00" + filePath }

func (f *fakeStore) UpsertDocuments(ctx context.Context, docs []*relstore.Document) ([]int64, error) {
	ids := make([]int64, len(docs))
	for i, doc := range docs {
		id := f.nextID
		f.nextID++
		cp := *doc
		cp.ID = id
		f.documents[id] = &cp
		ids[i] = id
	}
	return ids, nil
}

func (f *fakeStore) GetDocumentsByPath(ctx context.Context, projectID, filePath string) ([]*relstore.Document, error) {
	var out []*relstore.Document
	for _, doc := range f.documents {
		if doc.ProjectID == projectID && doc.FilePath == filePath {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteDocumentsByPath(ctx context.Context, projectID, filePath string) error {
	for id, doc := range f.documents {
		if doc.ProjectID == projectID && doc.FilePath == filePath {
			delete(f.documents, id)
		}
	}
	return nil
}

func (f *fakeStore) SaveFileHash(ctx context.Context, fh *relstore.FileHash) error {
	cp := *fh
	f.fileHashes[fileHashKey(fh.ProjectID, fh.FilePath)] = &cp
	return nil
}

func (f *fakeStore) GetFileHash(ctx context.Context, projectID, filePath string) (*relstore.FileHash, error) {
	fh, ok := f.fileHashes[fileHashKey(projectID, filePath)]
	if !ok {
		return nil, relstore.ErrNotFound
	}
	return fh, nil
}

func (f *fakeStore) DeleteFileHash(ctx context.Context, projectID, filePath string) error {
	delete(f.fileHashes, fileHashKey(projectID, filePath))
	return nil
}

func (f *fakeStore) SaveMemory(ctx context.Context, m *relstore.Memory) (int64, error) {
	id := f.nextID
	f.nextID++
	cp := *m
	cp.ID = id
	f.memories[id] = &cp
	return id, nil
}

func (f *fakeStore) SaveMemoriesBatch(ctx context.Context, ms []*relstore.Memory) ([]int64, error) {
	ids := make([]int64, len(ms))
	for i, m := range ms {
		id, _ := f.SaveMemory(ctx, m)
		ids[i] = id
	}
	return ids, nil
}

func (f *fakeStore) GetMemory(ctx context.Context, id int64) (*relstore.Memory, error) {
	m, ok := f.memories[id]
	if !ok {
		return nil, relstore.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) SaveGlobalMemory(ctx context.Context, m *relstore.Memory) (int64, error) {
	id := f.nextID
	f.nextID++
	cp := *m
	cp.ID = id
	f.globalMemories[id] = &cp
	return id, nil
}

func (f *fakeStore) GetGlobalMemory(ctx context.Context, id int64) (*relstore.Memory, error) {
	m, ok := f.globalMemories[id]
	if !ok {
		return nil, relstore.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) FindSimilarMemory(ctx context.Context, projectID string, embedding []float32, threshold float64) (*relstore.Memory, float64, error) {
	for _, m := range f.memories {
		if m.ProjectID == projectID {
			return m, 1.0, nil
		}
	}
	return nil, 0, nil
}

func (f *fakeStore) FindSimilarGlobalMemory(ctx context.Context, embedding []float32, threshold float64) (*relstore.Memory, float64, error) {
	for _, m := range f.globalMemories {
		return m, 1.0, nil
	}
	return nil, 0, nil
}

func (f *fakeStore) InvalidateMemory(ctx context.Context, id, supersededBy int64) error {
	m, ok := f.memories[id]
	if !ok {
		return relstore.ErrNotFound
	}
	sb := supersededBy
	m.InvalidatedBy = &sb
	return nil
}

func (f *fakeStore) RestoreMemory(ctx context.Context, id int64) error {
	m, ok := f.memories[id]
	if !ok {
		return relstore.ErrNotFound
	}
	m.InvalidatedBy = nil
	return nil
}

func (f *fakeStore) ListLinks(ctx context.Context, memoryID int64, asOf *time.Time) ([]*relstore.MemoryLink, error) {
	var out []*relstore.MemoryLink
	for _, l := range f.links {
		if l.SourceID == memoryID || l.TargetID == memoryID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendLearningDelta(ctx context.Context, d *relstore.LearningDelta) error {
	f.deltas = append(f.deltas, d)
	return nil
}

func newTestDispatcher(t *testing.T, store *fakeStore) *Dispatcher {
	t.Helper()
	d, err := New(Dependencies{Store: store, Config: config.NewConfig()})
	require.NoError(t, err)
	return d
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Dependencies{Config: config.NewConfig()})
	assert.Error(t, err)
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(Dependencies{Store: newFakeStore()})
	assert.Error(t, err)
}

func TestSaveMemory_InsertsAndIncrementsCounters(t *testing.T) {
	store := newFakeStore()
	d := newTestDispatcher(t, store)

	res, err := d.SaveMemory(context.Background(), &relstore.Memory{
		ProjectID: "p1", Content: "hello", Type: relstore.MemoryTypeObservation,
	}, false, SaveMemoryOptions{})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 1, d.Counters().MemoriesCreated)
	assert.Equal(t, 1, d.Counters().TypesCreated[relstore.MemoryTypeObservation])
}

func TestSaveMemory_DedupSkipsInsertAndCountsDuplicate(t *testing.T) {
	store := newFakeStore()
	d := newTestDispatcher(t, store)

	first, err := d.SaveMemory(context.Background(), &relstore.Memory{
		ProjectID: "p1", Content: "first", Embedding: []float32{0.1, 0.2},
	}, true, SaveMemoryOptions{})
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := d.SaveMemory(context.Background(), &relstore.Memory{
		ProjectID: "p1", Content: "duplicate of first", Embedding: []float32{0.1, 0.2},
	}, true, SaveMemoryOptions{})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, d.Counters().Duplicated)
	assert.Equal(t, 1, d.Counters().MemoriesCreated)
}

func TestSaveMemory_GlobalRoutesToGlobalTable(t *testing.T) {
	store := newFakeStore()
	d := newTestDispatcher(t, store)

	res, err := d.SaveMemory(context.Background(), &relstore.Memory{Content: "global note"}, false, SaveMemoryOptions{Global: true})
	require.NoError(t, err)
	assert.Len(t, store.globalMemories, 1)
	assert.Empty(t, store.memories)
	_, ok := store.globalMemories[res.ID]
	assert.True(t, ok)
}

func TestInvalidateAndRestoreMemory(t *testing.T) {
	store := newFakeStore()
	d := newTestDispatcher(t, store)

	res, err := d.SaveMemory(context.Background(), &relstore.Memory{ProjectID: "p1", Content: "x"}, false, SaveMemoryOptions{})
	require.NoError(t, err)

	require.NoError(t, d.InvalidateMemory(context.Background(), res.ID, 999, false))
	m, err := store.GetMemory(context.Background(), res.ID)
	require.NoError(t, err)
	require.NotNil(t, m.InvalidatedBy)
	assert.Equal(t, int64(999), *m.InvalidatedBy)

	require.NoError(t, d.RestoreInvalidatedMemory(context.Background(), res.ID))
	m, err = store.GetMemory(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Nil(t, m.InvalidatedBy)
}

func TestGetMemoryWithLinks_ReturnsEffectiveLinks(t *testing.T) {
	store := newFakeStore()
	d := newTestDispatcher(t, store)

	res, err := d.SaveMemory(context.Background(), &relstore.Memory{ProjectID: "p1", Content: "x"}, false, SaveMemoryOptions{})
	require.NoError(t, err)
	store.links = append(store.links, &relstore.MemoryLink{ID: 1, SourceID: res.ID, TargetID: 42, Relation: relstore.RelationRelated})

	bundle, err := d.GetMemoryWithLinks(context.Background(), res.ID)
	require.NoError(t, err)
	require.Len(t, bundle.Links, 1)
	assert.Equal(t, int64(42), bundle.Links[0].TargetID)
}

func TestFindConnectedMemories_WithoutGraphIsUnsupported(t *testing.T) {
	d := newTestDispatcher(t, newFakeStore())
	_, err := d.FindConnectedMemories(context.Background(), 1, 2, nil)
	assert.Error(t, err)
}

func TestFlushCounters_ResetsAndAppendsDelta(t *testing.T) {
	store := newFakeStore()
	d := newTestDispatcher(t, store)

	_, err := d.SaveMemory(context.Background(), &relstore.Memory{ProjectID: "p1", Content: "x", Type: relstore.MemoryTypeLearning}, false, SaveMemoryOptions{})
	require.NoError(t, err)

	require.NoError(t, d.FlushCounters(context.Background(), "p1", "session"))
	require.Len(t, store.deltas, 1)
	assert.Equal(t, 1, store.deltas[0].MemoriesAdded)
	assert.Equal(t, 0, d.Counters().MemoriesCreated)
}

func TestRecordWebSearchQuery_AccumulatesCost(t *testing.T) {
	d := newTestDispatcher(t, newFakeStore())
	d.RecordWebSearchQuery(0.02)
	d.RecordWebSearchQuery(0.03)
	c := d.Counters()
	assert.Equal(t, 2, c.WebSearchQueries)
	assert.InDelta(t, 0.05, c.CostTally, 1e-9)
}
