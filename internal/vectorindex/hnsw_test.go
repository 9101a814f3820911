package vectorindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHNSWStore_AddAndSearch_FindsNearestNeighbor(t *testing.T) {
	// Given: a store with three vectors
	store, err := NewHNSWStore(DefaultConfig(3))
	require.NoError(t, err)
	defer store.Close()

	err = store.Add(context.Background(), []string{"a", "b", "c"}, [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.9, 0.1, 0},
	})
	require.NoError(t, err)

	// When: searching near vector "a"
	results, err := store.Search(context.Background(), []float32{1, 0, 0}, 2)
	require.NoError(t, err)

	// Then: "a" and its near neighbor "c" rank above the orthogonal "b"
	require.Len(t, results, 2)
	ids := []string{results[0].ID, results[1].ID}
	assert.Contains(t, ids, "a")
	assert.Contains(t, ids, "c")
}

func TestHNSWStore_Add_RejectsDimensionMismatch(t *testing.T) {
	store, err := NewHNSWStore(DefaultConfig(3))
	require.NoError(t, err)
	defer store.Close()

	err = store.Add(context.Background(), []string{"a"}, [][]float32{{1, 0}})
	var mismatch ErrDimensionMismatch
	assert.ErrorAs(t, err, &mismatch)
}

func TestHNSWStore_Delete_RemovesFromResultsAndAllIDs(t *testing.T) {
	store, err := NewHNSWStore(DefaultConfig(2))
	require.NoError(t, err)
	defer store.Close()

	err = store.Add(context.Background(), []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)

	err = store.Delete(context.Background(), []string{"a"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"b"}, store.AllIDs())

	results, err := store.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestHNSWStore_ReaddingSameID_Replaces(t *testing.T) {
	store, err := NewHNSWStore(DefaultConfig(2))
	require.NoError(t, err)
	defer store.Close()

	err = store.Add(context.Background(), []string{"a"}, [][]float32{{1, 0}})
	require.NoError(t, err)
	err = store.Add(context.Background(), []string{"a"}, [][]float32{{0, 1}})
	require.NoError(t, err)

	assert.Equal(t, 1, store.Stats().ValidIDs)
	assert.Equal(t, 1, store.Stats().Orphans)
}

func TestHNSWStore_SaveAndLoad_RoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "vectors.hnsw")

	store, err := NewHNSWStore(DefaultConfig(2))
	require.NoError(t, err)

	err = store.Add(context.Background(), []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)

	require.NoError(t, store.Save(path))
	require.NoError(t, store.Close())

	reloaded, err := NewHNSWStore(DefaultConfig(2))
	require.NoError(t, err)
	defer reloaded.Close()

	require.NoError(t, reloaded.Load(path))
	assert.ElementsMatch(t, []string{"a", "b"}, reloaded.AllIDs())
}

func TestReadDimensions_ReturnsZeroWhenMissing(t *testing.T) {
	dims, err := ReadDimensions(filepath.Join(t.TempDir(), "missing.hnsw"))
	require.NoError(t, err)
	assert.Equal(t, 0, dims)
}

func TestReadDimensions_ReadsSavedConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "vectors.hnsw")

	store, err := NewHNSWStore(DefaultConfig(5))
	require.NoError(t, err)
	require.NoError(t, store.Add(context.Background(), []string{"a"}, [][]float32{{1, 2, 3, 4, 5}}))
	require.NoError(t, store.Save(path))
	require.NoError(t, store.Close())

	dims, err := ReadDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 5, dims)
}
