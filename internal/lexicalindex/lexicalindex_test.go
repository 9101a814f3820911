package lexicalindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newIndexes returns one in-memory index per backend, so each scenario below
// runs against both without duplicating the test body.
func newIndexes(t *testing.T) map[string]Index {
	t.Helper()

	sqliteIdx, err := NewSQLiteIndex("", DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteIdx.Close() })

	bleveIdx, err := NewBleveIndex("", DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bleveIdx.Close() })

	return map[string]Index{
		"sqlite": sqliteIdx,
		"bleve":  bleveIdx,
	}
}

func TestIndex_FindsCamelCaseAcrossBackends(t *testing.T) {
	for name, idx := range newIndexes(t) {
		t.Run(name, func(t *testing.T) {
			// Given: a document with a camelCase identifier
			err := idx.Index(context.Background(), []*Document{
				{ID: "1", Content: "func getUserById"},
			})
			require.NoError(t, err)

			// When: searching for a decomposed subtoken
			results, err := idx.Search(context.Background(), "user", 10)
			require.NoError(t, err)

			// Then: the document is found
			require.Len(t, results, 1)
			assert.Equal(t, "1", results[0].DocID)
		})
	}
}

func TestIndex_FindsSnakeCaseAcrossBackends(t *testing.T) {
	for name, idx := range newIndexes(t) {
		t.Run(name, func(t *testing.T) {
			err := idx.Index(context.Background(), []*Document{
				{ID: "1", Content: "def get_user_by_id"},
			})
			require.NoError(t, err)

			results, err := idx.Search(context.Background(), "user", 10)
			require.NoError(t, err)

			require.Len(t, results, 1)
			assert.Equal(t, "1", results[0].DocID)
		})
	}
}

func TestIndex_DeleteRemovesDocument(t *testing.T) {
	for name, idx := range newIndexes(t) {
		t.Run(name, func(t *testing.T) {
			err := idx.Index(context.Background(), []*Document{
				{ID: "1", Content: "alpha bravo"},
				{ID: "2", Content: "alpha charlie"},
			})
			require.NoError(t, err)

			err = idx.Delete(context.Background(), []string{"1"})
			require.NoError(t, err)

			results, err := idx.Search(context.Background(), "alpha", 10)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "2", results[0].DocID)
		})
	}
}

func TestIndex_ReindexingSameIDReplacesContent(t *testing.T) {
	for name, idx := range newIndexes(t) {
		t.Run(name, func(t *testing.T) {
			err := idx.Index(context.Background(), []*Document{{ID: "1", Content: "original content"}})
			require.NoError(t, err)

			err = idx.Index(context.Background(), []*Document{{ID: "1", Content: "replacement text"}})
			require.NoError(t, err)

			results, err := idx.Search(context.Background(), "original", 10)
			require.NoError(t, err)
			assert.Empty(t, results)

			results, err = idx.Search(context.Background(), "replacement", 10)
			require.NoError(t, err)
			require.Len(t, results, 1)
		})
	}
}

func TestIndex_EmptyQueryReturnsEmptyResults(t *testing.T) {
	for name, idx := range newIndexes(t) {
		t.Run(name, func(t *testing.T) {
			err := idx.Index(context.Background(), []*Document{{ID: "1", Content: "anything"}})
			require.NoError(t, err)

			results, err := idx.Search(context.Background(), "", 10)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestIndex_AllIDsReturnsEveryDocument(t *testing.T) {
	for name, idx := range newIndexes(t) {
		t.Run(name, func(t *testing.T) {
			err := idx.Index(context.Background(), []*Document{
				{ID: "1", Content: "one"},
				{ID: "2", Content: "two"},
			})
			require.NoError(t, err)

			ids, err := idx.AllIDs()
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"1", "2"}, ids)
		})
	}
}

func TestIndex_StatsReportsDocumentCount(t *testing.T) {
	for name, idx := range newIndexes(t) {
		t.Run(name, func(t *testing.T) {
			err := idx.Index(context.Background(), []*Document{
				{ID: "1", Content: "one"},
				{ID: "2", Content: "two"},
			})
			require.NoError(t, err)

			assert.Equal(t, 2, idx.Stats().DocumentCount)
		})
	}
}

func TestNew_UnknownBackendReturnsError(t *testing.T) {
	_, err := New("", DefaultConfig(), "unknown")
	assert.Error(t, err)
}

func TestNew_DefaultsToSQLite(t *testing.T) {
	idx, err := New("", DefaultConfig(), "")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	_, ok := idx.(*SQLiteIndex)
	assert.True(t, ok)
}
