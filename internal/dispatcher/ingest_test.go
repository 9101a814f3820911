package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinaes/succ-amanstore/internal/embed"
	"github.com/vinaes/succ-amanstore/internal/relstore"
)

const sampleGoFile = `package sample

// Greet returns a friendly greeting.
func Greet(name string) string {
	return "hello " + name
}
`

func TestIngestFile_ChunksEmbedsAndUpsertsCodeDocuments(t *testing.T) {
	store := newFakeStore()
	d := newTestDispatcher(t, store)
	embedder := embed.NewStaticEmbedder()

	res, err := d.IngestFile(context.Background(), "p1", "main.go", []byte(sampleGoFile), embedder)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.False(t, res.Unsupported)
	assert.NotZero(t, res.Chunks)
	assert.Len(t, res.DocumentIDs, res.Chunks)

	for _, id := range res.DocumentIDs {
		doc, ok := store.documents[id]
		require.True(t, ok)
		assert.Equal(t, "code:main.go", doc.FilePath)
		assert.NotEmpty(t, doc.Embedding)
	}

	fh, err := store.GetFileHash(context.Background(), "p1", "main.go")
	require.NoError(t, err)
	assert.NotEmpty(t, fh.Hash)
}

func TestIngestFile_MarkdownDoesNotGetCodePrefix(t *testing.T) {
	store := newFakeStore()
	d := newTestDispatcher(t, store)

	res, err := d.IngestFile(context.Background(), "p1", "README.md", []byte("# Title\n\nSome body text.\n"), nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.DocumentIDs)

	doc := store.documents[res.DocumentIDs[0]]
	assert.Equal(t, "README.md", doc.FilePath)
	assert.Empty(t, doc.Embedding)
}

func TestIngestFile_UnchangedHashIsSkipped(t *testing.T) {
	store := newFakeStore()
	d := newTestDispatcher(t, store)

	first, err := d.IngestFile(context.Background(), "p1", "main.go", []byte(sampleGoFile), nil)
	require.NoError(t, err)
	require.False(t, first.Skipped)

	second, err := d.IngestFile(context.Background(), "p1", "main.go", []byte(sampleGoFile), nil)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
}

func TestIngestFile_UnsupportedExtensionIsSkipped(t *testing.T) {
	d := newTestDispatcher(t, newFakeStore())

	res, err := d.IngestFile(context.Background(), "p1", "image.png", []byte{0x89, 'P', 'N', 'G', 0, 1, 2}, nil)
	require.NoError(t, err)
	assert.True(t, res.Unsupported)
}

func TestRemoveFile_DeletesIndexedDocuments(t *testing.T) {
	store := newFakeStore()
	d := newTestDispatcher(t, store)

	res, err := d.IngestFile(context.Background(), "p1", "main.go", []byte(sampleGoFile), nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.DocumentIDs)

	require.NoError(t, d.RemoveFile(context.Background(), "p1", "main.go"))
	for _, id := range res.DocumentIDs {
		_, ok := store.documents[id]
		assert.False(t, ok)
	}
	_, err = store.GetFileHash(context.Background(), "p1", "main.go")
	assert.ErrorIs(t, err, relstore.ErrNotFound)
}
