package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinaes/succ-amanstore/internal/watcher"
)

func TestHandleFileEvents_CreateIngestsFile(t *testing.T) {
	store := newFakeStore()
	d := newTestDispatcher(t, store)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte(sampleGoFile), 0o644))

	applied, err := d.HandleFileEvents(context.Background(), "p1", root, []watcher.FileEvent{
		{Path: "main.go", Operation: watcher.OpCreate, Timestamp: time.Unix(0, 0)},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	fh, err := store.GetFileHash(context.Background(), "p1", "main.go")
	require.NoError(t, err)
	assert.NotEmpty(t, fh.Hash)
}

func TestHandleFileEvents_DeleteRemovesFile(t *testing.T) {
	store := newFakeStore()
	d := newTestDispatcher(t, store)

	res, err := d.IngestFile(context.Background(), "p1", "main.go", []byte(sampleGoFile), nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.DocumentIDs)

	applied, err := d.HandleFileEvents(context.Background(), "p1", t.TempDir(), []watcher.FileEvent{
		{Path: "main.go", Operation: watcher.OpDelete, Timestamp: time.Unix(0, 0)},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	for _, id := range res.DocumentIDs {
		_, ok := store.documents[id]
		assert.False(t, ok)
	}
}

func TestHandleFileEvents_DirectoryEventIsSkipped(t *testing.T) {
	d := newTestDispatcher(t, newFakeStore())

	applied, err := d.HandleFileEvents(context.Background(), "p1", t.TempDir(), []watcher.FileEvent{
		{Path: "subdir", IsDir: true, Operation: watcher.OpCreate, Timestamp: time.Unix(0, 0)},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
}

func TestHandleFileEvents_MissingFileIsSkippedNotFatal(t *testing.T) {
	d := newTestDispatcher(t, newFakeStore())

	applied, err := d.HandleFileEvents(context.Background(), "p1", t.TempDir(), []watcher.FileEvent{
		{Path: "gone.go", Operation: watcher.OpModify, Timestamp: time.Unix(0, 0)},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
}

func TestHandleFileEvents_RenameIsNoop(t *testing.T) {
	d := newTestDispatcher(t, newFakeStore())

	applied, err := d.HandleFileEvents(context.Background(), "p1", t.TempDir(), []watcher.FileEvent{
		{Path: "new.go", OldPath: "old.go", Operation: watcher.OpRename, Timestamp: time.Unix(0, 0)},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
}
