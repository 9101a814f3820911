package freshness

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinaes/succ-amanstore/internal/relstore"
)

// fakeStore implements only ListFileHashes for the freshness detector's
// needs; any other call panics via the embedded nil interface.
type fakeStore struct {
	relstore.Store
	hashes []*relstore.FileHash
}

func (f *fakeStore) ListFileHashes(ctx context.Context, projectID string) ([]*relstore.FileHash, error) {
	return f.hashes, nil
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestClassify_FreshUnchangedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a")

	store := &fakeStore{hashes: []*relstore.FileHash{
		{FilePath: "a.go", Hash: HashContent([]byte("package a")), IndexedAt: time.Now().Add(time.Hour)},
	}}
	d := New(store)
	result, err := d.Classify(context.Background(), "p1", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, result.Fresh)
	assert.Empty(t, result.Stale)
	assert.Empty(t, result.Deleted)
}

func TestClassify_StaleWhenContentChanged(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a changed")

	store := &fakeStore{hashes: []*relstore.FileHash{
		{FilePath: "a.go", Hash: HashContent([]byte("package a")), IndexedAt: time.Now().Add(-time.Hour)},
	}}
	d := New(store)
	result, err := d.Classify(context.Background(), "p1", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, result.Stale)
}

func TestClassify_DeletedWhenFileMissing(t *testing.T) {
	dir := t.TempDir()

	store := &fakeStore{hashes: []*relstore.FileHash{
		{FilePath: "gone.go", Hash: "whatever", IndexedAt: time.Now()},
	}}
	d := New(store)
	result, err := d.Classify(context.Background(), "p1", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"gone.go"}, result.Deleted)
}

func TestClassify_NeverHashesWhenMtimeUnchanged(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a")
	info, err := os.Stat(filepath.Join(dir, "a.go"))
	require.NoError(t, err)

	// Wrong hash on purpose: if Classify reads content despite an
	// unmodified mtime, it would observe the mismatch and misclassify as
	// stale; the invariant says it must not even look.
	store := &fakeStore{hashes: []*relstore.FileHash{
		{FilePath: "a.go", Hash: "deliberately-wrong-hash", IndexedAt: info.ModTime().Add(time.Second)},
	}}
	d := New(store)
	result, err := d.Classify(context.Background(), "p1", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, result.Fresh)
}

func TestClassify_HandlesWindowsSeparatorsInStoredPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	writeFile(t, filepath.Join(dir, "sub"), "b.go", "package b")

	store := &fakeStore{hashes: []*relstore.FileHash{
		{FilePath: `sub\b.go`, Hash: HashContent([]byte("package b")), IndexedAt: time.Now().Add(time.Hour)},
	}}
	d := New(store)
	result, err := d.Classify(context.Background(), "p1", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{`sub\b.go`}, result.Fresh)
}
