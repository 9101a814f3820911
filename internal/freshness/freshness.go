// Package freshness implements the freshness detector (C10): given a
// project's tracked FileHash rows, classify each as stale (content changed),
// deleted (missing from disk), or fresh (unchanged) using mtime as a cheap
// first filter and content hashing only when mtime says a file may have
// changed. Grounded on internal/scanner's file-walk and path-normalization
// conventions.
package freshness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	storeerrors "github.com/vinaes/succ-amanstore/internal/errors"
	"github.com/vinaes/succ-amanstore/internal/relstore"
)

// Classification holds the three disjoint outcomes of a freshness sweep.
type Classification struct {
	Stale   []string
	Deleted []string
	Fresh   []string
}

// Detector classifies indexed files against their on-disk state.
type Detector struct {
	store relstore.Store
}

// New constructs a Detector over the given relational store.
func New(store relstore.Store) *Detector {
	return &Detector{store: store}
}

// normalizePath converts a stored path (which may use either separator, if
// the index was built on a different OS) to forward slashes; toOSPath then
// converts that to the host OS's separator for filesystem access.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return p
}

// toOSPath converts a forward-slash project-relative path to the host OS's
// path separator for os.Stat.
func toOSPath(root, relPath string) string {
	return filepath.Join(root, filepath.FromSlash(normalizePath(relPath)))
}

// Classify walks every FileHash tracked for projectID, reading each file's
// on-disk mtime first; content is hashed (and thus read) only when mtime
// indicates the file may have changed since it was indexed (§4.10 invariant:
// "never reads content when mtime says the file is unchanged").
func (d *Detector) Classify(ctx context.Context, projectID, root string) (*Classification, error) {
	hashes, err := d.store.ListFileHashes(ctx, projectID)
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "freshness_list_hashes_failed", err)
	}

	result := &Classification{}
	for _, fh := range hashes {
		osPath := toOSPath(root, fh.FilePath)
		info, err := os.Stat(osPath)
		if os.IsNotExist(err) {
			result.Deleted = append(result.Deleted, fh.FilePath)
			continue
		}
		if err != nil {
			return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "freshness_stat_failed", err)
		}

		if !info.ModTime().After(fh.IndexedAt) {
			result.Fresh = append(result.Fresh, fh.FilePath)
			continue
		}

		hash, err := hashFile(osPath)
		if err != nil {
			return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "freshness_hash_failed", err)
		}
		if hash != fh.Hash {
			result.Stale = append(result.Stale, fh.FilePath)
		} else {
			result.Fresh = append(result.Fresh, fh.FilePath)
		}
	}

	return result, nil
}

// hashFile computes the SHA-256 content hash of the file at path, streaming
// it rather than reading the whole file into memory.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashContent hashes a content buffer already read into memory (e.g. during
// ingest, before a FileHash row exists yet), using the same algorithm as
// hashFile so the two stay comparable.
func HashContent(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}
