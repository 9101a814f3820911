package lexicalindex

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend names a lexical index implementation.
type Backend string

const (
	// BackendSQLite uses SQLite FTS5 (default): WAL mode allows concurrent
	// multi-process access.
	BackendSQLite Backend = "sqlite"

	// BackendBleve uses Bleve v2 (legacy): BoltDB's exclusive lock limits it to
	// one process at a time.
	BackendBleve Backend = "bleve"
)

// New creates an Index using the named backend. basePath is extended with the
// backend's file extension (.db for SQLite, .bleve for Bleve); an empty basePath
// creates an in-memory index.
func New(basePath string, config Config, backend string) (Index, error) {
	switch backend {
	case string(BackendSQLite), "":
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewSQLiteIndex(path, config)

	case string(BackendBleve):
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveIndex(path, config)

	default:
		return nil, fmt.Errorf("unknown lexical index backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// Detect reports which backend an existing on-disk index uses, for opening an
// index written by a prior run without being told its backend explicitly.
func Detect(basePath string) Backend {
	if fileExists(basePath + ".db") {
		return BackendSQLite
	}
	if dirExists(basePath + ".bleve") {
		return BackendBleve
	}
	return ""
}

// Path returns the full index path for a given backend.
func Path(dataDir string, backend string) string {
	basePath := filepath.Join(dataDir, "bm25")
	if backend == string(BackendBleve) {
		return basePath + ".bleve"
	}
	return basePath + ".db"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
