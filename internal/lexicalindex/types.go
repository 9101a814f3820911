// Package lexicalindex provides the BM25 keyword-search half of hybrid retrieval
// (C2), scoped per project or per namespace. Two interchangeable backends
// implement the same Index: SQLite FTS5 (default, concurrent multi-process access
// via WAL) and Bleve v2 (legacy, single-process, exclusive BoltDB lock).
package lexicalindex

import "context"

// Document is a single unit of text to index, keyed by chunk or memory ID.
type Document struct {
	ID      string
	Content string
}

// Result is a single BM25 match, ranked by Score (higher is better).
type Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// Stats summarizes an index's current contents.
type Stats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// Index provides keyword search scoped to one BM25 collection (a project's code
// index, a project's doc index, or the global memory index).
type Index interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*Result, error)
	Delete(ctx context.Context, docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *Stats
	Save(path string) error
	Load(path string) error
	Close() error
}

// Config holds BM25 and tokenization settings. K1/B follow Robertson/Zaragoza's
// standard ranges. Neither backend reads K1, B or MinTokenLength; StopWords is
// applied by the SQLite backend only, and the Bleve analyzer always filters
// DefaultCodeStopWords.
type Config struct {
	K1             float64
	B              float64
	StopWords      []string
	MinTokenLength int
}

// DefaultConfig returns BM25 defaults (k1=1.2, b=0.75) with the code stop-word list.
func DefaultConfig() Config {
	return Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords filters out identifiers so common they carry no ranking
// signal in source-code search.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}
