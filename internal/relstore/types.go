// Package relstore provides the relational half of storage (C3): row-level
// CRUD over documents, file hashes, memories, memory links, centrality, token
// stats, and the teacher-derived Project/File/IndexCheckpoint bookkeeping,
// behind one Store interface with two drivers — an embedded single-file
// engine and a networked SQL engine — so the dispatcher never branches on
// driver identity.
package relstore

import (
	"context"
	"fmt"
	"time"

	"github.com/vinaes/succ-amanstore/internal/temporal"
)

// MemoryType classifies a Memory's nature.
type MemoryType string

const (
	MemoryTypeObservation MemoryType = "observation"
	MemoryTypeDecision    MemoryType = "decision"
	MemoryTypeLearning    MemoryType = "learning"
	MemoryTypeError       MemoryType = "error"
	MemoryTypePattern     MemoryType = "pattern"
	MemoryTypeDeadEnd     MemoryType = "dead_end"
)

// LinkRelation classifies a MemoryLink's edge type.
type LinkRelation string

const (
	RelationRelated    LinkRelation = "related"
	RelationCausedBy   LinkRelation = "caused_by"
	RelationLeadsTo    LinkRelation = "leads_to"
	RelationSimilarTo  LinkRelation = "similar_to"
	RelationContradicts LinkRelation = "contradicts"
	RelationImplements LinkRelation = "implements"
	RelationSupersedes LinkRelation = "supersedes"
	RelationReferences LinkRelation = "references"
)

// Document is a chunk of text extracted from one source file, belonging
// either to a project's code corpus or its prose-documentation corpus (the
// `code:` prefix on FilePath marks the former).
type Document struct {
	ID         int64
	ProjectID  string
	FilePath   string
	ChunkIndex int
	Content    string
	StartLine  int
	EndLine    int
	Embedding  []float32
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FileHash is the per-file content hash used to decide whether a file needs
// re-embedding; it carries no embedding itself.
type FileHash struct {
	ProjectID  string
	FilePath   string
	Hash       string
	IndexedAt  time.Time
}

// Memory is a semantic note with temporal validity and an optional
// superseding link.
type Memory struct {
	ID             int64
	ProjectID      string // empty for a GlobalMemory row
	Content        string
	Tags           []string
	Source         string
	Type           MemoryType
	QualityScore   float64
	QualityFactors map[string]float64
	Embedding      []float32
	AccessCount    int
	LastAccessed   *time.Time
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	CreatedAt      time.Time
	InvalidatedBy  *int64
}

// IsEffectiveAt reports whether the memory is effective (visible to recall)
// at time t per the invariant: not invalidated, and t falls within
// [ValidFrom, ValidUntil).
func (m *Memory) IsEffectiveAt(t time.Time) bool {
	return temporal.EffectiveAt(m.InvalidatedBy != nil, m.ValidFrom, m.ValidUntil, t)
}

// MemoryLink is a directed, typed edge between two memories.
type MemoryLink struct {
	ID          int64
	SourceID    int64
	TargetID    int64
	Relation    LinkRelation
	Weight      float64
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	LLMEnriched bool
	CreatedAt   time.Time
}

// IsEffectiveAt mirrors Memory.IsEffectiveAt; a link has no InvalidatedBy
// column, so "invalidated" is represented by ValidUntil having already
// passed.
func (l *MemoryLink) IsEffectiveAt(t time.Time) bool {
	return temporal.EffectiveAt(false, l.ValidFrom, l.ValidUntil, t)
}

// Centrality is a per-memory scalar maintained by a background sweep over
// the link graph.
type Centrality struct {
	MemoryID         int64
	Degree           int
	NormalizedDegree float64
	UpdatedAt        time.Time
}

// LearningDelta is an append-only journal entry summarizing a batch of
// memory creation activity. Never mutated after insert.
type LearningDelta struct {
	ID           int64
	ProjectID    string
	MemoriesAdded int
	TypesTouched int
	AvgQuality   float64
	Source       string
	CreatedAt    time.Time
}

// TokenStat tracks raw-vs-tokenized byte counts for one lexical scope, used
// for observability of tokenization overhead.
type TokenStat struct {
	Scope      string
	RawBytes   int64
	TokenBytes int64
	UpdatedAt  time.Time
}

// MemoryFilter narrows ListMemories / ListGlobalMemories queries.
type MemoryFilter struct {
	ProjectID      string
	Tags           []string
	Type           MemoryType
	Since          *time.Time
	IncludeInvalid bool // when false (default), non-effective rows are excluded
	AsOf           *time.Time
	Limit          int
	Cursor         string
}

// --- Supplemental, teacher-derived bookkeeping (folded into C3/C10) ---

// Project is an indexed codebase root.
type Project struct {
	ID          string
	Name        string
	RootPath    string
	ProjectType string
	ChunkCount  int
	FileCount   int
	IndexedAt   time.Time
	Version     string
}

// File is a tracked source file within a Project, compared against disk
// state by the freshness detector (C10).
type File struct {
	ID          string
	ProjectID   string
	Path        string
	Size        int64
	ModTime     time.Time
	ContentHash string
	Language    string
	IndexedAt   time.Time
}

// IndexCheckpoint records resumable-indexing progress and the embedding
// configuration in force when the checkpoint was written, so a restart can
// detect a silent model/dimension change.
type IndexCheckpoint struct {
	Stage         string
	Total         int
	EmbeddedCount int
	Timestamp     time.Time
	EmbedderModel string
}

// CurrentSchemaVersion is the schema version this package writes and expects.
const CurrentSchemaVersion = 1

// Store is the one interface shared by the embedded and networked drivers;
// the dispatcher (C5) never branches on which is in use.
type Store interface {
	// Documents
	UpsertDocuments(ctx context.Context, docs []*Document) ([]int64, error)
	GetDocumentsByPath(ctx context.Context, projectID, filePath string) ([]*Document, error)
	GetDocuments(ctx context.Context, ids []int64) ([]*Document, error)
	DeleteDocumentsByPath(ctx context.Context, projectID, filePath string) error
	DeleteDocumentsByProject(ctx context.Context, projectID string) error

	// File hashes
	SaveFileHash(ctx context.Context, fh *FileHash) error
	GetFileHash(ctx context.Context, projectID, filePath string) (*FileHash, error)
	ListFileHashes(ctx context.Context, projectID string) ([]*FileHash, error)
	DeleteFileHash(ctx context.Context, projectID, filePath string) error

	// Memories (project-scoped)
	SaveMemory(ctx context.Context, m *Memory) (int64, error)
	SaveMemoriesBatch(ctx context.Context, ms []*Memory) ([]int64, error)
	GetMemory(ctx context.Context, id int64) (*Memory, error)
	ListMemories(ctx context.Context, filter MemoryFilter) ([]*Memory, error)
	UpdateMemoryAccess(ctx context.Context, id int64, accessedAt time.Time) error
	UpdateMemoryTags(ctx context.Context, id int64, tags []string) error
	InvalidateMemory(ctx context.Context, id, supersededBy int64) error
	RestoreMemory(ctx context.Context, id int64) error
	DeleteMemory(ctx context.Context, id int64) error
	DeleteMemoriesByProject(ctx context.Context, projectID string) error
	FindSimilarMemory(ctx context.Context, projectID string, embedding []float32, threshold float64) (*Memory, float64, error)

	// Global memories (namespace distinct from project memories)
	SaveGlobalMemory(ctx context.Context, m *Memory) (int64, error)
	GetGlobalMemory(ctx context.Context, id int64) (*Memory, error)
	ListGlobalMemories(ctx context.Context, filter MemoryFilter) ([]*Memory, error)
	InvalidateGlobalMemory(ctx context.Context, id, supersededBy int64) error
	FindSimilarGlobalMemory(ctx context.Context, embedding []float32, threshold float64) (*Memory, float64, error)

	// Memory links
	CreateLink(ctx context.Context, l *MemoryLink) (id int64, created bool, err error)
	GetLink(ctx context.Context, sourceID, targetID int64, relation LinkRelation) (*MemoryLink, error)
	ListLinks(ctx context.Context, memoryID int64, asOf *time.Time) ([]*MemoryLink, error)
	InvalidateLink(ctx context.Context, sourceID, targetID int64, relation LinkRelation) error
	DeleteLink(ctx context.Context, id int64) error

	// Centrality
	SaveCentrality(ctx context.Context, rows []*Centrality) error
	GetCentrality(ctx context.Context, memoryID int64) (*Centrality, error)

	// Learning deltas
	AppendLearningDelta(ctx context.Context, d *LearningDelta) error
	ListLearningDeltas(ctx context.Context, projectID string, limit int) ([]*LearningDelta, error)

	// Token stats / frequencies (feeds C2 and observability)
	SaveTokenFrequencies(ctx context.Context, scope string, freqs map[string]int) error
	GetTokenFrequencies(ctx context.Context, scope string) (map[string]int, error)
	SaveTokenStat(ctx context.Context, stat *TokenStat) error
	GetTokenStat(ctx context.Context, scope string) (*TokenStat, error)

	// Supplemental: project/file bookkeeping (C3/C10)
	SaveProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	UpdateProjectStats(ctx context.Context, id string, fileCount, chunkCount int) error
	SaveFiles(ctx context.Context, files []*File) error
	GetFileByPath(ctx context.Context, projectID, path string) (*File, error)
	ListFiles(ctx context.Context, projectID string) ([]*File, error)
	DeleteFile(ctx context.Context, fileID string) error
	DeleteFilesByProject(ctx context.Context, projectID string) error

	// Key-value runtime state (embedding dimension/model, in-flight checkpoint)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error
	LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error)
	ClearIndexCheckpoint(ctx context.Context) error

	// WithTx runs fn against a Store bound to one transaction; any error
	// returned by fn rolls the whole transaction back. Used by the bulk
	// restore/import pathway (C9) to get atomic multi-row writes.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Close() error
}

// ErrNotFound is returned by single-row getters when no row matches.
var ErrNotFound = fmt.Errorf("relstore: not found")

// ErrOptionalTableMissing is returned when a driver detects a table that an
// older schema version never created (e.g. centrality, learning_deltas on a
// pre-upgrade database); the dispatcher treats this as "empty", not fatal.
type ErrOptionalTableMissing struct {
	Table string
}

func (e ErrOptionalTableMissing) Error() string {
	return fmt.Sprintf("relstore: optional table %q missing, treating as empty", e.Table)
}
