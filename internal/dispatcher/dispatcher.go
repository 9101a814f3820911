// Package dispatcher implements the storage dispatcher (C5): the single
// entry point wiring the relational store (C3), the vector and lexical
// indices (C4/C2), the hybrid search engine (C6), the memory graph (C7), the
// temporal model (C8), bulk transfer (C9) and freshness detection (C10)
// behind one façade. Grounded on internal/search.Engine's constructor
// (required-collaborator nil checks, functional-option construction) and its
// best-effort-continue-on-secondary-failure pattern, generalized from "one
// chunk search" to the full set of save/search/link/export operations the
// rest of the system calls.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vinaes/succ-amanstore/internal/bulk"
	"github.com/vinaes/succ-amanstore/internal/config"
	"github.com/vinaes/succ-amanstore/internal/embed"
	storeerrors "github.com/vinaes/succ-amanstore/internal/errors"
	"github.com/vinaes/succ-amanstore/internal/freshness"
	"github.com/vinaes/succ-amanstore/internal/hybridsearch"
	"github.com/vinaes/succ-amanstore/internal/lexicalindex"
	"github.com/vinaes/succ-amanstore/internal/memorygraph"
	"github.com/vinaes/succ-amanstore/internal/relstore"
	"github.com/vinaes/succ-amanstore/internal/temporal"
	"github.com/vinaes/succ-amanstore/internal/vectorindex"
)

// DefaultDedupThreshold is the cosine-similarity floor saveMemory uses to
// decide two memories are duplicates (§4.5 step 1).
const DefaultDedupThreshold = 0.95

// Dependencies are the already-constructed collaborators the dispatcher
// orchestrates. Store and Config are required; every vector/lexical
// collaborator is optional — a nil one disables the operations that need it
// (dedup falls back to the relational store's own cosine scan; hybrid search
// over the corresponding corpus runs without that lane, and with neither lane
// it returns no results).
type Dependencies struct {
	Store relstore.Store

	MemoryVector  vectorindex.Store
	MemoryLexical lexicalindex.Index
	GlobalVector  vectorindex.Store
	CodeVector    vectorindex.Store
	CodeLexical   lexicalindex.Index
	DocsVector    vectorindex.Store
	DocsLexical   lexicalindex.Index

	Graph    *memorygraph.Graph
	Config   *config.Config
	Logger   *slog.Logger
	Embedder embed.Embedder
}

// Dispatcher is the single entry point described in §4.5: the chosen
// drivers and the per-session counters.
type Dispatcher struct {
	store relstore.Store

	memoryVector vectorindex.Store
	globalVector vectorindex.Store
	codeVector   vectorindex.Store
	docsVector   vectorindex.Store

	codeLexical lexicalindex.Index
	docsLexical lexicalindex.Index

	graph    *memorygraph.Graph
	cfg      *config.Config
	log      *slog.Logger
	embedder embed.Embedder

	searchMemories *hybridsearch.MemorySearcher
	searchCode     *hybridsearch.MemorySearcher
	searchDocs     *hybridsearch.MemorySearcher

	mu       sync.Mutex
	counters Counters
}

// New constructs a Dispatcher. deps.Store and deps.Config are required.
func New(deps Dependencies) (*Dispatcher, error) {
	if deps.Store == nil {
		return nil, storeerrors.Config("dispatcher_missing_store", "relational store is required")
	}
	if deps.Config == nil {
		return nil, storeerrors.Config("dispatcher_missing_config", "config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		store:        deps.Store,
		memoryVector: deps.MemoryVector,
		globalVector: deps.GlobalVector,
		codeVector:   deps.CodeVector,
		docsVector:   deps.DocsVector,
		codeLexical:  deps.CodeLexical,
		docsLexical:  deps.DocsLexical,
		graph:        deps.Graph,
		cfg:          deps.Config,
		log:          logger,
		embedder:     deps.Embedder,
		counters:     newCounters(),
	}

	d.searchMemories = hybridsearch.New(deps.MemoryLexical, deps.MemoryVector, deps.Store, deps.Config,
		hybridsearch.WithGraph(deps.Graph), hybridsearch.WithLogger(logger))
	d.searchCode = hybridsearch.New(deps.CodeLexical, deps.CodeVector, deps.Store, deps.Config,
		hybridsearch.WithLogger(logger))
	d.searchDocs = hybridsearch.New(deps.DocsLexical, deps.DocsVector, deps.Store, deps.Config,
		hybridsearch.WithLogger(logger))

	return d, nil
}

// --- Session counters -------------------------------------------------

// Counters is the non-destructively readable set of per-session tallies
// described in §4.5.
type Counters struct {
	MemoriesCreated  int
	Duplicated       int
	RecallQueries    int
	SearchQueries    int
	WebSearchQueries int
	CostTally        float64
	TypesCreated     map[relstore.MemoryType]int
	StartTime        time.Time
}

func newCounters() Counters {
	return Counters{TypesCreated: make(map[relstore.MemoryType]int), StartTime: time.Now()}
}

// Counters returns a snapshot of the session tallies.
func (d *Dispatcher) Counters() Counters {
	d.mu.Lock()
	defer d.mu.Unlock()
	snapshot := d.counters
	snapshot.TypesCreated = make(map[relstore.MemoryType]int, len(d.counters.TypesCreated))
	for k, v := range d.counters.TypesCreated {
		snapshot.TypesCreated[k] = v
	}
	return snapshot
}

// FlushCounters appends the current session's tallies as a LearningDelta row
// and resets them, starting a fresh session window.
func (d *Dispatcher) FlushCounters(ctx context.Context, projectID, source string) error {
	d.mu.Lock()
	c := d.counters
	totalTypes := len(c.TypesCreated)
	d.counters = newCounters()
	d.mu.Unlock()

	delta := &relstore.LearningDelta{
		ProjectID:     projectID,
		MemoriesAdded: c.MemoriesCreated,
		TypesTouched:  totalTypes,
		Source:        source,
		CreatedAt:     time.Now(),
	}
	return d.store.AppendLearningDelta(ctx, delta)
}

// --- saveMemory ---------------------------------------------------------

// SaveMemoryOptions tunes saveMemory's behavior.
type SaveMemoryOptions struct {
	DedupThreshold float64
	Global         bool
	// ValidFor is a §4.8 duration string ("7d", "2w", "3m", "1y") or an
	// ISO-8601 date, resolved into m.ValidUntil via temporal.ParseDuration.
	// Ignored if m.ValidUntil is already set.
	ValidFor string
}

// SaveMemoryResult is saveMemory's return value.
type SaveMemoryResult struct {
	ID        int64
	Created   bool
	Duplicate *relstore.Memory
}

// SaveMemory implements §4.5's saveMemory: optional dense-similarity dedup,
// relational insert, best-effort vector sync.
func (d *Dispatcher) SaveMemory(ctx context.Context, m *relstore.Memory, deduplicate bool, opts SaveMemoryOptions) (*SaveMemoryResult, error) {
	threshold := opts.DedupThreshold
	if threshold <= 0 {
		threshold = DefaultDedupThreshold
	}

	if opts.ValidFor != "" && m.ValidUntil == nil {
		t, err := temporal.ParseDuration(opts.ValidFor, time.Now())
		if err != nil {
			return nil, err
		}
		m.ValidUntil = &t
	}

	if deduplicate && len(m.Embedding) > 0 {
		dup, _, err := d.findSimilar(ctx, opts.Global, m.ProjectID, m.Embedding, threshold)
		if err != nil {
			d.log.Warn("save_memory: dedup lookup failed, proceeding with insert", "error", err)
		} else if dup != nil {
			d.mu.Lock()
			d.counters.Duplicated++
			d.mu.Unlock()
			return &SaveMemoryResult{ID: dup.ID, Created: false, Duplicate: dup}, nil
		}
	}

	var id int64
	var err error
	if opts.Global {
		id, err = d.store.SaveGlobalMemory(ctx, m)
	} else {
		id, err = d.store.SaveMemory(ctx, m)
	}
	if err != nil {
		return nil, fmt.Errorf("dispatcher: save memory: %w", err)
	}
	m.ID = id

	d.syncMemoryToVector(ctx, opts.Global, m)

	d.mu.Lock()
	d.counters.MemoriesCreated++
	d.counters.TypesCreated[m.Type]++
	d.mu.Unlock()

	return &SaveMemoryResult{ID: id, Created: true}, nil
}

// SaveMemoriesBatch implements §4.5's saveMemoriesBatch: one relational
// batch insert, one vector batch upsert, with per-item dedup performed in
// insertion order through findSimilar against rows stored before the batch.
func (d *Dispatcher) SaveMemoriesBatch(ctx context.Context, ms []*relstore.Memory, dedupThreshold float64, deduplicate bool) ([]*SaveMemoryResult, error) {
	if dedupThreshold <= 0 {
		dedupThreshold = DefaultDedupThreshold
	}

	results := make([]*SaveMemoryResult, len(ms))
	var toInsert []*relstore.Memory
	insertIdx := make([]int, 0, len(ms))

	for i, m := range ms {
		if deduplicate && len(m.Embedding) > 0 {
			dup, _, err := d.findSimilar(ctx, false, m.ProjectID, m.Embedding, dedupThreshold)
			if err == nil && dup != nil {
				results[i] = &SaveMemoryResult{ID: dup.ID, Created: false, Duplicate: dup}
				d.mu.Lock()
				d.counters.Duplicated++
				d.mu.Unlock()
				continue
			}
		}
		toInsert = append(toInsert, m)
		insertIdx = append(insertIdx, i)
	}

	if len(toInsert) > 0 {
		ids, err := d.store.SaveMemoriesBatch(ctx, toInsert)
		if err != nil {
			return nil, fmt.Errorf("dispatcher: save memories batch: %w", err)
		}
		var vecs [][]float32
		var vecIDs []string
		for i, m := range toInsert {
			m.ID = ids[i]
			results[insertIdx[i]] = &SaveMemoryResult{ID: ids[i], Created: true}
			d.mu.Lock()
			d.counters.MemoriesCreated++
			d.counters.TypesCreated[m.Type]++
			d.mu.Unlock()
			if len(m.Embedding) > 0 {
				vecIDs = append(vecIDs, fmt.Sprintf("%d", m.ID))
				vecs = append(vecs, m.Embedding)
			}
		}
		if d.memoryVector != nil && len(vecIDs) > 0 {
			if err := d.memoryVector.Add(ctx, vecIDs, vecs); err != nil {
				d.log.Warn("save_memories_batch: vector sync failed", "error", err)
			}
		}
	}

	return results, nil
}

// findSimilar is the dedup primitive (§4.5): dense search in the vector
// engine (C4) narrowed to the given project, falling back to the relational
// store's own cosine scan when no vector engine is wired for this
// collection — the degraded "old schema" path §4.5 describes.
func (d *Dispatcher) findSimilar(ctx context.Context, global bool, projectID string, embedding []float32, threshold float64) (*relstore.Memory, float64, error) {
	vector := d.memoryVector
	if global {
		vector = d.globalVector
	}

	if vector == nil {
		if global {
			return d.store.FindSimilarGlobalMemory(ctx, embedding, threshold)
		}
		return d.store.FindSimilarMemory(ctx, projectID, embedding, threshold)
	}

	var candidates []*vectorindex.Result
	err := withRetry(ctx, func() error {
		var searchErr error
		candidates, searchErr = vector.Search(ctx, embedding, 1)
		return searchErr
	})
	if err != nil {
		return nil, 0, storeerrors.Wrap(storeerrors.KindTransientBackend, "find_similar_search_failed", err)
	}
	if len(candidates) == 0 || float64(candidates[0].Score) < threshold {
		return nil, 0, nil
	}
	id, err := parseID(candidates[0].ID)
	if err != nil {
		return nil, 0, storeerrors.Unsupported("find_similar_bad_id", "vector engine returned a non-integer id")
	}

	var m *relstore.Memory
	if global {
		m, err = d.store.GetGlobalMemory(ctx, id)
	} else {
		m, err = d.store.GetMemory(ctx, id)
	}
	if err != nil {
		if err == relstore.ErrNotFound {
			// Cross-store drift: the vector engine has a point the relational
			// store no longer carries. Logged, not fatal (§7 DriftWarning).
			d.log.Warn("find_similar: vector engine point has no relational row", "id", id)
			return nil, 0, nil
		}
		return nil, 0, err
	}
	if projectID != "" && m.ProjectID != "" && m.ProjectID != projectID {
		return nil, 0, nil
	}
	return m, float64(candidates[0].Score), nil
}

func (d *Dispatcher) syncMemoryToVector(ctx context.Context, global bool, m *relstore.Memory) {
	if len(m.Embedding) == 0 {
		return
	}
	vector := d.memoryVector
	if global {
		vector = d.globalVector
	}
	if vector == nil {
		return
	}
	id := fmt.Sprintf("%d", m.ID)
	if err := vector.Add(ctx, []string{id}, [][]float32{m.Embedding}); err != nil {
		d.log.Warn("save_memory: vector sync failed, relational insert kept", "id", id, "error", err)
	}
}

// --- Documents -----------------------------------------------------------

// UpsertDocumentsBatch implements §4.5's upsertDocumentsBatch: one
// relational batch, then one vector batch, then one lexical batch.
func (d *Dispatcher) UpsertDocumentsBatch(ctx context.Context, docs []*relstore.Document) ([]int64, error) {
	ids, err := d.store.UpsertDocuments(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: upsert documents: %w", err)
	}

	var vecIDs []string
	var vecs [][]float32
	var lexDocs []*lexicalindex.Document
	for i, doc := range docs {
		doc.ID = ids[i]
		if len(doc.Embedding) > 0 {
			vecIDs = append(vecIDs, fmt.Sprintf("%d", doc.ID))
			vecs = append(vecs, doc.Embedding)
		}
		lexDocs = append(lexDocs, &lexicalindex.Document{ID: fmt.Sprintf("%d", doc.ID), Content: doc.Content})
	}
	if len(vecIDs) > 0 {
		vector := d.vectorForDocument(docs[0])
		if vector != nil {
			if err := vector.Add(ctx, vecIDs, vecs); err != nil {
				d.log.Warn("upsert_documents_batch: vector sync failed", "error", err)
			}
		}
	}
	if len(docs) > 0 {
		if lexical := d.lexicalForDocument(docs[0]); lexical != nil {
			if err := lexical.Index(ctx, lexDocs); err != nil {
				d.log.Warn("upsert_documents_batch: lexical sync failed", "error", err)
			}
		}
	}
	return ids, nil
}

// UpsertDocumentsBatchWithHashes additionally saves the per-file content
// hash used by the freshness detector (C10), and deletes any prior chunks
// and vector points for a path whose file was removed since the last index.
func (d *Dispatcher) UpsertDocumentsBatchWithHashes(ctx context.Context, docs []*relstore.Document, hashes []*relstore.FileHash, deletedPaths []string) ([]int64, error) {
	ids, err := d.UpsertDocumentsBatch(ctx, docs)
	if err != nil {
		return nil, err
	}
	for _, fh := range hashes {
		if err := d.store.SaveFileHash(ctx, fh); err != nil {
			return nil, fmt.Errorf("dispatcher: save file hash: %w", err)
		}
	}

	projectID := ""
	if len(docs) > 0 {
		projectID = docs[0].ProjectID
	} else if len(hashes) > 0 {
		projectID = hashes[0].ProjectID
	}
	for _, path := range deletedPaths {
		if err := d.deleteDocumentsForPath(ctx, projectID, path); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// deleteDocumentsForPath removes every chunk stored under path (and its
// vector/lexical points) for projectID. Used both by
// UpsertDocumentsBatchWithHashes's deletedPaths cleanup and directly by
// RemoveFile, which knows projectID but has no sibling Document/FileHash to
// infer it from.
func (d *Dispatcher) deleteDocumentsForPath(ctx context.Context, projectID, path string) error {
	existing, err := d.store.GetDocumentsByPath(ctx, projectID, path)
	if err != nil {
		return fmt.Errorf("dispatcher: list documents for deleted path: %w", err)
	}
	if err := d.store.DeleteDocumentsByPath(ctx, projectID, path); err != nil {
		return fmt.Errorf("dispatcher: delete documents for path: %w", err)
	}
	if len(existing) == 0 {
		return nil
	}
	var staleIDs []string
	for _, e := range existing {
		staleIDs = append(staleIDs, fmt.Sprintf("%d", e.ID))
	}
	if vector := d.vectorForDocument(existing[0]); vector != nil {
		if err := vector.Delete(ctx, staleIDs); err != nil {
			d.log.Warn("upsert_documents_batch: vector cleanup failed", "path", path, "error", err)
		}
	}
	if lexical := d.lexicalForDocument(existing[0]); lexical != nil {
		if err := lexical.Delete(ctx, staleIDs); err != nil {
			d.log.Warn("upsert_documents_batch: lexical cleanup failed", "path", path, "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) vectorForDocument(doc *relstore.Document) vectorindex.Store {
	if hybridsearch.CorpusOf(doc.FilePath) == hybridsearch.CorpusCode {
		return d.codeVector
	}
	return d.docsVector
}

func (d *Dispatcher) lexicalForDocument(doc *relstore.Document) lexicalindex.Index {
	if hybridsearch.CorpusOf(doc.FilePath) == hybridsearch.CorpusCode {
		return d.codeLexical
	}
	return d.docsLexical
}

func parseID(s string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(s, "%d", &id)
	return id, err
}
