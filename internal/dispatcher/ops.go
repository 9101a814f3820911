package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/vinaes/succ-amanstore/internal/bulk"
	storeerrors "github.com/vinaes/succ-amanstore/internal/errors"
	"github.com/vinaes/succ-amanstore/internal/freshness"
	"github.com/vinaes/succ-amanstore/internal/hybridsearch"
	"github.com/vinaes/succ-amanstore/internal/memorygraph"
	"github.com/vinaes/succ-amanstore/internal/relstore"
	"github.com/vinaes/succ-amanstore/internal/vectorindex"
)

// --- Invalidation --------------------------------------------------------

// InvalidateMemory marks a memory as superseded by another, keeping the row
// for audit/history rather than deleting it (§4.8).
func (d *Dispatcher) InvalidateMemory(ctx context.Context, id, supersededBy int64, global bool) error {
	var err error
	if global {
		err = d.store.InvalidateGlobalMemory(ctx, id, supersededBy)
	} else {
		err = d.store.InvalidateMemory(ctx, id, supersededBy)
	}
	if err != nil {
		return fmt.Errorf("dispatcher: invalidate memory: %w", err)
	}
	return nil
}

// RestoreInvalidatedMemory clears a memory's invalidated_by, making it
// effective again. Only project-scoped memories can be restored this way;
// global memories have no RestoreMemory counterpart in the relational store.
func (d *Dispatcher) RestoreInvalidatedMemory(ctx context.Context, id int64) error {
	if err := d.store.RestoreMemory(ctx, id); err != nil {
		return fmt.Errorf("dispatcher: restore memory: %w", err)
	}
	return nil
}

// --- Reads -----------------------------------------------------------

// MemoryWithLinks bundles a memory with its outgoing/incoming effective
// links, the shape getMemoryWithLinks returns to callers that need both in
// one round trip.
type MemoryWithLinks struct {
	Memory *relstore.Memory
	Links  []*relstore.MemoryLink
}

// GetMemoryWithLinks implements getMemoryWithLinks: fetch a memory and every
// effective link touching it, as of now.
func (d *Dispatcher) GetMemoryWithLinks(ctx context.Context, id int64) (*MemoryWithLinks, error) {
	m, err := d.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	links, err := d.store.ListLinks(ctx, id, nil)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: list links: %w", err)
	}
	return &MemoryWithLinks{Memory: m, Links: links}, nil
}

// --- Memory graph delegation (C7) -----------------------------------------

func (d *Dispatcher) requireGraph() (*memorygraph.Graph, error) {
	if d.graph == nil {
		return nil, storeerrors.Unsupported("dispatcher_no_graph", "memory graph is not configured")
	}
	return d.graph, nil
}

// FindConnectedMemories delegates to memorygraph.Graph.FindConnected.
func (d *Dispatcher) FindConnectedMemories(ctx context.Context, memoryID int64, maxDepth int, asOf *time.Time) ([]memorygraph.ConnectedMemory, error) {
	g, err := d.requireGraph()
	if err != nil {
		return nil, err
	}
	return g.FindConnected(ctx, memoryID, maxDepth, asOf)
}

// CreateMemoryLink delegates to memorygraph.Graph.CreateLink.
func (d *Dispatcher) CreateMemoryLink(ctx context.Context, sourceID, targetID int64, relation relstore.LinkRelation, weight float64, validFrom, validUntil *time.Time) (int64, bool, error) {
	g, err := d.requireGraph()
	if err != nil {
		return 0, false, err
	}
	return g.CreateLink(ctx, sourceID, targetID, relation, weight, validFrom, validUntil)
}

// AutoLinkSimilarMemories delegates to memorygraph.Graph.AutoLink.
func (d *Dispatcher) AutoLinkSimilarMemories(ctx context.Context, memoryID int64, embedding []float32, threshold float64, maxLinks int) ([]*relstore.MemoryLink, error) {
	g, err := d.requireGraph()
	if err != nil {
		return nil, err
	}
	return g.AutoLink(ctx, memoryID, embedding, threshold, maxLinks)
}

// RecomputeGraphCentrality delegates to memorygraph.Graph.RecomputeCentrality.
func (d *Dispatcher) RecomputeGraphCentrality(ctx context.Context, projectID string) error {
	g, err := d.requireGraph()
	if err != nil {
		return err
	}
	return g.RecomputeCentrality(ctx, projectID)
}

// --- Learning deltas -------------------------------------------------

// AppendLearningDelta implements appendLearningDelta: records an external
// caller's own journal entry, distinct from the automatic FlushCounters
// session summary.
func (d *Dispatcher) AppendLearningDelta(ctx context.Context, delta *relstore.LearningDelta) error {
	if err := d.store.AppendLearningDelta(ctx, delta); err != nil {
		return fmt.Errorf("dispatcher: append learning delta: %w", err)
	}
	return nil
}

// --- Freshness (C10) -----------------------------------------------------

// GetStaleFiles implements getStaleFiles: classify a project's tracked files
// against disk, returning the stale/deleted/fresh partition.
func (d *Dispatcher) GetStaleFiles(ctx context.Context, projectID, root string) (*freshness.Classification, error) {
	detector := freshness.New(d.store)
	c, err := detector.Classify(ctx, projectID, root)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: classify stale files: %w", err)
	}
	return c, nil
}

// --- Bulk transfer (C9) ---------------------------------------------------

// ExportAll delegates to bulk.Export.
func (d *Dispatcher) ExportAll(ctx context.Context, opts bulk.ExportOptions, now func() string) (*bulk.Envelope, error) {
	env, err := bulk.Export(ctx, d.store, opts, now)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: export: %w", err)
	}
	return env, nil
}

// RestoreAll delegates to bulk.Restore.
func (d *Dispatcher) RestoreAll(ctx context.Context, projectID string, env *bulk.Envelope, destructive bool) error {
	if err := bulk.Restore(ctx, d.store, projectID, env, destructive); err != nil {
		return fmt.Errorf("dispatcher: restore: %w", err)
	}
	return nil
}

// ImportAll delegates to bulk.Import, the destructive cross-backend path.
func (d *Dispatcher) ImportAll(ctx context.Context, projectID string, env *bulk.Envelope) (*bulk.ImportResult, error) {
	result, err := bulk.Import(ctx, d.store, projectID, env, d.log)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: import: %w", err)
	}
	return result, nil
}

// BackfillVector delegates to bulk.Backfill against the vector collection
// that matches the requested collection kind.
func (d *Dispatcher) BackfillVector(ctx context.Context, projectID string, collection bulk.BackfillCollection, dryRun bool) (*bulk.BackfillStats, error) {
	vector := d.vectorFor(collection)
	if vector == nil {
		return nil, storeerrors.Unsupported("dispatcher_no_vector_store", fmt.Sprintf("no vector store configured for collection %q", collection))
	}
	stats, err := bulk.Backfill(ctx, d.store, vector, projectID, collection, dryRun)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: backfill: %w", err)
	}
	return stats, nil
}

func (d *Dispatcher) vectorFor(collection bulk.BackfillCollection) vectorindex.Store {
	switch collection {
	case bulk.CollectionMemories:
		return d.memoryVector
	case bulk.CollectionGlobalMemories:
		return d.globalVector
	case bulk.CollectionDocuments:
		// Documents span both the code and docs corpora; backfill prefers the
		// code collection when both are wired, and falls back to docs when
		// only the doc corpus has a vector store configured.
		if d.codeVector != nil {
			return d.codeVector
		}
		return d.docsVector
	default:
		return nil
	}
}

// --- Hybrid search (C6) ----------------------------------------------------

// SearchMemories implements searchMemories, tallying a recall-query counter.
func (d *Dispatcher) SearchMemories(ctx context.Context, q hybridsearch.Query) (*hybridsearch.Response, error) {
	d.mu.Lock()
	d.counters.RecallQueries++
	d.mu.Unlock()
	return d.searchMemories.SearchMemories(ctx, q)
}

// HybridSearchCode implements hybridSearchCode, tallying a search-query
// counter.
func (d *Dispatcher) HybridSearchCode(ctx context.Context, q hybridsearch.DocQuery) ([]hybridsearch.DocResult, error) {
	d.mu.Lock()
	d.counters.SearchQueries++
	d.mu.Unlock()
	return d.searchCode.SearchDocuments(ctx, q, hybridsearch.CorpusCode)
}

// HybridSearchDocs implements hybridSearchDocs, tallying a search-query
// counter.
func (d *Dispatcher) HybridSearchDocs(ctx context.Context, q hybridsearch.DocQuery) ([]hybridsearch.DocResult, error) {
	d.mu.Lock()
	d.counters.SearchQueries++
	d.mu.Unlock()
	return d.searchDocs.SearchDocuments(ctx, q, hybridsearch.CorpusDocs)
}

// RecordWebSearchQuery tallies a web-search-query counter and an associated
// cost increment, for callers that dispatch web search themselves and just
// want their usage folded into the session's LearningDelta.
func (d *Dispatcher) RecordWebSearchQuery(cost float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counters.WebSearchQueries++
	d.counters.CostTally += cost
}
