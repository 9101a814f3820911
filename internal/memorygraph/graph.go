// Package memorygraph implements the memory graph (C7): directed, typed edges
// between memories, auto-linking by dense similarity, breadth-first traversal
// bounded by depth, and a centrality sweep used as a ranking boost by the
// hybrid search engine (C6). There is no teacher equivalent for this feature;
// it is built fresh in the idiom of internal/search.Engine — interfaces over
// the relational store and slog instrumentation.
package memorygraph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	storeerrors "github.com/vinaes/succ-amanstore/internal/errors"
	"github.com/vinaes/succ-amanstore/internal/relstore"
	"github.com/vinaes/succ-amanstore/internal/vectorindex"
)

// Graph is the memory-graph façade: link CRUD, traversal, auto-linking, and
// centrality, backed by one relational Store and one memories vector Store.
type Graph struct {
	store  relstore.Store
	vector vectorindex.Store
	logger *slog.Logger
}

// New constructs a Graph. vector may be nil, in which case AutoLink is
// unavailable (returns an Unsupported error).
func New(store relstore.Store, vector vectorindex.Store, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{store: store, vector: vector, logger: logger}
}

// validRelations enumerates the eight relation kinds from §3; CreateLink
// rejects anything else as a ValidationError.
var validRelations = map[relstore.LinkRelation]bool{
	relstore.RelationRelated:     true,
	relstore.RelationCausedBy:    true,
	relstore.RelationLeadsTo:     true,
	relstore.RelationSimilarTo:   true,
	relstore.RelationContradicts: true,
	relstore.RelationImplements:  true,
	relstore.RelationSupersedes:  true,
	relstore.RelationReferences:  true,
}

// CreateLink upserts a directed edge between two memories. A duplicate
// (sourceID, targetID, relation) is idempotent: the existing link's id is
// returned with created=false rather than surfacing a Conflict.
func (g *Graph) CreateLink(ctx context.Context, sourceID, targetID int64, relation relstore.LinkRelation, weight float64, validFrom, validUntil *time.Time) (int64, bool, error) {
	if !validRelations[relation] {
		return 0, false, storeerrors.Validation("unknown_relation", fmt.Sprintf("unknown link relation: %q", relation))
	}
	if sourceID == targetID {
		return 0, false, storeerrors.Validation("self_link", "a memory cannot link to itself")
	}

	link := &relstore.MemoryLink{
		SourceID:   sourceID,
		TargetID:   targetID,
		Relation:   relation,
		Weight:     weight,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
	}
	id, created, err := g.store.CreateLink(ctx, link)
	if err != nil {
		return 0, false, storeerrors.Wrap(storeerrors.KindTransientBackend, "create_link_failed", err)
	}
	return id, created, nil
}

// InvalidateLink sets valid_until = now on the (source, target, relation)
// edge, marking it no-longer-effective without hard-deleting it.
func (g *Graph) InvalidateLink(ctx context.Context, sourceID, targetID int64, relation relstore.LinkRelation) error {
	if err := g.store.InvalidateLink(ctx, sourceID, targetID, relation); err != nil {
		return storeerrors.Wrap(storeerrors.KindTransientBackend, "invalidate_link_failed", err)
	}
	return nil
}

// DefaultAutoLinkMaxLinks is the conservative default cap applied when a
// caller passes maxLinks <= 0.
const DefaultAutoLinkMaxLinks = 5

// AutoLink finds memories near memoryID by dense similarity and creates
// similar_to edges to the closest maxLinks of them whose score is at or
// above threshold. It never links a memory to itself and never creates more
// than maxLinks edges (§8 invariant 6).
func (g *Graph) AutoLink(ctx context.Context, memoryID int64, embedding []float32, threshold float64, maxLinks int) ([]*relstore.MemoryLink, error) {
	if g.vector == nil {
		return nil, storeerrors.Unsupported("auto_link_no_vector_store", "auto-linking requires a vector store")
	}
	if maxLinks <= 0 {
		maxLinks = DefaultAutoLinkMaxLinks
	}

	// Over-fetch to allow for filtering out the self-match and sub-threshold
	// neighbors while still reaching maxLinks when enough candidates qualify.
	candidates, err := g.vector.Search(ctx, embedding, maxLinks+1)
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "auto_link_search_failed", err)
	}

	selfID := fmt.Sprintf("%d", memoryID)
	var created []*relstore.MemoryLink
	for _, c := range candidates {
		if len(created) >= maxLinks {
			break
		}
		if c.ID == selfID {
			continue
		}
		if float64(c.Score) < threshold {
			continue
		}
		targetID, err := parseMemoryID(c.ID)
		if err != nil {
			g.logger.Warn("auto_link: skipping non-integer candidate id", "id", c.ID, "error", err)
			continue
		}

		id, _, err := g.CreateLink(ctx, memoryID, targetID, relstore.RelationSimilarTo, float64(c.Score), nil, nil)
		if err != nil {
			g.logger.Warn("auto_link: failed to create link", "source", memoryID, "target", targetID, "error", err)
			continue
		}
		created = append(created, &relstore.MemoryLink{
			ID:       id,
			SourceID: memoryID,
			TargetID: targetID,
			Relation: relstore.RelationSimilarTo,
			Weight:   float64(c.Score),
		})
	}
	return created, nil
}

func parseMemoryID(s string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(s, "%d", &id)
	return id, err
}

// ConnectedMemory is one result of FindConnected: the memory found, its BFS
// depth from the origin, and the path of memory IDs (origin-first) that
// reached it.
type ConnectedMemory struct {
	Memory *relstore.Memory
	Depth  int
	Path   []int64
}

// DefaultMaxDepth is applied when a caller passes maxDepth <= 0.
const DefaultMaxDepth = 2

// FindConnected performs a breadth-first traversal of effective links
// starting at memoryID, returning every memory reachable within maxDepth
// hops (§8 invariant 7: only memories whose shortest path is <= maxDepth).
func (g *Graph) FindConnected(ctx context.Context, memoryID int64, maxDepth int, asOf *time.Time) ([]ConnectedMemory, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	type frontierEntry struct {
		id   int64
		path []int64
	}

	visited := map[int64]bool{memoryID: true}
	frontier := []frontierEntry{{id: memoryID, path: []int64{memoryID}}}
	var results []ConnectedMemory

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []frontierEntry
		for _, entry := range frontier {
			links, err := g.store.ListLinks(ctx, entry.id, asOf)
			if err != nil {
				return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "find_connected_list_links_failed", err)
			}
			for _, l := range links {
				neighbor := l.TargetID
				if neighbor == entry.id {
					neighbor = l.SourceID
				}
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true

				mem, err := g.store.GetMemory(ctx, neighbor)
				if err != nil {
					return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "find_connected_get_memory_failed", err)
				}
				if mem == nil {
					continue
				}
				path := append(append([]int64{}, entry.path...), neighbor)
				results = append(results, ConnectedMemory{Memory: mem, Depth: depth, Path: path})
				next = append(next, frontierEntry{id: neighbor, path: path})
			}
		}
		frontier = next
	}

	return results, nil
}

// Stats summarizes the shape of the memory graph, as returned by
// GetGraphStats.
type Stats struct {
	TotalMemories    int
	TotalLinks       int
	AvgLinksPerMemory float64
	IsolatedMemories int
	RelationCounts   map[relstore.LinkRelation]int
}

// GetGraphStats walks every memory and its effective links to compute
// aggregate graph statistics. It is O(memories) relational round-trips; the
// centrality sweep shares the same walk.
func (g *Graph) GetGraphStats(ctx context.Context, projectID string) (*Stats, error) {
	memories, err := g.store.ListMemories(ctx, relstore.MemoryFilter{ProjectID: projectID, IncludeInvalid: true, Limit: 0})
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "graph_stats_list_memories_failed", err)
	}

	stats := &Stats{
		TotalMemories:  len(memories),
		RelationCounts: make(map[relstore.LinkRelation]int),
	}

	seenEdges := make(map[int64]bool)
	linksPerMemory := 0
	for _, m := range memories {
		links, err := g.store.ListLinks(ctx, m.ID, nil)
		if err != nil {
			return nil, storeerrors.Wrap(storeerrors.KindTransientBackend, "graph_stats_list_links_failed", err)
		}
		if len(links) == 0 {
			stats.IsolatedMemories++
			continue
		}
		for _, l := range links {
			if !seenEdges[l.ID] {
				seenEdges[l.ID] = true
				stats.TotalLinks++
				stats.RelationCounts[l.Relation]++
			}
			linksPerMemory++
		}
	}
	if stats.TotalMemories > 0 {
		stats.AvgLinksPerMemory = float64(linksPerMemory) / float64(stats.TotalMemories)
	}
	return stats, nil
}

// RecomputeCentrality recomputes degree and normalized degree for every
// memory in the given project (empty projectID sweeps every project and the
// global namespace together, matching how relstore treats an empty filter).
// It is a full recompute, not incremental; the caller is expected to
// schedule it periodically rather than after every link mutation.
func (g *Graph) RecomputeCentrality(ctx context.Context, projectID string) error {
	memories, err := g.store.ListMemories(ctx, relstore.MemoryFilter{ProjectID: projectID, IncludeInvalid: true, Limit: 0})
	if err != nil {
		return storeerrors.Wrap(storeerrors.KindTransientBackend, "centrality_list_memories_failed", err)
	}

	degree := make(map[int64]int, len(memories))
	maxDegree := 0
	for _, m := range memories {
		links, err := g.store.ListLinks(ctx, m.ID, nil)
		if err != nil {
			return storeerrors.Wrap(storeerrors.KindTransientBackend, "centrality_list_links_failed", err)
		}
		degree[m.ID] = len(links)
		if len(links) > maxDegree {
			maxDegree = len(links)
		}
	}

	rows := make([]*relstore.Centrality, 0, len(memories))
	now := time.Now()
	for _, m := range memories {
		normalized := 0.0
		if maxDegree > 0 {
			normalized = float64(degree[m.ID]) / float64(maxDegree)
		}
		rows = append(rows, &relstore.Centrality{
			MemoryID:         m.ID,
			Degree:           degree[m.ID],
			NormalizedDegree: normalized,
			UpdatedAt:        now,
		})
	}

	if len(rows) == 0 {
		return nil
	}
	if err := g.store.SaveCentrality(ctx, rows); err != nil {
		return storeerrors.Wrap(storeerrors.KindTransientBackend, "centrality_save_failed", err)
	}
	g.logger.Info("memorygraph: recomputed centrality", "memories", len(rows), "max_degree", maxDegree)
	return nil
}
