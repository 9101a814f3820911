package hybridsearch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinaes/succ-amanstore/internal/config"
	"github.com/vinaes/succ-amanstore/internal/embed"
	"github.com/vinaes/succ-amanstore/internal/lexicalindex"
	"github.com/vinaes/succ-amanstore/internal/memorygraph"
	"github.com/vinaes/succ-amanstore/internal/relstore"
	"github.com/vinaes/succ-amanstore/internal/temporal"
	"github.com/vinaes/succ-amanstore/internal/vectorindex"
)

// prefetchMultiplier is how far past k each lane is searched before fusion,
// per §4.6 step 1 ("top 3k" prefetch lanes).
const prefetchMultiplier = 3

// MemorySearcher implements the canonical recall operation (C6) over the
// memory corpus: RRF-fused candidate retrieval, temporal query
// decomposition, optional query expansion, the ordered post-filter/boost
// pipeline, and MMR diversification. It has no teacher equivalent; its
// control flow is grounded on internal/search.Engine.Search, generalized
// from chunk search to memory search with temporal validity semantics
// layered on top.
type MemorySearcher struct {
	Lexical  lexicalindex.Index
	Vector   vectorindex.Store
	Store    relstore.Store
	Graph    *memorygraph.Graph
	Embedder embed.Embedder // optional: embeds sub-queries for decomposition/expansion
	Expander Expander       // optional: off by default per §4.6 step 3
	Config   *config.Config
	Logger   *slog.Logger
}

// New constructs a MemorySearcher. lexical, vector and store are required;
// graph, embedder, expander and logger are optional.
func New(lexical lexicalindex.Index, vector vectorindex.Store, store relstore.Store, cfg *config.Config, opts ...Option) *MemorySearcher {
	s := &MemorySearcher{
		Lexical: lexical,
		Vector:  vector,
		Store:   store,
		Config:  cfg,
		Logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Option configures optional MemorySearcher collaborators.
type Option func(*MemorySearcher)

func WithGraph(g *memorygraph.Graph) Option { return func(s *MemorySearcher) { s.Graph = g } }
func WithEmbedder(e embed.Embedder) Option  { return func(s *MemorySearcher) { s.Embedder = e } }
func WithExpander(e Expander) Option        { return func(s *MemorySearcher) { s.Expander = e } }

// WithLogger overrides the default logger; a nil logger is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *MemorySearcher) {
		if l != nil {
			s.Logger = l
		}
	}
}

// Query describes one recall request.
type Query struct {
	Text       string
	Embedding  []float32
	ProjectID  string // memories matching this project OR global (empty ProjectID on the row)
	Limit      int
	ScoreFloor float64
	Tags       []string
	Since      *time.Time
	AsOf       *time.Time
}

// Result pairs a memory with its final fused/boosted score.
type Result struct {
	Memory       *relstore.Memory
	Score        float64
	MatchedTerms []string
}

// Readiness summarizes result confidence: how many results came back versus
// how many were expected (the requested limit), and their average similarity.
type Readiness struct {
	ResultCount   int
	ExpectedCount int
	AvgSimilarity float64
}

// Response is the full SearchMemories return value.
type Response struct {
	Results   []Result
	Readiness Readiness
}

// SearchMemories runs the full §4.6 algorithm: fused candidate retrieval,
// temporal decomposition, optional expansion, ordered post-filters, and MMR
// diversification.
func (s *MemorySearcher) SearchMemories(ctx context.Context, q Query) (*Response, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = s.Config.Retrieval.DefaultTopK
	}
	prefetch := limit * prefetchMultiplier
	if prefetch <= 0 {
		prefetch = prefetchMultiplier
	}

	merged := map[string]*Candidate{}
	primary, err := s.candidatePass(ctx, q.Text, q.Embedding, prefetch)
	if err != nil {
		return nil, err
	}
	for _, c := range primary {
		merged[c.ID] = c
	}

	// Step 2: temporal query decomposition.
	for _, sub := range DecomposeTemporal(q.Text) {
		subEmb, ok := s.embedSubQuery(ctx, sub)
		if !ok {
			continue
		}
		pass, err := s.candidatePass(ctx, sub, subEmb, prefetch)
		if err != nil {
			s.Logger.Warn("hybridsearch: temporal sub-query pass failed", "query", sub, "error", err)
			continue
		}
		MergeMaxByID(merged, pass)
	}

	// Step 3: optional query expansion (off by default).
	if s.Config.Retrieval.QueryExpansionEnabled && s.Expander != nil {
		paraphrases, err := s.Expander.Expand(q.Text, 3)
		if err != nil {
			s.Logger.Warn("hybridsearch: query expansion failed", "error", err)
		}
		for _, p := range paraphrases {
			subEmb, ok := s.embedSubQuery(ctx, p)
			if !ok {
				continue
			}
			pass, err := s.candidatePass(ctx, p, subEmb, prefetch)
			if err != nil {
				s.Logger.Warn("hybridsearch: expansion pass failed", "query", p, "error", err)
				continue
			}
			MergeMaxByID(merged, pass)
		}
	}

	candidates := make([]*Candidate, 0, len(merged))
	for _, c := range merged {
		candidates = append(candidates, c)
	}

	results, err := s.resolveAndFilter(ctx, candidates, q)
	if err != nil {
		return nil, err
	}

	results = s.applyBoosts(ctx, results, q)

	sortResults(results)

	if s.Config.Retrieval.MMREnabled && len(results) > limit {
		results = s.diversify(results, limit)
	} else if len(results) > limit {
		results = results[:limit]
	}

	if q.ScoreFloor > 0 {
		filtered := results[:0]
		for _, r := range results {
			if r.Score >= q.ScoreFloor {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}

	return &Response{Results: results, Readiness: readiness(results, limit)}, nil
}

// candidatePass runs the lexical and dense lanes concurrently and fuses them
// with RRF. An empty embedding skips the dense lane (text-only pass). The two
// lanes run under one errgroup so a slow vector engine doesn't serialize
// behind a slow lexical one, mirroring internal/search.Engine.parallelSearch.
func (s *MemorySearcher) candidatePass(ctx context.Context, text string, embedding []float32, prefetch int) ([]*Candidate, error) {
	var lex []*lexicalindex.Result
	var vec []*vectorindex.Result

	g, gctx := errgroup.WithContext(ctx)

	if s.Lexical != nil && text != "" {
		g.Go(func() error {
			var err error
			lex, err = s.Lexical.Search(gctx, text, prefetch)
			if err != nil {
				return fmt.Errorf("hybridsearch: lexical search: %w", err)
			}
			return nil
		})
	}

	if s.Vector != nil && len(embedding) > 0 {
		g.Go(func() error {
			var err error
			vec, err = s.Vector.Search(gctx, embedding, prefetch)
			if err != nil {
				return fmt.Errorf("hybridsearch: vector search: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	k := s.Config.Retrieval.RRFConstant
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return NewRRFFusionWithK(k).Fuse(lex, vec), nil
}

func (s *MemorySearcher) embedSubQuery(ctx context.Context, text string) ([]float32, bool) {
	if s.Embedder == nil || !s.Embedder.Available(ctx) {
		return nil, false
	}
	emb, err := s.Embedder.Embed(ctx, text)
	if err != nil {
		s.Logger.Warn("hybridsearch: sub-query embedding failed", "error", err)
		return nil, false
	}
	return emb, true
}

// resolveAndFilter fetches the memory row for each candidate and applies the
// point-in-time filter (§4.6 step 4, first bullet): project-or-global,
// invalidated_by is null, validity-at-T, since, and tag inclusion.
func (s *MemorySearcher) resolveAndFilter(ctx context.Context, candidates []*Candidate, q Query) ([]Result, error) {
	asOf := time.Now()
	if q.AsOf != nil {
		asOf = *q.AsOf
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		id, err := parseID(c.ID)
		if err != nil {
			continue
		}
		m, err := s.Store.GetMemory(ctx, id)
		if err != nil {
			if err == relstore.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("hybridsearch: resolve candidate %d: %w", id, err)
		}

		if q.ProjectID != "" && m.ProjectID != "" && m.ProjectID != q.ProjectID {
			continue
		}
		if m.InvalidatedBy != nil {
			continue
		}
		if m.CreatedAt.After(asOf) {
			continue
		}
		if m.ValidFrom != nil && m.ValidFrom.After(asOf) {
			continue
		}
		if m.ValidUntil != nil && !m.ValidUntil.After(asOf) {
			continue
		}
		if q.Since != nil && m.CreatedAt.Before(*q.Since) {
			continue
		}
		if !hasAllTags(m.Tags, q.Tags) {
			continue
		}

		results = append(results, Result{Memory: m, Score: c.RRFScore, MatchedTerms: c.MatchedTerms})
	}
	return results, nil
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

// applyBoosts runs the ordered post-filter/boost pipeline from §4.6 step 4,
// bullets 2-5: auto-skip-or-apply decay + access boost, dead-end boost,
// centrality boost, quality boost.
func (s *MemorySearcher) applyBoosts(ctx context.Context, results []Result, q Query) []Result {
	ret := s.Config.Retention
	now := time.Now()
	if q.AsOf != nil {
		now = *q.AsOf
	}

	ages := make([]float64, len(results))
	for i, r := range results {
		ages[i] = now.Sub(r.Memory.CreatedAt).Hours() / 24
	}
	skipDecay := ret.UseTemporalDecay && temporal.AllRecent(ages, 1.0)

	for i := range results {
		r := &results[i]
		m := r.Memory

		if ret.UseTemporalDecay && !skipDecay {
			r.Score = temporal.DecayWeight(r.Score, ages[i], ret.DecayRate)
			r.Score *= temporal.AccessBoost(m.AccessCount, ret.AccessWeight, ret.MaxAccessBoost)
		}

		if m.Type == relstore.MemoryTypeDeadEnd || containsTag(m.Tags, "dead-end") {
			r.Score = temporal.DeadEndBoost(r.Score, s.Config.DeadEndBoost)
		}

		if s.Config.Graph.Centrality.Enabled && s.Graph != nil {
			if c, err := s.Store.GetCentrality(ctx, m.ID); err == nil && c != nil {
				r.Score = temporal.CentralityBoost(r.Score, s.Config.Graph.Centrality.Weight, c.NormalizedDegree)
			}
		}

		if s.Config.QualityScoring.Enabled {
			r.Score = temporal.QualityBoost(r.Score, s.Config.Retrieval.QualityBoostWeight, m.QualityScore)
		}
	}
	return results
}

func containsTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// sortResults applies the tie-break order from §4.6's closing line: higher
// similarity, then more recent created_at, then smaller id.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Memory.CreatedAt.Equal(b.Memory.CreatedAt) {
			return a.Memory.CreatedAt.After(b.Memory.CreatedAt)
		}
		return a.Memory.ID < b.Memory.ID
	})
}

// diversify reranks with MMR over the dense embeddings, stopping at limit.
func (s *MemorySearcher) diversify(results []Result, limit int) []Result {
	scored := make([]Scored, len(results))
	byID := make(map[string]Result, len(results))
	for i, r := range results {
		id := fmt.Sprintf("%d", r.Memory.ID)
		scored[i] = Scored{ID: id, Score: r.Score, Embedding: r.Memory.Embedding}
		byID[id] = r
	}
	lambda := s.Config.Retrieval.MMRLambda
	picked := MMR(scored, lambda, limit)

	out := make([]Result, 0, len(picked))
	for _, p := range picked {
		out = append(out, byID[p.ID])
	}
	return out
}

func readiness(results []Result, expected int) Readiness {
	r := Readiness{ResultCount: len(results), ExpectedCount: expected}
	if len(results) == 0 {
		return r
	}
	var sum float64
	for _, res := range results {
		sum += res.Score
	}
	r.AvgSimilarity = sum / float64(len(results))
	return r
}

func parseID(s string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(s, "%d", &id)
	return id, err
}
