package hybridsearch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vinaes/succ-amanstore/internal/relstore"
)

// Corpus selects which half of a project's Document corpus a document search
// targets, per relstore's "code:" FilePath-prefix convention (§3).
type Corpus int

const (
	CorpusCode Corpus = iota
	CorpusDocs
)

const codePrefix = "code:"

// DocQuery describes a hybridSearchCode / hybridSearchDocs request. Document
// chunks carry no type/quality_score/access_count, so this path runs RRF
// fusion and MMR only — none of the memory-specific temporal/quality boosts
// in applyBoosts apply here.
type DocQuery struct {
	Text      string
	Embedding []float32
	ProjectID string
	Limit     int
}

// DocResult pairs a document chunk with its fused score.
type DocResult struct {
	Document     *relstore.Document
	Score        float64
	MatchedTerms []string
}

// SearchDocuments implements hybridSearchCode (corpus=CorpusCode) and
// hybridSearchDocs (corpus=CorpusDocs): fused lexical+dense retrieval over
// one project's document corpus, filtered to the requested half by FilePath
// prefix, then MMR diversification.
func (s *MemorySearcher) SearchDocuments(ctx context.Context, q DocQuery, corpus Corpus) ([]DocResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = s.Config.Retrieval.DefaultTopK
	}
	prefetch := limit * prefetchMultiplier
	if prefetch <= 0 {
		prefetch = prefetchMultiplier
	}

	candidates, err := s.candidatePass(ctx, q.Text, q.Embedding, prefetch)
	if err != nil {
		return nil, err
	}

	results := make([]DocResult, 0, len(candidates))
	for _, c := range candidates {
		id, err := parseID(c.ID)
		if err != nil {
			continue
		}
		docs, err := s.Store.GetDocuments(ctx, []int64{id})
		if err != nil {
			return nil, fmt.Errorf("hybridsearch: resolve document %d: %w", id, err)
		}
		if len(docs) == 0 {
			continue
		}
		doc := docs[0]
		if q.ProjectID != "" && doc.ProjectID != q.ProjectID {
			continue
		}
		if !matchesCorpus(doc.FilePath, corpus) {
			continue
		}
		results = append(results, DocResult{Document: doc, Score: c.RRFScore, MatchedTerms: c.MatchedTerms})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Document.CreatedAt.Equal(b.Document.CreatedAt) {
			return a.Document.CreatedAt.After(b.Document.CreatedAt)
		}
		return a.Document.ID < b.Document.ID
	})

	if s.Config.Retrieval.MMREnabled && len(results) > limit {
		results = s.diversifyDocs(results, limit)
	} else if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func matchesCorpus(filePath string, corpus Corpus) bool {
	isCode := strings.HasPrefix(filePath, codePrefix)
	if corpus == CorpusCode {
		return isCode
	}
	return !isCode
}

// CorpusOf classifies a document's FilePath using the same "code:" prefix
// convention matchesCorpus checks, so callers outside this package (the
// dispatcher routing upserts to the right vector collection) stay in sync
// with the search-side classification.
func CorpusOf(filePath string) Corpus {
	if strings.HasPrefix(filePath, codePrefix) {
		return CorpusCode
	}
	return CorpusDocs
}

func (s *MemorySearcher) diversifyDocs(results []DocResult, limit int) []DocResult {
	scored := make([]Scored, len(results))
	byID := make(map[string]DocResult, len(results))
	for i, r := range results {
		id := fmt.Sprintf("%d", r.Document.ID)
		scored[i] = Scored{ID: id, Score: r.Score, Embedding: r.Document.Embedding}
		byID[id] = r
	}
	picked := MMR(scored, s.Config.Retrieval.MMRLambda, limit)

	out := make([]DocResult, 0, len(picked))
	for _, p := range picked {
		out = append(out, byID[p.ID])
	}
	return out
}
