// Package hybridsearch implements the hybrid recall algorithm (C6): RRF
// fusion of lexical and dense candidate lanes, temporal query decomposition,
// the ordered post-filter/boost pipeline built on internal/temporal, and MMR
// diversification. It is grounded on internal/search.Engine's fusion and
// decomposition style but operates over memories and documents rather than
// the teacher's chunk-only corpus.
package hybridsearch

import (
	"sort"

	"github.com/vinaes/succ-amanstore/internal/lexicalindex"
	"github.com/vinaes/succ-amanstore/internal/vectorindex"
)

// DefaultRRFConstant is the standard RRF smoothing constant (k=60).
const DefaultRRFConstant = 60

// Candidate is one fused result before post-filters are applied.
type Candidate struct {
	ID           string
	RRFScore     float64
	LexScore     float64
	LexRank      int
	VecScore     float64
	VecRank      int
	InBothLists  bool
	MatchedTerms []string
}

// RRFFusion combines a lexical lane and a dense lane with Reciprocal Rank
// Fusion: RRF(r) = Σ 1/(k + rank_in_lane(r)). A candidate absent from one
// lane gets 1/(k + missingRank) for that lane instead, where missingRank is
// one past the longer lane's length.
type RRFFusion struct {
	K int
}

// NewRRFFusion returns an RRFFusion with the default constant (60).
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK returns an RRFFusion with a custom constant; k<=0 falls
// back to the default.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse merges the two ranked lanes into one candidate list, sorted by RRF
// score descending with the tie-break order: RRFScore desc, InBothLists
// (true first), LexScore desc, ID asc.
func (f *RRFFusion) Fuse(lex []*lexicalindex.Result, vec []*vectorindex.Result) []*Candidate {
	if len(lex) == 0 && len(vec) == 0 {
		return []*Candidate{}
	}

	scores := make(map[string]*Candidate, len(lex)+len(vec))
	get := func(id string) *Candidate {
		if c, ok := scores[id]; ok {
			return c
		}
		c := &Candidate{ID: id}
		scores[id] = c
		return c
	}

	for rank, r := range lex {
		c := get(r.DocID)
		c.LexScore = r.Score
		c.LexRank = rank + 1
		c.MatchedTerms = r.MatchedTerms
		c.RRFScore += 1 / float64(f.K+rank+1)
	}

	for rank, r := range vec {
		c := get(r.ID)
		c.VecScore = float64(r.Score)
		c.VecRank = rank + 1
		c.RRFScore += 1 / float64(f.K+rank+1)
		if c.LexRank > 0 {
			c.InBothLists = true
		}
	}

	missingRank := f.missingRank(len(lex), len(vec))
	for _, c := range scores {
		if c.LexRank == 0 && c.VecRank > 0 {
			c.RRFScore += 1 / float64(f.K+missingRank)
		}
		if c.VecRank == 0 && c.LexRank > 0 {
			c.RRFScore += 1 / float64(f.K+missingRank)
		}
	}

	out := make([]*Candidate, 0, len(scores))
	for _, c := range scores {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return f.less(out[i], out[j]) })
	f.normalize(out)
	return out
}

func (f *RRFFusion) missingRank(lexLen, vecLen int) int {
	if lexLen > vecLen {
		return lexLen + 1
	}
	return vecLen + 1
}

func (f *RRFFusion) less(a, b *Candidate) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	if a.LexScore != b.LexScore {
		return a.LexScore > b.LexScore
	}
	return a.ID < b.ID
}

func (f *RRFFusion) normalize(results []*Candidate) {
	if len(results) == 0 {
		return
	}
	max := results[0].RRFScore
	if max == 0 {
		return
	}
	for _, r := range results {
		r.RRFScore /= max
	}
}

// MergeMaxByID unions a second candidate pass into the accumulator, keeping
// the max RRFScore per id when both sides carry the same id — the merge rule
// used for temporal sub-query and query-expansion passes (§4.6 steps 2-3),
// which is deliberately not RRF: it is a union, not a fusion of ranked lanes.
func MergeMaxByID(acc map[string]*Candidate, extra []*Candidate) {
	for _, c := range extra {
		existing, ok := acc[c.ID]
		if !ok || c.RRFScore > existing.RRFScore {
			acc[c.ID] = c
		}
	}
}
