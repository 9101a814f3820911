package hybridsearch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinaes/succ-amanstore/internal/lexicalindex"
	"github.com/vinaes/succ-amanstore/internal/vectorindex"
)

func TestFuse_EmptyBothLanes(t *testing.T) {
	got := NewRRFFusion().Fuse(nil, nil)
	assert.Empty(t, got)
}

func TestFuse_DocumentInBothListsRanksAboveSingleList(t *testing.T) {
	lex := []*lexicalindex.Result{{DocID: "1", Score: 5}, {DocID: "2", Score: 4}}
	vec := []*vectorindex.Result{{ID: "1", Score: 0.9}, {ID: "3", Score: 0.8}}

	got := NewRRFFusion().Fuse(lex, vec)
	require.NotEmpty(t, got)
	assert.Equal(t, "1", got[0].ID)
	assert.True(t, got[0].InBothLists)
}

func TestFuse_TopResultNormalizedToOne(t *testing.T) {
	lex := []*lexicalindex.Result{{DocID: "1", Score: 5}}
	got := NewRRFFusion().Fuse(lex, nil)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].RRFScore, 1e-9)
}

func TestFuse_LessTieBreaksByIDWhenScoresEqual(t *testing.T) {
	f := NewRRFFusion()
	a := &Candidate{ID: "a", RRFScore: 0.5, InBothLists: false, LexScore: 1}
	b := &Candidate{ID: "b", RRFScore: 0.5, InBothLists: false, LexScore: 1}
	assert.True(t, f.less(a, b))
	assert.False(t, f.less(b, a))
}

func TestFuse_LessPrefersInBothListsOnRRFTie(t *testing.T) {
	f := NewRRFFusion()
	both := &Candidate{ID: "z", RRFScore: 0.5, InBothLists: true}
	single := &Candidate{ID: "a", RRFScore: 0.5, InBothLists: false}
	assert.True(t, f.less(both, single))
}

func TestNewRRFFusionWithK_NonPositiveFallsBackToDefault(t *testing.T) {
	f := NewRRFFusionWithK(0)
	assert.Equal(t, DefaultRRFConstant, f.K)
	f = NewRRFFusionWithK(-5)
	assert.Equal(t, DefaultRRFConstant, f.K)
}

func TestMergeMaxByID_KeepsHigherScore(t *testing.T) {
	acc := map[string]*Candidate{"1": {ID: "1", RRFScore: 0.2}}
	MergeMaxByID(acc, []*Candidate{{ID: "1", RRFScore: 0.5}, {ID: "2", RRFScore: 0.1}})
	assert.InDelta(t, 0.5, acc["1"].RRFScore, 1e-9)
	assert.InDelta(t, 0.1, acc["2"].RRFScore, 1e-9)
}
