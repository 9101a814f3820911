package hybridsearch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMMR_LambdaOnePicksByRelevanceOnly(t *testing.T) {
	candidates := []Scored{
		{ID: "a", Score: 0.9, Embedding: []float32{1, 0}},
		{ID: "b", Score: 0.8, Embedding: []float32{1, 0}}, // identical to a, would be penalized at lambda<1
		{ID: "c", Score: 0.1, Embedding: []float32{0, 1}},
	}
	got := MMR(candidates, 1.0, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestMMR_LowLambdaPrefersDiversity(t *testing.T) {
	candidates := []Scored{
		{ID: "a", Score: 0.9, Embedding: []float32{1, 0}},
		{ID: "b", Score: 0.85, Embedding: []float32{1, 0}}, // redundant with a
		{ID: "c", Score: 0.5, Embedding: []float32{0, 1}},  // orthogonal, diverse
	}
	got := MMR(candidates, 0.1, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestMMR_KLargerThanCandidatesReturnsAll(t *testing.T) {
	candidates := []Scored{{ID: "a", Score: 1, Embedding: []float32{1}}}
	got := MMR(candidates, 0.5, 10)
	assert.Len(t, got, 1)
}

func TestMMR_ZeroKReturnsEmpty(t *testing.T) {
	got := MMR([]Scored{{ID: "a", Score: 1}}, 0.5, 0)
	assert.Empty(t, got)
}

func TestCosineSimilarity_OrthogonalIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}))
}

func TestCosineSimilarity_MismatchedLengthIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1}))
}
