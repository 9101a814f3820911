package hybridsearch

import "math"

// Scored is the minimal shape MMR needs: an id, a relevance score, and the
// dense embedding used to measure redundancy against already-selected items.
type Scored struct {
	ID        string
	Score     float64
	Embedding []float32
}

// MMR reranks candidates by maximal-marginal-relevance: at each step it picks
// the candidate maximizing lambda*relevance - (1-lambda)*max_similarity_to_selected,
// then stops once k items are selected (or candidates run out). lambda=1
// degrades to pure relevance ranking; lambda=0 to pure diversity.
func MMR(candidates []Scored, lambda float64, k int) []Scored {
	if k <= 0 || len(candidates) == 0 {
		return []Scored{}
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	remaining := make([]Scored, len(candidates))
	copy(remaining, candidates)
	selected := make([]Scored, 0, k)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestVal := math.Inf(-1)
		for i, c := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if sim := cosineSimilarity(c.Embedding, s.Embedding); sim > maxSim {
					maxSim = sim
				}
			}
			val := lambda*c.Score - (1-lambda)*maxSim
			if val > bestVal {
				bestVal = val
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// cosineSimilarity returns the cosine similarity of two vectors, 0 if either
// is empty or a zero vector (no embedding available for one side).
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
