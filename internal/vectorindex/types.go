// Package vectorindex provides the dense-vector half of hybrid retrieval (C4): a
// built-in pure-Go HNSW graph for the embedded deployment, and an external Qdrant
// client for the networked deployment. Both implement Store so the dispatcher
// can swap backends per storage.vector config without changing call sites.
package vectorindex

import (
	"context"
	"fmt"
)

// Result is a single nearest-neighbor match.
type Result struct {
	ID       string
	Distance float32 // lower is more similar
	Score    float32 // normalized similarity, 0-1
}

// Config tunes index construction and search quality. HNSWStore applies
// Dimensions, Metric, M and EfSearch; Quantization and EfConstruction are kept
// in the saved metadata but not applied to the graph.
type Config struct {
	Dimensions     int
	Quantization   string // "f32", "f16", "i8"
	Metric         string // "cos", "l2"
	M              int    // HNSW max connections per layer
	EfConstruction int    // HNSW build-time search width
	EfSearch       int    // HNSW query-time search width
}

// DefaultConfig returns sensible defaults for a given embedding dimensionality.
func DefaultConfig(dimensions int) Config {
	return Config{
		Dimensions:     dimensions,
		Quantization:   "f16",
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// Store provides nearest-neighbor search over one named vector collection (a
// project's code index, a project's doc index, or the global memory index).
type Store interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*Result, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Close() error
}

// ErrDimensionMismatch is returned when a vector's length does not match the
// collection's configured dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (reindex with the new embedding model)", e.Expected, e.Got)
}
