package vectorindex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures the external vector engine client.
type QdrantConfig struct {
	URL              string
	APIKey           string
	CollectionPrefix string
	SearchEF         int
	UseQuantization  bool
}

// QdrantStore implements Store against a Qdrant collection over gRPC. Point IDs
// are derived deterministically from the caller's string ID (Qdrant points only
// accept uint64 or UUID identifiers); the original string is kept in the point
// payload under extIDPayloadKey so Search and AllIDs can recover it.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimensions int
}

var _ Store = (*QdrantStore)(nil)

const extIDPayloadKey = "ext_id"

// pointNamespace seeds the deterministic UUID derivation, so the same
// external ID always maps to the same point ID.
var pointNamespace = uuid.MustParse("6f8f7fae-6b39-4b7a-9b6e-9b7a4b7a9b6e")

// NewQdrantStore dials Qdrant and ensures the named collection exists with the
// requested dimensionality, creating it with cosine distance if absent.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, collection string, dimensions int) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.URL,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	fullName := cfg.CollectionPrefix + collection

	exists, err := client.CollectionExists(ctx, fullName)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		hnswConfig := &qdrant.HnswConfigDiff{}
		if cfg.SearchEF > 0 {
			ef := uint64(cfg.SearchEF)
			hnswConfig.EfConstruct = &ef
		}

		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: fullName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
			HnswConfig: hnswConfig,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create collection %s: %w", fullName, err)
		}
	}

	return &QdrantStore{client: client, collection: fullName, dimensions: dimensions}, nil
}

func pointID(externalID string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(pointNamespace, []byte(externalID)).String())
}

// Add upserts vectors, tagging each point with its external ID in the payload.
func (s *QdrantStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	points := make([]*qdrant.PointStruct, 0, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != s.dimensions {
			return ErrDimensionMismatch{Expected: s.dimensions, Got: len(vectors[i])}
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{extIDPayloadKey: id}),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}

	return nil
}

// Search runs a dense nearest-neighbor query and returns results keyed by the
// caller's original external ID.
func (s *QdrantStore) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	if len(query) != s.dimensions {
		return nil, ErrDimensionMismatch{Expected: s.dimensions, Got: len(query)}
	}

	limit := uint64(k)
	withPayload := true
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayloadInclude(extIDPayloadKey),
	})
	_ = withPayload
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	results := make([]*Result, 0, len(points))
	for _, p := range points {
		extID := p.GetPayload()[extIDPayloadKey].GetStringValue()
		if extID == "" {
			continue
		}
		score := p.GetScore()
		results = append(results, &Result{
			ID:       extID,
			Distance: 1 - score,
			Score:    score,
		})
	}

	return results, nil
}

// Delete removes points by their external ID.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, pointID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDsSelector(pointIDs)),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete failed: %w", err)
	}

	return nil
}

// AllIDs scrolls the full collection to recover every external ID, used for
// cross-store consistency checks. Qdrant has no bulk "list all IDs" call, so
// this pages through Scroll until exhausted.
func (s *QdrantStore) AllIDs() []string {
	ctx := context.Background()

	var ids []string
	var offset *qdrant.PointId

	for {
		limit := uint32(1000)
		resp, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude(extIDPayloadKey),
		})
		if err != nil || len(resp) == 0 {
			break
		}

		for _, p := range resp {
			if extID := p.GetPayload()[extIDPayloadKey].GetStringValue(); extID != "" {
				ids = append(ids, extID)
			}
		}

		if len(resp) < int(limit) {
			break
		}
		offset = resp[len(resp)-1].GetId()
	}

	return ids
}

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
