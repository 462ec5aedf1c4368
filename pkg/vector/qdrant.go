package vector

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string
	// Port is the Qdrant gRPC port (default: 6334).
	Port int
	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string
	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements Store backed by a Qdrant instance.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore creates a QdrantStore connected to the configured instance.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client}, nil
}

var _ Store = (*QdrantStore)(nil)

// EnsureCollection creates the collection with cosine distance if absent.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, vectorSize uint64) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
	}

	return nil
}

// Upsert stores or updates a batch of points with their embeddings.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert into %q failed: %w", collection, err)
	}

	return nil
}

// Search performs a cosine similarity search and returns the top-k results.
func (s *QdrantStore) Search(ctx context.Context, collection string, queryVector []float32, topK int) ([]SearchResult, error) {
	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search in %q failed: %w", collection, err)
	}

	hits := make([]SearchResult, 0, len(results))
	for _, r := range results {
		hit := SearchResult{
			ID:      r.Id.GetUuid(),
			Score:   r.Score,
			Payload: make(map[string]any, len(r.Payload)),
		}
		for k, v := range r.Payload {
			hit.Payload[k] = payloadValue(v)
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

// payloadValue converts a Qdrant payload value back to its Go form.
// Chunk payloads mix strings (text, source_id) and integers (ordinal),
// so flattening everything through GetStringValue would lose the
// numeric fields.
func payloadValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, payloadValue(item))
		}
		return out
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for name, field := range fields {
			out[name] = payloadValue(field)
		}
		return out
	default:
		return nil
	}
}

// DeleteCollection drops the collection. Missing collections are not an error.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("qdrant: failed to delete collection %q: %w", name, err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
