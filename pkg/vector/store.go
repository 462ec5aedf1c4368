// Package vector defines the contract to the vector-search collaborator and
// its Qdrant implementation. Each tenant owns one collection; chunk point
// IDs are deterministic, so re-indexing a changed source overwrites its
// points in place and unchanged sources keep theirs.
package vector

import (
	"context"
)

// Point is one embedded chunk to store.
type Point struct {
	// ID is the point identifier (UUID string).
	ID string
	// Vector is the pre-computed embedding.
	Vector []float32
	// Payload holds retrieval metadata (chunk text, source URL, title, ...).
	Payload map[string]any
}

// SearchResult is one similarity hit.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Store persists and searches embedded chunks by generation collection.
// Implementations must be safe to call from multiple goroutines; jobs for
// different tenants upsert concurrently.
type Store interface {
	// EnsureCollection creates the collection if it does not already exist.
	EnsureCollection(ctx context.Context, name string, vectorSize uint64) error

	// Upsert stores or updates a batch of points in the collection.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search returns the top-k most similar points for the query vector.
	// Used by the retrieval collaborator through the active generation label.
	Search(ctx context.Context, collection string, queryVector []float32, topK int) ([]SearchResult, error)

	// DeleteCollection drops a tenant's collection, used by forced
	// rebuilds to clear points left by deleted sources.
	DeleteCollection(ctx context.Context, name string) error

	// Close releases any resources held by the store.
	Close() error
}
