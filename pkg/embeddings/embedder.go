// Package embeddings converts chunk text into dense vectors for the
// knowledge-base index. Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"fmt"
)

// Embedder converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector length produced by this embedder,
	// used to size the vector-store collection.
	Dimensions() int
}

// Config selects and configures an embedding provider.
type Config struct {
	// Provider is "local_hash" or "openai".
	Provider string
	// VectorSize is the embedding dimensionality (local_hash only; OpenAI
	// models fix their own size unless the API supports truncation).
	VectorSize int
	// BaseURL, Model and APIKey configure the openai provider.
	BaseURL string
	Model   string
	APIKey  string
}

// New constructs an Embedder for the configured provider.
func New(cfg *Config) (Embedder, error) {
	switch cfg.Provider {
	case "local_hash":
		return NewHashEmbedder(cfg.VectorSize), nil
	case "openai":
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.VectorSize,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported embeddings provider: %q", cfg.Provider)
	}
}
