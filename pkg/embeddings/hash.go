package embeddings

import (
	"context"
	"math"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]{2,}`)

// HashEmbedder produces deterministic bag-of-words vectors by FNV-1a token
// hashing with L2 normalization. It needs no external service, which keeps
// the indexing pipeline runnable offline and in tests. Retrieval quality is
// lexical rather than semantic.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a HashEmbedder with the given dimensionality.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

var _ Embedder = (*HashEmbedder)(nil)

// Embed converts texts into normalized hash vectors. It never fails.
func (e *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embedOne(text)
	}
	return vectors, nil
}

// Dimensions returns the configured vector length.
func (e *HashEmbedder) Dimensions() int {
	return e.dim
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float64, e.dim)
	for _, token := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		h := fnv1a32(token)
		idx := int(h % uint32(e.dim))
		if (h>>31)&1 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}

	out := make([]float32, e.dim)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func fnv1a32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
