package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/kailas-cloud/omnidex/internal/domain"
)

// LocalEmbedder produces deterministic feature-hashed vectors in process.
// It backs models without a remote provider prefix and keeps development
// setups independent of any API.
type LocalEmbedder struct {
	dim int
}

var _ domain.Embedder = (*LocalEmbedder)(nil)

// NewLocalEmbedder creates a local embedder of the given dimensionality.
func NewLocalEmbedder(dim int) *LocalEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &LocalEmbedder{dim: dim}
}

// Embed hashes character trigrams into a normalized dense vector.
func (e *LocalEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	vec := make([]float32, e.dim)
	runes := []rune(text)
	for i := 0; i+3 <= len(runes); i++ {
		h := fnv.New64a()
		_, _ = h.Write([]byte(string(runes[i : i+3])))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dim)) //nolint:gosec // bounded by dim
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vec[idx] += sign
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return domain.EmbeddingResult{Embedding: vec, TotalTokens: len(runes) / 4}, nil
}

// IsRemote reports that the local embedder never leaves the process.
func (e *LocalEmbedder) IsRemote() bool { return false }
