// Package embedding routes embedding calls to the configured provider
// variants and enforces the per-search remote embedding budget.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/domain"
)

// Dispatcher fans embedding calls out to the provider matching the model
// name prefix (openai/, azure/, google/, gcp/) or the local fallback.
type Dispatcher struct {
	providers map[string]domain.Embedder
	local     domain.Embedder
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher over named providers. local handles
// models without a recognized prefix.
func NewDispatcher(providers map[string]domain.Embedder, local domain.Embedder,
	logger *zap.Logger) *Dispatcher {
	return &Dispatcher{providers: providers, local: local, logger: logger}
}

// Resolve picks the provider for a model name like "openai/text-embedding-3".
func (d *Dispatcher) Resolve(modelName string) (domain.Embedder, error) {
	if prefix, _, ok := strings.Cut(modelName, "/"); ok {
		if e, found := d.providers[prefix]; found {
			return e, nil
		}
	}
	if d.local != nil {
		return d.local, nil
	}
	return nil, fmt.Errorf("%w: no embedding provider for model %q", domain.ErrInvalidArgument, modelName)
}

// Budget tracks the remote embedding time allowance of one search.
type Budget struct {
	SearchBegin time.Time
	TimeoutMs   int
	NumTries    int
}

// Remaining returns the unspent budget, or an error once exhausted.
func (b Budget) Remaining(now time.Time) (time.Duration, error) {
	if b.TimeoutMs <= 0 {
		return 0, nil
	}
	deadline := b.SearchBegin.Add(time.Duration(b.TimeoutMs) * time.Millisecond)
	if !now.Before(deadline) {
		return 0, fmt.Errorf("%w: remote embedding budget exhausted", domain.ErrTimeout)
	}
	return deadline.Sub(now), nil
}

// Embed calls the embedder under the search's budget, retrying remote
// failures up to NumTries. Any call whose accumulated latency would exceed
// the budget fails with Timeout.
func (d *Dispatcher) Embed(ctx context.Context, emb domain.Embedder, text string,
	budget Budget) (domain.EmbeddingResult, error) {
	if !emb.IsRemote() {
		return emb.Embed(ctx, text)
	}
	tries := budget.NumTries
	if tries < 1 {
		return domain.EmbeddingResult{}, fmt.Errorf(
			"%w: remote_embedding_num_tries must be at least 1", domain.ErrInvalidArgument)
	}

	attempt := func() (domain.EmbeddingResult, error) {
		callCtx := ctx
		if budget.TimeoutMs > 0 {
			remaining, err := budget.Remaining(time.Now())
			if err != nil {
				return domain.EmbeddingResult{}, err
			}
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, remaining)
			defer cancel()
		}
		return emb.Embed(callCtx, text)
	}

	var lastErr error
	for i := 0; i < tries; i++ {
		res, err := attempt()
		if err == nil {
			return res, nil
		}
		if errors.Is(err, domain.ErrTimeout) {
			return domain.EmbeddingResult{}, err
		}
		lastErr = err
		d.logger.Warn("remote embedding attempt failed",
			zap.Int("attempt", i+1), zap.Error(err))
	}
	return domain.EmbeddingResult{}, lastErr
}

// Combine folds multiple query embeddings into one vector: the unweighted
// average, or the weighted sum when weights are given. All embeddings must
// share a dimensionality.
func Combine(embeddings [][]float32, weights []float32) ([]float32, error) {
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings to combine", domain.ErrInvalidArgument)
	}
	dim := len(embeddings[0])
	for _, e := range embeddings[1:] {
		if len(e) != dim {
			return nil, fmt.Errorf("%w: embeddings have mismatched dimensions", domain.ErrInvalidArgument)
		}
	}
	out := make([]float32, dim)
	if len(weights) > 0 {
		if len(weights) != len(embeddings) {
			return nil, fmt.Errorf("%w: query_weights must match the number of queries",
				domain.ErrInvalidArgument)
		}
		for qi, e := range embeddings {
			for i, v := range e {
				out[i] += weights[qi] * v
			}
		}
		return out, nil
	}
	for _, e := range embeddings {
		for i, v := range e {
			out[i] += v
		}
	}
	n := float32(len(embeddings))
	for i := range out {
		out[i] /= n
	}
	return out, nil
}
