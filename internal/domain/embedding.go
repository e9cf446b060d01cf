package domain

import "context"

// EmbeddingResult is the output of one embedding call.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Embedder vectorizes text. Remote implementations honor the context
// deadline derived from the search's remote embedding budget.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
	// IsRemote reports whether calls leave the process (retry/timeout rules
	// only apply to remote embedders).
	IsRemote() bool
}
