package resilience

import (
	"context"

	"github.com/mnemora-ai/mnemora/pkg/provider/embeddings"
)

// EmbeddingFallback implements [embeddings.Provider] with automatic failover
// across multiple embedding backends. The intended shape is a dedicated
// embedding API as primary and the chat-model synthesizer as fallback, so
// retrieval keeps working when the embedding endpoint is down.
//
// Each backend has its own circuit breaker; when the primary fails or its
// breaker is open, the next healthy fallback is tried.
type EmbeddingFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingFallback)(nil)

// NewEmbeddingFallback creates an [EmbeddingFallback] with primary as the
// preferred backend.
func NewEmbeddingFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingFallback {
	return &EmbeddingFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional embedding provider as a fallback.
func (f *EmbeddingFallback) AddFallback(name string, provider embeddings.Provider) {
	f.group.AddFallback(name, provider)
}

// Embed returns the embedding from the first healthy provider.
func (f *EmbeddingFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch returns the embeddings from the first healthy provider. The
// whole batch goes to a single backend; mixing vectors from different models
// in one batch would make them incomparable.
func (f *EmbeddingFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the primary's output dimension. Fallbacks are expected
// to be normalized to the same width; the synthesizer pads or truncates to
// guarantee it.
func (f *EmbeddingFallback) Dimensions() int {
	return f.group.Primary().Dimensions()
}

// ModelID returns the primary's model identifier.
func (f *EmbeddingFallback) ModelID() string {
	return f.group.Primary().ModelID()
}
