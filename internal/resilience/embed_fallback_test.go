package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	embedmock "github.com/mnemora-ai/mnemora/pkg/provider/embeddings/mock"
)

func TestEmbeddingFallback_PrimaryWins(t *testing.T) {
	primary := &embedmock.Provider{
		EmbedResult:     []float32{1, 0},
		ModelIDValue:    "primary-model",
		DimensionsValue: 2,
	}
	secondary := &embedmock.Provider{EmbedResult: []float32{0, 1}, DimensionsValue: 2}

	f := NewEmbeddingFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	vec, err := f.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vec[0] != 1 {
		t.Errorf("vec = %v, want primary's vector", vec)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary was called %d times, want 0", secondary.CallCount())
	}
	if f.ModelID() != "primary-model" {
		t.Errorf("ModelID = %q, want primary-model", f.ModelID())
	}
	if f.Dimensions() != 2 {
		t.Errorf("Dimensions = %d, want 2", f.Dimensions())
	}
}

func TestEmbeddingFallback_FailsOverToSecondary(t *testing.T) {
	primary := &embedmock.Provider{EmbedErr: errTest, DimensionsValue: 2}
	secondary := &embedmock.Provider{EmbedResult: []float32{0, 1}, DimensionsValue: 2}

	f := NewEmbeddingFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	vec, err := f.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vec[1] != 1 {
		t.Errorf("vec = %v, want secondary's vector", vec)
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary calls = %d, want 1", primary.CallCount())
	}
}

func TestEmbeddingFallback_AllFail(t *testing.T) {
	primary := &embedmock.Provider{EmbedErr: errTest, DimensionsValue: 2}
	secondary := &embedmock.Provider{EmbedErr: errTest, DimensionsValue: 2}

	f := NewEmbeddingFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	_, err := f.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestEmbeddingFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &embedmock.Provider{EmbedErr: errTest, DimensionsValue: 2}
	secondary := &embedmock.Provider{EmbedResult: []float32{0, 1}, DimensionsValue: 2}

	f := NewEmbeddingFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	f.AddFallback("secondary", secondary)

	for i := 0; i < 3; i++ {
		if _, err := f.Embed(context.Background(), "hello"); err != nil {
			t.Fatalf("Embed %d: %v", i, err)
		}
	}
	// Two failures opened the primary's breaker; the third call skipped it.
	if primary.CallCount() != 2 {
		t.Errorf("primary calls = %d, want 2 (breaker open after that)", primary.CallCount())
	}
	if secondary.CallCount() != 3 {
		t.Errorf("secondary calls = %d, want 3", secondary.CallCount())
	}
}

func TestEmbeddingFallback_EmbedBatchSingleBackend(t *testing.T) {
	primary := &embedmock.Provider{EmbedResult: []float32{1, 0}, DimensionsValue: 2}
	f := NewEmbeddingFallback(primary, "primary", FallbackConfig{})

	vecs, err := f.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("vecs = %d, want 3", len(vecs))
	}
}
