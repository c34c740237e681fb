package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/mnemora-ai/mnemora/pkg/provider/embeddings"
	openaiembed "github.com/mnemora-ai/mnemora/pkg/provider/embeddings/openai"
	"github.com/mnemora-ai/mnemora/pkg/provider/llm"
	"github.com/mnemora-ai/mnemora/pkg/provider/llm/anyllm"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LLMFactory builds an [llm.Provider] from the LLM config block and one
// concrete API key. The key is a parameter (not read from cfg) because the
// credential pool instantiates one provider per rotated key.
type LLMFactory func(cfg LLMConfig, apiKey string) (llm.Provider, error)

// EmbeddingsFactory builds a dedicated [embeddings.Provider] from the
// embeddings config block.
type EmbeddingsFactory func(cfg EmbeddingsConfig) (embeddings.Provider, error)

// Registry maps provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]LLMFactory
	embeddings map[string]EmbeddingsFactory
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]LLMFactory),
		embeddings: make(map[string]EmbeddingsFactory),
	}
}

// DefaultRegistry returns a [Registry] pre-populated with the built-in
// providers: every chat backend any-llm-go supports, and the OpenAI
// embedding API.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	for _, name := range ValidLLMNames {
		r.RegisterLLM(name, anyLLMFactory(name))
	}
	r.RegisterEmbeddings("openai", func(cfg EmbeddingsConfig) (embeddings.Provider, error) {
		return openaiembed.New(cfg.APIKey, cfg.Model)
	})

	return r
}

// anyLLMFactory adapts the anyllm constructor for one provider name.
func anyLLMFactory(name string) LLMFactory {
	return func(cfg LLMConfig, apiKey string) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if apiKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(apiKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
		}
		return anyllm.New(name, cfg.Model, opts...)
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory EmbeddingsFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under
// cfg.Name, bound to the given API key.
// Returns [ErrProviderNotRegistered] if no factory is registered for that name.
func (r *Registry) CreateLLM(cfg LLMConfig, apiKey string) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg, apiKey)
}

// CreateEmbeddings instantiates an embeddings provider using the factory
// registered under name.
func (r *Registry) CreateEmbeddings(name string, cfg EmbeddingsConfig) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}
