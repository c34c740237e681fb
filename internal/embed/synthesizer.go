// Package embed synthesizes embedding vectors out of a generative text model.
//
// Some deployments have no embeddings endpoint at all — only chat-completion
// access, often spread across several rate-limited API keys. [Synthesizer]
// bridges that gap: it prompts the chat model to emit a JSON array of floats
// for the input text, parses the first well-formed numeric array out of the
// free-form reply, and normalizes it to a fixed dimensionality.
//
// The resulting vectors are far weaker than purpose-built embeddings, but
// they live in a consistent space per model and are good enough for
// coarse-grained similarity recall. Synthesizer implements
// [embeddings.Provider], so the rest of the system cannot tell the
// difference.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mnemora-ai/mnemora/internal/credential"
	"github.com/mnemora-ai/mnemora/pkg/provider/embeddings"
	"github.com/mnemora-ai/mnemora/pkg/provider/llm"
	"github.com/mnemora-ai/mnemora/pkg/types"
)

// ErrUnparsableReply is returned when the model reply contains no well-formed
// JSON numeric array in any attempt.
var ErrUnparsableReply = errors.New("embed: no numeric array found in model reply")

// DefaultDimensions is the vector length produced when none is configured.
// It matches OpenAI's text-embedding-3-small so synthesized vectors can share
// an index with real embeddings of the same width.
const DefaultDimensions = 1536

// DefaultAttempts is how many credential rotations Embed tries before
// giving up.
const DefaultAttempts = 3

// ProviderFactory builds an LLM provider bound to one API key. The
// synthesizer calls it once per pool credential and caches the result.
type ProviderFactory func(secret string) (llm.Provider, error)

// Synthesizer derives embedding vectors from chat completions.
// It is safe for concurrent use.
type Synthesizer struct {
	pool     *credential.Pool
	factory  ProviderFactory
	dims     int
	attempts int

	mu        sync.Mutex
	providers map[int]llm.Provider
}

// Option is a functional option for [New].
type Option func(*Synthesizer)

// WithDimensions sets the output vector length. Defaults to 1536.
func WithDimensions(d int) Option {
	return func(s *Synthesizer) {
		if d > 0 {
			s.dims = d
		}
	}
}

// WithAttempts sets how many credentials Embed tries before failing.
// Defaults to 3.
func WithAttempts(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// New creates a [Synthesizer] drawing credentials from pool and building
// per-key providers via factory.
func New(pool *credential.Pool, factory ProviderFactory, opts ...Option) (*Synthesizer, error) {
	if pool == nil {
		return nil, errors.New("embed: credential pool is required")
	}
	if factory == nil {
		return nil, errors.New("embed: provider factory is required")
	}

	s := &Synthesizer{
		pool:      pool,
		factory:   factory,
		dims:      DefaultDimensions,
		attempts:  DefaultAttempts,
		providers: make(map[int]llm.Provider),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

var _ embeddings.Provider = (*Synthesizer)(nil)

// Embed implements embeddings.Provider.
//
// Each attempt acquires the next pool credential, asks its model for a
// numeric array, and parses the reply. Provider failures are classified:
// quota and rate-limit errors mark the credential exhausted, auth errors mark
// it invalid; both rotate to the next key. Parse failures consume an attempt
// without penalizing the credential. When all attempts are spent the last
// error is returned.
func (s *Synthesizer) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error

	for attempt := 0; attempt < s.attempts; attempt++ {
		cred, err := s.pool.Acquire()
		if err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("embed: %w (last provider error: %v)", err, lastErr)
			}
			return nil, fmt.Errorf("embed: %w", err)
		}

		p, err := s.providerFor(cred)
		if err != nil {
			lastErr = err
			continue
		}

		resp, err := p.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: synthesisSystemPrompt(s.dims),
			Messages: []types.Message{
				{Role: "user", Content: text},
			},
			Temperature: 0,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("embed: %w", ctx.Err())
			}
			switch Classify(err) {
			case FailureExhausted:
				s.pool.MarkExhausted(cred.ID)
			case FailureInvalid:
				s.pool.MarkInvalid(cred.ID)
			}
			slog.Warn("embedding synthesis attempt failed",
				"attempt", attempt+1,
				"credential", cred.ID,
				"err", err)
			lastErr = err
			continue
		}

		vec, err := parseNumericArray(resp.Content)
		if err != nil {
			slog.Warn("model reply contained no numeric array",
				"attempt", attempt+1,
				"model", p.ModelID(),
				"reply_len", len(resp.Content))
			lastErr = err
			continue
		}

		return NormalizeDimension(vec, s.dims), nil
	}

	return nil, fmt.Errorf("embed: all %d attempts failed: %w", s.attempts, lastErr)
}

// EmbedBatch implements embeddings.Provider by embedding each text in turn.
// Chat models cannot batch unrelated embedding prompts reliably, so this is a
// sequential loop; on the first failure the whole batch fails.
func (s *Synthesizer) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed batch: text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (s *Synthesizer) Dimensions() int {
	return s.dims
}

// ModelID implements embeddings.Provider. The "synthetic/" prefix
// distinguishes these vectors from real embedding models in logs and index
// compatibility checks.
func (s *Synthesizer) ModelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.providers {
		return "synthetic/" + p.ModelID()
	}
	return "synthetic/unbound"
}

// providerFor returns the cached provider for cred, creating it on first use.
func (s *Synthesizer) providerFor(cred credential.Credential) (llm.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.providers[cred.ID]; ok {
		return p, nil
	}
	p, err := s.factory(cred.Secret)
	if err != nil {
		return nil, fmt.Errorf("embed: build provider for credential %d: %w", cred.ID, err)
	}
	s.providers[cred.ID] = p
	return p, nil
}

// synthesisSystemPrompt instructs the chat model to act as an embedding head.
func synthesisSystemPrompt(dims int) string {
	var sb strings.Builder
	sb.WriteString("You are an embedding function. ")
	fmt.Fprintf(&sb, "Map the user's text to a JSON array of %d floating point numbers in [-1, 1] ", dims)
	sb.WriteString("that captures its meaning, so that semantically similar texts map to similar arrays. ")
	sb.WriteString("Reply with the JSON array only. No prose, no code fences, no explanation.")
	return sb.String()
}
