// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that callers send correct
// CompletionRequests and to feed controlled responses without a live LLM
// backend. All fields are safe to set before calling any method; mutating
// them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: "[0.1, 0.2]"},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/mnemora-ai/mnemora/pkg/provider/llm"
	"github.com/mnemora-ai/mnemora/pkg/types"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Result is one scripted outcome for a Complete call.
type Result struct {
	// Response is returned when Err is nil.
	Response *llm.CompletionResponse
	// Err, if non-nil, is returned instead of Response.
	Err error
}

// Provider is a mock implementation of llm.Provider.
//
// When Script is non-empty, successive Complete calls consume its entries in
// order; once exhausted, the last entry repeats. Otherwise CompleteResponse
// and CompleteErr apply to every call.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// CompleteResponse is returned from Complete when Script is empty.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned from Complete when Script is empty.
	CompleteErr error

	// Script is an ordered sequence of outcomes for successive Complete calls.
	Script []Result

	// Model is returned from ModelID. Defaults to "mock-model" when empty.
	Model string

	// --- Call capture ---

	// CompleteCalls records every Complete invocation in order.
	CompleteCalls []CompleteCall

	scriptIdx int
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	if len(p.Script) > 0 {
		r := p.Script[p.scriptIdx]
		if p.scriptIdx < len(p.Script)-1 {
			p.scriptIdx++
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Response, nil
	}

	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	return p.CompleteResponse, nil
}

// ModelID implements llm.Provider.
func (p *Provider) ModelID() string {
	if p.Model == "" {
		return "mock-model"
	}
	return p.Model
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return types.ModelCapabilities{
		ContextWindow:   128_000,
		MaxOutputTokens: 4_096,
	}
}

// CallCount returns the number of Complete invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}
