// Package prompt turns recalled memories into the context block injected
// into the next generation call.
//
// The assembler fetches relevant excerpts through the retrieval orchestrator
// and renders them with [FormatMemories]; the formatter itself is pure and
// omits empty sections entirely rather than rendering bare headers.
package prompt

import (
	"context"
	"time"

	"github.com/mnemora-ai/mnemora/internal/recall"
	"github.com/mnemora-ai/mnemora/pkg/types"
)

// Default rendering limits.
const (
	// DefaultMaxExcerpts caps how many memories one prompt may carry.
	DefaultMaxExcerpts = 5

	// DefaultExcerptChars caps each rendered excerpt's content length.
	DefaultExcerptChars = 280
)

// Recaller is the slice of the retrieval orchestrator the assembler needs.
type Recaller interface {
	Recall(ctx context.Context, q recall.Query) []types.MemoryExcerpt
}

// Assembler builds the memory context block for a generation request.
type Assembler struct {
	recaller     Recaller
	maxExcerpts  int
	excerptChars int
	now          func() time.Time
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithMaxExcerpts limits how many memories are injected. Defaults to 5.
func WithMaxExcerpts(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxExcerpts = n
		}
	}
}

// WithExcerptChars limits each excerpt's rendered length. Defaults to 280.
func WithExcerptChars(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.excerptChars = n
		}
	}
}

// WithClock overrides the time source used for relative timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAssembler creates an [Assembler] over the given recaller.
func NewAssembler(recaller Recaller, opts ...Option) *Assembler {
	a := &Assembler{
		recaller:     recaller,
		maxExcerpts:  DefaultMaxExcerpts,
		excerptChars: DefaultExcerptChars,
		now:          time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// BuildContext recalls memories relevant to queryText and renders them as a
// prompt section. Recall is best-effort, so the worst case is an empty
// string, never an error.
func (a *Assembler) BuildContext(ctx context.Context, userID, chatID, queryText string) string {
	excerpts := a.recaller.Recall(ctx, recall.Query{
		UserID: userID,
		ChatID: chatID,
		Text:   queryText,
		TopK:   a.maxExcerpts,
	})
	return FormatMemories(excerpts, a.now(), a.excerptChars)
}
