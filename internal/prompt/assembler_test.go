package prompt

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mnemora-ai/mnemora/internal/recall"
	"github.com/mnemora-ai/mnemora/pkg/types"
)

// stubRecaller records the query it received and returns canned excerpts.
type stubRecaller struct {
	excerpts []types.MemoryExcerpt
	lastQ    recall.Query
}

func (s *stubRecaller) Recall(ctx context.Context, q recall.Query) []types.MemoryExcerpt {
	s.lastQ = q
	return s.excerpts
}

func TestAssembler_BuildContext(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rec := &stubRecaller{
		excerpts: []types.MemoryExcerpt{{
			Message: types.ChatMessage{
				Sender:    types.SenderUser,
				Content:   "I like tea",
				Timestamp: now.Add(-2 * time.Minute),
			},
			Score: 0.95,
		}},
	}
	a := NewAssembler(rec,
		WithMaxExcerpts(3),
		WithClock(func() time.Time { return now }))

	got := a.BuildContext(context.Background(), "u1", "c1", "what do I like to drink?")

	if !strings.HasPrefix(got, "## Relevant Memories") {
		t.Errorf("missing section header: %q", got)
	}
	if !strings.Contains(got, "[2m ago] user: I like tea") {
		t.Errorf("missing excerpt line: %q", got)
	}
	if rec.lastQ.UserID != "u1" || rec.lastQ.ChatID != "c1" {
		t.Errorf("query scope = %+v", rec.lastQ)
	}
	if rec.lastQ.TopK != 3 {
		t.Errorf("TopK = %d, want 3", rec.lastQ.TopK)
	}
}

func TestAssembler_EmptyRecall(t *testing.T) {
	a := NewAssembler(&stubRecaller{})
	if got := a.BuildContext(context.Background(), "u1", "c1", "anything"); got != "" {
		t.Errorf("empty recall rendered %q, want empty string", got)
	}
}
