// Package recall implements the retrieval orchestrator, the façade the chat
// flow talks to.
//
// The write path ([Engine.Remember]) and the read path ([Engine.Recall]) are
// deliberately best-effort: the memory subsystem augments answers, it must
// never break them. Every failure on those paths is logged and absorbed, so
// at worst a reply loses conversational context. The one exception is
// [Engine.Forget]: a user deleting their data has to know whether it worked,
// so its errors propagate.
package recall

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mnemora-ai/mnemora/internal/resilience"
	"github.com/mnemora-ai/mnemora/pkg/provider/embeddings"
	"github.com/mnemora-ai/mnemora/pkg/types"
	"github.com/mnemora-ai/mnemora/pkg/vector"
)

// DefaultTopK is how many excerpts a recall returns when the caller does not
// ask for a specific count.
const DefaultTopK = 5

// ReadinessGate reports whether the backing index may be used. Store traffic
// is held back until it says yes.
type ReadinessGate interface {
	EnsureReady(ctx context.Context) error
}

// Query describes one recall request.
type Query struct {
	// UserID scopes the search. Required; recall without a user returns
	// nothing.
	UserID string

	// ChatID, when set, adds a second search scoped to this conversation
	// whose results are merged with the user-wide ones.
	ChatID string

	// Text is the passage to find similar memories for.
	Text string

	// TopK caps the number of excerpts. Zero means [DefaultTopK].
	TopK int
}

// Engine is the retrieval orchestrator. Safe for concurrent use.
type Engine struct {
	embedder embeddings.Provider
	store    vector.Store
	gate     ReadinessGate
	retry    resilience.RetryPolicy
	topK     int
}

// Option is a functional option for [NewEngine].
type Option func(*Engine)

// WithTopK overrides the default recall result count.
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithRetryPolicy overrides the store retry policy. Tests shrink the backoff.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(e *Engine) {
		e.retry = p
	}
}

// NewEngine creates the orchestrator over an embedding provider, a vector
// store, and the index readiness gate.
func NewEngine(embedder embeddings.Provider, store vector.Store, gate ReadinessGate, opts ...Option) (*Engine, error) {
	if embedder == nil {
		return nil, errors.New("recall: embedder is required")
	}
	if store == nil {
		return nil, errors.New("recall: store is required")
	}
	if gate == nil {
		return nil, errors.New("recall: readiness gate is required")
	}

	e := &Engine{
		embedder: embedder,
		store:    store,
		gate:     gate,
		retry:    resilience.DefaultRetryPolicy(),
		topK:     DefaultTopK,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Remember embeds msg and upserts it as a memory record.
//
// The write is best-effort: blank content is skipped, and embedding or store
// failures are logged and swallowed so message delivery is never blocked.
func (e *Engine) Remember(ctx context.Context, msg types.ChatMessage) {
	if strings.TrimSpace(msg.Content) == "" {
		slog.Debug("memory write skipped, blank content",
			"user_id", msg.UserID, "chat_id", msg.ChatID)
		return
	}

	if err := e.gate.EnsureReady(ctx); err != nil {
		slog.Warn("memory write skipped, index not ready", "err", err)
		return
	}

	vec, err := e.embedder.Embed(ctx, msg.Content)
	if err != nil {
		slog.Warn("memory write skipped, embedding failed",
			"user_id", msg.UserID, "chat_id", msg.ChatID, "err", err)
		return
	}

	record := vector.Record{
		ID:     recordID(msg),
		Values: vec,
		Metadata: map[string]any{
			vector.MetaUserID:    msg.UserID,
			vector.MetaChatID:    msg.ChatID,
			vector.MetaSender:    string(msg.Sender),
			vector.MetaContent:   msg.Content,
			vector.MetaTimestamp: float64(msg.Timestamp.Unix()),
		},
	}

	err = e.retry.Retry(ctx, func(ctx context.Context) error {
		return e.store.Upsert(ctx, []vector.Record{record})
	})
	if err != nil {
		slog.Warn("memory write skipped, upsert failed",
			"user_id", msg.UserID, "chat_id", msg.ChatID, "err", err)
		return
	}

	slog.Debug("memory stored",
		"record_id", record.ID, "user_id", msg.UserID, "chat_id", msg.ChatID)
}

// Recall embeds q.Text and returns the most similar stored messages for the
// user, conversation-scoped results merged in when q.ChatID is set.
//
// Recall never fails: any error along the way degrades to an empty slice so
// the caller's generation request proceeds without memory.
func (e *Engine) Recall(ctx context.Context, q Query) []types.MemoryExcerpt {
	if q.UserID == "" || strings.TrimSpace(q.Text) == "" {
		return nil
	}
	topK := q.TopK
	if topK <= 0 {
		topK = e.topK
	}

	if err := e.gate.EnsureReady(ctx); err != nil {
		slog.Warn("recall degraded to empty, index not ready", "err", err)
		return nil
	}

	vec, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		slog.Warn("recall degraded to empty, embedding failed",
			"user_id", q.UserID, "err", err)
		return nil
	}

	// User-wide and conversation-scoped searches run in parallel; their
	// results are merged below.
	filters := []vector.Filter{{vector.MetaUserID: q.UserID}}
	if q.ChatID != "" {
		filters = append(filters, vector.Filter{
			vector.MetaUserID: q.UserID,
			vector.MetaChatID: q.ChatID,
		})
	}

	results := make([][]vector.Match, len(filters))
	g, gctx := errgroup.WithContext(ctx)
	for i, filter := range filters {
		g.Go(func() error {
			matches, err := resilience.RetryWithResult(gctx, e.retry,
				func(ctx context.Context) ([]vector.Match, error) {
					return e.store.Query(ctx, vec, topK, filter)
				})
			if err != nil {
				return err
			}
			results[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("recall degraded to empty, store query failed",
			"user_id", q.UserID, "err", err)
		return nil
	}

	return mergeMatches(results, topK)
}

// Forget deletes every memory record of the given user and returns how many
// were removed. Unlike the other paths, errors propagate: the caller must
// know whether the data is gone.
func (e *Engine) Forget(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, errors.New("recall: forget: user ID must not be empty")
	}

	if err := e.gate.EnsureReady(ctx); err != nil {
		return 0, fmt.Errorf("recall: forget: %w", err)
	}

	count, err := resilience.RetryWithResult(ctx, e.retry,
		func(ctx context.Context) (int, error) {
			return e.store.DeleteByFilter(ctx, vector.Filter{vector.MetaUserID: userID})
		})
	if err != nil {
		return 0, fmt.Errorf("recall: forget user %q: %w", userID, err)
	}

	slog.Info("user memory deleted", "user_id", userID, "records", count)
	return count, nil
}

// recordID returns the stable store ID for msg. An explicit message ID wins;
// otherwise the ID is derived from the message identity so that re-submitting
// the same message overwrites instead of duplicating.
func recordID(msg types.ChatMessage) string {
	if msg.ID != "" {
		return msg.ID
	}
	h := sha256.New()
	h.Write([]byte(msg.UserID))
	h.Write([]byte{0})
	h.Write([]byte(msg.ChatID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(msg.Timestamp.Unix(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(msg.Content))
	return fmt.Sprintf("%x", h.Sum(nil)[:16])
}

// mergeMatches combines per-scope result sets, dropping duplicate record IDs
// (keeping the higher score), re-sorting, and capping at topK.
func mergeMatches(results [][]vector.Match, topK int) []types.MemoryExcerpt {
	best := make(map[string]vector.Match)
	for _, matches := range results {
		for _, m := range matches {
			if prev, ok := best[m.Record.ID]; !ok || m.Score > prev.Score {
				best[m.Record.ID] = m
			}
		}
	}
	if len(best) == 0 {
		return nil
	}

	merged := make([]vector.Match, 0, len(best))
	for _, m := range best {
		merged = append(merged, m)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return matchTime(merged[i]).After(matchTime(merged[j]))
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}

	excerpts := make([]types.MemoryExcerpt, len(merged))
	for i, m := range merged {
		excerpts[i] = types.MemoryExcerpt{
			Message: messageFromRecord(m.Record),
			Score:   m.Score,
		}
	}
	return excerpts
}

// messageFromRecord rebuilds the chat message from stored metadata.
func messageFromRecord(r vector.Record) types.ChatMessage {
	return types.ChatMessage{
		ID:        r.ID,
		UserID:    metaString(r.Metadata, vector.MetaUserID),
		ChatID:    metaString(r.Metadata, vector.MetaChatID),
		Sender:    types.Sender(metaString(r.Metadata, vector.MetaSender)),
		Content:   metaString(r.Metadata, vector.MetaContent),
		Timestamp: matchTime(vector.Match{Record: r}),
	}
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

// matchTime reads the Unix-seconds timestamp out of a match's metadata.
func matchTime(m vector.Match) time.Time {
	switch v := m.Record.Metadata[vector.MetaTimestamp].(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC()
	case int64:
		return time.Unix(v, 0).UTC()
	case int:
		return time.Unix(int64(v), 0).UTC()
	default:
		return time.Time{}
	}
}
