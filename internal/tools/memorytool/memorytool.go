// Package memorytool exposes the memory engine as MCP tools using the
// official MCP Go SDK (github.com/modelcontextprotocol/go-sdk).
//
// Three tools are exported via [NewServer]:
//   - "memory_remember" — store one chat message as a long-term memory.
//   - "memory_recall"   — retrieve memories similar to a query text.
//   - "memory_forget"   — delete every memory belonging to a user.
//
// The server can be attached to any transport; [HTTPHandler] wraps it in the
// streamable-HTTP transport for mounting on the main mux.
package memorytool

import (
	"context"
	"fmt"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mnemora-ai/mnemora/internal/observe"
	"github.com/mnemora-ai/mnemora/internal/recall"
	"github.com/mnemora-ai/mnemora/pkg/types"
)

// Memory is the slice of the retrieval engine the tools need. Satisfied by
// [recall.Engine].
type Memory interface {
	Remember(ctx context.Context, msg types.ChatMessage)
	Recall(ctx context.Context, q recall.Query) []types.MemoryExcerpt
	Forget(ctx context.Context, userID string) (int, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Tool arguments and results
// ─────────────────────────────────────────────────────────────────────────────

// rememberArgs is the input for the "memory_remember" tool.
type rememberArgs struct {
	// UserID identifies the owner of the memory. Required.
	UserID string `json:"user_id"`

	// ChatID identifies the conversation the message belongs to.
	ChatID string `json:"chat_id,omitempty"`

	// Sender is who wrote the message, "user" or "assistant".
	Sender string `json:"sender,omitempty"`

	// Content is the message text to remember. Required.
	Content string `json:"content"`

	// Timestamp is an optional Unix timestamp in seconds. Defaults to now.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// rememberResult is the output of the "memory_remember" tool. Storage is
// best-effort, so accepted only means the write was handed to the pipeline.
type rememberResult struct {
	Accepted bool `json:"accepted"`
}

// recallArgs is the input for the "memory_recall" tool.
type recallArgs struct {
	// UserID scopes the search to a single user's memories. Required.
	UserID string `json:"user_id"`

	// ChatID optionally widens the search with conversation-scoped results.
	ChatID string `json:"chat_id,omitempty"`

	// Query is the text to find similar memories for. Required.
	Query string `json:"query"`

	// TopK caps the number of results. Defaults to the engine's limit when 0.
	TopK int `json:"top_k,omitempty"`
}

// recallExcerpt is one retrieved memory in the "memory_recall" output.
type recallExcerpt struct {
	Content   string  `json:"content"`
	Sender    string  `json:"sender,omitempty"`
	ChatID    string  `json:"chat_id,omitempty"`
	Timestamp int64   `json:"timestamp"`
	Score     float64 `json:"score"`
}

// recallResult is the output of the "memory_recall" tool.
type recallResult struct {
	Excerpts []recallExcerpt `json:"excerpts"`
}

// forgetArgs is the input for the "memory_forget" tool.
type forgetArgs struct {
	// UserID identifies whose memories to delete. Required.
	UserID string `json:"user_id"`
}

// forgetResult is the output of the "memory_forget" tool.
type forgetResult struct {
	Deleted int `json:"deleted"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Server
// ─────────────────────────────────────────────────────────────────────────────

// Server wraps an MCP server exposing the memory tools.
type Server struct {
	mcp     *mcpsdk.Server
	mem     Memory
	metrics *observe.Metrics
	now     func() time.Time
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records tool invocations and latency to the given metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer builds an MCP server exposing memory_remember, memory_recall and
// memory_forget backed by mem.
func NewServer(mem Memory, opts ...Option) (*Server, error) {
	if mem == nil {
		return nil, fmt.Errorf("memorytool: memory must not be nil")
	}

	s := &Server{
		mcp: mcpsdk.NewServer(
			&mcpsdk.Implementation{Name: "mnemora", Version: "1.0.0"},
			nil,
		),
		mem: mem,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "memory_remember",
		Description: "Store one chat message as a long-term memory for a user. Storage is best-effort.",
	}, s.handleRemember)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "memory_recall",
		Description: "Retrieve memories similar to a query text, scoped to a single user.",
	}, s.handleRecall)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "memory_forget",
		Description: "Delete every memory belonging to a user and report how many were removed.",
	}, s.handleForget)

	return s, nil
}

// MCP returns the underlying SDK server for attaching custom transports.
func (s *Server) MCP() *mcpsdk.Server {
	return s.mcp
}

// HTTPHandler returns an [http.Handler] that serves the MCP server over the
// streamable-HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.mcp
	}, nil)
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) handleRemember(ctx context.Context, _ *mcpsdk.CallToolRequest, args rememberArgs) (*mcpsdk.CallToolResult, rememberResult, error) {
	start := s.now()
	if args.UserID == "" {
		s.recordCall(ctx, "memory_remember", "error", start)
		return nil, rememberResult{}, fmt.Errorf("memory_remember: user_id must not be empty")
	}
	if args.Content == "" {
		s.recordCall(ctx, "memory_remember", "error", start)
		return nil, rememberResult{}, fmt.Errorf("memory_remember: content must not be empty")
	}

	ts := s.now()
	if args.Timestamp > 0 {
		ts = time.Unix(args.Timestamp, 0)
	}
	sender := types.Sender(args.Sender)
	if sender == "" {
		sender = types.SenderUser
	}

	s.mem.Remember(ctx, types.ChatMessage{
		UserID:    args.UserID,
		ChatID:    args.ChatID,
		Sender:    sender,
		Content:   args.Content,
		Timestamp: ts,
	})

	s.recordCall(ctx, "memory_remember", "ok", start)
	return nil, rememberResult{Accepted: true}, nil
}

func (s *Server) handleRecall(ctx context.Context, _ *mcpsdk.CallToolRequest, args recallArgs) (*mcpsdk.CallToolResult, recallResult, error) {
	start := s.now()
	if args.UserID == "" {
		s.recordCall(ctx, "memory_recall", "error", start)
		return nil, recallResult{}, fmt.Errorf("memory_recall: user_id must not be empty")
	}
	if args.Query == "" {
		s.recordCall(ctx, "memory_recall", "error", start)
		return nil, recallResult{}, fmt.Errorf("memory_recall: query must not be empty")
	}

	excerpts := s.mem.Recall(ctx, recall.Query{
		UserID: args.UserID,
		ChatID: args.ChatID,
		Text:   args.Query,
		TopK:   args.TopK,
	})

	out := recallResult{Excerpts: make([]recallExcerpt, 0, len(excerpts))}
	for _, e := range excerpts {
		out.Excerpts = append(out.Excerpts, recallExcerpt{
			Content:   e.Message.Content,
			Sender:    string(e.Message.Sender),
			ChatID:    e.Message.ChatID,
			Timestamp: e.Message.Timestamp.Unix(),
			Score:     e.Score,
		})
	}

	if s.metrics != nil {
		s.metrics.RecallResults.Record(ctx, int64(len(out.Excerpts)))
	}
	s.recordCall(ctx, "memory_recall", "ok", start)
	return nil, out, nil
}

func (s *Server) handleForget(ctx context.Context, _ *mcpsdk.CallToolRequest, args forgetArgs) (*mcpsdk.CallToolResult, forgetResult, error) {
	start := s.now()
	if args.UserID == "" {
		s.recordCall(ctx, "memory_forget", "error", start)
		return nil, forgetResult{}, fmt.Errorf("memory_forget: user_id must not be empty")
	}

	deleted, err := s.mem.Forget(ctx, args.UserID)
	if err != nil {
		s.recordCall(ctx, "memory_forget", "error", start)
		return nil, forgetResult{}, fmt.Errorf("memory_forget: %w", err)
	}

	s.recordCall(ctx, "memory_forget", "ok", start)
	return nil, forgetResult{Deleted: deleted}, nil
}

// recordCall records tool invocation metrics when metrics are configured.
func (s *Server) recordCall(ctx context.Context, tool, status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordToolCall(ctx, tool, status)
	s.metrics.ToolExecutionDuration.Record(ctx, s.now().Sub(start).Seconds())
}
