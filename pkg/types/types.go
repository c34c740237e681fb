// Package types defines the shared types used across all Mnemora packages.
//
// These types form the lingua franca between providers, the vector store, and
// the retrieval orchestrator. They are intentionally minimal — each package
// defines its own domain types, but cross-cutting data structures live here to
// avoid circular imports.
package types

import "time"

// Sender identifies who produced a chat message.
type Sender string

const (
	// SenderUser marks a message written by the human user.
	SenderUser Sender = "user"

	// SenderAssistant marks a message written by the assistant.
	SenderAssistant Sender = "assistant"
)

// ChatMessage is a single message in a conversation, the atomic unit that
// flows through the memory pipeline: it is embedded, stored, and later
// recalled for prompt augmentation.
type ChatMessage struct {
	// ID is the stable message identifier. When empty, the memory layer
	// derives a deterministic ID from (UserID, ChatID, Timestamp, Content)
	// so that re-submitting the same message overwrites rather than
	// duplicates.
	ID string

	// UserID identifies the owning user. Every stored record carries it and
	// every retrieval is scoped by it.
	UserID string

	// ChatID identifies the conversation thread the message belongs to.
	ChatID string

	// Sender is who wrote the message.
	Sender Sender

	// Content is the message text.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// MemoryExcerpt is a recalled chat message paired with its retrieval score,
// ready for prompt injection.
type MemoryExcerpt struct {
	// Message is the recalled message.
	Message ChatMessage

	// Score is the similarity score (0.0–1.0, higher is more relevant).
	Score float64
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool
}
