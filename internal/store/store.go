// ABOUTME: Store interface and data types for penny-gateway persistence
// ABOUTME: Defines Conversation, Message, audit and checkpoint types plus the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when a conversation belongs to a different user
var ErrForbidden = errors.New("conversation owned by another user")

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Audit outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeRejected  = "rejected"
	OutcomeSkipped   = "skipped"
	OutcomeCancelled = "cancelled"
)

// Conversation groups the messages of one user. Conversations are created on
// first message and never deleted by the kernel.
type Conversation struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one entry in a conversation's append-only history.
// RedactedContent is set only for user-role messages; ToolCallID correlates
// tool-role messages with the call that produced them.
type Message struct {
	ID              string
	ConversationID  string
	Role            string
	Content         string
	RedactedContent string
	ToolCallID      string
	Metadata        map[string]any
	CreatedAt       time.Time
}

// ToolCall records one tool execution attempt and its outcome.
type ToolCall struct {
	ID             string
	ConversationID string
	CallID         string
	ToolID         string
	Arguments      string
	Outcome        string
	Error          string
	DurationMs     int64
	CreatedAt      time.Time
}

// AuditEntry is an append-only record of a gate decision or tool attempt.
type AuditEntry struct {
	ID         string
	UserID     string
	ToolID     string
	Outcome    string
	DurationMs int64
	ArgsHash   string
	Error      string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// UsageRecord tracks provider token consumption and estimated cost per call.
type UsageRecord struct {
	ID             string
	UserID         string
	ConversationID string
	Model          string
	InputTokens    int
	OutputTokens   int
	CostUSD        float64
	CreatedAt      time.Time
}

// Store defines the persistence interface the kernel depends on
type Store interface {
	// Conversations. EnsureConversation creates the conversation when the id
	// is empty and verifies ownership otherwise, returning ErrForbidden for
	// a conversation owned by a different user.
	EnsureConversation(ctx context.Context, userID, conversationID string) (string, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// Messages. SaveMessage assigns an id when the record has none and
	// returns it. GetRecentMessages returns the most recent limit messages
	// in chronological order.
	SaveMessage(ctx context.Context, msg *Message) (string, error)
	GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Tool calls
	SaveToolCall(ctx context.Context, call *ToolCall) error
	ListToolCalls(ctx context.Context, conversationID string, limit int) ([]*ToolCall, error)

	// Checkpoints: one per conversation, overwritten on save
	SaveCheckpoint(ctx context.Context, conversationID, text string) error
	GetCheckpoint(ctx context.Context, conversationID string) (string, error)
	ClearCheckpoint(ctx context.Context, conversationID string) error

	// Audit log (append-only)
	LogAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, userID string, limit int) ([]*AuditEntry, error)

	// Usage accounting
	SaveUsage(ctx context.Context, rec *UsageRecord) error

	// Close releases any resources held by the store
	Close() error
}
