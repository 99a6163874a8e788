// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_user
			ON conversations(user_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id               TEXT PRIMARY KEY,
			conversation_id  TEXT NOT NULL,
			role             TEXT NOT NULL,
			content          TEXT NOT NULL,
			redacted_content TEXT,
			tool_call_id     TEXT,
			metadata_json    TEXT,
			created_at       TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (role IN ('user', 'assistant', 'tool'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS tool_calls (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			call_id         TEXT NOT NULL,
			tool_id         TEXT NOT NULL,
			arguments       TEXT,
			outcome         TEXT NOT NULL,
			error           TEXT,
			duration_ms     INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (outcome IN ('success', 'error', 'rejected', 'skipped', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_tool_calls_conversation
			ON tool_calls(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS checkpoints (
			conversation_id TEXT PRIMARY KEY,
			content         TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			tool_id     TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			args_hash   TEXT,
			error       TEXT,
			metadata_json TEXT,
			created_at  TEXT NOT NULL,

			CHECK (outcome IN ('success', 'error', 'rejected', 'skipped', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_tool ON audit_log(tool_id);

		CREATE TABLE IF NOT EXISTS usage (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			model           TEXT NOT NULL,
			input_tokens    INTEGER NOT NULL,
			output_tokens   INTEGER NOT NULL,
			cost_usd        REAL NOT NULL,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_usage_user ON usage(user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS transactions (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			merchant    TEXT NOT NULL,
			category    TEXT NOT NULL,
			amount_cents INTEGER NOT NULL,
			posted_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, posted_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_category ON transactions(user_id, category);

		CREATE TABLE IF NOT EXISTS reminders (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			note       TEXT NOT NULL,
			due_at     TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reminders_user ON reminders(user_id, due_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// EnsureConversation returns a conversation id owned by userID. With an empty
// conversationID a new conversation is created. An existing id is verified
// against its owner; ErrForbidden is returned on mismatch.
func (s *SQLiteStore) EnsureConversation(ctx context.Context, userID, conversationID string) (string, error) {
	if conversationID == "" {
		id := uuid.New().String()
		now := time.Now().UTC().Format(time.RFC3339Nano)
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO conversations (id, user_id, created_at, updated_at)
			VALUES (?, ?, ?, ?)
		`, id, userID, now, now)
		if err != nil {
			return "", fmt.Errorf("inserting conversation: %w", err)
		}
		s.logger.Debug("created conversation", "id", id, "user_id", userID)
		return id, nil
	}

	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if conv.UserID != userID {
		return "", ErrForbidden
	}
	return conv.ID, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, user_id, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	var conv Conversation
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID,
		&conv.UserID,
		&createdAtStr,
		&updatedAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	conv.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

// SaveMessage appends a message to its conversation and bumps the
// conversation's updated_at. An id is assigned if the record has none.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var metadataJSON any
	if len(msg.Metadata) > 0 {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return "", fmt.Errorf("marshaling message metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	query := `
		INSERT INTO messages (id, conversation_id, role, content, redacted_content, tool_call_id, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Role,
		msg.Content,
		nullString(msg.RedactedContent),
		nullString(msg.ToolCallID),
		metadataJSON,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("inserting message: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano), msg.ConversationID)
	if err != nil {
		return "", fmt.Errorf("touching conversation: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "role", msg.Role)
	return msg.ID, nil
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetRecentMessages retrieves the most recent `limit` messages for a
// conversation, returned in chronological order (oldest first).
// If limit is 0 or negative, all messages are returned.
func (s *SQLiteStore) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		// Get the N most recent messages, but return them in chronological order
		query = `
			SELECT id, conversation_id, role, content, redacted_content, tool_call_id, metadata_json, created_at
			FROM (
				SELECT id, conversation_id, role, content, redacted_content, tool_call_id, metadata_json, created_at
				FROM messages
				WHERE conversation_id = ?
				ORDER BY created_at DESC
				LIMIT ?
			)
			ORDER BY created_at ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT id, conversation_id, role, content, redacted_content, tool_call_id, metadata_json, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at ASC
		`
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string
		var redacted, toolCallID, metadataJSON sql.NullString

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &redacted, &toolCallID, &metadataJSON, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		if redacted.Valid {
			msg.RedactedContent = redacted.String
		}
		if toolCallID.Valid {
			msg.ToolCallID = toolCallID.String
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling message metadata: %w", err)
			}
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// SaveToolCall records one tool execution attempt.
func (s *SQLiteStore) SaveToolCall(ctx context.Context, call *ToolCall) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO tool_calls (id, conversation_id, call_id, tool_id, arguments, outcome, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		call.ID,
		call.ConversationID,
		call.CallID,
		call.ToolID,
		nullString(call.Arguments),
		call.Outcome,
		nullString(call.Error),
		call.DurationMs,
		call.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting tool call: %w", err)
	}

	s.logger.Debug("saved tool call", "id", call.ID, "tool_id", call.ToolID, "outcome", call.Outcome)
	return nil
}

// ListToolCalls returns the most recent tool calls for a conversation,
// newest first.
func (s *SQLiteStore) ListToolCalls(ctx context.Context, conversationID string, limit int) ([]*ToolCall, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, call_id, tool_id, arguments, outcome, error, duration_ms, created_at
		FROM tool_calls
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying tool calls: %w", err)
	}
	defer rows.Close()

	var calls []*ToolCall
	for rows.Next() {
		var call ToolCall
		var createdAtStr string
		var arguments, errText sql.NullString

		if err := rows.Scan(&call.ID, &call.ConversationID, &call.CallID, &call.ToolID, &arguments, &call.Outcome, &errText, &call.DurationMs, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning tool call row: %w", err)
		}

		call.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing tool call created_at: %w", err)
		}
		if arguments.Valid {
			call.Arguments = arguments.String
		}
		if errText.Valid {
			call.Error = errText.String
		}

		calls = append(calls, &call)
	}

	return calls, rows.Err()
}

// SaveCheckpoint upserts the partial-answer snapshot for a conversation.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, conversationID, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (conversation_id, content, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
	`, conversationID, text, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint returns the saved partial answer for a conversation.
// Returns ErrNotFound when no checkpoint exists.
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, conversationID string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `
		SELECT content FROM checkpoints WHERE conversation_id = ?
	`, conversationID).Scan(&content)

	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying checkpoint: %w", err)
	}
	return content, nil
}

// ClearCheckpoint discards the checkpoint after a turn finalizes.
func (s *SQLiteStore) ClearCheckpoint(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("clearing checkpoint: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
