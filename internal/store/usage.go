// ABOUTME: SQLite implementation for token usage tracking
// ABOUTME: Stores LLM token consumption and cost estimates for analytics

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveUsage stores a token usage record. Generates ID and CreatedAt if not set.
func (s *SQLiteStore) SaveUsage(ctx context.Context, rec *UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO usage (id, user_id, conversation_id, model, input_tokens, output_tokens, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.ConversationID,
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
		rec.CostUSD,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved token usage",
		"id", rec.ID,
		"user_id", rec.UserID,
		"model", rec.Model,
		"input_tokens", rec.InputTokens,
		"output_tokens", rec.OutputTokens,
	)
	return nil
}

// GetUserUsage returns usage totals for a user since the given time.
func (s *SQLiteStore) GetUserUsage(ctx context.Context, userID string, since time.Time) (inputTokens, outputTokens int, costUSD float64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM usage
		WHERE user_id = ? AND created_at >= ?
	`, userID, since.UTC().Format(time.RFC3339Nano)).Scan(&inputTokens, &outputTokens, &costUSD)
	if err != nil {
		err = fmt.Errorf("querying user usage: %w", err)
	}
	return inputTokens, outputTokens, costUSD, err
}
