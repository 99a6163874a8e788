// ABOUTME: Usage recording hook for completion calls
// ABOUTME: Store-backed recorder persists one usage row per call

package llm

import (
	"context"

	"github.com/2389/penny-gateway/internal/store"
)

// UsageRecorder receives the token accounting for each completion call.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, userID, conversationID, model string, u *Usage) error
}

// StoreRecorder persists usage records through the store.
type StoreRecorder struct {
	store store.Store
}

func NewStoreRecorder(s store.Store) *StoreRecorder {
	return &StoreRecorder{store: s}
}

func (r *StoreRecorder) RecordUsage(ctx context.Context, userID, conversationID, model string, u *Usage) error {
	return r.store.SaveUsage(ctx, &store.UsageRecord{
		UserID:         userID,
		ConversationID: conversationID,
		Model:          model,
		InputTokens:    u.InputTokens,
		OutputTokens:   u.OutputTokens,
		CostUSD:        u.CostUSD,
	})
}
