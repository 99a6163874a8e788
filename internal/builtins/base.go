// ABOUTME: Built-in finance tool pack: transaction queries, reminders, data export/delete.
// ABOUTME: Handlers run simple store-backed aggregations scoped to the calling user.

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/penny-gateway/internal/store"
	"github.com/2389/penny-gateway/internal/tools"
)

// FinancePack creates the built-in tool modules backed by the store.
func FinancePack(s store.BuiltinStore) []*tools.Module {
	h := &financeHandlers{store: s}
	return []*tools.Module{
		{
			ID:              "transactions_query",
			Description:     "Look up the user's transactions, optionally filtered by category and date range",
			InputSchemaJSON: `{"type":"object","properties":{"category":{"type":"string"},"since":{"type":"string","format":"date-time"},"until":{"type":"string","format":"date-time"},"limit":{"type":"integer","minimum":1,"maximum":200}},"additionalProperties":false}`,
			Handler:         h.TransactionsQuery,
		},
		{
			ID:              "category_totals",
			Description:     "Total the user's spending by category over an optional date range",
			InputSchemaJSON: `{"type":"object","properties":{"since":{"type":"string","format":"date-time"},"until":{"type":"string","format":"date-time"}},"additionalProperties":false}`,
			Handler:         h.CategoryTotals,
		},
		{
			ID:              "set_reminder",
			Description:     "Create a reminder for the user at a due time",
			InputSchemaJSON: `{"type":"object","properties":{"note":{"type":"string","minLength":1},"due_at":{"type":"string","format":"date-time"},"confirm":{"type":"boolean"}},"required":["note","due_at"],"additionalProperties":false}`,
			Meta:            tools.Meta{Mutates: true},
			Handler:         h.SetReminder,
		},
		{
			ID:              "export_my_data",
			Description:     "Export the user's transactions and reminders as a JSON bundle",
			InputSchemaJSON: `{"type":"object","properties":{"confirm":{"type":"boolean"}},"additionalProperties":false}`,
			Meta:            tools.Meta{Mutates: true, Costly: true},
			Handler:         h.ExportMyData,
		},
		{
			ID:              "delete_my_data",
			Description:     "Permanently delete the user's transactions and reminders",
			InputSchemaJSON: `{"type":"object","properties":{"confirm":{"type":"boolean"}},"additionalProperties":false}`,
			Meta:            tools.Meta{Mutates: true, RequiresConfirm: true},
			Handler:         h.DeleteMyData,
		},
	}
}

type financeHandlers struct {
	store store.BuiltinStore
}

type transactionsQueryInput struct {
	Category string `json:"category"`
	Since    string `json:"since"`
	Until    string `json:"until"`
	Limit    int    `json:"limit"`
}

func (h *financeHandlers) TransactionsQuery(ctx context.Context, tc *tools.Context, input json.RawMessage) (json.RawMessage, error) {
	var in transactionsQueryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	filter := store.TransactionFilter{Category: in.Category, Limit: in.Limit}
	var err error
	if filter.Since, err = parseTimePtr(in.Since); err != nil {
		return nil, fmt.Errorf("invalid since: %w", err)
	}
	if filter.Until, err = parseTimePtr(in.Until); err != nil {
		return nil, fmt.Errorf("invalid until: %w", err)
	}

	txs, err := h.store.ListTransactions(ctx, tc.UserID, filter)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(txs))
	for _, tx := range txs {
		out = append(out, map[string]any{
			"id":        tx.ID,
			"merchant":  tx.Merchant,
			"category":  tx.Category,
			"amount":    float64(tx.AmountCents) / 100,
			"posted_at": tx.PostedAt.Format(time.RFC3339),
		})
	}
	return json.Marshal(map[string]any{"transactions": out, "count": len(out)})
}

type categoryTotalsInput struct {
	Since string `json:"since"`
	Until string `json:"until"`
}

func (h *financeHandlers) CategoryTotals(ctx context.Context, tc *tools.Context, input json.RawMessage) (json.RawMessage, error) {
	var in categoryTotalsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	since, err := parseTimePtr(in.Since)
	if err != nil {
		return nil, fmt.Errorf("invalid since: %w", err)
	}
	until, err := parseTimePtr(in.Until)
	if err != nil {
		return nil, fmt.Errorf("invalid until: %w", err)
	}

	totals, err := h.store.CategoryTotals(ctx, tc.UserID, since, until)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(totals))
	for _, ct := range totals {
		out = append(out, map[string]any{
			"category": ct.Category,
			"total":    float64(ct.TotalCents) / 100,
			"count":    ct.Count,
		})
	}
	return json.Marshal(map[string]any{"totals": out})
}

type setReminderInput struct {
	Note  string `json:"note"`
	DueAt string `json:"due_at"`
}

func (h *financeHandlers) SetReminder(ctx context.Context, tc *tools.Context, input json.RawMessage) (json.RawMessage, error) {
	var in setReminderInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	dueAt, err := time.Parse(time.RFC3339, in.DueAt)
	if err != nil {
		return nil, fmt.Errorf("invalid due_at: %w", err)
	}

	reminder := &store.Reminder{
		UserID: tc.UserID,
		Note:   in.Note,
		DueAt:  dueAt,
	}
	if err := h.store.CreateReminder(ctx, reminder); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{"id": reminder.ID, "status": "scheduled"})
}

func (h *financeHandlers) ExportMyData(ctx context.Context, tc *tools.Context, input json.RawMessage) (json.RawMessage, error) {
	txs, err := h.store.ListTransactions(ctx, tc.UserID, store.TransactionFilter{Limit: 10000})
	if err != nil {
		return nil, err
	}
	reminders, err := h.store.ListReminders(ctx, tc.UserID, 10000)
	if err != nil {
		return nil, err
	}

	txOut := make([]map[string]any, 0, len(txs))
	for _, tx := range txs {
		txOut = append(txOut, map[string]any{
			"merchant":  tx.Merchant,
			"category":  tx.Category,
			"amount":    float64(tx.AmountCents) / 100,
			"posted_at": tx.PostedAt.Format(time.RFC3339),
		})
	}
	remOut := make([]map[string]any, 0, len(reminders))
	for _, rem := range reminders {
		remOut = append(remOut, map[string]any{
			"note":   rem.Note,
			"due_at": rem.DueAt.Format(time.RFC3339),
		})
	}

	return json.Marshal(map[string]any{
		"transactions": txOut,
		"reminders":    remOut,
		"exported_at":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *financeHandlers) DeleteMyData(ctx context.Context, tc *tools.Context, input json.RawMessage) (json.RawMessage, error) {
	deleted, err := h.store.DeleteUserData(ctx, tc.UserID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"status": "deleted", "rows": deleted})
}

func parseTimePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
