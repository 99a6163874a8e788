// ABOUTME: Store methods backing the built-in tool pack: transactions and reminders.
// ABOUTME: Simple per-user aggregations; all reads are scoped by user id.

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transaction is one posted ledger entry for a user. Amounts are stored in
// cents; negative values are refunds.
type Transaction struct {
	ID          string
	UserID      string
	Merchant    string
	Category    string
	AmountCents int64
	PostedAt    time.Time
}

// Reminder is a user-scheduled note with a due time.
type Reminder struct {
	ID        string
	UserID    string
	Note      string
	DueAt     time.Time
	CreatedAt time.Time
}

// CategoryTotal aggregates spend for one category.
type CategoryTotal struct {
	Category   string
	TotalCents int64
	Count      int
}

// TransactionFilter narrows ListTransactions results.
type TransactionFilter struct {
	Category string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

// BuiltinStore defines the data access the built-in tool pack needs.
type BuiltinStore interface {
	InsertTransaction(ctx context.Context, tx *Transaction) error
	ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]*Transaction, error)
	CategoryTotals(ctx context.Context, userID string, since, until *time.Time) ([]*CategoryTotal, error)
	CreateReminder(ctx context.Context, reminder *Reminder) error
	ListReminders(ctx context.Context, userID string, limit int) ([]*Reminder, error)
	DeleteUserData(ctx context.Context, userID string) (int64, error)
}

// InsertTransaction stores one transaction. Generates ID if not set.
func (s *SQLiteStore) InsertTransaction(ctx context.Context, tx *Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, merchant, category, amount_cents, posted_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tx.ID, tx.UserID, tx.Merchant, tx.Category, tx.AmountCents, tx.PostedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

// ListTransactions returns a user's transactions, newest first.
func (s *SQLiteStore) ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]*Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, merchant, category, amount_cents, posted_at
		FROM transactions
		WHERE user_id = ?
	`
	args := []any{userID}

	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	if filter.Since != nil {
		query += " AND posted_at >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if filter.Until != nil {
		query += " AND posted_at < ?"
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}

	query += " ORDER BY posted_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txs []*Transaction
	for rows.Next() {
		var tx Transaction
		var postedAtStr string

		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Merchant, &tx.Category, &tx.AmountCents, &postedAtStr); err != nil {
			return nil, fmt.Errorf("scanning transaction row: %w", err)
		}
		tx.PostedAt, err = time.Parse(time.RFC3339Nano, postedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing posted_at: %w", err)
		}
		txs = append(txs, &tx)
	}

	return txs, rows.Err()
}

// CategoryTotals aggregates a user's spend by category over an optional window.
func (s *SQLiteStore) CategoryTotals(ctx context.Context, userID string, since, until *time.Time) ([]*CategoryTotal, error) {
	query := `
		SELECT category, COALESCE(SUM(amount_cents), 0), COUNT(*)
		FROM transactions
		WHERE user_id = ?
	`
	args := []any{userID}

	if since != nil {
		query += " AND posted_at >= ?"
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}
	if until != nil {
		query += " AND posted_at < ?"
		args = append(args, until.UTC().Format(time.RFC3339Nano))
	}

	query += " GROUP BY category ORDER BY SUM(amount_cents) DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying category totals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var totals []*CategoryTotal
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.TotalCents, &ct.Count); err != nil {
			return nil, fmt.Errorf("scanning category total: %w", err)
		}
		totals = append(totals, &ct)
	}

	return totals, rows.Err()
}

// CreateReminder stores a reminder. Generates ID and CreatedAt if not set.
func (s *SQLiteStore) CreateReminder(ctx context.Context, reminder *Reminder) error {
	if reminder.ID == "" {
		reminder.ID = uuid.New().String()
	}
	if reminder.CreatedAt.IsZero() {
		reminder.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, user_id, note, due_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, reminder.ID, reminder.UserID, reminder.Note,
		reminder.DueAt.UTC().Format(time.RFC3339Nano),
		reminder.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting reminder: %w", err)
	}

	s.logger.Debug("created reminder", "id", reminder.ID, "user_id", reminder.UserID)
	return nil
}

// ListReminders returns a user's reminders ordered by due time.
func (s *SQLiteStore) ListReminders(ctx context.Context, userID string, limit int) ([]*Reminder, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, note, due_at, created_at
		FROM reminders
		WHERE user_id = ?
		ORDER BY due_at ASC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying reminders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reminders []*Reminder
	for rows.Next() {
		var rem Reminder
		var dueAtStr, createdAtStr string

		if err := rows.Scan(&rem.ID, &rem.UserID, &rem.Note, &dueAtStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning reminder row: %w", err)
		}
		rem.DueAt, err = time.Parse(time.RFC3339Nano, dueAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing due_at: %w", err)
		}
		rem.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		reminders = append(reminders, &rem)
	}

	return reminders, rows.Err()
}

// DeleteUserData removes a user's transactions and reminders, returning the
// number of rows deleted. Conversations and audit entries are retained.
func (s *SQLiteStore) DeleteUserData(ctx context.Context, userID string) (int64, error) {
	var total int64

	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting transactions: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.ExecContext(ctx, `DELETE FROM reminders WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting reminders: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	s.logger.Info("deleted user data", "user_id", userID, "rows", total)
	return total, nil
}

var _ BuiltinStore = (*SQLiteStore)(nil)
