// ABOUTME: Audit log store methods for tracking gate decisions and tool executions
// ABOUTME: Records who ran what with which outcome for compliance and debugging

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LogAudit appends a new entry to the audit log.
// Generates ID and CreatedAt if not set.
func (s *SQLiteStore) LogAudit(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var metadataJSON any
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling audit metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	query := `
		INSERT INTO audit_log (id, user_id, tool_id, outcome, duration_ms, args_hash, error, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.UserID,
		e.ToolID,
		e.Outcome,
		e.DurationMs,
		nullString(e.ArgsHash),
		nullString(e.Error),
		metadataJSON,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"user", e.UserID,
		"tool", e.ToolID,
		"outcome", e.Outcome,
	)
	return nil
}

// ListAudit returns audit entries for a user, newest first.
// Limit defaults to 100 and is capped at 1000.
func (s *SQLiteStore) ListAudit(ctx context.Context, userID string, limit int) ([]*AuditEntry, error) {
	switch {
	case limit <= 0:
		limit = 100
	case limit > 1000:
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tool_id, outcome, duration_ms, args_hash, error, metadata_json, created_at
		FROM audit_log
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var createdAtStr string
		var argsHash, errText, metadataJSON sql.NullString

		if err := rows.Scan(&e.ID, &e.UserID, &e.ToolID, &e.Outcome, &e.DurationMs, &argsHash, &errText, &metadataJSON, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing audit created_at: %w", err)
		}
		if argsHash.Valid {
			e.ArgsHash = argsHash.String
		}
		if errText.Valid {
			e.Error = errText.String
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling audit metadata: %w", err)
			}
		}

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return entries, nil
}
