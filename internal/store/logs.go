package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AddLog appends an entry to the session log.
func (s *Store) AddLog(ctx context.Context, entry *LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	query := `INSERT INTO session_logs (session_id, plan_id, step_id, kind, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.DB.ExecContext(ctx, query,
		entry.SessionID, entry.PlanID, entry.StepID, string(entry.Kind), entry.Content,
		entry.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	entry.ID, _ = res.LastInsertId()
	return nil
}

// RecentLogs returns up to limit of the newest entries for a session in
// chronological order.
func (s *Store) RecentLogs(ctx context.Context, sessionID string, limit int) ([]LogEntry, error) {
	query := `SELECT id, session_id, plan_id, step_id, kind, content, created_at
		FROM session_logs WHERE session_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.DB.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query session logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var kind string
		var created sql.NullInt64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.PlanID, &e.StepID, &kind, &e.Content, &created); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Kind = LogKind(kind)
		e.CreatedAt = fromMillis(created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session logs: %w", err)
	}

	// Reverse to get chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries, nil
}
