package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSession records an externally provisioned session. An empty ID is
// replaced with a generated one.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.Status == "" {
		sess.Status = SessionRunning
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}

	query := `INSERT INTO sessions (id, provider_id, cdp_url, display, workspace, chat_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.DB.ExecContext(ctx, query,
		sess.ID, sess.ProviderID, sess.CDPURL, sess.Display, sess.Workspace, sess.ChatID,
		string(sess.Status), sess.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `SELECT id, provider_id, cdp_url, display, workspace, chat_id, status, created_at
		FROM sessions WHERE id = ?`

	var sess Session
	var status string
	var created sql.NullInt64
	err := s.DB.QueryRowContext(ctx, query, id).Scan(
		&sess.ID, &sess.ProviderID, &sess.CDPURL, &sess.Display, &sess.Workspace, &sess.ChatID,
		&status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	sess.Status = SessionStatus(status)
	sess.CreatedAt = fromMillis(created)
	return &sess, nil
}

// SetSessionStatus marks a session running or stopped.
func (s *Store) SetSessionStatus(ctx context.Context, id string, status SessionStatus) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}
