package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func insertStep(ctx context.Context, tx *sql.Tx, st *Step) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	if st.Status == "" {
		st.Status = StepPending
	}
	if st.Type == "" {
		st.Type = StepTypePlanned
	}
	query := `INSERT INTO plan_steps (id, plan_id, step_order, title, description, status, result, step_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, st.ID, st.PlanID, st.Order, st.Title, st.Description,
		string(st.Status), st.Result, string(st.Type)); err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// ListSteps returns every step of a plan ordered by step order.
func (s *Store) ListSteps(ctx context.Context, planID string) ([]Step, error) {
	query := `SELECT id, plan_id, step_order, title, description, status, result, step_type,
			started_at, completed_at, claimed_until
		FROM plan_steps WHERE plan_id = ? ORDER BY step_order`
	rows, err := s.DB.QueryContext(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		var status, typ string
		var started, completed, claimed sql.NullInt64
		if err := rows.Scan(&st.ID, &st.PlanID, &st.Order, &st.Title, &st.Description, &status, &st.Result,
			&typ, &started, &completed, &claimed); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Status = StepStatus(status)
		st.Type = StepType(typ)
		st.StartedAt = fromMillis(started)
		st.CompletedAt = fromMillis(completed)
		st.ClaimedUntil = fromMillis(claimed)
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// InsertStepAfter inserts st at afterOrder+1, shifting every later step down
// by one, and bumps the plan's step counter.
func (s *Store) InsertStepAfter(ctx context.Context, planID string, afterOrder int, st *Step) error {
	st.PlanID = planID
	st.Order = afterOrder + 1

	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Two passes through negative orders so the unique (plan_id, step_order)
		// index never sees a transient duplicate.
		if _, err := tx.ExecContext(ctx,
			`UPDATE plan_steps SET step_order = -(step_order + 1) WHERE plan_id = ? AND step_order >= ?`,
			planID, st.Order); err != nil {
			return fmt.Errorf("shift step orders: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE plan_steps SET step_order = -step_order WHERE plan_id = ? AND step_order < 0`,
			planID); err != nil {
			return fmt.Errorf("restore step orders: %w", err)
		}
		if err := insertStep(ctx, tx, st); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE plans SET total_steps = total_steps + 1 WHERE id = ?`, planID)
		if err != nil {
			return fmt.Errorf("increment total steps: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("plan %s: %w", planID, ErrNotFound)
		}
		return nil
	})
}

// ClaimStep moves a step to in_progress with a lease ending at now+lease.
// It succeeds for pending steps and for in_progress steps whose lease has
// expired; false means another caller holds the step.
func (s *Store) ClaimStep(ctx context.Context, stepID string, now time.Time, lease time.Duration) (bool, error) {
	query := `UPDATE plan_steps
		SET status = 'in_progress', started_at = COALESCE(started_at, ?), claimed_until = ?
		WHERE id = ? AND (status = 'pending' OR (status = 'in_progress' AND claimed_until <= ?))`
	res, err := s.DB.ExecContext(ctx, query, now.UnixMilli(), now.Add(lease).UnixMilli(), stepID, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("claim step: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim step: %w", err)
	}
	return n == 1, nil
}

// UpdateStepOutcome stores a step's status and result and releases its lease.
// completedAt is only written when non-zero.
func (s *Store) UpdateStepOutcome(ctx context.Context, stepID string, status StepStatus, result string, completedAt time.Time) error {
	query := `UPDATE plan_steps SET status = ?, result = ?, completed_at = COALESCE(?, completed_at), claimed_until = 0
		WHERE id = ?`
	res, err := s.DB.ExecContext(ctx, query, string(status), result, toMillis(completedAt), stepID)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("step %s: %w", stepID, ErrNotFound)
	}
	return nil
}
