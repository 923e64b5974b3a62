package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const planColumns = `id, session_id, title, description, total_steps, steps_completed,
	progress_percentage, last_executed_at, status, auto_continue, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*Plan, error) {
	var p Plan
	var status string
	var lastExec, created sql.NullInt64
	if err := row.Scan(&p.ID, &p.SessionID, &p.Title, &p.Description, &p.TotalSteps, &p.StepsCompleted,
		&p.ProgressPercentage, &lastExec, &status, &p.AutoContinue, &created); err != nil {
		return nil, err
	}
	p.Status = PlanStatus(status)
	p.LastExecutedAt = fromMillis(lastExec)
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

// CreatePlan inserts a plan together with its steps. Steps get dense orders
// 1..N in slice order; IDs are assigned in place.
func (s *Store) CreatePlan(ctx context.Context, plan *Plan, steps []Step) error {
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	if plan.Status == "" {
		plan.Status = PlanPending
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}
	plan.TotalSteps = len(steps)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO plans (id, session_id, title, description, total_steps, status, auto_continue, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, query, plan.ID, plan.SessionID, plan.Title, plan.Description,
			plan.TotalSteps, string(plan.Status), boolInt(plan.AutoContinue), plan.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}
		for i := range steps {
			steps[i].PlanID = plan.ID
			steps[i].Order = i + 1
			if err := insertStep(ctx, tx, &steps[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetPlan loads a plan scoped to the given session.
func (s *Store) GetPlan(ctx context.Context, sessionID, planID string) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = ? AND session_id = ?`
	p, err := scanPlan(s.DB.QueryRowContext(ctx, query, planID, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query plan: %w", err)
	}
	return p, nil
}

// ListActivePlans returns unfinished plans flagged for automatic continuation
// whose session is still running and that still have a step to run.
func (s *Store) ListActivePlans(ctx context.Context) ([]Plan, error) {
	query := `SELECT p.id, p.session_id, p.title, p.description, p.total_steps, p.steps_completed,
			p.progress_percentage, p.last_executed_at, p.status, p.auto_continue, p.created_at
		FROM plans p JOIN sessions s ON s.id = p.session_id
		WHERE p.auto_continue = 1 AND p.status IN ('pending', 'in_progress') AND s.status = 'running'
			AND EXISTS (SELECT 1 FROM plan_steps st
				WHERE st.plan_id = p.id AND st.status IN ('pending', 'in_progress'))
		ORDER BY p.created_at`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active plans: %w", err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

// ProgressUpdate carries the aggregate fields recomputed after a step outcome.
type ProgressUpdate struct {
	Progress   Progress
	Status     PlanStatus
	ExecutedAt time.Time
}

func (s *Store) UpdatePlanProgress(ctx context.Context, planID string, u ProgressUpdate) error {
	query := `UPDATE plans SET total_steps = ?, steps_completed = ?, progress_percentage = ?,
			status = ?, last_executed_at = COALESCE(?, last_executed_at)
		WHERE id = ?`
	res, err := s.DB.ExecContext(ctx, query, u.Progress.TotalSteps, u.Progress.CompletedSteps,
		u.Progress.Percentage, string(u.Status), toMillis(u.ExecutedAt), planID)
	if err != nil {
		return fmt.Errorf("update plan progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	return nil
}
