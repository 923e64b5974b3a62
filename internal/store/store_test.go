package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedPlan(t *testing.T, s *Store, titles ...string) (*Session, *Plan, []Step) {
	t.Helper()
	ctx := context.Background()
	sess := &Session{ProviderID: "desk-1"}
	require.NoError(t, s.CreateSession(ctx, sess))

	steps := make([]Step, len(titles))
	for i, title := range titles {
		steps[i] = Step{Title: title}
	}
	plan := &Plan{SessionID: sess.ID, Title: "Export leads", AutoContinue: true}
	require.NoError(t, s.CreatePlan(ctx, plan, steps))
	return sess, plan, steps
}

func orders(steps []Step) []int {
	out := make([]int, len(steps))
	for i, st := range steps {
		out[i] = st.Order
	}
	return out
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name    string
		dbPath  string
		wantErr bool
	}{
		{name: "in-memory database", dbPath: ":memory:"},
		{name: "creates parent directories", dbPath: filepath.Join(t.TempDir(), "nested", "robots.db")},
		{name: "reopens existing file", dbPath: filepath.Join(t.TempDir(), "robots.db")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(tt.dbPath)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, s.Close())

			if tt.dbPath != ":memory:" {
				again, err := NewStore(tt.dbPath)
				require.NoError(t, err)
				require.NoError(t, again.Close())
			}
		})
	}
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &Session{ProviderID: "desk-1", CDPURL: "ws://127.0.0.1:9222", ChatID: "42"}
	require.NoError(t, s.CreateSession(ctx, sess))
	assert.NotEmpty(t, sess.ID)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionRunning, got.Status)
	assert.Equal(t, "ws://127.0.0.1:9222", got.CDPURL)
	assert.Equal(t, "42", got.ChatID)

	require.NoError(t, s.SetSessionStatus(ctx, sess.ID, SessionStopped))
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionStopped, got.Status)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetSessionStatus(ctx, "missing", SessionStopped), ErrNotFound)
}

func TestCreatePlanAssignsDenseOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, plan, _ := seedPlan(t, s, "open crm", "export", "mail")

	got, err := s.GetPlan(ctx, sess.ID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalSteps)
	assert.Equal(t, PlanPending, got.Status)
	assert.True(t, got.AutoContinue)

	steps, err := s.ListSteps(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, orders(steps))
	for _, st := range steps {
		assert.Equal(t, StepPending, st.Status)
		assert.Equal(t, StepTypePlanned, st.Type)
	}
}

func TestGetPlanIsScopedToSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, plan, _ := seedPlan(t, s, "a")

	other := &Session{ProviderID: "desk-2"}
	require.NoError(t, s.CreateSession(ctx, other))

	_, err := s.GetPlan(ctx, other.ID, plan.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertStepAfter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, plan, seeded := seedPlan(t, s, "one", "two", "three")

	inserted := &Step{Title: "user asked", Type: StepTypeUserInstruction}
	require.NoError(t, s.InsertStepAfter(ctx, plan.ID, 2, inserted))
	assert.Equal(t, 3, inserted.Order)

	steps, err := s.ListSteps(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, orders(steps))
	assert.Equal(t, inserted.ID, steps[2].ID)
	assert.Equal(t, StepTypeUserInstruction, steps[2].Type)
	assert.Equal(t, seeded[2].ID, steps[3].ID, "original order-3 step moves to order 4")

	got, err := s.GetPlan(ctx, sess.ID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.TotalSteps)
}

func TestClaimStep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, plan, seeded := seedPlan(t, s, "one")
	now := time.Now()

	ok, err := s.ClaimStep(ctx, seeded[0].ID, now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimStep(ctx, seeded[0].ID, now.Add(time.Second), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "live lease blocks a second claim")

	ok, err = s.ClaimStep(ctx, seeded[0].ID, now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be reclaimed")

	steps, err := s.ListSteps(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, StepInProgress, steps[0].Status)
	assert.Equal(t, now.UnixMilli(), steps[0].StartedAt.UnixMilli(), "resume keeps the first start time")

	require.NoError(t, s.UpdateStepOutcome(ctx, seeded[0].ID, StepInProgress, "partial", time.Time{}))
	ok, err = s.ClaimStep(ctx, seeded[0].ID, now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "released step can be resumed")

	require.NoError(t, s.UpdateStepOutcome(ctx, seeded[0].ID, StepCompleted, "done", now))
	ok, err = s.ClaimStep(ctx, seeded[0].ID, now.Add(time.Hour), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "terminal steps are never claimed")
}

func TestUpdatePlanProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, plan, _ := seedPlan(t, s, "one", "two")
	at := time.UnixMilli(1700000000000)

	err := s.UpdatePlanProgress(ctx, plan.ID, ProgressUpdate{
		Progress:   Progress{CompletedSteps: 1, TotalSteps: 2, Percentage: 50},
		Status:     PlanInProgress,
		ExecutedAt: at,
	})
	require.NoError(t, err)

	got, err := s.GetPlan(ctx, sess.ID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.StepsCompleted)
	assert.Equal(t, 50, got.ProgressPercentage)
	assert.Equal(t, PlanInProgress, got.Status)
	assert.True(t, at.Equal(got.LastExecutedAt))

	assert.ErrorIs(t, s.UpdatePlanProgress(ctx, "missing", ProgressUpdate{Status: PlanPending}), ErrNotFound)
}

func TestListActivePlans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, plan, _ := seedPlan(t, s, "one")

	manual := &Plan{SessionID: sess.ID, Title: "manual"}
	require.NoError(t, s.CreatePlan(ctx, manual, []Step{{Title: "x"}}))

	plans, err := s.ListActivePlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, plan.ID, plans[0].ID)

	require.NoError(t, s.SetSessionStatus(ctx, sess.ID, SessionStopped))
	plans, err = s.ListActivePlans(ctx)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestListActivePlansSkipsPlansWithNothingToRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, blocked, _ := seedPlan(t, s, "open", "export")
	_, finished, _ := seedPlan(t, s, "open")
	_, runnable, _ := seedPlan(t, s, "open", "export")

	outcome := func(planID string, statuses ...StepStatus) {
		steps, err := s.ListSteps(ctx, planID)
		require.NoError(t, err)
		for i, status := range statuses {
			require.NoError(t, s.UpdateStepOutcome(ctx, steps[i].ID, status, "", time.Time{}))
		}
	}
	outcome(blocked.ID, StepCompleted, StepBlocked)
	outcome(finished.ID, StepCanceled)
	outcome(runnable.ID, StepCompleted, StepInProgress)

	plans, err := s.ListActivePlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, runnable.ID, plans[0].ID)
	assert.Equal(t, PlanPending, plans[0].Status, "the plan row itself is still unfinished")
}

func TestRecentLogsChronological(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.AddLog(ctx, &LogEntry{SessionID: "s1", Kind: LogAgentStep, Content: fmt.Sprintf("entry %d", i)}))
	}
	require.NoError(t, s.AddLog(ctx, &LogEntry{SessionID: "s2", Kind: LogAgentStep, Content: "other"}))

	entries, err := s.RecentLogs(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "entry 3", entries[0].Content)
	assert.Equal(t, "entry 5", entries[2].Content)
}

func TestComputeProgress(t *testing.T) {
	tests := []struct {
		name     string
		statuses []StepStatus
		want     Progress
	}{
		{name: "empty", want: Progress{}},
		{name: "none done", statuses: []StepStatus{StepPending, StepInProgress}, want: Progress{0, 2, 0}},
		{name: "terminal states count", statuses: []StepStatus{StepCompleted, StepFailed, StepCanceled, StepPending}, want: Progress{3, 4, 75}},
		{name: "blocked is not terminal", statuses: []StepStatus{StepBlocked, StepCompleted, StepPending}, want: Progress{1, 3, 33}},
		{name: "all done", statuses: []StepStatus{StepCompleted}, want: Progress{1, 1, 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := make([]Step, len(tt.statuses))
			for i, st := range tt.statuses {
				steps[i].Status = st
			}
			assert.Equal(t, tt.want, ComputeProgress(steps))
		})
	}
}
