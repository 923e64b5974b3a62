package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/rahul/robots/internal/observability"
	"github.com/rahul/robots/internal/store"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionInactive  = errors.New("session is not running")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrStepClaimed      = errors.New("step is already being executed")
)

const (
	DefaultStepTimeout  = 2 * time.Minute
	DefaultHistoryLimit = 20

	// leaseGrace keeps a claim alive while the outcome of a timed out run is
	// being written.
	leaseGrace = 30 * time.Second
)

// PlanStore is the persistence the executor needs. *store.Store implements it.
type PlanStore interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
	GetPlan(ctx context.Context, sessionID, planID string) (*store.Plan, error)
	ListSteps(ctx context.Context, planID string) ([]store.Step, error)
	InsertStepAfter(ctx context.Context, planID string, afterOrder int, st *store.Step) error
	ClaimStep(ctx context.Context, stepID string, now time.Time, lease time.Duration) (bool, error)
	UpdateStepOutcome(ctx context.Context, stepID string, status store.StepStatus, result string, completedAt time.Time) error
	UpdatePlanProgress(ctx context.Context, planID string, u store.ProgressUpdate) error
	AddLog(ctx context.Context, entry *store.LogEntry) error
	RecentLogs(ctx context.Context, sessionID string, limit int) ([]store.LogEntry, error)
}

// AgentFactory hands out the agent bound to a session's desktop.
type AgentFactory interface {
	ForSession(sess *store.Session) (AgentSession, error)
}

type AgentFactoryFunc func(sess *store.Session) (AgentSession, error)

func (f AgentFactoryFunc) ForSession(sess *store.Session) (AgentSession, error) {
	return f(sess)
}

// Request asks for the next step of a plan to be executed.
type Request struct {
	SessionID       string `json:"session_id"`
	PlanID          string `json:"plan_id"`
	UserInstruction string `json:"user_instruction,omitempty"`
}

// StepSnapshot is the part of a step returned to callers.
type StepSnapshot struct {
	ID     string           `json:"id"`
	Order  int              `json:"order"`
	Title  string           `json:"title"`
	Status store.StepStatus `json:"status"`
	Result string           `json:"result"`
}

func snapshot(st store.Step) *StepSnapshot {
	return &StepSnapshot{ID: st.ID, Order: st.Order, Title: st.Title, Status: st.Status, Result: st.Result}
}

// Result is the outcome of one ExecuteNextStep call.
type Result struct {
	Success                bool            `json:"success"`
	WaitingForInstructions bool            `json:"waiting_for_instructions"`
	PlanCompleted          bool            `json:"plan_completed"`
	Step                   *StepSnapshot   `json:"step,omitempty"`
	PlanProgress           *store.Progress `json:"plan_progress,omitempty"`
	RequiresContinuation   bool            `json:"requires_continuation"`
	IsBlocked              bool            `json:"is_blocked"`
	Timeout                bool            `json:"timeout"`
	ExecutionTimeMs        int64           `json:"execution_time_ms"`
	TokenUsage             *TokenUsage     `json:"token_usage,omitempty"`
	AgentText              string          `json:"agent_text,omitempty"`
	PlanSignal             string          `json:"plan_signal,omitempty"`
	Error                  string          `json:"error,omitempty"`
}

// Executor advances a plan by exactly one step per call.
type Executor struct {
	Store        PlanStore
	Agents       AgentFactory
	Prompts      *PromptManager
	Logger       *observability.Logger
	Timeout      time.Duration
	HistoryLimit int

	now func() time.Time
}

func NewExecutor(st PlanStore, agents AgentFactory, prompts *PromptManager, logger *observability.Logger) *Executor {
	return &Executor{
		Store:        st,
		Agents:       agents,
		Prompts:      prompts,
		Logger:       logger,
		Timeout:      DefaultStepTimeout,
		HistoryLimit: DefaultHistoryLimit,
		now:          time.Now,
	}
}

func (e *Executor) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

func (e *Executor) timeout() time.Duration {
	if e.Timeout <= 0 {
		return DefaultStepTimeout
	}
	return e.Timeout
}

func (e *Executor) historyLimit() int {
	if e.HistoryLimit <= 0 {
		return DefaultHistoryLimit
	}
	return e.HistoryLimit
}

// run carries the state of one call once a step has been selected.
type run struct {
	sess  *store.Session
	plan  *store.Plan
	step  store.Step
	start time.Time
}

// ExecuteNextStep resolves the plan, picks the step to work on, runs the
// agent on it under the step timeout and persists the outcome.
func (e *Executor) ExecuteNextStep(ctx context.Context, req Request) (*Result, error) {
	start := e.clock()

	req.SessionID = strings.TrimSpace(req.SessionID)
	req.PlanID = strings.TrimSpace(req.PlanID)
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidParameter)
	}
	if req.PlanID == "" {
		return nil, fmt.Errorf("%w: plan_id is required", ErrInvalidParameter)
	}

	sess, err := e.Store.GetSession(ctx, req.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, req.SessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Status != store.SessionRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionInactive, sess.ID, sess.Status)
	}

	plan, err := e.Store.GetPlan(ctx, sess.ID, req.PlanID)
	if errors.Is(err, store.ErrNotFound) {
		return &Result{Success: true, WaitingForInstructions: true, ExecutionTimeMs: e.elapsed(start)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}

	steps, err := e.Store.ListSteps(ctx, plan.ID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	if len(steps) == 0 {
		return &Result{Success: true, WaitingForInstructions: true, ExecutionTimeMs: e.elapsed(start)}, nil
	}

	current, ok := selectStep(steps)
	if !ok {
		progress := store.ComputeProgress(steps)
		if err := e.settlePlan(ctx, plan, progress); err != nil {
			log.Printf("[plan %s] %v", plan.ID, err)
		}
		return &Result{
			Success:         true,
			PlanCompleted:   true,
			PlanProgress:    &progress,
			ExecutionTimeMs: e.elapsed(start),
		}, nil
	}

	r := &run{sess: sess, plan: plan, step: current, start: start}

	claimed, err := e.Store.ClaimStep(ctx, current.ID, e.clock(), e.timeout()+leaseGrace)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return e.fail(ctx, r, fmt.Errorf("claim step: %w", err))
	}
	if !claimed {
		return nil, fmt.Errorf("%w: step %d of plan %s", ErrStepClaimed, current.Order, plan.ID)
	}
	r.step.Status = store.StepInProgress

	if instruction := strings.TrimSpace(req.UserInstruction); instruction != "" {
		inserted := &store.Step{
			Title:       instruction,
			Description: instruction,
			Status:      store.StepPending,
			Type:        store.StepTypeUserInstruction,
		}
		if err := e.Store.InsertStepAfter(ctx, plan.ID, current.Order, inserted); err != nil {
			return e.abort(ctx, r, fmt.Errorf("insert user instruction: %w", err))
		}
		plan.TotalSteps++
		e.addLog(ctx, r, store.LogSystem, fmt.Sprintf("user instruction added as step %d: %s", inserted.Order, instruction))
	}

	steps, err = e.Store.ListSteps(ctx, plan.ID)
	if err != nil {
		return e.abort(ctx, r, fmt.Errorf("reload steps: %w", err))
	}
	for _, st := range steps {
		if st.ID == current.ID {
			r.step = st
		}
	}
	progress := store.ComputeProgress(steps)

	history, err := e.Store.RecentLogs(ctx, sess.ID, e.historyLimit())
	if err != nil {
		return e.abort(ctx, r, fmt.Errorf("load history: %w", err))
	}

	agent, err := e.Agents.ForSession(sess)
	if err != nil {
		return e.abort(ctx, r, fmt.Errorf("prepare agent: %w", err))
	}

	system := ExecutionDirective
	if e.Prompts != nil {
		system = e.Prompts.SystemPrompt()
	}
	prompt := BuildStepPrompt(StepPrompt{
		Plan:     plan,
		Steps:    steps,
		Current:  r.step,
		Progress: progress,
		History:  history,
	})

	observability.BeginStep(sess.ID, fmt.Sprintf("%s: step %d %s", plan.Title, r.step.Order, r.step.Title))
	e.Logger.LogStep(observability.EventTypeStepStarted, sess.ID, plan.ID, r.step.ID, map[string]any{
		"order": r.step.Order,
		"title": r.step.Title,
	})

	res, err := e.runStep(ctx, r, agent, system, prompt)
	observability.EndStep(sess.ID, outcomeOf(res, err))
	return res, err
}

func outcomeOf(res *Result, err error) observability.Outcome {
	switch {
	case err != nil || res == nil:
		return observability.OutcomeFailed
	case res.Timeout:
		return observability.OutcomeTimeout
	case res.Step != nil && res.Step.Status == store.StepCompleted:
		return observability.OutcomeCompleted
	case res.Step != nil && res.Step.Status.Terminal():
		return observability.OutcomeFailed
	}
	return observability.OutcomeContinued
}

// selectStep resumes a step left in_progress, otherwise takes the lowest
// order pending step.
func selectStep(steps []store.Step) (store.Step, bool) {
	for _, st := range steps {
		if st.Status == store.StepInProgress {
			return st, true
		}
	}
	for _, st := range steps {
		if st.Status == store.StepPending {
			return st, true
		}
	}
	return store.Step{}, false
}

type agentOutcome struct {
	res *AgentResult
	err error
}

func (e *Executor) runStep(ctx context.Context, r *run, agent AgentSession, system, prompt string) (*Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu        sync.Mutex
		partial   []string
		detected  store.StepStatus
		found     bool
		abandoned bool
	)
	// onStep holds mu while logging so a turn is either recorded in full or
	// dropped once the run is abandoned.
	onStep := func(s AgentStep) bool {
		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			return true
		}

		if s.Text != "" {
			e.addLog(ctx, r, store.LogAgentStep, s.Text)
			e.Logger.LogReasoning(r.sess.ID, r.step.ID, s.Text)
		}
		for _, tc := range s.ToolCalls {
			e.addLog(ctx, r, store.LogToolCall, formatToolCall(tc))
		}

		if s.Text != "" {
			partial = append(partial, s.Text)
		}
		if status, ok := DetectStepStatus(s.Text, r.step.Order); ok {
			detected, found = status, true
		}
		return found
	}
	partialText := func() string {
		mu.Lock()
		defer mu.Unlock()
		return strings.Join(partial, "\n")
	}
	// abandon stops further turns from being recorded and reports whether a
	// status token was already seen.
	abandon := func() (string, store.StepStatus, bool) {
		mu.Lock()
		defer mu.Unlock()
		abandoned = true
		return strings.Join(partial, "\n"), detected, found
	}

	done := make(chan agentOutcome, 1)
	go func() {
		res, err := agent.Run(runCtx, AgentRequest{System: system, Prompt: prompt, OnStep: onStep})
		done <- agentOutcome{res: res, err: err}
	}()

	timer := time.NewTimer(e.timeout())
	defer timer.Stop()

	var out agentOutcome
	select {
	case out = <-done:
	case <-timer.C:
		text, status, ok := abandon()
		cancel()
		if ok {
			return e.finish(ctx, r, status, text, nil)
		}
		return e.timedOut(ctx, r, text)
	case <-ctx.Done():
		text, _, _ := abandon()
		cancel()
		e.release(ctx, r, text)
		return nil, ctx.Err()
	}

	if out.err != nil {
		if ctx.Err() != nil {
			text, _, _ := abandon()
			e.release(ctx, r, text)
			return nil, ctx.Err()
		}
		return e.fail(ctx, r, fmt.Errorf("agent run: %w", out.err))
	}

	text := partialText()
	var usage *TokenUsage
	if out.res != nil {
		if out.res.Text != "" {
			text = out.res.Text
		}
		u := out.res.Usage
		usage = &u
		e.Logger.LogCost(r.sess.ID, r.step.ID, u.PromptTokens, u.CompletionTokens)
	}

	mu.Lock()
	status, ok := detected, found
	mu.Unlock()
	if !ok {
		status, ok = DetectStepStatus(text, r.step.Order)
	}
	if !ok {
		status = store.StepInProgress
	}
	return e.finish(ctx, r, status, text, usage)
}

// finish persists the step outcome and the recomputed plan progress.
func (e *Executor) finish(ctx context.Context, r *run, status store.StepStatus, text string, usage *TokenUsage) (*Result, error) {
	var completedAt time.Time
	if status.Terminal() {
		completedAt = e.clock()
	}
	result := strings.TrimSpace(text)
	if err := e.Store.UpdateStepOutcome(ctx, r.step.ID, status, result, completedAt); err != nil {
		return e.fail(ctx, r, fmt.Errorf("save step outcome: %w", err))
	}
	r.step.Status = status
	r.step.Result = result

	progress, err := e.saveProgress(ctx, r)
	if err != nil {
		return e.fail(ctx, r, err)
	}

	e.Logger.LogStep(observability.EventTypeStepFinished, r.sess.ID, r.plan.ID, r.step.ID, map[string]any{
		"order":  r.step.Order,
		"status": status,
	})
	if progress.Done() {
		e.Logger.LogStep(observability.EventTypePlanCompleted, r.sess.ID, r.plan.ID, "", map[string]any{
			"percentage": progress.Percentage,
		})
	}

	return &Result{
		Success:              true,
		PlanCompleted:        progress.Done(),
		Step:                 snapshot(r.step),
		PlanProgress:         &progress,
		RequiresContinuation: status == store.StepInProgress,
		IsBlocked:            status == store.StepFailed,
		ExecutionTimeMs:      e.elapsed(r.start),
		TokenUsage:           usage,
		AgentText:            text,
		PlanSignal:           DetectPlanSignal(text),
	}, nil
}

// timedOut leaves the step in_progress with the partial output and releases
// its lease so the next call resumes it.
func (e *Executor) timedOut(ctx context.Context, r *run, text string) (*Result, error) {
	bg := context.WithoutCancel(ctx)
	result := strings.TrimSpace(text)
	if result == "" {
		result = r.step.Result
	}
	if err := e.Store.UpdateStepOutcome(bg, r.step.ID, store.StepInProgress, result, time.Time{}); err != nil {
		return e.fail(ctx, r, fmt.Errorf("save partial result: %w", err))
	}
	r.step.Status = store.StepInProgress
	r.step.Result = result

	progress, err := e.saveProgress(bg, r)
	if err != nil {
		return e.fail(ctx, r, err)
	}

	e.Logger.LogStep(observability.EventTypeStepTimeout, r.sess.ID, r.plan.ID, r.step.ID, map[string]any{
		"order":   r.step.Order,
		"timeout": e.timeout().String(),
	})

	return &Result{
		Success:              true,
		Step:                 snapshot(r.step),
		PlanProgress:         &progress,
		RequiresContinuation: true,
		Timeout:              true,
		ExecutionTimeMs:      e.elapsed(r.start),
		AgentText:            text,
		PlanSignal:           DetectPlanSignal(text),
	}, nil
}

// abort handles an error between the claim and the agent run. A caller
// that went away only releases the lease.
func (e *Executor) abort(ctx context.Context, r *run, cause error) (*Result, error) {
	if ctx.Err() != nil {
		e.release(ctx, r, "")
		return nil, ctx.Err()
	}
	return e.fail(ctx, r, cause)
}

// release drops the lease of a step whose caller went away.
func (e *Executor) release(ctx context.Context, r *run, text string) {
	result := strings.TrimSpace(text)
	if result == "" {
		result = r.step.Result
	}
	if err := e.Store.UpdateStepOutcome(context.WithoutCancel(ctx), r.step.ID, store.StepInProgress, result, time.Time{}); err != nil {
		log.Printf("[plan %s] failed to release step %d: %v", r.plan.ID, r.step.Order, err)
	}
}

// fail marks the selected step failed with the error as its result. Writing
// the error log is best effort.
func (e *Executor) fail(ctx context.Context, r *run, cause error) (*Result, error) {
	bg := context.WithoutCancel(ctx)
	msg := cause.Error()

	e.Logger.LogError(r.sess.ID, r.plan.ID, r.step.ID, cause)
	if err := e.Store.UpdateStepOutcome(bg, r.step.ID, store.StepFailed, msg, e.clock()); err != nil {
		log.Printf("[plan %s] failed to mark step %d failed: %v", r.plan.ID, r.step.Order, err)
	} else {
		r.step.Status = store.StepFailed
		r.step.Result = msg
	}
	e.addLog(bg, r, store.LogError, fmt.Sprintf("step %d failed: %s", r.step.Order, msg))

	res := &Result{
		Step:            snapshot(r.step),
		IsBlocked:       r.step.Status == store.StepFailed,
		ExecutionTimeMs: e.elapsed(r.start),
		Error:           msg,
	}
	if progress, err := e.saveProgress(bg, r); err == nil {
		res.PlanProgress = &progress
		res.PlanCompleted = progress.Done()
	}
	return res, cause
}

// saveProgress recomputes the plan aggregates from the stored steps.
func (e *Executor) saveProgress(ctx context.Context, r *run) (store.Progress, error) {
	steps, err := e.Store.ListSteps(ctx, r.plan.ID)
	if err != nil {
		return store.Progress{}, fmt.Errorf("reload steps: %w", err)
	}
	progress := store.ComputeProgress(steps)
	status := store.PlanInProgress
	if progress.Done() {
		status = store.PlanCompleted
	}
	if err := e.Store.UpdatePlanProgress(ctx, r.plan.ID, store.ProgressUpdate{
		Progress:   progress,
		Status:     status,
		ExecutedAt: e.clock(),
	}); err != nil {
		return progress, fmt.Errorf("save plan progress: %w", err)
	}
	r.plan.TotalSteps = progress.TotalSteps
	r.plan.StepsCompleted = progress.CompletedSteps
	r.plan.ProgressPercentage = progress.Percentage
	r.plan.Status = status
	return progress, nil
}

// settlePlan stores the aggregates of a plan with no step left to run when
// they differ from what is stored.
func (e *Executor) settlePlan(ctx context.Context, plan *store.Plan, progress store.Progress) error {
	status := store.PlanInProgress
	if progress.Done() {
		status = store.PlanCompleted
	}
	if plan.Status == status &&
		plan.TotalSteps == progress.TotalSteps &&
		plan.StepsCompleted == progress.CompletedSteps &&
		plan.ProgressPercentage == progress.Percentage {
		return nil
	}
	if err := e.Store.UpdatePlanProgress(ctx, plan.ID, store.ProgressUpdate{
		Progress: progress,
		Status:   status,
	}); err != nil {
		return fmt.Errorf("save plan progress: %w", err)
	}
	plan.Status = status
	plan.TotalSteps = progress.TotalSteps
	plan.StepsCompleted = progress.CompletedSteps
	plan.ProgressPercentage = progress.Percentage
	return nil
}

// addLog appends to the session log. Failures are only reported.
func (e *Executor) addLog(ctx context.Context, r *run, kind store.LogKind, content string) {
	entry := &store.LogEntry{
		SessionID: r.sess.ID,
		PlanID:    r.plan.ID,
		StepID:    r.step.ID,
		Kind:      kind,
		Content:   content,
	}
	if err := e.Store.AddLog(context.WithoutCancel(ctx), entry); err != nil {
		log.Printf("[session %s] failed to write log entry: %v", r.sess.ID, err)
	}
}

func (e *Executor) elapsed(start time.Time) int64 {
	return e.clock().Sub(start).Milliseconds()
}

func formatToolCall(tc ToolInvocation) string {
	var b strings.Builder
	b.WriteString(tc.Name)
	if tc.Arguments != "" {
		b.WriteString(" ")
		b.WriteString(tc.Arguments)
	}
	if tc.Denied {
		b.WriteString(" (denied)")
	}
	if out := oneLine(tc.Output, historyEntryLimit); out != "" {
		b.WriteString(" -> ")
		b.WriteString(out)
	}
	return b.String()
}
