package store

import (
	"math"
	"time"
)

// StepStatus is the lifecycle state of a single plan step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepCanceled   StepStatus = "canceled"
	StepBlocked    StepStatus = "blocked"
)

// Terminal reports whether the status counts towards plan progress.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepCanceled:
		return true
	}
	return false
}

// StepType distinguishes planned steps from steps inserted on user request.
type StepType string

const (
	StepTypePlanned         StepType = "planned"
	StepTypeUserInstruction StepType = "user_instruction"
)

type PlanStatus string

const (
	PlanPending    PlanStatus = "pending"
	PlanInProgress PlanStatus = "in_progress"
	PlanCompleted  PlanStatus = "completed"
	PlanFailed     PlanStatus = "failed"
)

type SessionStatus string

const (
	SessionRunning SessionStatus = "running"
	SessionStopped SessionStatus = "stopped"
)

// Session is an externally provisioned remote desktop/browser.
// The store only records how to reach it.
type Session struct {
	ID         string        `json:"id"`
	ProviderID string        `json:"provider_id"`
	CDPURL     string        `json:"cdp_url,omitempty"`
	Display    string        `json:"display,omitempty"`
	Workspace  string        `json:"workspace,omitempty"`
	ChatID     string        `json:"chat_id,omitempty"`
	Status     SessionStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Plan is an ordered sequence of steps bound to one session.
type Plan struct {
	ID                 string     `json:"id"`
	SessionID          string     `json:"session_id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	TotalSteps         int        `json:"total_steps"`
	StepsCompleted     int        `json:"steps_completed"`
	ProgressPercentage int        `json:"progress_percentage"`
	LastExecutedAt     time.Time  `json:"last_executed_at"`
	Status             PlanStatus `json:"status"`
	AutoContinue       bool       `json:"auto_continue"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Step is one unit of work within a plan. Order is dense and unique per plan.
type Step struct {
	ID           string     `json:"id"`
	PlanID       string     `json:"plan_id"`
	Order        int        `json:"order"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Status       StepStatus `json:"status"`
	Result       string     `json:"result"`
	Type         StepType   `json:"step_type"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  time.Time  `json:"completed_at"`
	ClaimedUntil time.Time  `json:"-"`
}

type LogKind string

const (
	LogAgentStep LogKind = "agent_step"
	LogToolCall  LogKind = "tool_call"
	LogError     LogKind = "error"
	LogSystem    LogKind = "system"
)

// LogEntry is an append-only record of session activity.
type LogEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	PlanID    string    `json:"plan_id,omitempty"`
	StepID    string    `json:"step_id,omitempty"`
	Kind      LogKind   `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Progress is a plan progress snapshot.
type Progress struct {
	CompletedSteps int `json:"completed_steps"`
	TotalSteps     int `json:"total_steps"`
	Percentage     int `json:"percentage"`
}

// Done reports whether every step is terminal.
func (p Progress) Done() bool {
	return p.TotalSteps > 0 && p.CompletedSteps == p.TotalSteps
}

// ComputeProgress counts terminal steps. It never looks at positions, so
// out-of-order completions still produce a sensible percentage.
func ComputeProgress(steps []Step) Progress {
	p := Progress{TotalSteps: len(steps)}
	for _, s := range steps {
		if s.Status.Terminal() {
			p.CompletedSteps++
		}
	}
	if p.TotalSteps > 0 {
		p.Percentage = int(math.Round(float64(p.CompletedSteps) * 100 / float64(p.TotalSteps)))
	}
	return p
}
