package agent

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/rahul/robots/internal/observability"
	"github.com/rahul/robots/internal/store"
)

// Messenger delivers notifications to a chat.
type Messenger interface {
	Send(chatID string, text string) error
}

// StepRunner is satisfied by *Executor.
type StepRunner interface {
	ExecuteNextStep(ctx context.Context, req Request) (*Result, error)
}

// ActivePlans lists plans flagged for automatic continuation.
type ActivePlans interface {
	ListActivePlans(ctx context.Context) ([]store.Plan, error)
	GetSession(ctx context.Context, id string) (*store.Session, error)
}

// Scheduler keeps auto_continue plans moving without a caller, one step per
// plan per tick.
type Scheduler struct {
	Runner   StepRunner
	Plans    ActivePlans
	Gateway  Messenger
	Interval time.Duration
}

func NewScheduler(runner StepRunner, plans ActivePlans, gateway Messenger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		Runner:   runner,
		Plans:    plans,
		Gateway:  gateway,
		Interval: interval,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.Println("Continuation scheduler started...")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollAndExecute(ctx)
		}
	}
}

// pollAndExecute runs one step of every active plan and returns how many
// executor calls were made.
func (s *Scheduler) pollAndExecute(ctx context.Context) int {
	plans, err := s.Plans.ListActivePlans(ctx)
	if err != nil {
		log.Printf("Error polling plans: %v", err)
		return 0
	}

	observability.SetPolling(true)
	defer observability.SetPolling(false)

	ran := 0
	for _, p := range plans {
		if ctx.Err() != nil {
			return ran
		}

		res, err := s.Runner.ExecuteNextStep(ctx, Request{SessionID: p.SessionID, PlanID: p.ID})
		ran++
		if errors.Is(err, ErrStepClaimed) {
			continue
		}
		if err != nil {
			log.Printf("Error continuing plan %s: %v", p.ID, err)
		}
		if !shouldNotify(res, err) {
			continue
		}
		s.notify(ctx, p.SessionID, Summary(res, err))
	}
	return ran
}

// shouldNotify skips quiet continuations: timeouts, steps still running and
// calls that ran no step.
func shouldNotify(res *Result, err error) bool {
	if err != nil {
		return true
	}
	if res == nil || res.Step == nil {
		return false
	}
	if res.PlanCompleted || res.PlanSignal != "" {
		return true
	}
	return res.Step != nil && res.Step.Status.Terminal()
}

func (s *Scheduler) notify(ctx context.Context, sessionID, text string) {
	if s.Gateway == nil {
		return
	}
	sess, err := s.Plans.GetSession(ctx, sessionID)
	if err != nil || sess.ChatID == "" {
		return
	}
	if err := s.Gateway.Send(sess.ChatID, text); err != nil {
		log.Printf("Error notifying chat %s: %v", sess.ChatID, err)
	}
}
