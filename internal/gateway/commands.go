package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/robots/internal/agent"
	"github.com/rahul/robots/internal/store"
)

const helpText = `Commands:
/act <session> <plan> [instruction]  run the next step, optionally adding an instruction after it
/plan <session> <plan>  show plan progress`

// PlanReader is the read side of the store used by gateways.
type PlanReader interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
	GetPlan(ctx context.Context, sessionID, planID string) (*store.Plan, error)
	ListSteps(ctx context.Context, planID string) ([]store.Step, error)
}

// Command is a parsed chat command.
type Command struct {
	Name        string
	SessionID   string
	PlanID      string
	Instruction string
}

// ParseCommand reads "/act <session> <plan> [instruction]" style messages.
// A "@botname" suffix on the command is ignored.
func ParseCommand(text string) (Command, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, errors.New("not a command")
	}
	name, _, _ := strings.Cut(strings.TrimPrefix(fields[0], "/"), "@")
	cmd := Command{Name: strings.ToLower(name)}

	switch cmd.Name {
	case "help", "start":
		return cmd, nil
	case "act", "plan":
		if len(fields) < 3 {
			return cmd, fmt.Errorf("usage: /%s <session> <plan>", cmd.Name)
		}
		cmd.SessionID, cmd.PlanID = fields[1], fields[2]
		if cmd.Name == "act" && len(fields) > 3 {
			cmd.Instruction = strings.Join(fields[3:], " ")
		}
		return cmd, nil
	}
	return cmd, fmt.Errorf("unknown command /%s", cmd.Name)
}

// CommandHandler answers chat commands for the Telegram and Discord gateways.
type CommandHandler struct {
	Runner agent.StepRunner
	Plans  PlanReader
}

func NewCommandHandler(runner agent.StepRunner, plans PlanReader) *CommandHandler {
	return &CommandHandler{Runner: runner, Plans: plans}
}

// Handle runs a command and returns the reply text.
func (h *CommandHandler) Handle(ctx context.Context, text string) string {
	cmd, err := ParseCommand(text)
	if err != nil {
		return err.Error() + "\n\n" + helpText
	}

	switch cmd.Name {
	case "act":
		res, err := h.Runner.ExecuteNextStep(ctx, agent.Request{
			SessionID:       cmd.SessionID,
			PlanID:          cmd.PlanID,
			UserInstruction: cmd.Instruction,
		})
		return agent.Summary(res, err)
	case "plan":
		plan, steps, err := loadPlan(ctx, h.Plans, cmd.SessionID, cmd.PlanID)
		if err != nil {
			return "Error: " + err.Error()
		}
		return FormatPlan(plan, steps)
	}
	return helpText
}

func loadPlan(ctx context.Context, plans PlanReader, sessionID, planID string) (*store.Plan, []store.Step, error) {
	if _, err := plans.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", agent.ErrSessionNotFound, sessionID)
		}
		return nil, nil, err
	}
	plan, err := plans.GetPlan(ctx, sessionID, planID)
	if err != nil {
		return nil, nil, err
	}
	steps, err := plans.ListSteps(ctx, plan.ID)
	if err != nil {
		return nil, nil, err
	}
	return plan, steps, nil
}

var statusMarks = map[store.StepStatus]string{
	store.StepPending:    "⬜",
	store.StepInProgress: "⏳",
	store.StepCompleted:  "✅",
	store.StepFailed:     "❌",
	store.StepCanceled:   "➖",
	store.StepBlocked:    "⛔",
}

// FormatPlan renders a plan and its steps for chat.
func FormatPlan(plan *store.Plan, steps []store.Step) string {
	var b strings.Builder
	p := store.ComputeProgress(steps)
	fmt.Fprintf(&b, "%s [%s]\nProgress: %d/%d (%d%%)\n", plan.Title, plan.Status, p.CompletedSteps, p.TotalSteps, p.Percentage)
	for _, st := range steps {
		mark, ok := statusMarks[st.Status]
		if !ok {
			mark = "?"
		}
		fmt.Fprintf(&b, "\n%s %d. %s", mark, st.Order, st.Title)
	}
	return b.String()
}
