package agent

import (
	"fmt"
	"strings"

	"github.com/rahul/robots/internal/store"
)

// Summary renders an executor outcome as a short chat message.
func Summary(res *Result, err error) string {
	if res == nil {
		if err != nil {
			return "Error: " + err.Error()
		}
		return ""
	}

	var b strings.Builder
	switch {
	case res.WaitingForInstructions:
		return "Waiting for instructions: the plan has no steps."
	case res.Step == nil && res.PlanCompleted:
		b.WriteString("Plan completed.")
	case res.Step != nil:
		fmt.Fprintf(&b, "Step %d (%s): %s", res.Step.Order, res.Step.Title, statusLabel(res.Step.Status))
		if res.Timeout {
			b.WriteString(", timed out and will continue")
		}
		if res.PlanCompleted {
			b.WriteString("\nPlan completed.")
		}
	}

	if p := res.PlanProgress; p != nil {
		fmt.Fprintf(&b, "\nProgress: %d/%d (%d%%)", p.CompletedSteps, p.TotalSteps, p.Percentage)
	}
	if res.PlanSignal != "" {
		fmt.Fprintf(&b, "\nAgent signal: %s", res.PlanSignal)
	}
	if err != nil {
		fmt.Fprintf(&b, "\nError: %v", err)
	} else if res.Step != nil && res.Step.Result != "" {
		fmt.Fprintf(&b, "\n\n%s", oneLine(res.Step.Result, 600))
	}
	return b.String()
}

func statusLabel(s store.StepStatus) string {
	return strings.ReplaceAll(string(s), "_", " ")
}
