package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rahul/robots/internal/store"
)

// Plan-level signals the agent may emit. They are surfaced to the caller and
// never change plan status on their own.
const (
	SignalPlanFailed   = "plan failed"
	SignalNewPlan      = "new plan"
	SignalSessionSaved = "session saved"
)

var stepVerbs = map[string]store.StepStatus{
	"finished":  store.StepCompleted,
	"failed":    store.StepFailed,
	"canceled":  store.StepCanceled,
	"cancelled": store.StepCanceled,
}

var planSignalPattern = regexp.MustCompile(`(?i)\b(plan\s+failed|new\s+plan|session\s+saved)\b`)

func stepStatusPattern(order int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?i)\bstep\s+%d\s+(finished|failed|canceled|cancelled)\b`, order))
}

// DetectStepStatus finds the last "step <order> finished|failed|canceled"
// token in text. Tokens for other steps are ignored.
func DetectStepStatus(text string, order int) (store.StepStatus, bool) {
	matches := stepStatusPattern(order).FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", false
	}
	verb := strings.ToLower(matches[len(matches)-1][1])
	status, ok := stepVerbs[verb]
	return status, ok
}

// DetectPlanSignal returns the last plan-level signal in text, normalised to
// lower case with single spaces.
func DetectPlanSignal(text string) string {
	matches := planSignalPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return ""
	}
	return strings.Join(strings.Fields(strings.ToLower(matches[len(matches)-1])), " ")
}
