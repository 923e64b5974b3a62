package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rahul/robots/internal/store"
)

// ExecutionDirective is appended to every system prompt. The status lines it
// defines are what DetectStepStatus and DetectPlanSignal look for.
const ExecutionDirective = `You operate a remote desktop session on behalf of the user through the tools you are given: shell commands, GUI input, file edits and the browser.

## Before navigating
Check the current state before you switch pages, tabs or windows:
- list the open windows, browser tabs and running processes (shell) and take a desktop screenshot when unsure
- reuse a tab that already shows the page you need instead of opening a new one
- never close or leave a page that holds unsaved work

## Response format
Work on the current step only. End your final reply with exactly one status line for it:
- "step <N> finished" when the step is done
- "step <N> failed" when the step cannot be completed
- "step <N> canceled" when the step no longer makes sense
<N> is the order number of the current step. Never write a status line for another step.
Plan-level lines, only when they apply:
- "plan failed" when the whole plan cannot continue
- "new plan" when the plan has to be rewritten before continuing
- "session saved" when the session state was saved for later`

// PromptManager assembles system prompts from operator prompt files.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// GetOperatorPrompt joins the Markdown files of the prompts directory in a
// fixed order. A missing directory yields an empty prompt.
func (pm *PromptManager) GetOperatorPrompt() (string, error) {
	if pm.Directory == "" {
		return "", nil
	}
	files, err := os.ReadDir(pm.Directory)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read prompts directory: %w", err)
	}

	order := map[string]int{
		"identity.md":     1,
		"capabilities.md": 2,
		"navigation.md":   3,
		"user.md":         4,
	}

	sort.Slice(files, func(i, j int) bool {
		oi, okI := order[files[i].Name()]
		oj, okJ := order[files[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return files[i].Name() < files[j].Name()
	})

	var contents []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
			continue
		}
		path := filepath.Join(pm.Directory, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", path, err)
			continue
		}
		contents = append(contents, strings.TrimSpace(string(data)))
	}

	return strings.Join(contents, "\n\n---\n\n"), nil
}

// SystemPrompt returns the operator prompt followed by ExecutionDirective.
func (pm *PromptManager) SystemPrompt() string {
	operator, err := pm.GetOperatorPrompt()
	if err != nil {
		log.Printf("Warning: Failed to load operator prompt: %v", err)
	}
	if operator == "" {
		return ExecutionDirective
	}
	return operator + "\n\n---\n\n" + ExecutionDirective
}

// StepPrompt is everything the user turn of a step run is built from.
type StepPrompt struct {
	Plan     *store.Plan
	Steps    []store.Step
	Current  store.Step
	Progress store.Progress
	History  []store.LogEntry
}

var statusGlyphs = map[store.StepStatus]string{
	store.StepPending:    "[ ]",
	store.StepInProgress: "[~]",
	store.StepCompleted:  "[x]",
	store.StepFailed:     "[!]",
	store.StepCanceled:   "[-]",
	store.StepBlocked:    "[#]",
}

const historyEntryLimit = 200

// BuildStepPrompt renders the user prompt for the current step.
func BuildStepPrompt(p StepPrompt) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Plan: %s\n", p.Plan.Title)
	if desc := strings.TrimSpace(p.Plan.Description); desc != "" {
		fmt.Fprintf(&b, "%s\n", desc)
	}
	fmt.Fprintf(&b, "\nProgress: %d/%d steps (%d%%)\n", p.Progress.CompletedSteps, p.Progress.TotalSteps, p.Progress.Percentage)

	b.WriteString("\n## Steps\n")
	for _, st := range p.Steps {
		glyph, ok := statusGlyphs[st.Status]
		if !ok {
			glyph = "[?]"
		}
		fmt.Fprintf(&b, "%s %d. %s", glyph, st.Order, st.Title)
		if st.Type == store.StepTypeUserInstruction {
			b.WriteString(" (user instruction)")
		}
		if st.ID == p.Current.ID {
			b.WriteString("  <- current step")
		}
		b.WriteString("\n")
	}

	if len(p.History) > 0 {
		b.WriteString("\n## Recent activity\n")
		for _, e := range p.History {
			fmt.Fprintf(&b, "- [%s] %s\n", e.Kind, oneLine(e.Content, historyEntryLimit))
		}
	}

	fmt.Fprintf(&b, "\n## Current step\nStep %d: %s\n", p.Current.Order, p.Current.Title)
	if desc := strings.TrimSpace(p.Current.Description); desc != "" && desc != p.Current.Title {
		fmt.Fprintf(&b, "%s\n", desc)
	}
	if p.Current.Status == store.StepInProgress && p.Current.Result != "" {
		fmt.Fprintf(&b, "\nThis step was started before. Last output:\n%s\n", oneLine(p.Current.Result, 500))
	}

	fmt.Fprintf(&b, "\nWork only on step %d. Do not start any other step. When you stop, reply with \"step %d finished\", \"step %d failed\" or \"step %d canceled\".\n",
		p.Current.Order, p.Current.Order, p.Current.Order, p.Current.Order)

	return b.String()
}

// oneLine collapses whitespace and truncates to limit runes.
func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}
