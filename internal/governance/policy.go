package governance

import (
	"context"
	"fmt"
	"regexp"
	"sync"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request is one tool call the agent wants to make inside a session.
type Request struct {
	Tool      string
	Arguments string
	SessionID string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates tool calls against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// ArgumentRule denies calls whose raw JSON arguments match Pattern. An empty
// Tool applies the rule to every tool.
type ArgumentRule struct {
	Tool    string
	Pattern *regexp.Regexp
	Reason  string
}

// DefaultPolicyEngine is a deny-list: tools or argument patterns can be
// blocked globally or for a single session; everything else is allowed.
type DefaultPolicyEngine struct {
	mu             sync.RWMutex
	deniedTools    map[string]bool
	sessionDenials map[string]map[string]bool
	rules          []ArgumentRule
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		deniedTools:    make(map[string]bool),
		sessionDenials: make(map[string]map[string]bool),
	}
}

// restrictedRules keep an agent on a shared remote desktop from wrecking
// the host or reading it through the browser.
var restrictedRules = []struct{ tool, pattern, reason string }{
	{"", `rm\s+-rf\s+/(\s|"|$)`, "recursive delete of the filesystem root"},
	{"", `\bmkfs`, "formatting a filesystem"},
	{"", `\b(shutdown|reboot|poweroff|halt)\b`, "stopping the session host"},
	{"", `:\(\)\s*\{`, "fork bomb"},
	{"", `\bdd\s+.*of=/dev/`, "raw writes to a device"},
	{"browser", `"url"\s*:\s*"(file|chrome|devtools):`, "local or internal browser URLs"},
}

// NewRestrictedPolicyEngine returns an engine preloaded with the rules for
// shared session hosts.
func NewRestrictedPolicyEngine() *DefaultPolicyEngine {
	e := NewDefaultPolicyEngine()
	for _, r := range restrictedRules {
		e.rules = append(e.rules, ArgumentRule{
			Tool:    r.tool,
			Pattern: regexp.MustCompile(r.pattern),
			Reason:  r.reason,
		})
	}
	return e
}

func (e *DefaultPolicyEngine) DenyTool(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deniedTools[name] = true
}

// DenyToolForSession blocks a tool in one session only, e.g. the desktop
// tool for a session that exposes no display.
func (e *DefaultPolicyEngine) DenyToolForSession(sessionID, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessionDenials[sessionID] == nil {
		e.sessionDenials[sessionID] = make(map[string]bool)
	}
	e.sessionDenials[sessionID][name] = true
}

// DenyArguments blocks argument patterns for every tool.
func (e *DefaultPolicyEngine) DenyArguments(pattern string) error {
	return e.DenyToolArguments("", pattern)
}

// DenyToolArguments blocks argument patterns for one tool.
func (e *DefaultPolicyEngine) DenyToolArguments(tool, pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid policy pattern %q: %w", pattern, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, ArgumentRule{Tool: tool, Pattern: re})
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.deniedTools[req.Tool] {
		return deny("Tool '%s' is restricted by system policy", req.Tool), nil
	}
	if e.sessionDenials[req.SessionID][req.Tool] {
		return deny("Tool '%s' is disabled for session %s", req.Tool, req.SessionID), nil
	}

	for _, r := range e.rules {
		if r.Tool != "" && r.Tool != req.Tool {
			continue
		}
		if !r.Pattern.MatchString(req.Arguments) {
			continue
		}
		if r.Reason != "" {
			return deny("Arguments blocked (%s)", r.Reason), nil
		}
		return deny("Arguments match restricted pattern: %s", r.Pattern), nil
	}

	return Result{Effect: EffectAllow, Reason: "Approved by default policy"}, nil
}

func deny(format string, args ...any) Result {
	return Result{Effect: EffectDeny, Reason: fmt.Sprintf(format, args...)}
}
