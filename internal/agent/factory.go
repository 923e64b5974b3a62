package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/robots/internal/governance"
	"github.com/rahul/robots/internal/observability"
	"github.com/rahul/robots/internal/store"
	"github.com/rahul/robots/internal/tools"
)

type sessionPolicy interface {
	DenyToolForSession(sessionID, tool string)
}

// SessionAgents builds a WorkerBrain per session and keeps each session's
// toolset alive between calls so the browser stays attached.
type SessionAgents struct {
	Model         llms.Model
	Policy        governance.PolicyEngine
	Logger        *observability.Logger
	WorkspaceRoot string
	MaxSteps      int
	WebSearch     bool

	mu         sync.Mutex
	registries map[string]*tools.Registry
}

func NewSessionAgents(model llms.Model, policy governance.PolicyEngine, logger *observability.Logger, workspaceRoot string) *SessionAgents {
	return &SessionAgents{
		Model:         model,
		Policy:        policy,
		Logger:        logger,
		WorkspaceRoot: workspaceRoot,
		registries:    make(map[string]*tools.Registry),
	}
}

// Workspace is the directory the session's shell and file tools work in.
func (f *SessionAgents) Workspace(sess *store.Session) string {
	if sess.Workspace != "" {
		return sess.Workspace
	}
	return filepath.Join(f.WorkspaceRoot, sess.ID)
}

func (f *SessionAgents) ForSession(sess *store.Session) (AgentSession, error) {
	if f.Model == nil {
		return nil, fmt.Errorf("no model configured")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.registries == nil {
		f.registries = make(map[string]*tools.Registry)
	}
	registry, ok := f.registries[sess.ID]
	if !ok {
		workspace := f.Workspace(sess)
		if err := os.MkdirAll(workspace, 0755); err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
		registry = tools.NewSessionRegistry(tools.SessionToolConfig{
			Workspace: workspace,
			Display:   sess.Display,
			CDPURL:    sess.CDPURL,
			WebSearch: f.WebSearch,
		})
		f.registries[sess.ID] = registry

		// A browser-only session has no desktop to drive.
		if sess.Display == "" && sess.CDPURL != "" {
			if p, ok := f.Policy.(sessionPolicy); ok {
				p.DenyToolForSession(sess.ID, "system")
			}
		}
	}

	brain := NewWorkerBrain(f.Model, registry, f.Policy, f.Logger, sess.ID)
	if f.MaxSteps > 0 {
		brain.MaxSteps = f.MaxSteps
	}
	return brain, nil
}

// Close releases every cached toolset.
func (f *SessionAgents) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, registry := range f.registries {
		registry.Close()
		delete(f.registries, id)
	}
}
