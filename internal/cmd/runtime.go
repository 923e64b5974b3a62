package cmd

import (
	"fmt"

	"github.com/rahul/robots/internal/agent"
	"github.com/rahul/robots/internal/governance"
	"github.com/rahul/robots/internal/observability"
	"github.com/rahul/robots/internal/store"
	"github.com/rahul/robots/pkg/config"
)

// runtime is everything a step execution needs, built once per process.
type runtime struct {
	Store    *store.Store
	Logger   *observability.Logger
	Agents   *agent.SessionAgents
	Executor *agent.Executor
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	name, pcfg := cfg.GetDefaultProvider()
	if name == "" {
		return nil, fmt.Errorf("no enabled provider found in config")
	}
	model, err := NewModel(name, pcfg)
	if err != nil {
		return nil, err
	}

	timeout, err := cfg.StepTimeout()
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	var policy governance.PolicyEngine = governance.NewDefaultPolicyEngine()
	if cfg.Executor.RestrictedTools {
		policy = governance.NewRestrictedPolicyEngine()
	}

	logger := observability.NewLogger(cfg.App.LogDir)

	agents := agent.NewSessionAgents(model, policy, logger, cfg.App.Workspace)
	agents.MaxSteps = cfg.Executor.MaxAgentSteps
	agents.WebSearch = cfg.Executor.WebSearch

	exec := agent.NewExecutor(st, agents, agent.NewPromptManager(cfg.App.PromptsDir), logger)
	exec.Timeout = timeout
	exec.HistoryLimit = cfg.Executor.HistoryLimit

	return &runtime{Store: st, Logger: logger, Agents: agents, Executor: exec}, nil
}

func (r *runtime) Close() {
	r.Agents.Close()
	r.Store.Close()
}
