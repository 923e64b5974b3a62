package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/robots/internal/agent"
	"github.com/rahul/robots/internal/store"
	"github.com/rahul/robots/pkg/config"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := NewRootCommand()
	assert.Equal(t, "robots", root.Use)

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "act", "plan", "session"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestNewModel(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ProviderConfig
		wantErr string
	}{
		{name: "openai", cfg: config.ProviderConfig{APIKey: "sk-test", Model: "gpt-4o"}},
		{name: "openrouter", cfg: config.ProviderConfig{APIKey: "sk-test", Model: "openai/gpt-4o"}},
		{name: "anthropic", cfg: config.ProviderConfig{APIKey: "sk-test", Model: "claude-sonnet-4-5"}},
		{name: "ollama", cfg: config.ProviderConfig{Model: "llama3", BaseURL: "http://127.0.0.1:11434"}},
		{name: "openai", cfg: config.ProviderConfig{APIKey: "sk-test"}, wantErr: "model is required"},
		{name: "bedrock", cfg: config.ProviderConfig{Model: "x"}, wantErr: "not supported"},
	}
	for _, tt := range tests {
		t.Run(tt.name+tt.wantErr, func(t *testing.T) {
			model, err := NewModel(tt.name, tt.cfg)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, model)
		})
	}
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := fmt.Sprintf(`{"memory": {"type": "sqlite", "path": %q}, "app": {"log_dir": %q}}`,
		filepath.Join(dir, "robots.db"), filepath.Join(dir, "logs"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSessionAndPlanCommands(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := run(t, "--config", cfgPath, "session", "add", "--id", "sess-1",
		"--cdp-url", "ws://127.0.0.1:9222/devtools/browser/abc", "--chat-id", "telegram:42")
	require.NoError(t, err)
	assert.Contains(t, out, "Created session sess-1")

	planPath := filepath.Join(t.TempDir(), "leads.md")
	require.NoError(t, os.WriteFile(planPath, []byte("# Export leads\n\n1. Open the CRM\n2. Export as CSV\n"), 0644))

	out, err = run(t, "--config", cfgPath, "plan", "import", "sess-1", planPath)
	require.NoError(t, err)
	require.Contains(t, out, "(2 steps)")
	planID := strings.Fields(strings.TrimPrefix(out, "Created plan "))[0]

	out, err = run(t, "--config", cfgPath, "plan", "show", "sess-1", planID)
	require.NoError(t, err)
	assert.Contains(t, out, "Export leads")
	assert.Contains(t, out, "Open the CRM")
	assert.Contains(t, out, "Export as CSV")

	_, err = run(t, "--config", cfgPath, "plan", "import", "sess-missing", planPath)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = run(t, "--config", cfgPath, "session", "stop", "sess-1")
	require.NoError(t, err)
}

func TestSessionAddRequiresEndpoint(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t), "session", "add", "--id", "sess-1")
	assert.ErrorContains(t, err, "--cdp-url or --display")
}

func TestActRequiresProvider(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t), "act", "sess-1", "plan-1")
	assert.ErrorContains(t, err, "no enabled provider")
}

func TestPrintResult(t *testing.T) {
	res := &agent.Result{
		Success: true,
		Step:    &agent.StepSnapshot{Order: 1, Title: "Open the CRM", Status: store.StepCompleted},
		PlanProgress: &store.Progress{
			CompletedSteps: 1, TotalSteps: 2, Percentage: 50,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, res, nil, true))
	assert.Contains(t, buf.String(), `"success": true`)

	buf.Reset()
	require.NoError(t, printResult(&buf, res, nil, false))
	assert.Contains(t, buf.String(), "Step 1 (Open the CRM): completed")

	boom := errors.New("boom")
	buf.Reset()
	assert.ErrorIs(t, printResult(&buf, nil, boom, true), boom)
	assert.Empty(t, buf.String())
}
