package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// defaultShellTimeout applies when the model does not ask for one.
const defaultShellTimeout = 60 * time.Second

// ShellTool runs commands inside the session workspace. Env is appended to
// the process environment, which is how the session's DISPLAY reaches GUI
// programs started from the shell.
type ShellTool struct {
	Dir string
	Env []string
}

func NewShellTool(dir string, env ...string) *ShellTool {
	return &ShellTool{Dir: dir, Env: env}
}

func (s *ShellTool) Name() string {
	return "shell"
}

func (s *ShellTool) Description() string {
	return "Run a bash command on the session host, in the session workspace. Use it to inspect windows, processes and downloaded files."
}

func (s *ShellTool) Parameters() map[string]any {
	return schema([]string{"command"}, map[string]any{
		"command":         stringProp("The bash command line."),
		"timeout_seconds": intProp("Kill the command after this many seconds (default 60)."),
	})
}

func (s *ShellTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := decodeArgs(s.Name(), input, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Command) == "" {
		return "Error: empty command", nil
	}

	timeout := defaultShellTimeout
	if args.TimeoutSeconds > 0 {
		timeout = time.Duration(args.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", args.Command)
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	output, err := cmd.CombinedOutput()

	out := clip(strings.TrimSpace(string(output)))
	if out == "" {
		out = "(no output)"
	}
	switch {
	case ctx.Err() != nil:
		return "", ctx.Err()
	case runCtx.Err() == context.DeadlineExceeded:
		return fmt.Sprintf("Command timed out after %s\nOutput: %s", timeout, out), nil
	case err != nil:
		return fmt.Sprintf("Command failed: %v\nOutput: %s", err, out), nil
	}
	return out, nil
}
