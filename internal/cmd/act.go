package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rahul/robots/internal/agent"
)

func newActCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "act <session-id> <plan-id> [instruction...]",
		Short: "Execute the next step of a plan",
		Long: `Run one step of the plan against its session and print the outcome.
Any text after the plan ID is inserted as a user instruction right after
the step being executed.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			req := agent.Request{
				SessionID:       args[0],
				PlanID:          args[1],
				UserInstruction: strings.Join(args[2:], " "),
			}
			res, err := rt.Executor.ExecuteNextStep(cmd.Context(), req)
			return printResult(cmd.OutOrStdout(), res, err, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw result as JSON")

	return cmd
}

func printResult(w io.Writer, res *agent.Result, err error, asJSON bool) error {
	if asJSON && res != nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
		return err
	}
	if res != nil {
		fmt.Fprintln(w, agent.Summary(res, nil))
	}
	return err
}
