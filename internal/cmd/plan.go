package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rahul/robots/internal/gateway"
	"github.com/rahul/robots/internal/planfile"
	"github.com/rahul/robots/internal/store"
)

func newPlanCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Import and inspect plans",
	}
	cmd.AddCommand(newPlanImportCommand(opts))
	cmd.AddCommand(newPlanShowCommand(opts))
	return cmd
}

func newPlanImportCommand(opts *rootOptions) *cobra.Command {
	var autoContinue bool

	cmd := &cobra.Command{
		Use:   "import <session-id> <plan-file>",
		Short: "Create a plan from a Markdown or YAML file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			draft, err := planfile.ParseFile(args[1])
			if err != nil {
				return err
			}
			if autoContinue {
				draft.AutoContinue = true
			}
			return importPlan(cmd.Context(), cmd.OutOrStdout(), st, args[0], draft)
		},
	}
	cmd.Flags().BoolVar(&autoContinue, "auto-continue", false, "let the scheduler advance this plan")

	return cmd
}

func importPlan(ctx context.Context, w io.Writer, st *store.Store, sessionID string, draft *planfile.Draft) error {
	if _, err := st.GetSession(ctx, sessionID); err != nil {
		return err
	}
	plan, steps := draft.Plan(sessionID)
	if err := st.CreatePlan(ctx, plan, steps); err != nil {
		return err
	}
	fmt.Fprintf(w, "Created plan %s (%d steps)\n", plan.ID, len(steps))
	return nil
}

func newPlanShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id> <plan-id>",
		Short: "Print a plan and its steps",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			plan, err := st.GetPlan(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			steps, err := st.ListSteps(cmd.Context(), plan.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), gateway.FormatPlan(plan, steps))
			return nil
		},
	}
}
