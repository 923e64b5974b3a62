package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rahul/robots/internal/store"
)

func newSessionCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Register and manage remote browser sessions",
	}
	cmd.AddCommand(newSessionAddCommand(opts))
	cmd.AddCommand(newSessionStatusCommand(opts, "stop", store.SessionStopped))
	cmd.AddCommand(newSessionStatusCommand(opts, "start", store.SessionRunning))
	return cmd
}

func newSessionAddCommand(opts *rootOptions) *cobra.Command {
	var sess store.Session

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record an already provisioned session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sess.CDPURL == "" && sess.Display == "" {
				return fmt.Errorf("one of --cdp-url or --display is required")
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.CreateSession(cmd.Context(), &sess); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created session %s\n", sess.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sess.ID, "id", "", "session ID (generated when empty)")
	cmd.Flags().StringVar(&sess.ProviderID, "provider-id", "", "ID of the session at the desktop provider")
	cmd.Flags().StringVar(&sess.CDPURL, "cdp-url", "", "Chrome DevTools websocket URL of the remote browser")
	cmd.Flags().StringVar(&sess.Display, "display", "", "X display of the remote desktop")
	cmd.Flags().StringVar(&sess.Workspace, "workspace", "", "working directory for shell and file tools")
	cmd.Flags().StringVar(&sess.ChatID, "chat-id", "", "chat notified by the scheduler, e.g. telegram:1234")

	return cmd
}

func newSessionStatusCommand(opts *rootOptions, use string, status store.SessionStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id>",
		Short: fmt.Sprintf("Mark a session %s", status),
		Args:  cobra.ExactArgs(1),
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

			return st.SetSessionStatus(cmd.Context(), args[0], status)
		},
	}
}
