package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rahul/robots/internal/store"
	"github.com/rahul/robots/pkg/config"
)

// Version is injected at build time via -ldflags
var Version = "dev"

type rootOptions struct {
	configPath string
}

// NewRootCommand creates the robots command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "robots",
		Short: "Step-by-step plan executor for remote browser sessions",
		Long: `Robots advances automation plans one step at a time. Each step is
handed to an LLM agent driving a remote browser session; the agent's reply
decides whether the step completed, failed or needs another call.`,
		Version:      Version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.json", "config file (.json, .yaml or .toml)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newActCommand(opts))
	cmd.AddCommand(newPlanCommand(opts))
	cmd.AddCommand(newSessionCommand(opts))

	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", o.configPath, err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if cfg.Memory.Type != "" && cfg.Memory.Type != "sqlite" {
		return nil, fmt.Errorf("memory type %q not supported", cfg.Memory.Type)
	}
	return store.NewStore(cfg.Memory.Path)
}
