package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rahul/robots/internal/agent"
	"github.com/rahul/robots/internal/gateway"
	"github.com/rahul/robots/internal/observability"
	"github.com/rahul/robots/pkg/config"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, chat gateways and auto-continue scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, stop, cfg)
		},
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *config.Config) error {
	interactive := observability.IsInteractive()
	if interactive {
		observability.PrintBanner()
		observability.InitializeTerminal()
		defer observability.CleanupTerminal()
		// Keep log lines from tearing the live status line.
		log.SetOutput(observability.NewTermWriter())
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	router := gateway.NewRouter("")
	commands := gateway.NewCommandHandler(rt.Executor, rt.Store)

	if tgCfg, ok := cfg.GetTelegramConfig(); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, commands)
		if err != nil {
			return err
		}
		router.Add("telegram", tg)
		go func() {
			if err := tg.Start(); err != nil {
				log.Printf("\033[91m[ FAIL ] TELEGRAM GATEWAY: %v\033[0m", err)
				stop()
			}
		}()
	}

	if dcCfg, ok := cfg.GetDiscordConfig(); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, commands)
		if err != nil {
			return err
		}
		if err := dc.Start(); err != nil {
			return err
		}
		router.Add("discord", dc)
	}
	defer router.Stop()

	var httpServer *gateway.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = gateway.NewHTTPServer(cfg.HTTP.Addr, rt.Executor, rt.Store, cfg.HTTP.RateLimit, cfg.HTTP.Burst)
		go func() {
			if err := httpServer.Start(); err != nil {
				log.Printf("\033[91m[ FAIL ] HTTP API: %v\033[0m", err)
				stop()
			}
		}()
	}

	interval, err := cfg.AutoContinueInterval()
	if err != nil {
		return err
	}
	if interval > 0 {
		var notifier agent.Messenger
		if router.Len() > 0 {
			notifier = router
		}
		scheduler := agent.NewScheduler(rt.Executor, rt.Store, notifier, interval)
		go scheduler.Start(ctx)
	}

	if interactive {
		go tick(ctx, time.Second, observability.PrintLiveStatus)
	}
	go tick(ctx, 30*time.Second, func() {
		observability.Heartbeat()
		rt.Logger.LogHeartbeat()
	})

	<-ctx.Done()

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	}
	log.Println("\033[95m[ EXIT ] CORE DE-INITIALIZED. GOODBYE.\033[0m")
	return nil
}

func tick(ctx context.Context, every time.Duration, fn func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
