package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"periodic/internal/app"
	"periodic/internal/config"
	"periodic/internal/console"
	"periodic/internal/probe"
	logx "periodic/pkg/logx"
)

var flagConfig string

func defaultConfigPath() string {
	if p := os.Getenv("PERIODIC_CONFIG"); p != "" {
		return p
	}
	return "./periodic.yaml"
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "periodic",
		Short:        "Run probes on fixed intervals and keep running aggregates",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", defaultConfigPath(), "config file, JSON or YAML (or PERIODIC_CONFIG env)")

	root.AddCommand(
		newRunCmd(),
		newConsoleCmd(),
		newAggregatesCmd(),
		newProbesCmd(),
	)
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(flagConfig)
			if err != nil {
				return err
			}
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			if err := a.Start(context.Background()); err != nil {
				return err
			}
			notify(daemon.SdNotifyReady)

			reason := app.StopUnknown
			select {
			case sig := <-sigCh:
				reason = signalReason(sig)
			case <-a.Done():
				reason = app.StopFatalError
			}
			return shutdown(a, reason)
		},
	}
}

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Run the scheduler with an interactive console on stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(flagConfig)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := a.Start(ctx); err != nil {
				return err
			}
			notify(daemon.SdNotifyReady)

			reason := app.StopConsole
			if err := a.Console().Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				reason = app.StopSIGINT
				if a.Err() != nil {
					reason = app.StopFatalError
				}
			}
			return shutdown(a, reason)
		},
	}
}

func newAggregatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregates",
		Short: "Print stored sample aggregates and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(flagConfig).Load()
			if err != nil {
				return err
			}
			store, err := app.OpenStorage(cfg, logx.NewConsole("warn"))
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("storage is disabled in %s", flagConfig)
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			aggs, err := store.Aggregates(ctx)
			if err != nil {
				return err
			}
			if len(aggs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no samples recorded yet")
				return nil
			}
			console.WriteAggregates(cmd.OutOrStdout(), aggs)
			return nil
		},
	}
}

func newProbesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probes",
		Short: "List available probes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(probe.Names(), "\n"))
		},
	}
}

func shutdown(a *app.App, reason app.StopReason) error {
	notify(daemon.SdNotifyStopping)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Stop(ctx, reason); err != nil {
		return err
	}
	return a.Err()
}

// notify is a no-op outside systemd (NOTIFY_SOCKET unset).
func notify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		fmt.Fprintln(os.Stderr, "sd_notify:", err)
	}
}

func signalReason(sig os.Signal) app.StopReason {
	switch sig {
	case os.Interrupt:
		return app.StopSIGINT
	case syscall.SIGTERM:
		return app.StopSIGTERM
	default:
		return app.StopUnknown
	}
}
