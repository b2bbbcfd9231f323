package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vbonduro/checkin/internal/config"
	"github.com/vbonduro/checkin/internal/logging"
	"github.com/vbonduro/checkin/internal/selfcheck"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand(config.Load()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func rootCommand(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "checkin",
		Short:         "Room check-in inspection recorder",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Validate()
		},
	}
	root.PersistentFlags().StringVar(&cfg.TableBackend, "tables", cfg.TableBackend, "Table backend (sqlite, xlsx, memory)")
	root.PersistentFlags().StringVar(&cfg.BlobBackend, "blobs", cfg.BlobBackend, "Blob backend (local, minio)")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	root.AddCommand(serveCommand(cfg), checkCommand(cfg))
	return root
}

func serveCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept inspection submissions over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer cleanup()

			a, err := build(cmd.Context(), cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.close()

			return a.server.Run(cmd.Context(), cfg.ListenAddr)
		},
	}
	cmd.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	return cmd
}

func checkCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify sheets, folders and services before serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cleanup, err := logging.New("warn", cfg.LogFormat, cfg.LogFile)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer cleanup()

			a, err := build(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			checks := a.checker.Run(cmd.Context())
			for _, c := range checks {
				fmt.Fprintln(cmd.OutOrStdout(), c.String())
			}
			if selfcheck.Failed(checks) {
				return fmt.Errorf("self check failed")
			}
			return nil
		},
	}
}
