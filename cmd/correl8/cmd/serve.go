package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/correl8/correl8/internal/logging"
	"github.com/correl8/correl8/internal/mcp"
	"github.com/correl8/correl8/internal/telemetry"
	"github.com/correl8/correl8/pkg/correl8"
)

func (a *app) newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the active index to MCP clients",
		Long: `Start an MCP server over stdio exposing search, insert, delete, the
settings document and the mapping of the active index.

stdout carries the protocol, so logs only go to ~/.correl8/logs/correl8.log.`,
		Example: `  correl8 serve -t sleep`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context(), transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "MCP transport (stdio)")
	return cmd
}

func (a *app) runServe(ctx context.Context, transport string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if a.debug {
		// Replace the --debug logger; it also writes to stderr.
		a.stopLogging()
		level = "debug"
	}
	logger, cleanup, err := logging.Setup(logging.StdioConfig(level))
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()
	a.logger = logger

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.New()
	h, _, err := a.openHandle(ctx, correl8.WithTelemetry(metrics))
	if err != nil {
		logger.Error("serve_open_failed", slog.String("error", err.Error()))
		return err
	}
	defer closeHandle(h, logger)

	queries := a.openQueryLog()
	defer func() {
		if err := queries.Close(); err != nil {
			logger.Warn("query_log_close_failed", slog.String("error", err.Error()))
		}
	}()

	srv, err := mcp.NewServer(h, logger)
	if err != nil {
		return err
	}
	srv.SetMetrics(metrics)
	srv.SetQueryLog(queries)

	logger.Info("serve_started",
		slog.String("index", h.Index()),
		slog.String("config_index", h.ConfigIndex()))

	err = srv.Serve(ctx, transport)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
