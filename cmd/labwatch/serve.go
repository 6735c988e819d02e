package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labwatch/labwatch"
	"github.com/labwatch/labwatch/config"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// serveCmd starts a labwatch monitoring session.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a monitoring session",
	Long: `Start a labwatch monitoring session.

The session will:
  - Load configuration from the specified YAML file
  - Sample all configured probes at their intervals
  - Record every sample into the per-session database
  - Serve the dashboard UI and live charts on the configured port

The session runs until interrupted (Ctrl+C) or receives SIGTERM. Data
recorded so far survives the shutdown and any later restart under the
same session name appends to it.

Example:
  labwatch serve -c run.yaml
  labwatch serve --config /etc/labwatch/run.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"session", cfg.Session,
		"probes", len(cfg.Probes),
		"grids", len(cfg.Grids),
		"charts", len(cfg.Charts),
	)
	logger.Info("starting session",
		"port", cfg.Port,
		"tick_interval", cfg.TickInterval.Duration().String(),
	)

	// convert config to SDK options
	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build options: %w", err)
	}
	opts = append(opts, labwatch.WithLogger(logger))

	if len(cfg.Probes) == 0 && len(cfg.Grids) == 0 {
		return fmt.Errorf("no probes configured: a CLI session has nothing to measure without probes")
	}

	s, err := labwatch.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run session - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Run(ctx)
	}()

	// wait for session to finish
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("session error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("session error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
