package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/cascade"
	"github.com/jpalmerr/cascade/config"
)

// newLogger creates a JSON logger for CLI use.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge server",
	Long: `Start the cascade bridge server.

The server will:
  - Load configuration from the specified YAML file
  - Apply inline values and the seed file to the context
  - Serve the REST, SSE and WebSocket API on the configured port
  - Re-apply changed seed keys when seed.watch is enabled

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  cascade serve -c cascade.yaml
  cascade serve --config /etc/cascade/cascade.yaml --port 7070`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	serveCmd.Flags().IntP("port", "p", 0, "override the configured port")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}

	logger := newLogger(cfg.Level())
	logger.Info("config loaded",
		"port", cfg.Port,
		"values", len(cfg.Values),
		"seed", cfg.Seed.Path,
		"watch", cfg.Seed.Watch,
	)

	opts := append(config.BuildOptions(cfg), cascade.WithContextOptions(cascade.WithLogger(logger)))
	bridge, err := cascade.NewBridge(opts...)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}

	// cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- bridge.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		timeout := cfg.ShutdownTimeout.Duration()
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(timeout):
			logger.Warn("shutdown timed out",
				"timeout", timeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
