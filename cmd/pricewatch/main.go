// Pricewatch runs the product price tracker.
//
// The same binary serves every process role:
//
//	# HTTP API
//	pricewatch api
//
//	# Background worker (WORKER_PROCESSES > 1 starts a supervisor)
//	pricewatch worker
//
// Configuration is loaded from defaults, the YAML file named by CONFIG_FILE
// and the environment. See internal/config for the variables.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/startswithzed/observability/internal/bootstrap"
	"github.com/startswithzed/observability/internal/config"
	"github.com/startswithzed/observability/internal/logging"
	"go.uber.org/zap"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// telemetryFlushTimeout bounds the final flush when a process exits.
const telemetryFlushTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pricewatch",
		Short:        "Product price tracker",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newAPICmd(), newWorkerCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "pricewatch\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

// shutdownTelemetry flushes the process telemetry on exit.
func shutdownTelemetry(st *bootstrap.State) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
	defer cancel()
	if err := bootstrap.Shutdown(ctx); err != nil && st != nil {
		st.Logger.Warn(ctx, "telemetry_shutdown_failed", zap.Error(err))
	}
}

// watchLogLevel applies log.level changes made to the CONFIG_FILE overlay
// while the process runs.
func watchLogLevel(ctx context.Context, logger *logging.Logger) {
	path := os.Getenv(config.ConfigFileEnv)
	if path == "" {
		return
	}
	go func() {
		err := config.Watch(ctx, path, func(cfg *config.Config, err error) {
			if err != nil {
				logger.Warn(ctx, "config_reload_failed", zap.Error(err))
				return
			}
			level, err := logging.LevelFromString(cfg.Log.Level)
			if err != nil {
				logger.Warn(ctx, "config_reload_failed", zap.Error(err))
				return
			}
			if level != logger.Level() {
				logger.SetLevel(level)
				logger.Info(ctx, "log_level_changed", zap.String("level", level.String()))
			}
		})
		if err != nil {
			logger.Warn(ctx, "config_watch_failed", zap.Error(err))
		}
	}()
}
