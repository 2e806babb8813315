package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/startswithzed/observability/internal/bootstrap"
	"github.com/startswithzed/observability/internal/config"
	"github.com/startswithzed/observability/internal/hooks"
	"github.com/startswithzed/observability/internal/logging"
	"github.com/startswithzed/observability/internal/queue"
	"github.com/startswithzed/observability/internal/supervisor"
	"github.com/startswithzed/observability/internal/tracker"
	"go.uber.org/zap"
)

func newWorkerCmd() *cobra.Command {
	var processes int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background task worker",
		Long: `Run the background task worker.

With more than one process the command supervises that many worker
processes, each running this binary again with its own telemetry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("processes") {
				cfg.Worker.Processes = processes
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			slot, isChild := supervisor.Slot()
			if supervise(cfg.Worker.Processes, isChild) {
				return runSupervisor(ctx, cfg)
			}
			return runWorker(ctx, cfg, slot)
		},
	}
	cmd.Flags().IntVar(&processes, "processes", 1, "number of worker processes (overrides WORKER_PROCESSES)")
	return cmd
}

// supervise reports whether this invocation supervises worker processes
// instead of consuming tasks itself.
func supervise(processes int, isChild bool) bool {
	return processes > 1 && !isChild
}

// runSupervisor keeps cfg.Worker.Processes children of this binary running.
// Children inherit the environment and run the worker command in their
// slot.
func runSupervisor(ctx context.Context, cfg *config.Config) error {
	st := bootstrap.InitTelemetry(ctx, bootstrap.ServiceName(config.DefaultWorkerServiceName)+"-supervisor")
	defer shutdownTelemetry(st)

	sup, err := supervisor.New(supervisor.Config{
		Processes:   cfg.Worker.Processes,
		Args:        []string{"worker"},
		StopTimeout: 30 * time.Second,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}, st.Logger)
	if err != nil {
		return err
	}

	watchLogLevel(ctx, st.Logger)
	st.Logger.Info(ctx, "worker_supervisor_started", zap.Int("processes", cfg.Worker.Processes))
	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("supervise workers: %w", err)
	}
	st.Logger.Info(context.Background(), "worker_supervisor_stopped")
	return nil
}

// runWorker consumes tasks until ctx is cancelled.
//
// Telemetry is not initialized here. The after_worker_start hooks run when
// the worker starts: the first initializes telemetry for this process, the
// second opens the stores and registers the task handlers, so the clients
// are created after their instrumentation is active.
func runWorker(ctx context.Context, cfg *config.Config, slot int) error {
	defer func() { shutdownTelemetry(bootstrap.Current()) }()

	deps := &dependencies{}
	defer func() {
		if err := deps.Close(); err != nil {
			logging.L().Warn(context.Background(), "dependency_close_failed", zap.Error(err))
		}
	}()

	if err := deps.connectNATS(ctx, cfg.NATS, bootstrap.ServiceName(config.DefaultWorkerServiceName)); err != nil {
		return err
	}

	hm := hooks.NewHookManager(nil)
	worker := queue.NewWorker(deps.nats, cfg.NATS, hm, queue.WithSlot(slot))

	hm.RegisterHandler(hooks.HookAfterWorkerStart, bootstrap.WorkerHook(config.DefaultWorkerServiceName))
	hm.RegisterHandler(hooks.HookAfterWorkerStart, func(ctx context.Context, _ map[string]any) error {
		if err := deps.openDatabase(ctx, cfg.Database, logging.L()); err != nil {
			return err
		}
		if err := deps.openRedis(ctx, cfg.Redis, logging.L()); err != nil {
			return err
		}
		products := tracker.NewCachedLister(deps.repo, deps.redis, cachePrefix, cfg.Redis.CacheTTL.Duration(), nil)
		fetcher := tracker.NewSimulatedFetcher(cfg.Worker.FetchFailureRate, 0)
		tracker.NewPriceUpdater(products, fetcher, nil).Register(worker)
		return nil
	})

	if err := worker.Start(ctx); err != nil {
		return err
	}
	logger := logging.L()
	watchLogLevel(ctx, logger)

	<-ctx.Done()

	logger.Info(context.Background(), "worker_stopping", zap.Int("worker_slot", slot))
	if err := worker.Stop(); err != nil {
		logger.Warn(context.Background(), "worker_stop_failed", zap.Error(err))
	}
	return nil
}
