package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/startswithzed/observability/internal/bootstrap"
	"github.com/startswithzed/observability/internal/config"
	"github.com/startswithzed/observability/internal/hooks"
	httpserver "github.com/startswithzed/observability/internal/http"
	"github.com/startswithzed/observability/internal/queue"
	"github.com/startswithzed/observability/internal/tracker"
	"go.uber.org/zap"
)

func newAPICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAPI(ctx)
		},
	}
}

// runAPI serves the API until ctx is cancelled.
//
// Telemetry is initialized before any client is created so the database,
// cache and queue clients pick up their instrumentation.
func runAPI(ctx context.Context) error {
	st := bootstrap.InitTelemetry(ctx, bootstrap.ServiceName(config.DefaultAPIServiceName))
	defer shutdownTelemetry(st)

	cfg := st.Config
	logger := st.Logger
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	watchLogLevel(ctx, logger)

	deps := &dependencies{}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn(context.Background(), "dependency_close_failed", zap.Error(err))
		}
	}()

	if err := deps.openDatabase(ctx, cfg.Database, logger); err != nil {
		return err
	}
	if err := deps.openRedis(ctx, cfg.Redis, logger); err != nil {
		return err
	}
	if err := deps.connectNATS(ctx, cfg.NATS, st.ServiceName); err != nil {
		return err
	}

	products := tracker.NewCachedLister(deps.repo, deps.redis, cachePrefix, cfg.Redis.CacheTTL.Duration(), logger)
	dispatcher := queue.NewClient(deps.nats, cfg.NATS.SubjectPrefix, hooks.NewHookManager(nil))

	srv, err := httpserver.NewServer(logger, httpserver.ConfigFromApp(cfg, st.ServiceName),
		httpserver.WithTelemetryFailures(func() []error { return st.Failures }),
	)
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}
	srv.AddReadinessCheck("db", deps.repo.Ping)
	srv.AddReadinessCheck("redis", products.PingCache)
	tracker.NewAPI(products, dispatcher, logger).Register(srv.Echo())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info(context.Background(), "api_stopped")
	return nil
}
