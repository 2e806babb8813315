package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/startswithzed/observability/internal/config"
	"github.com/startswithzed/observability/internal/logging"
	"github.com/startswithzed/observability/internal/tracker"
	"go.uber.org/zap"
)

// cachePrefix namespaces the product cache shared by the API and the
// workers.
const cachePrefix = "pricewatch"

// dependencies holds the infrastructure clients of a process.
type dependencies struct {
	db    *sql.DB
	repo  *tracker.SQLRepository
	redis *redis.Client
	nats  *nats.Conn
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() error {
	var errs []error
	if d.nats != nil {
		if err := d.nats.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
	}
	if d.redis != nil {
		errs = append(errs, d.redis.Close())
	}
	if d.db != nil {
		errs = append(errs, d.db.Close())
	}
	return errors.Join(errs...)
}

// openDatabase opens the product database and makes sure the schema exists.
func (d *dependencies) openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger) error {
	db, err := tracker.OpenDB(cfg)
	if err != nil {
		return err
	}
	d.db = db
	d.repo = tracker.NewSQLRepository(db)
	if err := d.repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info(ctx, "database_ready",
		zap.String("driver", cfg.Driver),
		zap.String("url", cfg.URL.Redacted()),
	)
	return nil
}

// openRedis creates the cache client. An instrumentation failure leaves an
// uninstrumented client and is only logged.
func (d *dependencies) openRedis(ctx context.Context, cfg config.RedisConfig, logger *logging.Logger) error {
	client, err := tracker.NewRedisClient(cfg)
	if client == nil {
		return err
	}
	if err != nil {
		logger.Warn(ctx, "redis_instrumentation_failed", zap.Error(err))
	}
	d.redis = client
	return nil
}

// connectNATS connects to the task queue, retrying in the background when
// the server is not up yet. Connection events go to the process logger
// current at the time of the event.
func (d *dependencies) connectNATS(ctx context.Context, cfg config.NATSConfig, name string) error {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.L().Warn(context.Background(), "nats_disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.L().Info(context.Background(), "nats_reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}
	d.nats = nc
	logging.L().Info(ctx, "nats_connecting", zap.String("url", cfg.URL))
	return nil
}
