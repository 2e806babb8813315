package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/startswithzed/observability/internal/config"
	"github.com/startswithzed/observability/internal/instrument"
	"github.com/startswithzed/observability/internal/logging"
	"go.uber.org/zap"
)

// NewRedisClient creates a client from cfg and attaches Redis
// instrumentation when that target is active.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := instrument.Redis(client); err != nil {
		return client, fmt.Errorf("instrument redis: %w", err)
	}
	return client, nil
}

// CachedLister caches the product list in Redis in front of a Repository.
// Writes go to the repository and invalidate the cached list. Cache failures
// are logged and never fail the call.
type CachedLister struct {
	Repository

	client redis.UniversalClient
	key    string
	ttl    time.Duration
	logger *logging.Logger
}

var _ Repository = (*CachedLister)(nil)

// NewCachedLister wraps repo. prefix namespaces the cache keys, normally the
// service name. logger may be nil.
func NewCachedLister(repo Repository, client redis.UniversalClient, prefix string, ttl time.Duration, logger *logging.Logger) *CachedLister {
	return &CachedLister{
		Repository: repo,
		client:     client,
		key:        prefix + ":products:all",
		ttl:        ttl,
		logger:     logger,
	}
}

// Key returns the cache key of the product list.
func (c *CachedLister) Key() string {
	return c.key
}

// List returns the cached list, loading it from the repository on a miss.
func (c *CachedLister) List(ctx context.Context) ([]Product, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	switch {
	case err == nil:
		var products []Product
		if err := json.Unmarshal(data, &products); err == nil {
			return products, nil
		}
		c.log(ctx).Warn(ctx, "cache_entry_corrupt", zap.String("key", c.key))
	case errors.Is(err, redis.Nil):
	default:
		c.log(ctx).Warn(ctx, "cache_read_failed", zap.String("key", c.key), zap.Error(err))
	}

	products, err := c.Repository.List(ctx)
	if err != nil {
		return nil, err
	}

	data, err = json.Marshal(products)
	if err == nil {
		err = c.client.Set(ctx, c.key, data, c.ttl).Err()
	}
	if err != nil {
		c.log(ctx).Warn(ctx, "cache_write_failed", zap.String("key", c.key), zap.Error(err))
	}
	return products, nil
}

// Create stores the product and drops the cached list.
func (c *CachedLister) Create(ctx context.Context, in CreateProductInput) (*Product, error) {
	p, err := c.Repository.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	c.Invalidate(ctx)
	return p, nil
}

// UpdatePrice updates the product and drops the cached list.
func (c *CachedLister) UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error {
	if err := c.Repository.UpdatePrice(ctx, id, price); err != nil {
		return err
	}
	c.Invalidate(ctx)
	return nil
}

// Invalidate drops the cached list.
func (c *CachedLister) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		c.log(ctx).Warn(ctx, "cache_invalidate_failed", zap.String("key", c.key), zap.Error(err))
	}
}

// PingCache checks the cache connection.
func (c *CachedLister) PingCache(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *CachedLister) log(ctx context.Context) *logging.Logger {
	if c.logger != nil {
		return c.logger
	}
	return logging.FromContext(ctx)
}
