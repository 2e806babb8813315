package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/startswithzed/observability/internal/config"
	"github.com/startswithzed/observability/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func newTestCache(t *testing.T) (*CachedLister, *memRepository, *miniredis.Miniredis, *logging.TestLogger) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &memRepository{}
	logs := logging.NewTestLogger()
	return NewCachedLister(repo, client, "pricewatch-api", time.Minute, logs.Logger), repo, mr, logs
}

func seed(t *testing.T, repo Repository, url string) *Product {
	t.Helper()
	p, err := repo.Create(context.Background(), CreateProductInput{
		Name:        "Desk lamp",
		URL:         url,
		TargetPrice: decimal.RequireFromString("19.99"),
	})
	require.NoError(t, err)
	return p
}

func TestCachedLister_ReadThrough(t *testing.T) {
	cache, repo, mr, _ := newTestCache(t)
	ctx := context.Background()
	seed(t, repo, "https://shop.example.com/lamp")

	first, err := cache.List(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, repo.calls())

	assert.Equal(t, "pricewatch-api:products:all", cache.Key())
	assert.True(t, mr.Exists(cache.Key()))
	assert.Equal(t, time.Minute, mr.TTL(cache.Key()))

	second, err := cache.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls(), "second read served from cache")
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.True(t, first[0].TargetPrice.Equal(second[0].TargetPrice))
}

func TestCachedLister_WritesInvalidate(t *testing.T) {
	cache, repo, mr, _ := newTestCache(t)
	ctx := context.Background()

	_, err := cache.List(ctx)
	require.NoError(t, err)
	require.True(t, mr.Exists(cache.Key()))

	p := seed(t, cache, "https://shop.example.com/lamp")
	assert.False(t, mr.Exists(cache.Key()), "create drops the cached list")

	products, err := cache.List(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)

	require.NoError(t, cache.UpdatePrice(ctx, p.ID, decimal.RequireFromString("42.10")))
	assert.False(t, mr.Exists(cache.Key()), "price update drops the cached list")

	products, err = cache.List(ctx)
	require.NoError(t, err)
	require.True(t, products[0].CurrentPrice.Valid)
	assert.Equal(t, "42.10", products[0].CurrentPrice.Decimal.StringFixed(2))
	assert.Equal(t, 3, repo.calls())
}

func TestCachedLister_FailedWriteKeepsCache(t *testing.T) {
	cache, repo, mr, _ := newTestCache(t)
	ctx := context.Background()
	seed(t, repo, "https://shop.example.com/lamp")

	_, err := cache.List(ctx)
	require.NoError(t, err)

	repo.createErr = errors.New("insert failed")
	_, err = cache.Create(ctx, CreateProductInput{Name: "x", URL: "https://shop.example.com/x", TargetPrice: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.True(t, mr.Exists(cache.Key()))
}

func TestCachedLister_FallsBackWhenCacheDown(t *testing.T) {
	cache, repo, mr, logs := newTestCache(t)
	ctx := context.Background()
	seed(t, repo, "https://shop.example.com/lamp")
	mr.Close()

	products, err := cache.List(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 1)
	assert.Equal(t, 1, repo.calls())

	logs.AssertLogged(t, zapcore.WarnLevel, "cache_read_failed")
	logs.AssertLogged(t, zapcore.WarnLevel, "cache_write_failed")
	assert.Error(t, cache.PingCache(ctx))
}

func TestCachedLister_CorruptEntry(t *testing.T) {
	cache, repo, mr, logs := newTestCache(t)
	seed(t, repo, "https://shop.example.com/lamp")
	require.NoError(t, mr.Set(cache.Key(), "{not json"))

	products, err := cache.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 1)
	logs.AssertLogged(t, zapcore.WarnLevel, "cache_entry_corrupt")
}

func TestCachedLister_RepositoryError(t *testing.T) {
	cache, repo, mr, _ := newTestCache(t)
	repo.listErr = errors.New("db down")

	_, err := cache.List(context.Background())
	require.EqualError(t, err, "db down")
	assert.False(t, mr.Exists(cache.Key()))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(config.RedisConfig{URL: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())

	_, err = NewRedisClient(config.RedisConfig{URL: "http://not-redis"})
	assert.Error(t, err)
}
