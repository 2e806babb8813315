package instrument

import (
	"errors"
	"sync"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// RedisTargetName names the Redis target.
const RedisTargetName = "redis"

var redisClients sync.Map // redis.UniversalClient -> struct{}

// RedisTarget enables Redis instrumentation. Clients are instrumented by
// passing them to Redis once the target is active.
func RedisTarget() Target {
	return Target{
		Name:     RedisTargetName,
		Activate: func() error { return nil },
	}
}

// Redis attaches tracing and metrics hooks to client. It does nothing until
// the Redis target is active and attaches at most once per client.
func Redis(client redis.UniversalClient) error {
	if client == nil || !Active(RedisTargetName) {
		return nil
	}
	if _, loaded := redisClients.LoadOrStore(client, struct{}{}); loaded {
		return nil
	}

	return errors.Join(
		redisotel.InstrumentTracing(client),
		redisotel.InstrumentMetrics(client),
	)
}
