package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper runs the session-store client through a breaker. Only
// the commands the session manager issues are wrapped; GetClient
// exposes the rest.
type RedisWrapper struct {
	client *redis.Client
	cb     *Breaker
	logger *zap.Logger
}

func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	return &RedisWrapper{
		client: client,
		cb:     New("redis", RedisConfig(), logger),
		logger: logger,
	}
}

func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Ping(ctx)
		return result.Err()
	})
	recordRequest("redis", err == nil)
	return statusOr(ctx, result, err)
}

func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var result *redis.StringCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Get(ctx, key)
		// a miss is not a breaker failure
		if errors.Is(result.Err(), redis.Nil) {
			return nil
		}
		return result.Err()
	})
	recordRequest("redis", err == nil)
	if err != nil && result == nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Set(ctx, key, value, expiration)
		return result.Err()
	})
	recordRequest("redis", err == nil)
	return statusOr(ctx, result, err)
}

func (rw *RedisWrapper) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	var result *redis.BoolCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Expire(ctx, key, ttl)
		return result.Err()
	})
	recordRequest("redis", err == nil)
	if err != nil && result == nil {
		result = redis.NewBoolCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var result *redis.IntCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Del(ctx, keys...)
		return result.Err()
	})
	recordRequest("redis", err == nil)
	if err != nil && result == nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	var result *redis.ScanCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Scan(ctx, cursor, match, count)
		return result.Err()
	})
	recordRequest("redis", err == nil)
	if err != nil && result == nil {
		result = redis.NewScanCmd(ctx, nil)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Close() error { return rw.client.Close() }

// GetClient returns the raw client for commands the wrapper does not
// cover. Callers lose breaker protection on that path.
func (rw *RedisWrapper) GetClient() *redis.Client { return rw.client }

func (rw *RedisWrapper) Open() bool { return rw.cb.State() == StateOpen }

func statusOr(ctx context.Context, result *redis.StatusCmd, err error) *redis.StatusCmd {
	if err != nil && result == nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}
