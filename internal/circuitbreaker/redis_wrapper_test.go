package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

func newRedisWrapper(t *testing.T) (*RedisWrapper, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisWrapper(client, zaptest.NewLogger(t)), s
}

func TestRedisWrapperNormalOperations(t *testing.T) {
	wrapper, _ := newRedisWrapper(t)
	ctx := context.Background()

	if err := wrapper.Ping(ctx).Err(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	if err := wrapper.Set(ctx, "session:abc", "state", time.Minute).Err(); err != nil {
		t.Errorf("Set failed: %v", err)
	}

	got := wrapper.Get(ctx, "session:abc")
	if got.Err() != nil {
		t.Errorf("Get failed: %v", got.Err())
	}
	if got.Val() != "state" {
		t.Errorf("Expected 'state', got %q", got.Val())
	}

	if n := wrapper.Del(ctx, "session:abc").Val(); n != 1 {
		t.Errorf("Expected 1 deleted key, got %d", n)
	}
}

func TestRedisWrapperMissDoesNotTrip(t *testing.T) {
	wrapper, _ := newRedisWrapper(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := wrapper.Get(ctx, "absent").Err(); !errors.Is(err, redis.Nil) {
			t.Errorf("Expected redis.Nil, got %v", err)
		}
	}

	if wrapper.Open() {
		t.Error("Misses must not open the breaker")
	}
}

func TestRedisWrapperOpensOnServerLoss(t *testing.T) {
	wrapper, s := newRedisWrapper(t)
	ctx := context.Background()

	s.Close()

	// RedisConfig default failure threshold is 3.
	for i := 0; i < 5; i++ {
		wrapper.Ping(ctx)
	}

	if !wrapper.Open() {
		t.Error("Expected breaker to open after repeated connection failures")
	}

	if err := wrapper.Set(ctx, "k", "v", time.Minute).Err(); !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen while open, got %v", err)
	}
}

func TestRedisWrapperScan(t *testing.T) {
	wrapper, s := newRedisWrapper(t)
	ctx := context.Background()

	s.Set("session:a", "1")
	s.Set("session:b", "2")
	s.Set("other", "3")

	keys, _, err := wrapper.Scan(ctx, 0, "session:*", 100).Result()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Expected 2 session keys, got %d: %v", len(keys), keys)
	}
}
