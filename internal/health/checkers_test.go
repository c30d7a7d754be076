package health

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arguslabs/argus/internal/circuitbreaker"
	"github.com/arguslabs/argus/internal/provider"
	"github.com/arguslabs/argus/internal/store"
)

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	wrapper := circuitbreaker.NewRedisWrapper(client, zaptest.NewLogger(t))

	checker := NewRedisChecker(wrapper, zaptest.NewLogger(t))
	assert.Equal(t, "redis", checker.Name())
	assert.True(t, checker.IsCritical())

	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Contains(t, result.Details, "latency_ms")

	mr.Close()
	result = checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.NotEmpty(t, result.Error)
}

func TestStoreChecker(t *testing.T) {
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	st := store.New(db, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = st.Close() })

	checker := NewStoreChecker(st, zaptest.NewLogger(t))
	assert.Equal(t, "store", checker.Name())
	assert.True(t, checker.IsCritical())

	result := checker.Check(context.Background())
	require.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, 1, result.Details["max_open_connections"])
}

type stubProvider struct {
	name string
	err  error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResponse, error) {
	return &provider.CompletionResponse{Text: "ok"}, nil
}

func (s *stubProvider) Probe(ctx context.Context) error { return s.err }

func TestProviderChecker(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("no providers configured", func(t *testing.T) {
		reg := provider.NewRegistry(logger)
		prober := provider.NewProber(reg, logger, provider.ProberOptions{})

		result := NewProviderChecker(prober, logger).Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
	})

	t.Run("all reachable", func(t *testing.T) {
		reg := provider.NewRegistry(logger)
		require.NoError(t, reg.Register(&stubProvider{name: "openai"}))
		require.NoError(t, reg.Register(&stubProvider{name: "anthropic"}))
		prober := provider.NewProber(reg, logger, provider.ProberOptions{})

		result := NewProviderChecker(prober, logger).Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Contains(t, result.Details, "openai")
		assert.Contains(t, result.Details, "anthropic")
	})

	t.Run("partial outage degrades", func(t *testing.T) {
		reg := provider.NewRegistry(logger)
		require.NoError(t, reg.Register(&stubProvider{name: "openai"}))
		require.NoError(t, reg.Register(&stubProvider{name: "anthropic", err: fmt.Errorf("connection refused")}))
		prober := provider.NewProber(reg, logger, provider.ProberOptions{})

		checker := NewProviderChecker(prober, logger)
		assert.False(t, checker.IsCritical())

		result := checker.Check(context.Background())
		assert.Equal(t, StatusDegraded, result.Status)
		assert.Contains(t, result.Message, "1 of 2")
	})

	t.Run("total outage is unhealthy but non-critical", func(t *testing.T) {
		reg := provider.NewRegistry(logger)
		require.NoError(t, reg.Register(&stubProvider{name: "openai", err: fmt.Errorf("timeout")}))
		prober := provider.NewProber(reg, logger, provider.ProberOptions{})

		result := NewProviderChecker(prober, logger).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.False(t, result.Critical)
	})
}

func TestCheckerTimeoutsAreSet(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	wrapper := circuitbreaker.NewRedisWrapper(client, zaptest.NewLogger(t))

	assert.Greater(t, NewRedisChecker(wrapper, zaptest.NewLogger(t)).Timeout(), time.Duration(0))
}
