package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arguslabs/argus/internal/circuitbreaker"
	"github.com/arguslabs/argus/internal/provider"
	"github.com/arguslabs/argus/internal/store"
)

// slowThreshold marks a responding dependency as degraded.
const slowThreshold = 100 * time.Millisecond

// RedisChecker pings the session backend through its breaker wrapper.
type RedisChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
	timeout time.Duration
}

func NewRedisChecker(wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisChecker {
	return &RedisChecker{wrapper: wrapper, logger: logger, timeout: 5 * time.Second}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) IsCritical() bool       { return true }
func (r *RedisChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "redis", Critical: true, Timestamp: start}

	if r.wrapper.Open() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		result.Duration = time.Since(start)
		return result
	}

	err := r.wrapper.Ping(ctx).Err()
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		result.Details = map[string]any{
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	if result.Duration > slowThreshold {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}
	result.Details = map[string]any{
		"latency_ms":           result.Duration.Milliseconds(),
		"circuit_breaker_open": false,
	}
	return result
}

// StoreChecker pings the database and watches its connection pool.
type StoreChecker struct {
	store   *store.Store
	logger  *zap.Logger
	timeout time.Duration
}

func NewStoreChecker(st *store.Store, logger *zap.Logger) *StoreChecker {
	return &StoreChecker{store: st, logger: logger, timeout: 5 * time.Second}
}

func (s *StoreChecker) Name() string           { return "store" }
func (s *StoreChecker) IsCritical() bool       { return true }
func (s *StoreChecker) Timeout() time.Duration { return s.timeout }

func (s *StoreChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "store", Critical: true, Timestamp: start}

	if s.store.Wrapper().Open() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Store circuit breaker is open"
		result.Duration = time.Since(start)
		return result
	}

	err := s.store.Ping(ctx)
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Store ping failed"
		result.Details = map[string]any{
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	stats := s.store.Wrapper().DB().Stats()
	switch {
	case stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections:
		result.Status = StatusDegraded
		result.Message = "Store connection pool exhausted"
	case result.Duration > slowThreshold:
		result.Status = StatusDegraded
		result.Message = "Store responding but with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "Store healthy"
	}
	result.Details = map[string]any{
		"latency_ms":           result.Duration.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"idle_connections":     stats.Idle,
		"in_use_connections":   stats.InUse,
		"circuit_breaker_open": false,
	}
	return result
}

// ProviderChecker probes every configured model provider. Providers are
// non-critical: the heuristic router keeps the service usable with all
// of them down.
type ProviderChecker struct {
	prober  *provider.Prober
	logger  *zap.Logger
	timeout time.Duration
}

func NewProviderChecker(prober *provider.Prober, logger *zap.Logger) *ProviderChecker {
	return &ProviderChecker{prober: prober, logger: logger, timeout: 10 * time.Second}
}

func (p *ProviderChecker) Name() string           { return "providers" }
func (p *ProviderChecker) IsCritical() bool       { return false }
func (p *ProviderChecker) Timeout() time.Duration { return p.timeout }

func (p *ProviderChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "providers", Critical: false, Timestamp: start}

	statuses := p.prober.CheckAll(ctx)
	result.Duration = time.Since(start)

	if len(statuses) == 0 {
		result.Status = StatusHealthy
		result.Message = "No providers configured"
		return result
	}

	healthy := 0
	details := make(map[string]any, len(statuses)+1)
	for _, st := range statuses {
		if st.Healthy {
			healthy++
		}
		entry := map[string]any{
			"healthy":    st.Healthy,
			"latency_ms": st.LatencyMs,
		}
		if st.Error != "" {
			entry["error"] = st.Error
		}
		details[st.Provider] = entry
	}
	result.Details = details

	switch {
	case healthy == len(statuses):
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("All %d providers reachable", len(statuses))
	case healthy == 0:
		result.Status = StatusUnhealthy
		result.Message = "No provider reachable"
	default:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d of %d providers unreachable", len(statuses)-healthy, len(statuses))
	}
	return result
}

// FuncChecker wraps a plain function as a Checker.
type FuncChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	fn       func(ctx context.Context) CheckResult
}

func NewFuncChecker(name string, critical bool, timeout time.Duration, fn func(ctx context.Context) CheckResult) *FuncChecker {
	return &FuncChecker{name: name, critical: critical, timeout: timeout, fn: fn}
}

func (c *FuncChecker) Name() string           { return c.name }
func (c *FuncChecker) IsCritical() bool       { return c.critical }
func (c *FuncChecker) Timeout() time.Duration { return c.timeout }

func (c *FuncChecker) Check(ctx context.Context) CheckResult {
	return c.fn(ctx)
}
