package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options tunes the manager. Zero values select the defaults.
type Options struct {
	CheckInterval time.Duration
	GlobalTimeout time.Duration
}

const (
	defaultCheckInterval = 30 * time.Second
	defaultGlobalTimeout = 30 * time.Second
)

// Manager holds the registered checkers, runs them on demand and on a
// background ticker, and keeps the last result per component.
type Manager struct {
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu          sync.RWMutex
	checkers    map[string]Checker
	lastResults map[string]CheckResult
	started     bool
	stopCh      chan struct{}
}

// NewManager creates a stopped manager; Register checkers, then Start.
func NewManager(logger *zap.Logger, opts Options) *Manager {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = defaultCheckInterval
	}
	if opts.GlobalTimeout <= 0 {
		opts.GlobalTimeout = defaultGlobalTimeout
	}
	return &Manager{
		interval:    opts.CheckInterval,
		timeout:     opts.GlobalTimeout,
		logger:      logger,
		checkers:    make(map[string]Checker),
		lastResults: make(map[string]CheckResult),
		stopCh:      make(chan struct{}),
	}
}

// Register adds a checker. Names must be unique.
func (m *Manager) Register(c Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := c.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = c

	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", c.IsCritical()),
		zap.Duration("timeout", c.Timeout()),
	)
	return nil
}

// Unregister removes a checker and its last result.
func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.checkers[name]; !exists {
		return fmt.Errorf("checker %s not found", name)
	}
	delete(m.checkers, name)
	delete(m.lastResults, name)
	return nil
}

// Overall runs all checks and returns the aggregate.
func (m *Manager) Overall(ctx context.Context) OverallHealth {
	start := time.Now()
	detailed := m.Detailed(ctx)

	overall := detailed.Overall
	overall.Timestamp = detailed.Timestamp
	overall.Duration = time.Since(start)
	return overall
}

// Detailed runs every registered check concurrently and returns the
// per-component results with the aggregate.
func (m *Manager) Detailed(ctx context.Context) DetailedHealth {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	components := make(map[string]CheckResult, len(checkers))
	var (
		wg sync.WaitGroup
		cm sync.Mutex
	)
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			result := m.runCheck(ctx, c)
			cm.Lock()
			components[c.Name()] = result
			cm.Unlock()
		}(c)
	}
	wg.Wait()

	m.mu.Lock()
	for name, result := range components {
		m.lastResults[name] = result
	}
	m.mu.Unlock()

	summary := summarize(components)
	return DetailedHealth{
		Overall:    overallOf(components, summary),
		Components: components,
		Summary:    summary,
		Timestamp:  time.Now(),
	}
}

// CachedDetailed aggregates the last stored results without running any
// checks.
func (m *Manager) CachedDetailed() DetailedHealth {
	components := m.LastResults()
	summary := summarize(components)
	return DetailedHealth{
		Overall:    overallOf(components, summary),
		Components: components,
		Summary:    summary,
		Timestamp:  time.Now(),
	}
}

// IsReady reports whether every critical dependency is up.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.Overall(ctx).Ready
}

// IsLive reports process liveness. A service with failing dependencies
// is still alive; only a total absence of checks reads as not live.
func (m *Manager) IsLive(ctx context.Context) bool {
	return m.Overall(ctx).Live
}

// LastResults returns a copy of the most recent result per component.
func (m *Manager) LastResults() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]CheckResult, len(m.lastResults))
	for name, result := range m.lastResults {
		out[name] = result
	}
	return out
}

// Start launches the background check loop. Idempotent.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	m.started = true
	m.stopCh = make(chan struct{})
	go m.loop(m.stopCh)

	m.logger.Info("Health manager started",
		zap.Duration("check_interval", m.interval),
		zap.Int("registered_checkers", len(m.checkers)),
	)
	return nil
}

// Stop halts the background loop.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	close(m.stopCh)
	m.started = false
	m.logger.Info("Health manager stopped")
	return nil
}

func (m *Manager) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			m.Detailed(ctx)
			cancel()
		}
	}
}

func (m *Manager) runCheck(ctx context.Context, c Checker) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	start := time.Now()
	result := c.Check(checkCtx)
	result.Component = c.Name()
	result.Critical = c.IsCritical()
	result.Duration = time.Since(start)
	result.Timestamp = start
	return result
}

func summarize(components map[string]CheckResult) Summary {
	summary := Summary{Total: len(components)}
	for _, result := range components {
		switch result.Status {
		case StatusHealthy:
			summary.Healthy++
		case StatusDegraded:
			summary.Degraded++
		case StatusUnhealthy:
			summary.Unhealthy++
		}
		if result.Critical {
			summary.Critical++
		} else {
			summary.NonCritical++
		}
	}
	return summary
}

// overallOf folds component results into the aggregate. Critical
// failures cost readiness; everything short of that keeps the service
// in the pool, at most marked degraded.
func overallOf(components map[string]CheckResult, summary Summary) OverallHealth {
	if summary.Total == 0 {
		return OverallHealth{
			Status:  StatusUnknown,
			Message: "No health checks registered",
			Ready:   false,
			Live:    false,
		}
	}

	criticalFailures := 0
	nonCriticalFailures := 0
	degraded := 0
	for _, result := range components {
		switch result.Status {
		case StatusDegraded:
			degraded++
		case StatusUnhealthy:
			if result.Critical {
				criticalFailures++
			} else {
				nonCriticalFailures++
			}
		}
	}

	switch {
	case criticalFailures > 0:
		return OverallHealth{
			Status:   StatusUnhealthy,
			Message:  fmt.Sprintf("%d critical component(s) failing", criticalFailures),
			Degraded: degraded > 0,
			Ready:    false,
			Live:     true,
		}
	case degraded > 0:
		return OverallHealth{
			Status:   StatusDegraded,
			Message:  fmt.Sprintf("%d component(s) degraded", degraded),
			Degraded: true,
			Ready:    true,
			Live:     true,
		}
	case nonCriticalFailures > 0:
		return OverallHealth{
			Status:   StatusDegraded,
			Message:  fmt.Sprintf("%d non-critical component(s) failing", nonCriticalFailures),
			Degraded: true,
			Ready:    true,
			Live:     true,
		}
	default:
		return OverallHealth{
			Status:   StatusHealthy,
			Message:  fmt.Sprintf("All %d components healthy", summary.Total),
			Ready:    true,
			Live:     true,
		}
	}
}
