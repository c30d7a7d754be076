package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arguslabs/argus/internal/metrics"
)

const (
	// ProbeCacheTTL bounds probe storms: repeated health queries within
	// the window reuse the per-provider cached status.
	ProbeCacheTTL = 5 * time.Second

	probeTimeout = 5 * time.Second
)

// Status is one provider's last observed health.
type Status struct {
	Provider  string    `json:"provider"`
	Healthy   bool      `json:"healthy"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Prober checks provider reachability. Probes run concurrently and are
// isolated per provider: one hung or failing endpoint neither delays
// nor poisons the status of the others.
type Prober struct {
	registry *Registry
	logger   *zap.Logger
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]Status
}

// ProberOptions overrides the cache TTL and clock, mainly for tests.
type ProberOptions struct {
	TTL   time.Duration
	Clock func() time.Time
}

func NewProber(registry *Registry, logger *zap.Logger, opts ProberOptions) *Prober {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = ProbeCacheTTL
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Prober{
		registry: registry,
		logger:   logger,
		ttl:      ttl,
		now:      now,
		cache:    make(map[string]Status),
	}
}

// CheckAll probes every registered provider, serving fresh entries from
// the cache, and returns statuses sorted by provider name.
func (p *Prober) CheckAll(ctx context.Context) []Status {
	names := p.registry.Names()
	statuses := make([]Status, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			statuses[i] = p.Check(ctx, name)
		}(i, name)
	}
	wg.Wait()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Provider < statuses[j].Provider })
	return statuses
}

// Check returns the provider's health, probing only when the cached
// status has aged out.
func (p *Prober) Check(ctx context.Context, name string) Status {
	p.mu.Lock()
	if cached, ok := p.cache[name]; ok && p.now().Sub(cached.CheckedAt) < p.ttl {
		p.mu.Unlock()
		return cached
	}
	p.mu.Unlock()

	status := p.probe(ctx, name)

	p.mu.Lock()
	p.cache[name] = status
	p.mu.Unlock()
	return status
}

func (p *Prober) probe(ctx context.Context, name string) Status {
	status := Status{Provider: name, CheckedAt: p.now()}

	client, err := p.registry.Get(name)
	if err != nil {
		status.Error = err.Error()
		metrics.ProviderProbes.WithLabelValues(name, "error").Inc()
		return status
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	started := p.now()
	probeErr := client.Probe(probeCtx)
	status.LatencyMs = p.now().Sub(started).Milliseconds()

	if probeErr != nil {
		status.Error = probeErr.Error()
		metrics.ProviderProbes.WithLabelValues(name, "unhealthy").Inc()
		p.logger.Warn("Provider probe failed",
			zap.String("provider", name),
			zap.Error(probeErr))
		return status
	}

	status.Healthy = true
	metrics.ProviderProbes.WithLabelValues(name, "healthy").Inc()
	return status
}
