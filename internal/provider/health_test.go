package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeProvider struct {
	name     string
	probeErr error
	probes   atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return &CompletionResponse{Text: "stub", Model: req.Model}, nil
}
func (f *fakeProvider) Probe(ctx context.Context) error {
	f.probes.Add(1)
	return f.probeErr
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestProberIsolatesFailures(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := NewRegistry(logger)
	healthy := &fakeProvider{name: "healthy"}
	broken := &fakeProvider{name: "broken", probeErr: errors.New("connection refused")}
	require.NoError(t, reg.Register(healthy))
	require.NoError(t, reg.Register(broken))

	prober := NewProber(reg, logger, ProberOptions{})
	statuses := prober.CheckAll(context.Background())
	require.Len(t, statuses, 2)

	byName := map[string]Status{}
	for _, s := range statuses {
		byName[s.Provider] = s
	}
	assert.False(t, byName["broken"].Healthy)
	assert.Contains(t, byName["broken"].Error, "connection refused")
	assert.True(t, byName["healthy"].Healthy, "one failing provider must not mark the others")
}

func TestProberCachesWithinTTL(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := NewRegistry(logger)
	fake := &fakeProvider{name: "cached"}
	require.NoError(t, reg.Register(fake))

	clock := &stepClock{t: time.Unix(1700000000, 0)}
	prober := NewProber(reg, logger, ProberOptions{TTL: 5 * time.Second, Clock: clock.Now})

	prober.Check(context.Background(), "cached")
	prober.Check(context.Background(), "cached")
	prober.Check(context.Background(), "cached")
	assert.Equal(t, int32(1), fake.probes.Load(), "probes within the TTL must hit the cache")

	clock.Advance(6 * time.Second)
	prober.Check(context.Background(), "cached")
	assert.Equal(t, int32(2), fake.probes.Load(), "an aged-out entry must re-probe")
}

func TestProberUnknownProvider(t *testing.T) {
	logger := zaptest.NewLogger(t)
	prober := NewProber(NewRegistry(logger), logger, ProberOptions{})

	status := prober.Check(context.Background(), "ghost")
	assert.False(t, status.Healthy)
	assert.NotEmpty(t, status.Error)
}

func TestProberConcurrentCheckAll(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := NewRegistry(logger)
	for _, name := range []string{"p1", "p2", "p3", "p4"} {
		require.NoError(t, reg.Register(&fakeProvider{name: name}))
	}

	prober := NewProber(reg, logger, ProberOptions{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses := prober.CheckAll(context.Background())
			assert.Len(t, statuses, 4)
		}()
	}
	wg.Wait()
}
