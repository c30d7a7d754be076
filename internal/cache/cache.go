// Package cache memoizes stage output keyed by content hash, so a
// repeated submission skips the model call that produced the same
// verdict last time. Stages whose output depends on mutable session
// state sit in a skip set and are never cached. The cache can only help
// or stay silent: every failure path degrades to a miss.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arguslabs/argus/internal/eyes"
	"github.com/arguslabs/argus/internal/metrics"
)

// DefaultTTL bounds how long a cached verdict may be replayed.
const DefaultTTL = 5 * time.Minute

// DefaultSweepInterval is how often the background sweep evicts expired
// entries that no read has touched.
const DefaultSweepInterval = time.Minute

// skipSet lists the stages that must never be cached: their output
// depends on session state the cache key cannot see.
var skipSet = map[eyes.ID]struct{}{
	eyes.Memory:       {},
	eyes.Consistency:  {},
	eyes.Requirements: {},
	eyes.FinalReview:  {},
	eyes.Approval:     {},
	eyes.Router:       {},
}

// Skipped reports whether a stage is excluded from caching.
func Skipped(stage eyes.ID) bool {
	_, ok := skipSet[stage]
	return ok
}

type entry struct {
	data      map[string]any
	createdAt time.Time
	expiresAt time.Time
}

// Service is the response cache. The clock is injectable so expiry is
// testable without sleeping; Start/Stop bound the background sweep.
type Service struct {
	mu      sync.RWMutex
	entries map[string]entry

	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
}

// New builds a stopped cache service; call Start to run the sweep.
func New(opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		entries:  make(map[string]entry),
		ttl:      opts.TTL,
		interval: opts.SweepInterval,
		now:      opts.Clock,
		logger:   opts.Logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Get returns the cached data for a stage input. Skip-listed stages and
// expired entries always miss; an expired entry is evicted on the way
// out.
func (s *Service) Get(stage eyes.ID, input any) (map[string]any, bool) {
	if Skipped(stage) {
		return nil, false
	}
	key, err := Key(stage, input)
	if err != nil {
		return nil, false
	}

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		metrics.CacheMisses.WithLabelValues(string(stage)).Inc()
		return nil, false
	}
	if !s.now().Before(e.expiresAt) {
		s.evict(key)
		metrics.CacheMisses.WithLabelValues(string(stage)).Inc()
		return nil, false
	}

	metrics.CacheHits.WithLabelValues(string(stage)).Inc()
	return e.data, true
}

// Set stores stage output under its content key. Skip-listed stages and
// unhashable inputs are silently ignored; ttl overrides the default
// when given.
func (s *Service) Set(stage eyes.ID, input any, data map[string]any, ttl ...time.Duration) {
	if Skipped(stage) || data == nil {
		return
	}
	key, err := Key(stage, input)
	if err != nil {
		return
	}

	expiry := s.ttl
	if len(ttl) > 0 && ttl[0] > 0 {
		expiry = ttl[0]
	}
	now := s.now()

	s.mu.Lock()
	s.entries[key] = entry{
		data:      data,
		createdAt: now,
		expiresAt: now.Add(expiry),
	}
	size := len(s.entries)
	s.mu.Unlock()

	metrics.CacheSize.Set(float64(size))
}

// Len reports the current entry count, expired or not.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Start launches the periodic sweep. Subsequent calls are no-ops.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		go s.sweepLoop()
	})
}

// Stop halts the sweep and waits for it to exit. Safe to call more than
// once and without a prior Start.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.startOnce.Do(func() {
		close(s.done) // never started; unblock Stop's wait
	})
	<-s.done
}

func (s *Service) sweepLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}

// Sweep evicts every expired entry. Exported so tests and operators can
// force a pass without waiting for the ticker.
func (s *Service) Sweep() int {
	now := s.now()

	s.mu.Lock()
	evicted := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			evicted++
		}
	}
	size := len(s.entries)
	s.mu.Unlock()

	if evicted > 0 {
		metrics.CacheEvictions.Add(float64(evicted))
		metrics.CacheSize.Set(float64(size))
		s.logger.Debug("Swept expired cache entries", zap.Int("evicted", evicted))
	}
	return evicted
}

// evict removes one entry. Deleting a key another goroutine already
// removed is fine; delete on a missing key is a no-op.
func (s *Service) evict(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	size := len(s.entries)
	s.mu.Unlock()

	metrics.CacheEvictions.Inc()
	metrics.CacheSize.Set(float64(size))
}

// Key hashes a stage id and canonicalized input into the cache key.
// Inputs that differ only in map key order hash identically.
func Key(stage eyes.ID, input any) (string, error) {
	canonical, err := canonicalJSON(input)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(stage))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON renders input as JSON with deterministic map ordering.
// The value is round-tripped through any so structs and maps normalize
// to the same shape before encoding/json's sorted map marshaling.
func canonicalJSON(input any) ([]byte, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}
