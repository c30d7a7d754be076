// Package session keeps the live state of in-flight validation runs in
// Redis, with a bounded local cache in front. The durable copy lives in
// the store; this layer is what the orchestrator reads and writes every
// hop.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arguslabs/argus/internal/circuitbreaker"
	"github.com/arguslabs/argus/internal/eyes"
	"github.com/arguslabs/argus/internal/metrics"
)

// Config holds Redis connection settings for the session manager.
type Config struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TTL       time.Duration `mapstructure:"ttl"`
	MaxCached int           `mapstructure:"max_cached"`
}

// Manager stores sessions in Redis behind a circuit breaker, with an
// LRU-bounded local cache for the hot path.
type Manager struct {
	client *circuitbreaker.RedisWrapper
	logger *zap.Logger
	ttl    time.Duration

	mu          sync.RWMutex
	localCache  map[string]*Session
	cacheAccess map[string]time.Time
	maxCached   int
}

// NewManager connects to Redis and verifies the connection.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	wrapped := circuitbreaker.NewRedisWrapper(client, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wrapped.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return newManager(wrapped, cfg, logger), nil
}

// NewManagerWithClient wraps an existing client; tests hand in
// miniredis here.
func NewManagerWithClient(client *redis.Client, cfg Config, logger *zap.Logger) *Manager {
	return newManager(circuitbreaker.NewRedisWrapper(client, logger), cfg, logger)
}

func newManager(client *circuitbreaker.RedisWrapper, cfg Config, logger *zap.Logger) *Manager {
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.MaxCached == 0 {
		cfg.MaxCached = 10000
	}
	return &Manager{
		client:      client,
		logger:      logger,
		ttl:         cfg.TTL,
		localCache:  make(map[string]*Session),
		cacheAccess: make(map[string]time.Time),
		maxCached:   cfg.MaxCached,
	}
}

// Create starts a session for a task. An empty id generates one; an id
// that already names a live session returns that session instead, so
// resubmitting with the same session id resumes rather than restarts.
func (m *Manager) Create(ctx context.Context, id, task string, settings eyes.Settings) (*Session, error) {
	if id == "" {
		id = uuid.New().String()
	} else if existing, err := m.Get(ctx, id); err == nil {
		return existing, nil
	}

	now := time.Now()
	sess := &Session{
		ID:        id,
		Task:      task,
		Status:    StatusRunning,
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		Context:   make(map[string]any),
	}

	if err := m.save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	m.cachePut(sess)
	m.logger.Info("Created session",
		zap.String("session_id", id),
		zap.String("strictness", string(settings.Strictness)))
	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Inc()
	return sess, nil
}

// Get loads a session, local cache first.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	cached, ok := m.localCache[id]
	m.mu.RUnlock()
	if ok {
		metrics.SessionCacheHits.Inc()
		if cached.IsExpired() {
			_ = m.Delete(ctx, id)
			return nil, ErrExpired
		}
		m.mu.Lock()
		m.cacheAccess[id] = time.Now()
		m.mu.Unlock()
		return cached, nil
	}
	metrics.SessionCacheMisses.Inc()

	data, err := m.client.Get(ctx, m.key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.IsExpired() {
		_ = m.Delete(ctx, id)
		return nil, ErrExpired
	}

	m.cachePut(&sess)
	return &sess, nil
}

// Update persists the session after the caller mutated it.
func (m *Manager) Update(ctx context.Context, sess *Session) error {
	if sess == nil {
		return fmt.Errorf("session is nil")
	}
	sess.UpdatedAt = time.Now()

	if err := m.save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	m.mu.Lock()
	m.localCache[sess.ID] = sess
	m.cacheAccess[sess.ID] = time.Now()
	m.mu.Unlock()
	return nil
}

// Delete removes a session from Redis and the local cache.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.client.Del(ctx, m.key(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	m.mu.Lock()
	delete(m.localCache, id)
	delete(m.cacheAccess, id)
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()

	metrics.SessionsActive.Dec()
	m.logger.Info("Deleted session", zap.String("session_id", id))
	return nil
}

// Extend pushes a session's expiry out from now.
func (m *Manager) Extend(ctx context.Context, id string, d time.Duration) error {
	sess, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.ExpiresAt = time.Now().Add(d)
	return m.Update(ctx, sess)
}

// CleanupExpired scans for sessions whose ExpiresAt passed before their
// Redis TTL did (Extend can shorten the window) and deletes them.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	cleaned := 0
	var cursor uint64
	for {
		keys, next, err := m.client.Scan(ctx, cursor, "session:*", 100).Result()
		if err != nil {
			return cleaned, fmt.Errorf("scan sessions: %w", err)
		}

		for _, key := range keys {
			data, err := m.client.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var sess Session
			if err := json.Unmarshal(data, &sess); err != nil {
				continue
			}
			if sess.IsExpired() {
				if err := m.client.Del(ctx, key).Err(); err == nil {
					m.mu.Lock()
					delete(m.localCache, sess.ID)
					delete(m.cacheAccess, sess.ID)
					m.mu.Unlock()
					cleaned++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if cleaned > 0 {
		m.logger.Info("Cleaned up expired sessions", zap.Int("count", cleaned))
	}
	return cleaned, nil
}

// RedisWrapper exposes the breaker-wrapped client for health checks.
func (m *Manager) RedisWrapper() *circuitbreaker.RedisWrapper {
	return m.client
}

// Close releases the Redis connection.
func (m *Manager) Close() error {
	return m.client.Close()
}

func (m *Manager) key(id string) string {
	return "session:" + id
}

func (m *Manager) save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = m.ttl
	}
	return m.client.Set(ctx, m.key(sess.ID), data, ttl).Err()
}

func (m *Manager) cachePut(sess *Session) {
	m.mu.Lock()
	m.localCache[sess.ID] = sess
	m.cacheAccess[sess.ID] = time.Now()
	m.evictStale()
	metrics.SessionCacheSize.Set(float64(len(m.localCache)))
	m.mu.Unlock()
}

// evictStale drops the least recently used half when the cache
// overflows. Called with mu held.
func (m *Manager) evictStale() {
	if len(m.localCache) <= m.maxCached {
		return
	}

	type entry struct {
		id   string
		seen time.Time
	}
	entries := make([]entry, 0, len(m.localCache))
	for id := range m.localCache {
		entries = append(entries, entry{id: id, seen: m.cacheAccess[id]})
	}
	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].seen.Before(entries[i].seen) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	toRemove := m.maxCached / 2
	if toRemove == 0 {
		toRemove = 1
	}
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(m.localCache, entries[i].id)
		delete(m.cacheAccess, entries[i].id)
		metrics.SessionCacheEvictions.Inc()
	}
}
