package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL   = 10 * time.Minute
	limiterSweepSize = 1024
)

// SubmitLimiter enforces the per-session submission rate. A zero or
// negative per-minute limit disables it.
type SubmitLimiter struct {
	perMinute int
	burst     int
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionLimiter
}

type sessionLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewSubmitLimiter(perMinute, burst int) *SubmitLimiter {
	if burst < 1 {
		burst = 1
	}
	return &SubmitLimiter{
		perMinute: perMinute,
		burst:     burst,
		now:       time.Now,
		sessions:  make(map[string]*sessionLimiter),
	}
}

// Limit returns the configured per-minute ceiling, zero when disabled.
func (l *SubmitLimiter) Limit() int {
	if l == nil {
		return 0
	}
	return l.perMinute
}

// Admit reports whether a submission for the session may proceed. A
// denial returns how long the caller should wait before retrying.
func (l *SubmitLimiter) Admit(sessionID string) (time.Duration, bool) {
	if l == nil || l.perMinute <= 0 {
		return 0, true
	}

	l.mu.Lock()
	now := l.now()
	entry, ok := l.sessions[sessionID]
	if !ok {
		entry = &sessionLimiter{
			lim:  rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.burst),
			seen: now,
		}
		l.sessions[sessionID] = entry
		if len(l.sessions) > limiterSweepSize {
			l.evictIdle()
		}
	} else {
		entry.seen = now
	}
	l.mu.Unlock()

	res := entry.lim.Reserve()
	if !res.OK() {
		return time.Minute, false
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return delay, false
	}
	return 0, true
}

// evictIdle drops limiters unused past the idle TTL. Caller holds mu.
func (l *SubmitLimiter) evictIdle() {
	cutoff := l.now().Add(-limiterIdleTTL)
	for id, entry := range l.sessions {
		if entry.seen.Before(cutoff) {
			delete(l.sessions, id)
		}
	}
}
