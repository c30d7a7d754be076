package httpapi

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubmitLimiterBurst(t *testing.T) {
	l := NewSubmitLimiter(60, 2)

	_, ok := l.Admit("s1")
	assert.True(t, ok)
	_, ok = l.Admit("s1")
	assert.True(t, ok)

	retry, ok := l.Admit("s1")
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))
	assert.LessOrEqual(t, retry, 2*time.Second)
}

func TestSubmitLimiterPerSession(t *testing.T) {
	l := NewSubmitLimiter(60, 1)

	_, ok := l.Admit("a")
	assert.True(t, ok)
	_, ok = l.Admit("a")
	assert.False(t, ok)

	// A different session has its own bucket.
	_, ok = l.Admit("b")
	assert.True(t, ok)
}

func TestSubmitLimiterDisabled(t *testing.T) {
	l := NewSubmitLimiter(0, 0)
	for i := 0; i < 100; i++ {
		_, ok := l.Admit("s")
		assert.True(t, ok)
	}

	var nilLimiter *SubmitLimiter
	_, ok := nilLimiter.Admit("s")
	assert.True(t, ok)
	assert.Equal(t, 0, nilLimiter.Limit())
}

func TestSubmitLimiterEvictsIdle(t *testing.T) {
	l := NewSubmitLimiter(60, 1)
	current := time.Now()
	l.now = func() time.Time { return current }

	for i := 0; i < limiterSweepSize; i++ {
		l.Admit(fmt.Sprintf("s%d", i))
	}
	assert.Equal(t, limiterSweepSize, len(l.sessions))

	// Advance past the idle TTL; the next insert sweeps.
	current = current.Add(limiterIdleTTL + time.Minute)
	l.Admit("fresh")
	assert.Equal(t, 1, len(l.sessions))
}
