package session

import (
	"errors"
	"time"

	"github.com/arguslabs/argus/internal/eyes"
	"github.com/arguslabs/argus/internal/guard"
)

var (
	// ErrNotFound is returned when a session doesn't exist.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned when a session has passed its expiry.
	ErrExpired = errors.New("session expired")
)

// Status is a session's lifecycle state.
type Status string

const (
	// StatusRunning means the stage loop is advancing.
	StatusRunning Status = "running"
	// StatusPaused means a stage asked the caller for input; the loop
	// resumes when the answer arrives.
	StatusPaused Status = "paused"
	// StatusCompleted means approval passed.
	StatusCompleted Status = "completed"
	// StatusIncomplete means the hop cap or token budget stopped the
	// loop before approval.
	StatusIncomplete Status = "incomplete"
	// StatusFailed means the loop stopped on an unrecoverable error.
	StatusFailed Status = "failed"
)

// Session is the live state of one task's validation run. History
// holds exactly what the order guard and router consume, so routing
// never re-reads the database mid-run.
type Session struct {
	ID         string        `json:"id"`
	Task       string        `json:"task"`
	Status     Status        `json:"status"`
	Settings   eyes.Settings `json:"settings"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	ExpiresAt  time.Time     `json:"expires_at"`

	Context map[string]any    `json:"context,omitempty"`
	History []guard.Execution `json:"history,omitempty"`

	Hops        int `json:"hops"`
	TokensUsed  int `json:"tokens_used"`
	TokenBudget int `json:"token_budget"`

	// LastEye/LastCode mirror the most recent history entry for quick
	// status rendering.
	LastEye  eyes.ID `json:"last_eye,omitempty"`
	LastCode string  `json:"last_code,omitempty"`

	// PendingQuestion holds the markdown of the envelope that paused
	// the session, empty otherwise.
	PendingQuestion string `json:"pending_question,omitempty"`
}

// maxHistory bounds the per-session run history. Sixteen hops is the
// loop cap, so this only trims sessions resumed many times over.
const maxHistory = 100

// IsExpired reports whether the session has passed its expiry.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Terminal reports whether the loop is finished for good.
func (s *Session) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusIncomplete, StatusFailed:
		return true
	}
	return false
}

// AwaitingInput reports whether the session is paused on a question.
func (s *Session) AwaitingInput() bool {
	return s.Status == StatusPaused
}

// RecordRun appends one execution to the history and updates the
// quick-status mirror fields.
func (s *Session) RecordRun(exec guard.Execution) {
	s.History = append(s.History, exec)
	if len(s.History) > maxHistory {
		s.History = s.History[len(s.History)-maxHistory:]
	}
	s.Hops++
	s.LastEye = exec.Eye
	s.LastCode = exec.Code
	s.UpdatedAt = time.Now()
}

// AddTokens accrues token usage against the budget.
func (s *Session) AddTokens(n int) {
	if n <= 0 {
		return
	}
	s.TokensUsed += n
	s.UpdatedAt = time.Now()
}

// WithinBudget reports whether spending additional tokens stays under
// the budget. A zero budget means unlimited.
func (s *Session) WithinBudget(additional int) bool {
	if s.TokenBudget <= 0 {
		return true
	}
	return s.TokensUsed+additional <= s.TokenBudget
}

// GetContextValue reads one context key.
func (s *Session) GetContextValue(key string) (any, bool) {
	if s.Context == nil {
		return nil, false
	}
	v, ok := s.Context[key]
	return v, ok
}

// SetContextValue writes one context key.
func (s *Session) SetContextValue(key string, value any) {
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	s.Context[key] = value
	s.UpdatedAt = time.Now()
}
