package store

import (
	"encoding/json"
	"time"
)

// SessionRecord is the durable session row. The live copy lives in the
// session manager; this row is what survives restarts and feeds the
// history API.
type SessionRecord struct {
	ID          string     `db:"id" json:"id"`
	Task        string     `db:"task" json:"task"`
	Status      string     `db:"status" json:"status"`
	Strictness  string     `db:"strictness" json:"strictness"`
	TokensUsed  int        `db:"tokens_used" json:"tokens_used"`
	TokenBudget int        `db:"token_budget" json:"token_budget"`
	Hops        int        `db:"hops" json:"hops"`
	Context     []byte     `db:"context" json:"context,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// RunRecord is one stage execution within a session, router decisions
// included. Envelope carries the full serialized envelope; the flat
// columns exist for querying. Provider and Model record which
// assignment actually served the run.
type RunRecord struct {
	ID         string    `db:"id" json:"id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	Eye        string    `db:"eye" json:"eye"`
	Code       string    `db:"code" json:"code"`
	OK         bool      `db:"ok" json:"ok"`
	NextAction string    `db:"next_action" json:"next_action"`
	Reasoning  string    `db:"reasoning" json:"reasoning,omitempty"`
	Provider   string    `db:"provider" json:"provider,omitempty"`
	Model      string    `db:"model" json:"model,omitempty"`
	Envelope   []byte    `db:"envelope" json:"envelope,omitempty"`
	TokensIn   int       `db:"tokens_in" json:"tokens_in"`
	TokensOut  int       `db:"tokens_out" json:"tokens_out"`
	LatencyMs  int64     `db:"latency_ms" json:"latency_ms"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// PipelineRecord stores a validated pipeline definition as JSON.
type PipelineRecord struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Definition []byte    `db:"definition" json:"definition"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// PipelineRunRecord is one finished pipeline execution.
type PipelineRunRecord struct {
	ID         string    `db:"id" json:"id"`
	PipelineID string    `db:"pipeline_id" json:"pipeline_id"`
	SessionID  string    `db:"session_id" json:"session_id,omitempty"`
	Success    bool      `db:"success" json:"success"`
	Result     []byte    `db:"result" json:"result"`
	LatencyMs  int64     `db:"latency_ms" json:"latency_ms"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// RoutingRecord assigns a provider and model to a stage. The fallback
// pair is optional; empty strings mean no fallback.
type RoutingRecord struct {
	Eye              string    `db:"eye" json:"eye"`
	PrimaryProvider  string    `db:"primary_provider" json:"primary_provider"`
	PrimaryModel     string    `db:"primary_model" json:"primary_model"`
	FallbackProvider string    `db:"fallback_provider" json:"fallback_provider,omitempty"`
	FallbackModel    string    `db:"fallback_model" json:"fallback_model,omitempty"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// MemoryRecord is one remembered fact extracted by the memory stage.
type MemoryRecord struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	Fact      string    `db:"fact" json:"fact"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MarshalContext encodes a session context map for the context column.
func MarshalContext(ctx map[string]any) []byte {
	if len(ctx) == 0 {
		return nil
	}
	raw, err := json.Marshal(ctx)
	if err != nil {
		return nil
	}
	return raw
}

// UnmarshalContext decodes the context column, tolerating NULL.
func UnmarshalContext(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
