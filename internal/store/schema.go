package store

import (
	"context"
	"fmt"
)

// Column types are chosen to work on both postgres and sqlite: the
// tests run the real schema against sqlite in memory.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id            TEXT PRIMARY KEY,
		task          TEXT NOT NULL,
		status        TEXT NOT NULL,
		strictness    TEXT NOT NULL DEFAULT 'normal',
		tokens_used   BIGINT NOT NULL DEFAULT 0,
		token_budget  BIGINT NOT NULL DEFAULT 0,
		hops          INTEGER NOT NULL DEFAULT 0,
		context       TEXT,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL,
		completed_at  TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		eye         TEXT NOT NULL,
		code        TEXT NOT NULL,
		ok          BOOLEAN NOT NULL,
		next_action TEXT NOT NULL DEFAULT '',
		reasoning   TEXT NOT NULL DEFAULT '',
		provider    TEXT NOT NULL DEFAULT '',
		model       TEXT NOT NULL DEFAULT '',
		envelope    TEXT,
		tokens_in   BIGINT NOT NULL DEFAULT 0,
		tokens_out  BIGINT NOT NULL DEFAULT 0,
		latency_ms  BIGINT NOT NULL DEFAULT 0,
		created_at  TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_session ON runs (session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS pipelines (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		definition  TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id           TEXT PRIMARY KEY,
		pipeline_id  TEXT NOT NULL,
		session_id   TEXT NOT NULL DEFAULT '',
		success      BOOLEAN NOT NULL,
		result       TEXT NOT NULL,
		latency_ms   BIGINT NOT NULL DEFAULT 0,
		created_at   TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_pipeline ON pipeline_runs (pipeline_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS routing (
		eye                TEXT PRIMARY KEY,
		primary_provider   TEXT NOT NULL,
		primary_model      TEXT NOT NULL,
		fallback_provider  TEXT NOT NULL DEFAULT '',
		fallback_model     TEXT NOT NULL DEFAULT '',
		updated_at         TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS memories (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		fact        TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_session ON memories (session_id, created_at)`,
}

// EnsureSchema creates missing tables. Runs on the raw handle; schema
// setup failing should abort startup, not trip the breaker.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.DB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
