package store

import (
	"context"
	"fmt"
)

// InsertRun appends one stage execution to the session history.
func (s *Store) InsertRun(ctx context.Context, run *RunRecord) error {
	query := s.rebind(`
		INSERT INTO runs (id, session_id, eye, code, ok, next_action, reasoning, provider, model, envelope, tokens_in, tokens_out, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.SessionID, run.Eye, run.Code, run.OK,
		run.NextAction, run.Reasoning, run.Provider, run.Model,
		run.Envelope, run.TokensIn, run.TokensOut, run.LatencyMs, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns a session's runs in execution order.
func (s *Store) ListRuns(ctx context.Context, sessionID string) ([]RunRecord, error) {
	var runs []RunRecord
	query := s.rebind(`SELECT * FROM runs WHERE session_id = ? ORDER BY created_at ASC`)
	if err := s.db.SelectContext(ctx, &runs, query, sessionID); err != nil {
		return nil, fmt.Errorf("list runs for %s: %w", sessionID, err)
	}
	return runs, nil
}
