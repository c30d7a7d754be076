package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// UpsertSession writes the session row, replacing any previous
// snapshot. The session manager owns freshness; last write wins here.
func (s *Store) UpsertSession(ctx context.Context, rec *SessionRecord) error {
	query := s.rebind(`
		INSERT INTO sessions (id, task, status, strictness, tokens_used, token_budget, hops, context, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			strictness = excluded.strictness,
			tokens_used = excluded.tokens_used,
			token_budget = excluded.token_budget,
			hops = excluded.hops,
			context = excluded.context,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`)

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Task, rec.Status, rec.Strictness,
		rec.TokensUsed, rec.TokenBudget, rec.Hops, rec.Context,
		rec.CreatedAt, rec.UpdatedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", rec.ID, err)
	}
	return nil
}

// GetSession loads one session row.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var rec SessionRecord
	query := s.rebind(`SELECT * FROM sessions WHERE id = ?`)
	err := s.db.GetContext(ctx, &rec, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &rec, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []SessionRecord
	query := s.rebind(`SELECT * FROM sessions ORDER BY created_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &recs, query, limit); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return recs, nil
}
