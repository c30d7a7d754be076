package store

import (
	"context"
	"fmt"
)

// InsertMemory stores one remembered fact.
func (s *Store) InsertMemory(ctx context.Context, rec *MemoryRecord) error {
	query := s.rebind(`
		INSERT INTO memories (id, session_id, fact, created_at)
		VALUES (?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query, rec.ID, rec.SessionID, rec.Fact, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory %s: %w", rec.ID, err)
	}
	return nil
}

// ListMemories returns a session's remembered facts in insertion order.
func (s *Store) ListMemories(ctx context.Context, sessionID string) ([]MemoryRecord, error) {
	var recs []MemoryRecord
	query := s.rebind(`SELECT * FROM memories WHERE session_id = ? ORDER BY created_at ASC`)
	if err := s.db.SelectContext(ctx, &recs, query, sessionID); err != nil {
		return nil, fmt.Errorf("list memories for %s: %w", sessionID, err)
	}
	return recs, nil
}
