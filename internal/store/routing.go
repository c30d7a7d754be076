package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertRouting assigns a provider and model to a stage.
func (s *Store) UpsertRouting(ctx context.Context, rec *RoutingRecord) error {
	query := s.rebind(`
		INSERT INTO routing (eye, primary_provider, primary_model, fallback_provider, fallback_model, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (eye) DO UPDATE SET
			primary_provider = excluded.primary_provider,
			primary_model = excluded.primary_model,
			fallback_provider = excluded.fallback_provider,
			fallback_model = excluded.fallback_model,
			updated_at = excluded.updated_at`)

	_, err := s.db.ExecContext(ctx, query,
		rec.Eye, rec.PrimaryProvider, rec.PrimaryModel,
		rec.FallbackProvider, rec.FallbackModel, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert routing for %s: %w", rec.Eye, err)
	}
	return nil
}

// GetRouting loads one stage's assignment.
func (s *Store) GetRouting(ctx context.Context, eye string) (*RoutingRecord, error) {
	var rec RoutingRecord
	query := s.rebind(`SELECT * FROM routing WHERE eye = ?`)
	err := s.db.GetContext(ctx, &rec, query, eye)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("routing for %s: %w", eye, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get routing for %s: %w", eye, err)
	}
	return &rec, nil
}

// ListRouting returns every stored assignment ordered by stage id.
func (s *Store) ListRouting(ctx context.Context) ([]RoutingRecord, error) {
	var recs []RoutingRecord
	query := `SELECT * FROM routing ORDER BY eye ASC`
	if err := s.db.SelectContext(ctx, &recs, query); err != nil {
		return nil, fmt.Errorf("list routing: %w", err)
	}
	return recs, nil
}

// DeleteRouting removes a stage's override so it falls back to the
// built-in default.
func (s *Store) DeleteRouting(ctx context.Context, eye string) error {
	query := s.rebind(`DELETE FROM routing WHERE eye = ?`)
	if _, err := s.db.ExecContext(ctx, query, eye); err != nil {
		return fmt.Errorf("delete routing for %s: %w", eye, err)
	}
	return nil
}
