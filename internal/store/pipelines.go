package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertPipeline stores a pipeline definition under its id.
func (s *Store) UpsertPipeline(ctx context.Context, rec *PipelineRecord) error {
	query := s.rebind(`
		INSERT INTO pipelines (id, name, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			definition = excluded.definition,
			updated_at = excluded.updated_at`)

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.Definition, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert pipeline %s: %w", rec.ID, err)
	}
	return nil
}

// GetPipeline loads one stored definition.
func (s *Store) GetPipeline(ctx context.Context, id string) (*PipelineRecord, error) {
	var rec PipelineRecord
	query := s.rebind(`SELECT * FROM pipelines WHERE id = ?`)
	err := s.db.GetContext(ctx, &rec, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pipeline %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline %s: %w", id, err)
	}
	return &rec, nil
}

// ListPipelines returns every stored definition ordered by name.
func (s *Store) ListPipelines(ctx context.Context) ([]PipelineRecord, error) {
	var recs []PipelineRecord
	query := `SELECT * FROM pipelines ORDER BY name ASC`
	if err := s.db.SelectContext(ctx, &recs, query); err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	return recs, nil
}

// DeletePipeline removes a definition; deleting an absent id is not an
// error.
func (s *Store) DeletePipeline(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM pipelines WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete pipeline %s: %w", id, err)
	}
	return nil
}

// InsertPipelineRun records one finished execution.
func (s *Store) InsertPipelineRun(ctx context.Context, rec *PipelineRunRecord) error {
	query := s.rebind(`
		INSERT INTO pipeline_runs (id, pipeline_id, session_id, success, result, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.PipelineID, rec.SessionID, rec.Success,
		rec.Result, rec.LatencyMs, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pipeline run %s: %w", rec.ID, err)
	}
	return nil
}

// ListPipelineRuns returns recent executions of one pipeline, newest
// first.
func (s *Store) ListPipelineRuns(ctx context.Context, pipelineID string, limit int) ([]PipelineRunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []PipelineRunRecord
	query := s.rebind(`SELECT * FROM pipeline_runs WHERE pipeline_id = ? ORDER BY created_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &recs, query, pipelineID, limit); err != nil {
		return nil, fmt.Errorf("list pipeline runs for %s: %w", pipelineID, err)
	}
	return recs, nil
}
