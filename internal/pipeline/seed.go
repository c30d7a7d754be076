package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/arguslabs/argus/internal/store"
)

// SeedStore is the slice of the persistence layer seeding writes to.
type SeedStore interface {
	GetPipeline(ctx context.Context, id string) (*store.PipelineRecord, error)
	UpsertPipeline(ctx context.Context, rec *store.PipelineRecord) error
}

type seedFile struct {
	Pipelines []Definition `yaml:"pipelines"`
}

// ParseSeeds decodes a pipelines.yaml document and validates every
// definition in it. One bad definition rejects the whole file, so a
// partial edit cannot seed half a deployment.
func ParseSeeds(raw []byte) ([]Definition, error) {
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse pipeline seeds: %w", err)
	}
	seen := make(map[string]bool, len(f.Pipelines))
	for i, def := range f.Pipelines {
		if err := Validate(def); err != nil {
			return nil, fmt.Errorf("seed %d: %w", i, err)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("seed %d: duplicate pipeline id %q", i, def.ID)
		}
		seen[def.ID] = true
	}
	return f.Pipelines, nil
}

// Seed stores every definition that is not already present. Existing
// rows win: an operator may have edited a pipeline through the API
// since the seed file was written, and a restart must not roll that
// back.
func Seed(ctx context.Context, st SeedStore, defs []Definition, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	seeded := 0
	for _, def := range defs {
		_, err := st.GetPipeline(ctx, def.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return seeded, err
		}

		raw, err := json.Marshal(def)
		if err != nil {
			return seeded, fmt.Errorf("encode pipeline %s: %w", def.ID, err)
		}
		now := time.Now().UTC()
		rec := &store.PipelineRecord{
			ID:         def.ID,
			Name:       def.Name,
			Definition: raw,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := st.UpsertPipeline(ctx, rec); err != nil {
			return seeded, err
		}
		seeded++
		logger.Info("Seeded pipeline",
			zap.String("pipeline_id", def.ID),
			zap.String("name", def.Name),
			zap.Int("steps", len(def.Steps)))
	}
	return seeded, nil
}

// SeedFromFile loads a pipelines.yaml and seeds its definitions. A
// missing file seeds nothing; deployments without seed pipelines are
// normal.
func SeedFromFile(ctx context.Context, st SeedStore, path string, logger *zap.Logger) (int, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read pipeline seeds: %w", err)
	}
	defs, err := ParseSeeds(raw)
	if err != nil {
		return 0, err
	}
	return Seed(ctx, st, defs, logger)
}
