// Package routing maps stages to the provider and model that serve
// them. Stored rows override built-in defaults; resolution reads an
// in-memory copy so the hot path never touches the database.
package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arguslabs/argus/internal/eyes"
	"github.com/arguslabs/argus/internal/store"
)

// Assignment is one stage's provider/model pair. The fallback pair is
// optional and used when the primary provider's breaker is open.
type Assignment struct {
	Eye              eyes.ID   `json:"eye"`
	PrimaryProvider  string    `json:"primary_provider"`
	PrimaryModel     string    `json:"primary_model"`
	FallbackProvider string    `json:"fallback_provider,omitempty"`
	FallbackModel    string    `json:"fallback_model,omitempty"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// Store is the slice of the persistence layer the table needs.
type Store interface {
	UpsertRouting(ctx context.Context, rec *store.RoutingRecord) error
	GetRouting(ctx context.Context, eye string) (*store.RoutingRecord, error)
	ListRouting(ctx context.Context) ([]store.RoutingRecord, error)
	DeleteRouting(ctx context.Context, eye string) error
}

// ChangeHandler observes assignment writes. Handlers run synchronously
// on the writing goroutine; keep them fast.
type ChangeHandler func(Assignment)

// Table serves effective assignments: stored overrides layered on the
// built-in defaults.
type Table struct {
	store  Store
	logger *zap.Logger

	mu        sync.RWMutex
	defaults  map[eyes.ID]Assignment
	overrides map[eyes.ID]Assignment
	handlers  []ChangeHandler
}

// Options configures New. Nil Defaults uses DefaultAssignments; nil
// Logger uses zap.NewNop.
type Options struct {
	Defaults map[eyes.ID]Assignment
	Logger   *zap.Logger
}

// New builds a table and hydrates overrides from the store.
func New(ctx context.Context, st Store, opts Options) (*Table, error) {
	if st == nil {
		return nil, fmt.Errorf("routing: store is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Defaults == nil {
		opts.Defaults = DefaultAssignments()
	}

	t := &Table{
		store:     st,
		logger:    opts.Logger,
		defaults:  opts.Defaults,
		overrides: make(map[eyes.ID]Assignment),
	}
	if err := t.Reload(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload replaces the override set with the store's current rows.
func (t *Table) Reload(ctx context.Context) error {
	recs, err := t.store.ListRouting(ctx)
	if err != nil {
		return fmt.Errorf("routing: load overrides: %w", err)
	}

	overrides := make(map[eyes.ID]Assignment, len(recs))
	for _, rec := range recs {
		id, err := eyes.ParseID(rec.Eye)
		if err != nil {
			t.logger.Warn("Skipping routing row for unknown stage",
				zap.String("eye", rec.Eye))
			continue
		}
		overrides[id] = fromRecord(rec)
	}

	t.mu.Lock()
	t.overrides = overrides
	t.mu.Unlock()

	t.logger.Info("Routing table loaded", zap.Int("overrides", len(overrides)))
	return nil
}

// OnChange registers a handler invoked after every successful Set or
// Delete with the now-effective assignment for that stage.
func (t *Table) OnChange(h ChangeHandler) {
	t.mu.Lock()
	t.handlers = append(t.handlers, h)
	t.mu.Unlock()
}

// Resolve returns the effective assignment for a stage.
func (t *Table) Resolve(eye eyes.ID) (Assignment, error) {
	if !eye.Valid() {
		return Assignment{}, fmt.Errorf("routing: unknown stage %q", eye)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if a, ok := t.overrides[eye]; ok {
		return a, nil
	}
	if a, ok := t.defaults[eye]; ok {
		return a, nil
	}
	return Assignment{}, fmt.Errorf("routing: no assignment for stage %q", eye)
}

// ModelFor resolves the primary pair for a stage.
func (t *Table) ModelFor(eye eyes.ID) (string, string, error) {
	a, err := t.Resolve(eye)
	if err != nil {
		return "", "", err
	}
	return a.PrimaryProvider, a.PrimaryModel, nil
}

// Set validates and persists an override, then updates the in-memory
// copy and notifies handlers. The store write happens first; a failed
// write leaves the table untouched.
func (t *Table) Set(ctx context.Context, a Assignment) error {
	if !a.Eye.Valid() {
		return fmt.Errorf("routing: unknown stage %q", a.Eye)
	}
	if a.PrimaryProvider == "" || a.PrimaryModel == "" {
		return fmt.Errorf("routing: assignment for %s needs a primary provider and model", a.Eye)
	}
	if (a.FallbackProvider == "") != (a.FallbackModel == "") {
		return fmt.Errorf("routing: assignment for %s has a partial fallback pair", a.Eye)
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}

	rec := toRecord(a)
	if err := t.store.UpsertRouting(ctx, &rec); err != nil {
		return err
	}

	t.mu.Lock()
	t.overrides[a.Eye] = a
	t.mu.Unlock()

	t.logger.Info("Routing assignment updated",
		zap.String("eye", string(a.Eye)),
		zap.String("provider", a.PrimaryProvider),
		zap.String("model", a.PrimaryModel))
	t.notify(a)
	return nil
}

// Delete removes a stage's override so it falls back to the built-in
// default. Handlers receive the default assignment.
func (t *Table) Delete(ctx context.Context, eye eyes.ID) error {
	if !eye.Valid() {
		return fmt.Errorf("routing: unknown stage %q", eye)
	}
	if err := t.store.DeleteRouting(ctx, string(eye)); err != nil {
		return err
	}

	t.mu.Lock()
	delete(t.overrides, eye)
	def, hasDefault := t.defaults[eye]
	t.mu.Unlock()

	t.logger.Info("Routing assignment removed", zap.String("eye", string(eye)))
	if hasDefault {
		t.notify(def)
	}
	return nil
}

// Get returns the stored override for a stage, if any.
func (t *Table) Get(eye eyes.ID) (Assignment, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.overrides[eye]
	return a, ok
}

// List returns the effective table in canonical stage order, the
// router entry last.
func (t *Table) List() []Assignment {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]eyes.ID, 0, len(eyes.Order)+1)
	ids = append(ids, eyes.Order...)
	ids = append(ids, eyes.Router)

	out := make([]Assignment, 0, len(ids))
	for _, id := range ids {
		if a, ok := t.overrides[id]; ok {
			out = append(out, a)
			continue
		}
		if a, ok := t.defaults[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (t *Table) notify(a Assignment) {
	t.mu.RLock()
	handlers := make([]ChangeHandler, len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.RUnlock()

	for _, h := range handlers {
		h(a)
	}
}

func fromRecord(rec store.RoutingRecord) Assignment {
	return Assignment{
		Eye:              eyes.ID(rec.Eye),
		PrimaryProvider:  rec.PrimaryProvider,
		PrimaryModel:     rec.PrimaryModel,
		FallbackProvider: rec.FallbackProvider,
		FallbackModel:    rec.FallbackModel,
		UpdatedAt:        rec.UpdatedAt,
	}
}

func toRecord(a Assignment) store.RoutingRecord {
	return store.RoutingRecord{
		Eye:              string(a.Eye),
		PrimaryProvider:  a.PrimaryProvider,
		PrimaryModel:     a.PrimaryModel,
		FallbackProvider: a.FallbackProvider,
		FallbackModel:    a.FallbackModel,
		UpdatedAt:        a.UpdatedAt,
	}
}
