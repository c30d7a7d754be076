package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop() })
	return m, dir
}

func waitForEvent(t *testing.T, ch <-chan ChangeEvent) ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config change event")
		return ChangeEvent{}
	}
}

func TestManagerLoadsExistingFiles(t *testing.T) {
	m, dir := newTestManager(t)

	content := "sequence:\n  approval:\n    requires: [final_review]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sequence.yaml"), []byte(content), 0o644))

	events := make(chan ChangeEvent, 4)
	m.RegisterHandler("sequence.yaml", func(ev ChangeEvent) error {
		events <- ev
		return nil
	})

	require.NoError(t, m.Start(context.Background()))

	ev := waitForEvent(t, events)
	assert.Equal(t, "sequence.yaml", ev.File)
	assert.Equal(t, "initial_load", ev.Action)
	assert.Contains(t, ev.Config, "sequence")

	cfg, ok := m.GetConfig("sequence.yaml")
	require.True(t, ok)
	assert.Contains(t, cfg, "sequence")
}

func TestManagerNotifiesOnWrite(t *testing.T) {
	m, dir := newTestManager(t)

	events := make(chan ChangeEvent, 4)
	m.RegisterHandler("argus.yaml", func(ev ChangeEvent) error {
		events <- ev
		return nil
	})

	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "argus.yaml"), []byte("router:\n  mode: llm\n"), 0o644))

	ev := waitForEvent(t, events)
	assert.Equal(t, "argus.yaml", ev.File)
	assert.Contains(t, []string{"create", "modify"}, ev.Action)

	router, ok := ev.Config["router"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "llm", router["mode"])
}

func TestManagerValidatorRejectsBadContent(t *testing.T) {
	m, dir := newTestManager(t)

	m.RegisterValidator("argus.yaml", func(cfg map[string]any) error {
		if _, ok := cfg["router"]; !ok {
			return fmt.Errorf("router block is required")
		}
		return nil
	})

	require.NoError(t, m.Start(context.Background()))

	err := m.SetConfig("argus.yaml", map[string]any{"unrelated": true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")

	_, ok := m.GetConfig("argus.yaml")
	assert.False(t, ok)

	// A rejected file load keeps the previous content too.
	require.NoError(t, m.SetConfig("argus.yaml", map[string]any{"router": map[string]any{"mode": "heuristic"}}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "argus.yaml"), []byte("unrelated: true\n"), 0o644))

	assert.Never(t, func() bool {
		cfg, ok := m.GetConfig("argus.yaml")
		return !ok || cfg["router"] == nil
	}, time.Second, 50*time.Millisecond)
}

func TestManagerSetConfig(t *testing.T) {
	m, _ := newTestManager(t)

	events := make(chan ChangeEvent, 1)
	m.RegisterHandler("routing.yaml", func(ev ChangeEvent) error {
		events <- ev
		return nil
	})

	require.NoError(t, m.SetConfig("routing.yaml", map[string]any{"clarify": "gpt-4o-mini"}))

	ev := waitForEvent(t, events)
	assert.Equal(t, "programmatic_set", ev.Action)
	assert.Equal(t, "gpt-4o-mini", ev.Config["clarify"])

	// Mutating the returned copy does not touch the stored config.
	cfg, ok := m.GetConfig("routing.yaml")
	require.True(t, ok)
	cfg["clarify"] = "tampered"

	again, ok := m.GetConfig("routing.yaml")
	require.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", again["clarify"])
}

func TestManagerStartIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
}

func TestManagerIgnoresUnknownExtensions(t *testing.T) {
	m, dir := newTestManager(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not config"), 0o644))
	require.NoError(t, m.Start(context.Background()))

	_, ok := m.GetConfig("notes.txt")
	assert.False(t, ok)
}
