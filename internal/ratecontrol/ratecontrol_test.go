package ratecontrol

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pointAt aims the loader at a path and resets the cached table, both
// now and when the test finishes.
func pointAt(t *testing.T, path string) {
	t.Helper()
	t.Setenv(envConfigPath, path)
	Reload()
	t.Cleanup(Reload)
}

func TestForProviderBuiltins(t *testing.T) {
	pointAt(t, filepath.Join(t.TempDir(), "absent.yaml"))

	openai := ForProvider("openai")
	assert.Equal(t, 30, openai.RPM)
	assert.Equal(t, 60000, openai.TPM)

	assert.Equal(t, ForProvider("anthropic"), ForProvider(" Anthropic "))

	// Nothing covers an unknown vendor without a file.
	assert.Zero(t, ForProvider("acme"))
}

func TestForProviderFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rate_limits:
  default_rpm: 45
  default_tpm: 90000
  providers:
    openai:
      rpm: 10
      tpm: 20000
`), 0o644))
	pointAt(t, path)

	openai := ForProvider("openai")
	assert.Equal(t, 10, openai.RPM, "file entry overrides the built-in")
	assert.Equal(t, 20000, openai.TPM)

	// Built-in vendors keep their numbers; unknown ones fall to the
	// file defaults.
	assert.Equal(t, Limit{RPM: 20, TPM: 40000}, ForProvider("anthropic"))
	assert.Equal(t, Limit{RPM: 45, TPM: 90000}, ForProvider("acme"))
}

func TestForProviderMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limits: [not, a, map]"), 0o644))
	pointAt(t, path)

	// Malformed files leave the built-ins in force.
	assert.Equal(t, Limit{RPM: 30, TPM: 60000}, ForProvider("openai"))
}

func TestInterval(t *testing.T) {
	assert.Equal(t, 2*time.Second, Interval(Limit{RPM: 30}))
	assert.Zero(t, Interval(Limit{TPM: 60000}))
	assert.Zero(t, Interval(Limit{}))
}

func TestDelay(t *testing.T) {
	t.Run("zero limit imposes nothing", func(t *testing.T) {
		assert.Zero(t, Delay(Limit{}, 5000))
	})

	t.Run("request interval floors the delay", func(t *testing.T) {
		// 30 RPM spaces requests 2s apart; 1000 tokens at 60000 TPM
		// would only need 1s.
		assert.Equal(t, 2*time.Second, Delay(Limit{RPM: 30, TPM: 60000}, 1000))
	})

	t.Run("token cost dominates large requests", func(t *testing.T) {
		assert.Equal(t, 10*time.Second, Delay(Limit{RPM: 30, TPM: 60000}, 10000))
	})

	t.Run("caps at one minute", func(t *testing.T) {
		assert.Equal(t, time.Minute, Delay(Limit{TPM: 60}, 1_000_000))
	})

	t.Run("tokens alone pace without an RPM ceiling", func(t *testing.T) {
		assert.Equal(t, 500*time.Millisecond, Delay(Limit{TPM: 120000}, 1000))
	})
}

func TestReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rate_limits:
  providers:
    openai:
      rpm: 5
      tpm: 1000
`), 0o644))
	pointAt(t, path)
	require.Equal(t, 5, ForProvider("openai").RPM)

	require.NoError(t, os.WriteFile(path, []byte(`
rate_limits:
  providers:
    openai:
      rpm: 7
      tpm: 1000
`), 0o644))
	assert.Equal(t, 5, ForProvider("openai").RPM, "table is cached until reload")
	Reload()
	assert.Equal(t, 7, ForProvider("openai").RPM)
}
