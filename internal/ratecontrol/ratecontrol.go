// Package ratecontrol holds the static per-provider rate-limit table.
// Providers publish requests-per-minute and tokens-per-minute ceilings;
// the table turns those into dispatch pacing for the provider clients.
// Limits load once from config/models.yaml and stay fixed until
// Reload; built-in vendor defaults apply when no file is present.
package ratecontrol

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const envConfigPath = "MODELS_CONFIG_PATH"

// Limit is one provider's published ceilings. Zero fields mean no
// ceiling on that axis.
type Limit struct {
	RPM int `yaml:"rpm"`
	TPM int `yaml:"tpm"`
}

type tableFile struct {
	RateLimits struct {
		DefaultRPM int              `yaml:"default_rpm"`
		DefaultTPM int              `yaml:"default_tpm"`
		Providers  map[string]Limit `yaml:"providers"`
	} `yaml:"rate_limits"`
}

var (
	mu     sync.RWMutex
	table  *tableFile
	loaded bool
)

// Vendor defaults for when no models.yaml is deployed. Conservative
// numbers; the file overrides them.
var builtinLimits = map[string]Limit{
	"openai":    {RPM: 30, TPM: 60000},
	"anthropic": {RPM: 20, TPM: 40000},
	"google":    {RPM: 40, TPM: 80000},
	"mistral":   {RPM: 50, TPM: 100000},
}

func loadLocked() {
	table = &tableFile{}
	loaded = true

	// An explicit path is authoritative; otherwise search the working
	// directory and its parents for config/models.yaml.
	if p := os.Getenv(envConfigPath); p != "" {
		readInto(p)
		return
	}
	if p, ok := findConfig(); ok {
		readInto(p)
	}
}

func readInto(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		zap.L().Warn("Rate limit table unreadable, using built-in limits",
			zap.String("path", path), zap.Error(err))
		return
	}
	var parsed tableFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		zap.L().Warn("Rate limit table malformed, using built-in limits",
			zap.String("path", path), zap.Error(err))
		return
	}
	table = &parsed
	zap.L().Info("Rate limit table loaded",
		zap.String("path", path),
		zap.Int("providers", len(parsed.RateLimits.Providers)))
}

func findConfig() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 6; i++ {
		cand := filepath.Join(wd, "config", "models.yaml")
		if _, err := os.Stat(cand); err == nil {
			return cand, true
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			break
		}
		wd = parent
	}
	return "", false
}

func get() *tableFile {
	mu.RLock()
	if loaded {
		defer mu.RUnlock()
		return table
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if !loaded {
		loadLocked()
	}
	return table
}

// ForProvider returns the limit for a provider: the file's entry, else
// the built-in vendor default, else the file's default ceilings. A
// provider nothing covers gets a zero Limit, which imposes no pacing.
func ForProvider(name string) Limit {
	key := strings.ToLower(strings.TrimSpace(name))
	cfg := get()
	if l, ok := cfg.RateLimits.Providers[key]; ok {
		return l
	}
	if l, ok := builtinLimits[key]; ok {
		return l
	}
	return Limit{RPM: cfg.RateLimits.DefaultRPM, TPM: cfg.RateLimits.DefaultTPM}
}

// Interval is the spacing between requests at the RPM ceiling.
func Interval(l Limit) time.Duration {
	if l.RPM <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(60000.0/float64(l.RPM))) * time.Millisecond
}

// Delay returns the dispatch spacing one request needs under the limit:
// the request interval or the estimated token cost at the TPM ceiling,
// whichever is longer. Results cap at one minute so a wild token
// estimate cannot park a request forever.
func Delay(l Limit, estimatedTokens int) time.Duration {
	if l.RPM <= 0 && l.TPM <= 0 {
		return 0
	}
	var delayMs float64
	if l.RPM > 0 {
		delayMs = 60000.0 / float64(l.RPM)
	}
	if l.TPM > 0 && estimatedTokens > 0 {
		tokenMs := 60000.0 / float64(l.TPM) * float64(estimatedTokens)
		delayMs = math.Max(delayMs, tokenMs)
	}
	if delayMs <= 0 {
		return 0
	}
	if delayMs > 60000 {
		delayMs = 60000
	}
	return time.Duration(math.Ceil(delayMs)) * time.Millisecond
}

// Reload drops the cached table and reads it again on next use.
func Reload() {
	mu.Lock()
	defer mu.Unlock()
	loaded = false
	table = nil
}
