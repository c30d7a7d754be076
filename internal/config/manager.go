package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Format is a supported configuration file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ChangeEvent describes one configuration file change.
type ChangeEvent struct {
	File      string         `json:"file"`
	Action    string         `json:"action"` // create, modify, delete, manual_reload, programmatic_set
	Config    map[string]any `json:"config"`
	Timestamp time.Time      `json:"timestamp"`
}

// ChangeHandler receives change events for one file. Handlers run on
// their own goroutines; a handler error is logged, never fatal.
type ChangeHandler func(event ChangeEvent) error

// Manager watches a directory of YAML/JSON files and pushes changes to
// registered handlers. The routing table and the order-guard sequence
// subscribe here so a running service picks up edits without a restart.
type Manager struct {
	dir      string
	configs  map[string]map[string]any
	handlers map[string][]ChangeHandler
	watcher  *fsnotify.Watcher
	started  bool
	stopCh   chan struct{}
	logger   *zap.Logger
	mu       sync.RWMutex

	validators map[string]func(map[string]any) error

	// Polling fallback for filesystems where fsnotify is unreliable.
	pollInterval  time.Duration
	enablePolling bool
}

// NewManager creates a manager over dir, creating it if needed.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	return &Manager{
		dir:          dir,
		configs:      make(map[string]map[string]any),
		handlers:     make(map[string][]ChangeHandler),
		validators:   make(map[string]func(map[string]any) error),
		watcher:      watcher,
		stopCh:       make(chan struct{}),
		logger:       logger,
		pollInterval: 10 * time.Second,
	}, nil
}

// Start loads every config file in the directory and begins watching.
// Safe to call once; subsequent calls are no-ops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.watcher.Add(m.dir); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}

	// Initial load happens outside m.mu so handlers can call back in.
	if err := m.loadAll(); err != nil {
		return fmt.Errorf("load initial configs: %w", err)
	}

	m.mu.Lock()
	m.started = true
	loaded := len(m.configs)
	polling := m.enablePolling
	m.mu.Unlock()

	go m.watchLoop()
	if polling {
		go m.pollLoop()
	}

	m.logger.Info("Configuration manager started",
		zap.String("config_dir", m.dir),
		zap.Int("loaded_configs", loaded),
		zap.Bool("polling_enabled", polling),
	)
	return nil
}

// Stop halts the watcher and the polling loop.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	close(m.stopCh)
	if err := m.watcher.Close(); err != nil {
		m.logger.Error("Error closing file watcher", zap.Error(err))
	}
	m.started = false
	m.logger.Info("Configuration manager stopped")
	return nil
}

// RegisterHandler subscribes a handler to changes of one file.
func (m *Manager) RegisterHandler(filename string, handler ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[filename] = append(m.handlers[filename], handler)
	m.logger.Info("Configuration handler registered",
		zap.String("filename", filename),
		zap.Int("total_handlers", len(m.handlers[filename])),
	)
}

// RegisterValidator sets the validator for one file. A failing
// validator rejects the new content and keeps the previous config.
func (m *Manager) RegisterValidator(filename string, validator func(map[string]any) error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.validators[filename] = validator
	m.logger.Info("Configuration validator registered", zap.String("filename", filename))
}

// GetConfig returns a copy of the current content of one file.
func (m *Manager) GetConfig(filename string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[filename]
	if !ok {
		return nil, false
	}
	return copyMap(cfg), true
}

// ReloadConfig re-reads one file from disk.
func (m *Manager) ReloadConfig(filename string) error {
	return m.loadFile(filepath.Join(m.dir, filename), "manual_reload")
}

// SetConfig injects content programmatically, bypassing the
// filesystem. Validation and handler dispatch behave as for a file
// change.
func (m *Manager) SetConfig(filename string, cfg map[string]any) error {
	m.mu.RLock()
	validator := m.validators[filename]
	m.mu.RUnlock()

	if validator != nil {
		if err := validator(cfg); err != nil {
			return fmt.Errorf("configuration validation failed for %s: %w", filename, err)
		}
	}

	m.mu.Lock()
	m.configs[filename] = copyMap(cfg)
	handlers := append([]ChangeHandler(nil), m.handlers[filename]...)
	m.mu.Unlock()

	m.dispatch(handlers, ChangeEvent{
		File:      filename,
		Action:    "programmatic_set",
		Config:    copyMap(cfg),
		Timestamp: time.Now(),
	})

	m.logger.Info("Configuration set programmatically",
		zap.String("filename", filename),
		zap.Int("keys", len(cfg)),
	)
	return nil
}

// EnablePolling turns on the mtime-polling fallback. Call before Start.
func (m *Manager) EnablePolling(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enablePolling = true
	m.pollInterval = interval
	m.logger.Info("Configuration polling enabled", zap.Duration("interval", interval))
}

func (m *Manager) watchLoop() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleWatchEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) pollLoop() {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	lastMod := make(map[string]time.Time)
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkForChanges(lastMod)
		}
	}
}

func (m *Manager) checkForChanges(lastMod map[string]time.Time) {
	err := filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		name := filepath.Base(path)
		if info.ModTime().After(lastMod[name]) {
			lastMod[name] = info.ModTime()
			return m.loadFile(path, "polling_detected")
		}
		return nil
	})
	if err != nil {
		m.logger.Error("Error during polling check", zap.Error(err))
	}
}

func (m *Manager) handleWatchEvent(event fsnotify.Event) {
	if !isConfigFile(event.Name) {
		return
	}
	filename := filepath.Base(event.Name)

	var action string
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		action = "create"
	case event.Op&fsnotify.Write == fsnotify.Write:
		action = "modify"
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		action = "delete"
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		action = "delete"
	case event.Op&fsnotify.Chmod == fsnotify.Chmod:
		return
	default:
		action = event.Op.String()
	}

	if action == "delete" {
		m.handleRemoval(filename)
		return
	}

	// Editors often fire several writes in quick succession.
	time.Sleep(50 * time.Millisecond)

	if err := m.loadFile(event.Name, action); err != nil {
		m.logger.Error("Failed to load config file",
			zap.String("file", filename),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (m *Manager) loadAll() error {
	return filepath.WalkDir(m.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}
		return m.loadFile(path, "initial_load")
	})
}

func (m *Manager) loadFile(path, action string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	filename := filepath.Base(path)
	cfg := make(map[string]any)

	format := detectFormat(filename)
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse JSON config %s: %w", filename, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse YAML config %s: %w", filename, err)
		}
	default:
		return fmt.Errorf("unsupported config format for %s", filename)
	}

	m.mu.RLock()
	validator := m.validators[filename]
	m.mu.RUnlock()

	if validator != nil {
		if err := validator(cfg); err != nil {
			return fmt.Errorf("configuration validation failed for %s: %w", filename, err)
		}
	}

	m.mu.Lock()
	m.configs[filename] = cfg
	handlers := append([]ChangeHandler(nil), m.handlers[filename]...)
	m.mu.Unlock()

	m.dispatch(handlers, ChangeEvent{
		File:      filename,
		Action:    action,
		Config:    copyMap(cfg),
		Timestamp: time.Now(),
	})

	m.logger.Info("Configuration loaded",
		zap.String("filename", filename),
		zap.String("action", action),
		zap.String("format", string(format)),
		zap.Int("keys", len(cfg)),
	)
	return nil
}

func (m *Manager) handleRemoval(filename string) {
	m.mu.Lock()
	last := m.configs[filename]
	delete(m.configs, filename)
	handlers := append([]ChangeHandler(nil), m.handlers[filename]...)
	m.mu.Unlock()

	m.dispatch(handlers, ChangeEvent{
		File:      filename,
		Action:    "delete",
		Config:    copyMap(last),
		Timestamp: time.Now(),
	})

	m.logger.Info("Configuration file removed", zap.String("filename", filename))
}

// dispatch runs handlers on their own goroutines so a slow subscriber
// never stalls the watch loop or a caller holding no locks.
func (m *Manager) dispatch(handlers []ChangeHandler, event ChangeEvent) {
	for _, handler := range handlers {
		h := handler
		go func() {
			if err := h(event); err != nil {
				m.logger.Error("Configuration handler error",
					zap.String("filename", event.File),
					zap.String("action", event.Action),
					zap.Error(err),
				)
			}
		}()
	}
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func isConfigFile(name string) bool {
	switch filepath.Ext(name) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func detectFormat(name string) Format {
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}
