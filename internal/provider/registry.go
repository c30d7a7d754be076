package provider

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry holds the configured providers by name. Registration happens
// at startup; lookups are concurrent.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		logger:  logger,
	}
}

// NewRegistryFromConfig builds clients for every configured provider.
// A provider that fails to construct aborts startup; a half-wired
// provider set would strand routing assignments.
func NewRegistryFromConfig(configs []Config, logger *zap.Logger) (*Registry, error) {
	reg := NewRegistry(logger)
	for _, cfg := range configs {
		client, err := NewHTTPClient(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
		if err := reg.Register(client); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (r *Registry) Register(client Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := client.Name()
	if _, exists := r.clients[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.clients[name] = client
	r.logger.Info("Provider registered", zap.String("provider", name))
	return nil
}

func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return client, nil
}

// Names returns the registered provider names, sorted for stable
// listings.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
