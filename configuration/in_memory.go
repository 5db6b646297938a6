// Package configuration provides the in-memory ConfigurationStore
// implementation satisfying the persistence collaborator contract.
package configuration

import (
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentdock/core"
	"github.com/hupe1980/agentdock/internal/util"
)

// InMemoryStore is a volatile core.ConfigurationStore keeping records in a
// process-local map. It is safe for concurrent access: reads may run
// concurrently, writes are serialized. Returned configurations are copies so
// callers cannot mutate stored state in place.
type InMemoryStore struct {
	mu      sync.RWMutex
	configs map[string]*core.Configuration
}

// NewInMemoryStore constructs an empty in-memory configuration store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{configs: make(map[string]*core.Configuration)}
}

// Create validates the spec and stores a new active configuration.
func (s *InMemoryStore) Create(spec core.ConfigurationSpec) (*core.Configuration, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cfg := &core.Configuration{
		ID:            util.NewID(),
		Name:          spec.Name,
		MCPServers:    cloneServers(spec.MCPServers),
		SystemPrompt:  spec.SystemPrompt,
		ModelSettings: cloneSettings(spec.ModelSettings),
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ID] = cfg

	return cloneConfig(cfg), nil
}

// Get returns an active configuration or core.ErrNotFound.
func (s *InMemoryStore) Get(configID string) (*core.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[configID]
	if !ok || !cfg.Active {
		return nil, core.ErrNotFound
	}
	return cloneConfig(cfg), nil
}

// GetAny returns the configuration regardless of the active flag.
func (s *InMemoryStore) GetAny(configID string) (*core.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[configID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneConfig(cfg), nil
}

// List returns configurations ordered by creation time descending.
func (s *InMemoryStore) List(activeOnly bool) ([]*core.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*core.Configuration, 0, len(s.configs))
	for _, cfg := range s.configs {
		if activeOnly && !cfg.Active {
			continue
		}
		result = append(result, cloneConfig(cfg))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Deactivate soft-deletes the configuration. The record is kept so existing
// conversations still resolve via GetAny.
func (s *InMemoryStore) Deactivate(configID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[configID]
	if !ok {
		return core.ErrNotFound
	}
	cfg.Active = false
	cfg.UpdatedAt = time.Now().UTC()
	return nil
}

// Count returns the number of stored configurations, active or not.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.configs)
}

func cloneConfig(cfg *core.Configuration) *core.Configuration {
	clone := *cfg
	clone.MCPServers = cloneServers(cfg.MCPServers)
	clone.ModelSettings = cloneSettings(cfg.ModelSettings)
	return &clone
}

func cloneServers(servers []core.MCPServerSpec) []core.MCPServerSpec {
	if servers == nil {
		return nil
	}
	result := make([]core.MCPServerSpec, len(servers))
	copy(result, servers)
	for i, srv := range servers {
		if srv.Env == nil {
			continue
		}
		env := make(map[string]string, len(srv.Env))
		for k, v := range srv.Env {
			env[k] = v
		}
		result[i].Env = env
	}
	return result
}

func cloneSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	result := make(map[string]any, len(settings))
	for k, v := range settings {
		result[k] = v
	}
	return result
}
