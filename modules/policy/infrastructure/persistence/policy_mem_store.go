package persistence

import (
	"context"
	"sync"

	"github.com/agentlease/leaseguard/modules/policy/domain/ports"
	"github.com/agentlease/leaseguard/modules/policy/domain/types"
	rentaltypes "github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/httperr"
)

// PolicyMemoryStore is the in-process PolicyStore used in tests and
// single-node dev deployments.
type PolicyMemoryStore struct {
	mu        sync.RWMutex
	ceilings  map[rentaltypes.EntityID][]types.PluginConfig
	overrides map[rentaltypes.EntityID][]types.PluginConfig
	templates map[string][]types.PluginConfig
	bindings  map[rentaltypes.EntityID]string
}

func NewPolicyMemoryStore() *PolicyMemoryStore {
	return &PolicyMemoryStore{
		ceilings:  make(map[rentaltypes.EntityID][]types.PluginConfig),
		overrides: make(map[rentaltypes.EntityID][]types.PluginConfig),
		templates: make(map[string][]types.PluginConfig),
		bindings:  make(map[rentaltypes.EntityID]string),
	}
}

var _ ports.PolicyStore = (*PolicyMemoryStore)(nil)

func copyEntries(entries []types.PluginConfig) []types.PluginConfig {
	out := make([]types.PluginConfig, len(entries))
	copy(out, entries)
	return out
}

func (s *PolicyMemoryStore) GetCeiling(_ context.Context, entityID rentaltypes.EntityID) ([]types.PluginConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.ceilings[entityID]
	if !ok {
		return nil, false, nil
	}
	return copyEntries(entries), true, nil
}

func (s *PolicyMemoryStore) SetCeiling(_ context.Context, entityID rentaltypes.EntityID, entries []types.PluginConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ceilings[entityID] = copyEntries(entries)
	return nil
}

func (s *PolicyMemoryStore) GetOverride(_ context.Context, entityID rentaltypes.EntityID) ([]types.PluginConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.overrides[entityID]
	if !ok {
		return nil, false, nil
	}
	return copyEntries(entries), true, nil
}

func (s *PolicyMemoryStore) SetOverride(_ context.Context, entityID rentaltypes.EntityID, entries []types.PluginConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[entityID] = copyEntries(entries)
	return nil
}

func (s *PolicyMemoryStore) ClearOverride(_ context.Context, entityID rentaltypes.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, entityID)
	return nil
}

func (s *PolicyMemoryStore) PutTemplate(_ context.Context, templateID string, entries []types.PluginConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.templates[templateID]; exists {
		return httperr.NewConflict("template already registered")
	}
	s.templates[templateID] = copyEntries(entries)
	return nil
}

func (s *PolicyMemoryStore) GetTemplate(_ context.Context, templateID string) ([]types.PluginConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.templates[templateID]
	if !ok {
		return nil, false, nil
	}
	return copyEntries(entries), true, nil
}

func (s *PolicyMemoryStore) BindInstance(_ context.Context, instanceID rentaltypes.EntityID, templateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bindings[instanceID]; exists {
		return httperr.NewConflict("instance already bound")
	}
	s.bindings[instanceID] = templateID
	return nil
}

func (s *PolicyMemoryStore) GetInstanceTemplate(_ context.Context, instanceID rentaltypes.EntityID) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	templateID, ok := s.bindings[instanceID]
	return templateID, ok, nil
}
