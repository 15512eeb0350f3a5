// Package persistence holds the rental domain's entity stores: an
// in-memory store for tests and dev mode and a Postgres store for
// production, both behind ports.EntityStore.
package persistence

import (
	"context"
	"sync"

	"github.com/agentlease/leaseguard/modules/rental/domain/ports"
	"github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/httperr"
)

type EntityMemoryStore struct {
	mu       sync.RWMutex
	entities map[types.EntityID]types.Entity
}

func NewEntityMemoryStore() *EntityMemoryStore {
	return &EntityMemoryStore{entities: make(map[types.EntityID]types.Entity)}
}

var _ ports.EntityStore = (*EntityMemoryStore)(nil)

func (s *EntityMemoryStore) Create(_ context.Context, e types.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[e.ID]; exists {
		return httperr.NewConflict("entity already exists")
	}
	s.entities[e.ID] = e
	return nil
}

func (s *EntityMemoryStore) Get(_ context.Context, id types.EntityID) (types.Entity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	return e, ok, nil
}

func (s *EntityMemoryStore) Update(_ context.Context, e types.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[e.ID]; !exists {
		return httperr.NewNotFound("entity not found")
	}
	s.entities[e.ID] = e
	return nil
}
