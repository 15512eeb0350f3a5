package services

import (
	"context"

	policytypes "github.com/agentlease/leaseguard/modules/policy/domain/types"
	"github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
)

// Policy configuration shares the entity's trust model: the ceiling
// belongs to the owner, the override to the active renter. Every
// mutation resolves the caller's standing before it reaches the engine,
// and is serialized on the entity lock like any other mutation.

func (s *Service) SetCeiling(ctx context.Context, entityID types.EntityID, caller calldata.Address, entries []policytypes.PluginConfig) error {
	defer s.locks.lock(entityID).Unlock()
	if err := s.requireOwner(ctx, entityID, caller); err != nil {
		return err
	}
	return s.engine.SetCeiling(ctx, entityID, entries)
}

func (s *Service) AppendCeiling(ctx context.Context, entityID types.EntityID, caller calldata.Address, entry policytypes.PluginConfig) error {
	defer s.locks.lock(entityID).Unlock()
	if err := s.requireOwner(ctx, entityID, caller); err != nil {
		return err
	}
	return s.engine.AppendCeiling(ctx, entityID, entry)
}

func (s *Service) RemoveCeiling(ctx context.Context, entityID types.EntityID, caller calldata.Address, pluginType string) error {
	defer s.locks.lock(entityID).Unlock()
	if err := s.requireOwner(ctx, entityID, caller); err != nil {
		return err
	}
	return s.engine.RemoveCeiling(ctx, entityID, pluginType)
}

func (s *Service) SetOverride(ctx context.Context, entityID types.EntityID, caller calldata.Address, entries []policytypes.PluginConfig) error {
	defer s.locks.lock(entityID).Unlock()
	e, err := s.load(ctx, entityID)
	if err != nil {
		return err
	}
	if e.Terminated {
		return types.NewEntityState(types.StateTerminated)
	}
	renter, ok := e.RenterAt(s.now())
	if !ok || caller != renter {
		return types.NewAuthorization(caller)
	}
	return s.engine.SetOverride(ctx, entityID, entries)
}

// ClearOverride restores the ceiling as the active set. The renter may
// drop their own customization; the owner may drop a stale one.
func (s *Service) ClearOverride(ctx context.Context, entityID types.EntityID, caller calldata.Address) error {
	defer s.locks.lock(entityID).Unlock()
	e, err := s.load(ctx, entityID)
	if err != nil {
		return err
	}
	if e.Terminated {
		return types.NewEntityState(types.StateTerminated)
	}
	if caller != e.Owner {
		renter, ok := e.RenterAt(s.now())
		if !ok || caller != renter {
			return types.NewAuthorization(caller)
		}
	}
	return s.engine.ClearOverride(ctx, entityID)
}

func (s *Service) requireOwner(ctx context.Context, entityID types.EntityID, caller calldata.Address) error {
	e, err := s.load(ctx, entityID)
	if err != nil {
		return err
	}
	if e.Terminated {
		return types.NewEntityState(types.StateTerminated)
	}
	if caller != e.Owner {
		return types.NewAuthorization(caller)
	}
	return nil
}
