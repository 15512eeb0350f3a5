package services

import (
	"context"
	"math/big"

	"github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
	"github.com/agentlease/leaseguard/pkg/httperr"
)

// callerRole is the resolved standing of an execute caller.
type callerRole int

const (
	roleNone callerRole = iota
	// roleOwnerPlain: owner of a plain entity, engine bypassed.
	roleOwnerPlain
	// roleOwnerInstance: owner of an instance, engine validated.
	roleOwnerInstance
	roleRenter
	roleOperator
)

// resolveRole classifies the caller against the entity's current
// delegations. Expired standings surface their specific error rather
// than a generic rejection.
func (s *Service) resolveRole(e types.Entity, caller calldata.Address) (callerRole, error) {
	now := s.now()
	if caller == e.Owner {
		if e.IsInstance() {
			return roleOwnerInstance, nil
		}
		return roleOwnerPlain, nil
	}
	if renter, ok := e.RenterAt(now); ok && caller == renter {
		return roleRenter, nil
	}
	if !e.Renter.IsZero() && caller == e.Renter {
		return roleNone, types.NewLeaseExpired(e.LeaseExpiry)
	}
	if operator, ok := e.OperatorAt(now); ok && caller == operator {
		return roleOperator, nil
	}
	if !e.Operator.IsZero() && caller == e.Operator {
		return roleNone, types.NewDelegation(types.DelegationExpired)
	}
	return roleNone, types.NewAuthorization(caller)
}

// Execute runs the full authorization pipeline for one action:
// lifecycle gate, role resolution, policy validation, vault forward,
// policy commit, audit. Validation failures abort with no effects;
// commit failures are diagnostics only.
func (s *Service) Execute(ctx context.Context, entityID types.EntityID, caller calldata.Address, action types.Action) error {
	defer s.locks.lock(entityID).Unlock()
	e, err := s.load(ctx, entityID)
	if err != nil {
		return err
	}
	if err := s.requireActive(e); err != nil {
		return err
	}
	if err := action.Validate(); err != nil {
		return err
	}

	role, err := s.resolveRole(e, caller)
	if err != nil {
		return err
	}
	if role != roleOwnerPlain {
		if err := s.engine.Validate(ctx, entityID, caller, action, e.VaultAddress); err != nil {
			return err
		}
	}

	if err := s.vault.Execute(ctx, entityID, e.VaultAddress, action); err != nil {
		return err
	}

	if role != roleOwnerPlain {
		for _, f := range s.engine.Commit(ctx, entityID, action, e.VaultAddress) {
			s.emit(ctx, "policy_commit_failure", entityID, map[string]string{
				"plugin": f.Plugin,
				"error":  f.Err.Error(),
			})
		}
	}

	e.LastActionAt = s.now()
	if err := s.entities.Update(ctx, e); err != nil {
		return err
	}
	s.emit(ctx, "action_executed", entityID, map[string]string{
		"caller":      caller.Hex(),
		"destination": action.Destination.Hex(),
		"value":       valueString(action.Value),
	})
	return nil
}

// Withdraw moves vault funds to the owner. Owner only; renters and
// operators never withdraw.
func (s *Service) Withdraw(ctx context.Context, entityID types.EntityID, caller, destination calldata.Address, amount *big.Int) error {
	defer s.locks.lock(entityID).Unlock()
	e, err := s.load(ctx, entityID)
	if err != nil {
		return err
	}
	if err := s.requireActive(e); err != nil {
		return err
	}
	if caller != e.Owner {
		return types.NewAuthorization(caller)
	}
	if err := s.vault.Withdraw(ctx, entityID, e.VaultAddress, e.Owner, destination, amount); err != nil {
		return err
	}
	s.emit(ctx, "vault_withdrawal", entityID, map[string]string{
		"destination": destination.Hex(),
		"amount":      valueString(amount),
	})
	return nil
}

// Deposit credits the entity's vault. Anyone may fund a vault, even on
// a paused entity; only terminated entities refuse funds.
func (s *Service) Deposit(ctx context.Context, entityID types.EntityID, amount *big.Int) error {
	defer s.locks.lock(entityID).Unlock()
	e, err := s.load(ctx, entityID)
	if err != nil {
		return err
	}
	if e.Terminated {
		return types.NewEntityState(types.StateTerminated)
	}
	if err := s.vault.Deposit(entityID, amount); err != nil {
		return httperr.NewBadRequest(err.Error())
	}
	s.emit(ctx, "vault_deposit", entityID, map[string]string{"amount": valueString(amount)})
	return nil
}

// Balance reports the entity's current vault balance.
func (s *Service) Balance(ctx context.Context, entityID types.EntityID) (*big.Int, error) {
	if _, err := s.load(ctx, entityID); err != nil {
		return nil, err
	}
	return s.vault.Balance(entityID), nil
}

// Get returns the entity record.
func (s *Service) Get(ctx context.Context, entityID types.EntityID) (types.Entity, error) {
	return s.load(ctx, entityID)
}

func valueString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
