// Package services implements the access router and entity lifecycle:
// role resolution per caller, policy validation, vault forwarding,
// operator delegation by direct grant or signed permit, and the audit
// event trail. All per-entity operations are serialized on a keyed
// mutex so validate-execute-commit is atomic per entity.
package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	policytypes "github.com/agentlease/leaseguard/modules/policy/domain/types"
	policysvc "github.com/agentlease/leaseguard/modules/policy/services"
	"github.com/agentlease/leaseguard/modules/rental/domain/ports"
	"github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
	"github.com/agentlease/leaseguard/pkg/httperr"
	"github.com/agentlease/leaseguard/pkg/ident"
	"github.com/agentlease/leaseguard/pkg/typeddata"
)

// PolicyEngine is the slice of the policy engine the router needs.
type PolicyEngine interface {
	Validate(ctx context.Context, entityID types.EntityID, caller calldata.Address, action types.Action, vaultAddr calldata.Address) error
	Commit(ctx context.Context, entityID types.EntityID, action types.Action, vaultAddr calldata.Address) []policysvc.CommitFailure
	BindInstance(ctx context.Context, instanceID types.EntityID, templateID string) error

	SetCeiling(ctx context.Context, entityID types.EntityID, entries []policytypes.PluginConfig) error
	AppendCeiling(ctx context.Context, entityID types.EntityID, entry policytypes.PluginConfig) error
	RemoveCeiling(ctx context.Context, entityID types.EntityID, pluginType string) error
	SetOverride(ctx context.Context, entityID types.EntityID, entries []policytypes.PluginConfig) error
	ClearOverride(ctx context.Context, entityID types.EntityID) error
}

// FundVault is the slice of the vault the router needs.
type FundVault interface {
	Execute(ctx context.Context, entityID types.EntityID, vaultAddr calldata.Address, action types.Action) error
	Withdraw(ctx context.Context, entityID types.EntityID, vaultAddr calldata.Address, owner, destination calldata.Address, amount *big.Int) error
	Deposit(entityID types.EntityID, amount *big.Int) error
	Balance(entityID types.EntityID) *big.Int
}

// EventSink receives audit events. Publish failures are logged by the
// sink, never surfaced to the caller.
type EventSink interface {
	Publish(ctx context.Context, eventType string, entityID types.EntityID, at time.Time, fields map[string]string)
}

// DeriveVaultAddress assigns a fresh entity its vault address.
type DeriveVaultAddress func(types.EntityID) calldata.Address

type Service struct {
	entities ports.EntityStore
	engine   PolicyEngine
	vault    FundVault
	sink     EventSink
	derive   DeriveVaultAddress
	domain   typeddata.Domain
	now      func() time.Time

	locks keyedMutex
}

func NewService(entities ports.EntityStore, engine PolicyEngine, vault FundVault, sink EventSink, derive DeriveVaultAddress, domain typeddata.Domain, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		entities: entities,
		engine:   engine,
		vault:    vault,
		sink:     sink,
		derive:   derive,
		domain:   domain,
		now:      now,
	}
}

// keyedMutex serializes operations per entity id. Locks are never
// reclaimed; the entity population is bounded by minting.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[types.EntityID]*sync.Mutex
}

func (k *keyedMutex) lock(id types.EntityID) *sync.Mutex {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[types.EntityID]*sync.Mutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m
}

func (s *Service) emit(ctx context.Context, eventType string, entityID types.EntityID, fields map[string]string) {
	if s.sink != nil {
		s.sink.Publish(ctx, eventType, entityID, s.now(), fields)
	}
}

// load fetches an entity or a not-found error.
func (s *Service) load(ctx context.Context, id types.EntityID) (types.Entity, error) {
	e, ok, err := s.entities.Get(ctx, id)
	if err != nil {
		return types.Entity{}, err
	}
	if !ok {
		return types.Entity{}, httperr.NewNotFound("entity not found")
	}
	return e, nil
}

// Mint creates a plain entity with a fresh vault.
func (s *Service) Mint(ctx context.Context, owner calldata.Address) (types.Entity, error) {
	if owner.IsZero() {
		return types.Entity{}, httperr.NewBadRequest("owner is required")
	}
	id, err := ident.NewString()
	if err != nil {
		return types.Entity{}, err
	}
	e := types.Entity{
		ID:           types.EntityID(id),
		Owner:        owner,
		VaultAddress: s.derive(types.EntityID(id)),
	}
	if err := s.entities.Create(ctx, e); err != nil {
		return types.Entity{}, err
	}
	s.emit(ctx, "entity_minted", e.ID, map[string]string{"owner": owner.Hex()})
	return e, nil
}

// MintInstance creates an entity bound to a frozen template in one
// step. The binding happens after the record exists; if binding fails
// the instance stays unbound and rejects everything.
func (s *Service) MintInstance(ctx context.Context, owner calldata.Address, templateID string, initParams []byte) (types.Entity, error) {
	if owner.IsZero() {
		return types.Entity{}, httperr.NewBadRequest("owner is required")
	}
	if templateID == "" {
		return types.Entity{}, httperr.NewBadRequest("template id is required")
	}
	id, err := ident.NewString()
	if err != nil {
		return types.Entity{}, err
	}
	vaultAddr := s.derive(types.EntityID(id))
	e := types.Entity{
		ID:             types.EntityID(id),
		Owner:          owner,
		VaultAddress:   vaultAddr,
		TemplateID:     templateID,
		InitParamsHash: types.HashInitParams(templateID, owner, vaultAddr, initParams),
	}
	if err := s.entities.Create(ctx, e); err != nil {
		return types.Entity{}, err
	}
	if err := s.engine.BindInstance(ctx, e.ID, templateID); err != nil {
		return types.Entity{}, fmt.Errorf("bind instance: %w", err)
	}
	s.emit(ctx, "instance_minted", e.ID, map[string]string{
		"owner":            owner.Hex(),
		"template_id":      templateID,
		"init_params_hash": e.InitParamsHash,
	})
	return e, nil
}

// AssignLease installs a renter until expiry. Owner only.
func (s *Service) AssignLease(ctx context.Context, entityID types.EntityID, caller, renter calldata.Address, expiry time.Time) error {
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
	if renter.IsZero() {
		return httperr.NewBadRequest("renter is required")
	}
	now := s.now()
	if !expiry.After(now) {
		return httperr.NewBadRequest("lease expiry must be in the future")
	}
	e.Renter = renter
	e.LeaseExpiry = expiry
	e.Operator = calldata.ZeroAddress
	e.OperatorExpiry = time.Time{}
	if err := s.entities.Update(ctx, e); err != nil {
		return err
	}
	s.emit(ctx, "lease_assigned", entityID, map[string]string{
		"renter": renter.Hex(),
		"expiry": expiry.UTC().Format(time.RFC3339),
	})
	return nil
}

// ExtendLease pushes the current lease's expiry forward. Owner only.
func (s *Service) ExtendLease(ctx context.Context, entityID types.EntityID, caller calldata.Address, expiry time.Time) error {
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
	if e.Renter.IsZero() {
		return httperr.NewBadRequest("entity has no lease")
	}
	if !expiry.After(e.LeaseExpiry) {
		return httperr.NewBadRequest("new expiry must extend the lease")
	}
	e.LeaseExpiry = expiry
	if err := s.entities.Update(ctx, e); err != nil {
		return err
	}
	s.emit(ctx, "lease_extended", entityID, map[string]string{
		"expiry": expiry.UTC().Format(time.RFC3339),
	})
	return nil
}

// Transfer hands the entity to a new owner and clears every
// delegation; a new owner never inherits a renter or operator.
func (s *Service) Transfer(ctx context.Context, entityID types.EntityID, caller, newOwner calldata.Address) error {
	defer s.locks.lock(entityID).Unlock()
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
	if newOwner.IsZero() {
		return httperr.NewBadRequest("new owner is required")
	}
	e.Owner = newOwner
	e.ClearDelegations()
	if err := s.entities.Update(ctx, e); err != nil {
		return err
	}
	s.emit(ctx, "owner_changed", entityID, map[string]string{"owner": newOwner.Hex()})
	return nil
}

// Pause blocks all execution, the owner's included.
func (s *Service) Pause(ctx context.Context, entityID types.EntityID, caller calldata.Address) error {
	return s.setPaused(ctx, entityID, caller, true)
}

func (s *Service) Unpause(ctx context.Context, entityID types.EntityID, caller calldata.Address) error {
	return s.setPaused(ctx, entityID, caller, false)
}

func (s *Service) setPaused(ctx context.Context, entityID types.EntityID, caller calldata.Address, paused bool) error {
	defer s.locks.lock(entityID).Unlock()
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
	e.Paused = paused
	if err := s.entities.Update(ctx, e); err != nil {
		return err
	}
	event := "entity_paused"
	if !paused {
		event = "entity_unpaused"
	}
	s.emit(ctx, event, entityID, nil)
	return nil
}

// Terminate retires the entity permanently. There is no un-terminate.
func (s *Service) Terminate(ctx context.Context, entityID types.EntityID, caller calldata.Address) error {
	defer s.locks.lock(entityID).Unlock()
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
	e.Terminated = true
	e.ClearDelegations()
	if err := s.entities.Update(ctx, e); err != nil {
		return err
	}
	s.emit(ctx, "entity_terminated", entityID, nil)
	return nil
}

func (s *Service) requireActive(e types.Entity) error {
	if e.Terminated {
		return types.NewEntityState(types.StateTerminated)
	}
	if e.Paused {
		return types.NewEntityState(types.StatePaused)
	}
	return nil
}
