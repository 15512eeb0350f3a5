// Package services implements the per-entity vault: an isolated native
// balance plus the single choke point through which entity actions
// reach the outside world. Only the access router calls into it.
package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"golang.org/x/crypto/sha3"

	rentaltypes "github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
)

// CallFunc is the injected external-call primitive. It either performs
// the full effect of the call or fails with no effect; the vault never
// observes partial execution.
type CallFunc func(ctx context.Context, from calldata.Address, dest calldata.Address, value *big.Int, payload []byte) error

// Vault keeps one isolated balance per entity. Balances only move on a
// successful forwarded call, an owner withdrawal, or a deposit.
type Vault struct {
	mu       sync.Mutex
	balances map[rentaltypes.EntityID]*big.Int
	call     CallFunc
}

func NewVault(call CallFunc) *Vault {
	return &Vault{
		balances: make(map[rentaltypes.EntityID]*big.Int),
		call:     call,
	}
}

// DeriveAddress produces an entity's vault address from its id.
func DeriveAddress(entityID rentaltypes.EntityID) calldata.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("leaseguard.vault:"))
	h.Write([]byte(entityID))
	var a calldata.Address
	copy(a[:], h.Sum(nil)[12:])
	return a
}

// Balance returns a copy of the entity's current balance.
func (v *Vault) Balance(entityID rentaltypes.EntityID) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if b, ok := v.balances[entityID]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Deposit credits the entity's balance.
func (v *Vault) Deposit(entityID rentaltypes.EntityID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	b, ok := v.balances[entityID]
	if !ok {
		b = new(big.Int)
		v.balances[entityID] = b
	}
	b.Add(b, amount)
	return nil
}

// Execute forwards an already-validated action. The balance is debited
// only after the call primitive succeeds; any primitive failure aborts
// the action with no balance movement.
func (v *Vault) Execute(ctx context.Context, entityID rentaltypes.EntityID, vaultAddr calldata.Address, action rentaltypes.Action) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, ok := v.balances[entityID]
	if !ok {
		b = new(big.Int)
		v.balances[entityID] = b
	}
	if action.HasValue() && b.Cmp(action.Value) < 0 {
		return fmt.Errorf("insufficient vault balance: have %s, need %s", b, action.Value)
	}
	if err := v.call(ctx, vaultAddr, action.Destination, action.Value, action.Payload); err != nil {
		return fmt.Errorf("forwarded call failed: %w", err)
	}
	if action.HasValue() {
		b.Sub(b, action.Value)
	}
	return nil
}

// Withdraw moves funds out of the vault to the entity owner's address
// and nowhere else.
func (v *Vault) Withdraw(ctx context.Context, entityID rentaltypes.EntityID, vaultAddr calldata.Address, owner calldata.Address, destination calldata.Address, amount *big.Int) error {
	if destination != owner {
		return rentaltypes.NewAuthorization(destination)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("withdrawal amount must be positive")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	b, ok := v.balances[entityID]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient vault balance for withdrawal")
	}
	if err := v.call(ctx, vaultAddr, destination, amount, nil); err != nil {
		return fmt.Errorf("withdrawal transfer failed: %w", err)
	}
	b.Sub(b, amount)
	return nil
}
