package types

import (
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"

	"github.com/agentlease/leaseguard/pkg/calldata"
)

// EntityID identifies a rentable entity.
type EntityID string

// Entity is the rentable unit: it owns a vault and carries lease,
// operator and lifecycle state. Renter and operator are never swept;
// reads go through RenterAt/OperatorAt which treat a passed expiry as
// absence.
type Entity struct {
	ID           EntityID
	Owner        calldata.Address
	VaultAddress calldata.Address

	Renter      calldata.Address
	LeaseExpiry time.Time

	Operator       calldata.Address
	OperatorExpiry time.Time
	// OperatorNonce is the next permit nonce this entity will accept.
	OperatorNonce uint64

	Paused     bool
	Terminated bool

	// TemplateID is set for instances minted from a template; empty for
	// plain entities.
	TemplateID string
	// InitParamsHash is an audit hash over the instance's minting
	// parameters; empty for plain entities.
	InitParamsHash string

	LastActionAt time.Time
}

func (e *Entity) IsInstance() bool { return e.TemplateID != "" }

// RenterAt returns the current renter, treating a passed lease expiry
// as absence.
func (e *Entity) RenterAt(now time.Time) (calldata.Address, bool) {
	if e.Renter.IsZero() || !now.Before(e.LeaseExpiry) {
		return calldata.ZeroAddress, false
	}
	return e.Renter, true
}

// OperatorAt returns the current operator. The delegation is layered:
// it ends at its own expiry or at the lease expiry, whichever is first.
func (e *Entity) OperatorAt(now time.Time) (calldata.Address, bool) {
	if e.Operator.IsZero() || !now.Before(e.OperatorExpiry) {
		return calldata.ZeroAddress, false
	}
	if _, ok := e.RenterAt(now); !ok {
		return calldata.ZeroAddress, false
	}
	return e.Operator, true
}

// ClearDelegations drops renter and operator state. Called on ownership
// transfer so a new owner never inherits stale delegations.
func (e *Entity) ClearDelegations() {
	e.Renter = calldata.ZeroAddress
	e.LeaseExpiry = time.Time{}
	e.Operator = calldata.ZeroAddress
	e.OperatorExpiry = time.Time{}
}

// HashInitParams computes the audit hash recorded on an instance at
// mint time.
func HashInitParams(templateID string, owner, vault calldata.Address, extra []byte) string {
	h := blake3.New()
	h.Write([]byte(templateID))
	h.Write([]byte{0})
	h.Write(owner[:])
	h.Write(vault[:])
	h.Write(extra)
	return hex.EncodeToString(h.Sum(nil))
}
