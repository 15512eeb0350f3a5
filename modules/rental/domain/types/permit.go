package types

import (
	"time"

	"github.com/agentlease/leaseguard/pkg/calldata"
)

// PermitMessageType names the signed structure inside the typed-data
// digest; changing it invalidates all outstanding permits.
const PermitMessageType = "OperatorPermit"

// OperatorPermit is the off-line-signed delegation: the renter
// authorizes an operator on an entity until Expiry (capped by the
// lease). Nonce must equal the entity's next nonce and is consumed on
// acceptance. SignatureDeadline bounds how long the signed blob may sit
// unsubmitted; it is independent of the delegation's own expiry.
type OperatorPermit struct {
	EntityID          EntityID
	Renter            calldata.Address
	Operator          calldata.Address
	Expiry            time.Time
	Nonce             uint64
	SignatureDeadline time.Time
}

// permitWire is the deterministic signing form: fixed integer keys,
// unix-second timestamps, raw address bytes.
type permitWire struct {
	EntityID          string   `cbor:"1,keyasint"`
	Renter            [20]byte `cbor:"2,keyasint"`
	Operator          [20]byte `cbor:"3,keyasint"`
	Expiry            int64    `cbor:"4,keyasint"`
	Nonce             uint64   `cbor:"5,keyasint"`
	SignatureDeadline int64    `cbor:"6,keyasint"`
}

// Wire returns the canonical signing form of the permit.
func (p OperatorPermit) Wire() any {
	return permitWire{
		EntityID:          string(p.EntityID),
		Renter:            p.Renter,
		Operator:          p.Operator,
		Expiry:            p.Expiry.Unix(),
		Nonce:             p.Nonce,
		SignatureDeadline: p.SignatureDeadline.Unix(),
	}
}
