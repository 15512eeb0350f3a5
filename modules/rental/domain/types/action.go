package types

import (
	"errors"
	"math/big"

	"github.com/agentlease/leaseguard/pkg/calldata"
)

// Action is the destination/value/payload triple submitted for
// execution against an entity's vault. Every field is explicit; a nil
// value is rejected rather than defaulted.
type Action struct {
	Destination calldata.Address
	Value       *big.Int
	Payload     []byte
}

func (a Action) Validate() error {
	if a.Destination.IsZero() {
		return errors.New("action: zero destination")
	}
	if a.Value == nil {
		return errors.New("action: nil value")
	}
	if a.Value.Sign() < 0 {
		return errors.New("action: negative value")
	}
	return nil
}

// HasValue reports whether the action moves native value.
func (a Action) HasValue() bool { return a.Value != nil && a.Value.Sign() > 0 }
