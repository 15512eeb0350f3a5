package plugins

import (
	"context"

	"github.com/agentlease/leaseguard/modules/policy/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
)

const TypeProceeds = "proceeds"

// Proceeds is the destination-of-funds guard: swap proceeds and
// transferred value must land in the entity's own vault, never with the
// caller or a third party. It takes no numeric configuration; its
// presence in the active list is the whole policy. Owner-only.
type Proceeds struct {
	types.NoHooks
}

func NewProceeds() *Proceeds { return &Proceeds{} }

func (*Proceeds) Type() string { return TypeProceeds }

func (*Proceeds) RenterConfigurable() bool { return false }

func (*Proceeds) Capabilities() types.Capability { return 0 }

func (p *Proceeds) Check(_ context.Context, req types.CheckRequest) (types.Decision, error) {
	in := req.Instruction
	switch {
	case in.IsSwap():
		if !in.HasRecipient || in.Recipient != req.VaultAddress {
			return types.Deny("swap proceeds must return to the vault"), nil
		}
	case in.Kind == calldata.KindTransfer:
		if in.Recipient != req.VaultAddress {
			return types.Deny("transfer recipient must be the vault"), nil
		}
	case in.Kind == calldata.KindNone:
		// A raw value transfer carries no instruction to inspect; the
		// only safe target is the vault itself.
		if req.Value != nil && req.Value.Sign() > 0 && req.Destination != req.VaultAddress {
			return types.Deny("raw value transfer must target the vault"), nil
		}
	default:
		// Approval-shaped and unrecognized instructions carry no
		// auditable recipient; any attached value must still land in
		// the vault.
		if req.Value != nil && req.Value.Sign() > 0 && req.Destination != req.VaultAddress {
			return types.Deny("value-bearing call must target the vault"), nil
		}
	}
	return types.Allow(), nil
}
