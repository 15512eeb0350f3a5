package plugins

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentlease/leaseguard/modules/policy/domain/types"
)

const TypeDestination = "destination"

// DestinationConfig lists the approved external protocol addresses an
// action may call.
type DestinationConfig struct {
	Allowed []string `json:"allowed"`
}

// Destination rejects calls to any target outside the approved set. The
// entity's own vault is always an acceptable target. Owner-only: a
// renter must never be able to widen or drop the reachable surface.
type Destination struct {
	types.NoHooks
}

func NewDestination() *Destination { return &Destination{} }

func (*Destination) Type() string { return TypeDestination }

func (*Destination) RenterConfigurable() bool { return false }

func (*Destination) Capabilities() types.Capability { return 0 }

func (p *Destination) Check(_ context.Context, req types.CheckRequest) (types.Decision, error) {
	if d, handled := failClosed(req); handled {
		return d, nil
	}
	if req.Destination == req.VaultAddress {
		return types.Allow(), nil
	}
	var cfg DestinationConfig
	if err := json.Unmarshal(req.Config, &cfg); err != nil {
		return types.Decision{}, fmt.Errorf("destination: bad config: %w", err)
	}
	allowed, err := parseAllowSet(cfg.Allowed)
	if err != nil {
		return types.Decision{}, fmt.Errorf("destination: bad config: %w", err)
	}
	if !allowed[req.Destination] {
		return types.Deny("destination " + req.Destination.Hex() + " not approved"), nil
	}
	return types.Allow(), nil
}
