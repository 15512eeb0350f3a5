package plugins

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentlease/leaseguard/modules/policy/domain/types"
	rentaltypes "github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
)

const TypeCounterparty = "counterparty"

// CounterpartyConfig lists the approved counter-party addresses: token
// path hops, spenders of allowance-style instructions, transfer
// recipients.
type CounterpartyConfig struct {
	Allowed []string `json:"allowed"`
}

// Counterparty rejects any action whose implied counter-parties are not
// all pre-approved. Allowance decreases pass with no amount inspection
// but the spender must still be approved.
type Counterparty struct {
	types.NoHooks
}

func NewCounterparty() *Counterparty { return &Counterparty{} }

func (*Counterparty) Type() string { return TypeCounterparty }

func (*Counterparty) RenterConfigurable() bool { return true }

func (*Counterparty) Capabilities() types.Capability { return types.CapBounds }

// CheckBounds rejects an override allow set that is not a subset of the
// ceiling's. An absent override config passes here; it fail-closes at
// check time instead.
func (p *Counterparty) CheckBounds(ceiling, override json.RawMessage) error {
	if len(override) == 0 {
		return nil
	}
	ceil, err := counterpartyAllowSet(ceiling)
	if err != nil {
		return rentaltypes.NewConfigurationf("counterparty: bad ceiling config: %v", err)
	}
	over, err := counterpartyAllowSet(override)
	if err != nil {
		return rentaltypes.NewConfigurationf("counterparty: bad override config: %v", err)
	}
	for a := range over {
		if !ceil[a] {
			return rentaltypes.NewConfigurationf("counterparty: override adds %s beyond the ceiling", a.Hex())
		}
	}
	return nil
}

func counterpartyAllowSet(raw json.RawMessage) (map[calldata.Address]bool, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var cfg CounterpartyConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return parseAllowSet(cfg.Allowed)
}

func (p *Counterparty) Check(_ context.Context, req types.CheckRequest) (types.Decision, error) {
	if d, handled := failClosed(req); handled {
		return d, nil
	}
	var cfg CounterpartyConfig
	if err := json.Unmarshal(req.Config, &cfg); err != nil {
		return types.Decision{}, fmt.Errorf("counterparty: bad config: %w", err)
	}
	allowed, err := parseAllowSet(cfg.Allowed)
	if err != nil {
		return types.Decision{}, fmt.Errorf("counterparty: bad config: %w", err)
	}
	for _, cp := range req.Instruction.CounterParties() {
		if !allowed[cp] {
			return types.Deny("counter-party " + cp.Hex() + " not approved"), nil
		}
	}
	return types.Allow(), nil
}
