package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/agentlease/leaseguard/modules/policy/domain/types"
	rentaltypes "github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
	"github.com/agentlease/leaseguard/pkg/statestore"
)

const TypeSpendLimit = "spendlimit"

const spendWindow = 24 * time.Hour

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// SpendLimitConfig carries decimal-string caps. An empty field means no
// bound of that kind.
type SpendLimitConfig struct {
	// PerCall caps any single spend.
	PerCall string `json:"per_call,omitempty"`
	// PerDay caps accumulated spend over a rolling 24h window.
	PerDay string `json:"per_day,omitempty"`
	// ApprovePerCall is the separate ceiling for approval instructions.
	ApprovePerCall string `json:"approve_per_call,omitempty"`
}

type spendState struct {
	WindowStart int64  `json:"window_start"`
	Spent       string `json:"spent"`
}

// SpendLimit enforces per-call and rolling per-day spend caps. The
// charged amount is the true worst case: exact-output swaps are charged
// at their maximum-input bound, native-input swaps at the call value.
// Approvals use their own ceiling; unlimited approvals, allowance
// increases and delegated-signature approvals are rejected outright.
type SpendLimit struct {
	store statestore.Store
	now   func() time.Time
}

func NewSpendLimit(store statestore.Store, now func() time.Time) *SpendLimit {
	if now == nil {
		now = time.Now
	}
	return &SpendLimit{store: store, now: now}
}

func (*SpendLimit) Type() string { return TypeSpendLimit }

func (*SpendLimit) RenterConfigurable() bool { return true }

func (*SpendLimit) Capabilities() types.Capability {
	return types.CapCommit | types.CapBindHook | types.CapBounds
}

func (p *SpendLimit) stateKey(entityID rentaltypes.EntityID) string {
	return "spendlimit:" + string(entityID)
}

func (p *SpendLimit) Check(ctx context.Context, req types.CheckRequest) (types.Decision, error) {
	if d, handled := failClosed(req); handled {
		return d, nil
	}
	cfg, err := parseSpendConfig(req.Config)
	if err != nil {
		return types.Decision{}, err
	}

	in := req.Instruction
	switch in.Kind {
	case calldata.KindIncreaseAllowance:
		// No intrinsic ceiling of its own; always a bypass vector.
		return types.Deny("allowance increase is not permitted"), nil
	case calldata.KindPermit:
		// Escapes the instruction-level audit path entirely.
		return types.Deny("delegated-signature approval is not permitted"), nil
	case calldata.KindDecreaseAllowance:
		// Shrinking an allowance needs no amount check.
		return types.Allow(), nil
	case calldata.KindApprove:
		if in.Amount.Cmp(maxUint256) == 0 {
			return types.Deny("unlimited approval is not permitted"), nil
		}
		if cfg.approvePerCall != nil && in.Amount.Cmp(cfg.approvePerCall) > 0 {
			return types.Deny("exceeds approval limit"), nil
		}
		return types.Allow(), nil
	}

	charge := chargedAmount(in, req.Value)
	if charge.Sign() == 0 {
		return types.Allow(), nil
	}
	if cfg.perCall != nil && charge.Cmp(cfg.perCall) > 0 {
		return types.Deny("exceeds per-call limit"), nil
	}
	if cfg.perDay != nil {
		spent, _, err := p.loadWindow(ctx, req.EntityID)
		if err != nil {
			return types.Decision{}, err
		}
		if new(big.Int).Add(spent, charge).Cmp(cfg.perDay) > 0 {
			return types.Deny("daily limit reached"), nil
		}
	}
	return types.Allow(), nil
}

func (p *SpendLimit) Commit(ctx context.Context, req types.CommitRequest) error {
	if req.Config == nil {
		return nil
	}
	cfg, err := parseSpendConfig(req.Config)
	if err != nil {
		return err
	}
	if cfg.perDay == nil {
		return nil
	}
	switch req.Instruction.Kind {
	case calldata.KindApprove, calldata.KindDecreaseAllowance,
		calldata.KindIncreaseAllowance, calldata.KindPermit:
		return nil
	}
	charge := chargedAmount(req.Instruction, req.Value)
	if charge.Sign() == 0 {
		return nil
	}
	spent, start, err := p.loadWindow(ctx, req.EntityID)
	if err != nil {
		return err
	}
	if start == 0 {
		start = p.now().Unix()
	}
	state := spendState{
		WindowStart: start,
		Spent:       new(big.Int).Add(spent, charge).String(),
	}
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, p.stateKey(req.EntityID), b)
}

func (p *SpendLimit) OnBind(ctx context.Context, entityID rentaltypes.EntityID, _ json.RawMessage) error {
	// A fresh binding starts a fresh window.
	return p.store.Delete(ctx, p.stateKey(entityID))
}

func (p *SpendLimit) CheckBounds(ceiling, override json.RawMessage) error {
	ceil, err := parseSpendConfig(ceiling)
	if err != nil {
		return err
	}
	over, err := parseSpendConfig(override)
	if err != nil {
		return err
	}
	if err := boundBelow("per_call", over.perCall, ceil.perCall); err != nil {
		return err
	}
	if err := boundBelow("per_day", over.perDay, ceil.perDay); err != nil {
		return err
	}
	return boundBelow("approve_per_call", over.approvePerCall, ceil.approvePerCall)
}

// loadWindow returns the accumulated spend of the current 24h window
// and the window start, treating an elapsed window as empty.
func (p *SpendLimit) loadWindow(ctx context.Context, entityID rentaltypes.EntityID) (*big.Int, int64, error) {
	b, ok, err := p.store.Get(ctx, p.stateKey(entityID))
	if err != nil || !ok {
		return big.NewInt(0), 0, err
	}
	var state spendState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, 0, fmt.Errorf("spendlimit: corrupt state: %w", err)
	}
	if p.now().Sub(time.Unix(state.WindowStart, 0)) >= spendWindow {
		return big.NewInt(0), 0, nil
	}
	spent, ok2 := new(big.Int).SetString(state.Spent, 10)
	if !ok2 {
		return nil, 0, fmt.Errorf("spendlimit: corrupt spent amount %q", state.Spent)
	}
	return spent, state.WindowStart, nil
}

func chargedAmount(in calldata.Instruction, value *big.Int) *big.Int {
	switch in.Kind {
	case calldata.KindSwapExactIn:
		if in.NativeInput {
			return valueOrZero(value)
		}
		return in.AmountIn
	case calldata.KindSwapExactOut:
		if in.NativeInput {
			return valueOrZero(value)
		}
		return in.AmountInMax
	case calldata.KindTransfer:
		return in.Amount
	default:
		return valueOrZero(value)
	}
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

type parsedSpendConfig struct {
	perCall        *big.Int
	perDay         *big.Int
	approvePerCall *big.Int
}

func parseSpendConfig(raw json.RawMessage) (parsedSpendConfig, error) {
	var cfg SpendLimitConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return parsedSpendConfig{}, fmt.Errorf("spendlimit: bad config: %w", err)
	}
	out := parsedSpendConfig{}
	var err error
	if out.perCall, err = parseCap("per_call", cfg.PerCall); err != nil {
		return parsedSpendConfig{}, err
	}
	if out.perDay, err = parseCap("per_day", cfg.PerDay); err != nil {
		return parsedSpendConfig{}, err
	}
	if out.approvePerCall, err = parseCap("approve_per_call", cfg.ApprovePerCall); err != nil {
		return parsedSpendConfig{}, err
	}
	return out, nil
}

func parseCap(name, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("spendlimit: bad %s cap %q", name, s)
	}
	return v, nil
}

func boundBelow(name string, override, ceiling *big.Int) error {
	if ceiling == nil {
		return nil
	}
	if override == nil {
		return rentaltypes.NewConfigurationf("spendlimit: override drops the %s ceiling", name)
	}
	if override.Cmp(ceiling) > 0 {
		return rentaltypes.NewConfigurationf("spendlimit: override %s %s exceeds ceiling %s", name, override, ceiling)
	}
	return nil
}
