package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentlease/leaseguard/modules/policy/domain/types"
	rentaltypes "github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/statestore"
)

const TypeCooldown = "cooldown"

// CooldownConfig sets the minimum interval between committed actions.
type CooldownConfig struct {
	MinIntervalSeconds int64 `json:"min_interval_seconds"`
}

type cooldownState struct {
	LastCommit int64 `json:"last_commit"`
}

// Cooldown rejects an action when too little time has passed since the
// entity's last committed action. The first action after binding has no
// prior commit and always passes.
type Cooldown struct {
	store statestore.Store
	now   func() time.Time
}

func NewCooldown(store statestore.Store, now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{store: store, now: now}
}

func (*Cooldown) Type() string { return TypeCooldown }

func (*Cooldown) RenterConfigurable() bool { return true }

func (*Cooldown) Capabilities() types.Capability {
	return types.CapCommit | types.CapBindHook | types.CapBounds
}

func (p *Cooldown) stateKey(entityID rentaltypes.EntityID) string {
	return "cooldown:" + string(entityID)
}

func (p *Cooldown) Check(ctx context.Context, req types.CheckRequest) (types.Decision, error) {
	if d, handled := failClosed(req); handled {
		return d, nil
	}
	cfg, err := parseCooldownConfig(req.Config)
	if err != nil {
		return types.Decision{}, err
	}
	if cfg.MinIntervalSeconds <= 0 {
		return types.Allow(), nil
	}
	b, ok, err := p.store.Get(ctx, p.stateKey(req.EntityID))
	if err != nil {
		return types.Decision{}, err
	}
	if !ok {
		return types.Allow(), nil
	}
	var state cooldownState
	if err := json.Unmarshal(b, &state); err != nil {
		return types.Decision{}, fmt.Errorf("cooldown: corrupt state: %w", err)
	}
	elapsed := p.now().Sub(time.Unix(state.LastCommit, 0))
	if elapsed < time.Duration(cfg.MinIntervalSeconds)*time.Second {
		return types.Deny("cooldown active"), nil
	}
	return types.Allow(), nil
}

func (p *Cooldown) Commit(ctx context.Context, req types.CommitRequest) error {
	b, err := json.Marshal(cooldownState{LastCommit: p.now().Unix()})
	if err != nil {
		return err
	}
	return p.store.Set(ctx, p.stateKey(req.EntityID), b)
}

func (p *Cooldown) OnBind(ctx context.Context, entityID rentaltypes.EntityID, _ json.RawMessage) error {
	return p.store.Delete(ctx, p.stateKey(entityID))
}

// CheckBounds: a renter may lengthen the cooldown, never shorten it
// below the ceiling.
func (p *Cooldown) CheckBounds(ceiling, override json.RawMessage) error {
	ceil, err := parseCooldownConfig(ceiling)
	if err != nil {
		return err
	}
	over, err := parseCooldownConfig(override)
	if err != nil {
		return err
	}
	if over.MinIntervalSeconds < ceil.MinIntervalSeconds {
		return rentaltypes.NewConfigurationf(
			"cooldown: override interval %ds below ceiling %ds",
			over.MinIntervalSeconds, ceil.MinIntervalSeconds)
	}
	return nil
}

func parseCooldownConfig(raw json.RawMessage) (CooldownConfig, error) {
	var cfg CooldownConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return CooldownConfig{}, fmt.Errorf("cooldown: bad config: %w", err)
	}
	if cfg.MinIntervalSeconds < 0 {
		return CooldownConfig{}, fmt.Errorf("cooldown: negative interval")
	}
	return cfg, nil
}
