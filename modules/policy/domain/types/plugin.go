package types

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/agentlease/leaseguard/pkg/calldata"
	rentaltypes "github.com/agentlease/leaseguard/modules/rental/domain/types"
)

// Capability declares a plugin's optional hooks at registration time.
// The engine only ever invokes a hook the plugin has declared; nothing
// is discovered by probing.
type Capability uint8

const (
	// CapCommit: the plugin mutates per-entity state after a successful
	// execution.
	CapCommit Capability = 1 << iota
	// CapBindHook: the plugin seeds per-instance state when an instance
	// is bound to its template.
	CapBindHook
	// CapBounds: the plugin can verify that a renter override stays
	// within the owner ceiling.
	CapBounds
)

func (c Capability) Has(x Capability) bool { return c&x != 0 }

// Decision is a plugin's check verdict. Reason is surfaced verbatim to
// the caller on rejection.
type Decision struct {
	Allowed bool
	Reason  string
}

func Allow() Decision { return Decision{Allowed: true} }

func Deny(reason string) Decision { return Decision{Reason: reason} }

// CheckRequest carries everything a plugin may inspect. Instruction is
// decoded once by the engine; plugins never re-decode the payload.
// Config is the plugin's effective per-entity configuration, nil when
// the entity has none (fail-closed handling is each plugin's duty).
type CheckRequest struct {
	EntityID     rentaltypes.EntityID
	Caller       calldata.Address
	Destination  calldata.Address
	Value        *big.Int
	Instruction  calldata.Instruction
	VaultAddress calldata.Address
	Config       json.RawMessage
}

// CommitRequest mirrors CheckRequest without the caller: by commit time
// the action has executed and only its financial shape matters.
type CommitRequest struct {
	EntityID     rentaltypes.EntityID
	Destination  calldata.Address
	Value        *big.Int
	Instruction  calldata.Instruction
	VaultAddress calldata.Address
	Config       json.RawMessage
}

// Plugin is an independent rule evaluator. Check must be a pure read;
// Commit is the only mutating hook and runs only after the forwarded
// call succeeded.
type Plugin interface {
	// Type uniquely identifies the plugin in registries and bindings.
	Type() string
	// RenterConfigurable reports whether a renter may carry or
	// reconfigure this plugin in an override list. Owner-only plugins
	// can never be removed by a renter.
	RenterConfigurable() bool
	Capabilities() Capability

	Check(ctx context.Context, req CheckRequest) (Decision, error)
	Commit(ctx context.Context, req CommitRequest) error
	OnBind(ctx context.Context, entityID rentaltypes.EntityID, cfg json.RawMessage) error
	// CheckBounds rejects an override that exceeds the ceiling config.
	CheckBounds(ceiling, override json.RawMessage) error
}

// NoHooks provides no-op implementations of the optional hooks for
// plugins that declare no extra capabilities.
type NoHooks struct{}

func (NoHooks) Commit(context.Context, CommitRequest) error { return nil }

func (NoHooks) OnBind(context.Context, rentaltypes.EntityID, json.RawMessage) error { return nil }

func (NoHooks) CheckBounds(json.RawMessage, json.RawMessage) error { return nil }

// PluginConfig is one entry of a policy list: a plugin type plus its
// per-entity configuration.
type PluginConfig struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}
