package ports

import (
	"context"

	"github.com/agentlease/leaseguard/modules/policy/domain/types"
	rentaltypes "github.com/agentlease/leaseguard/modules/rental/domain/types"
)

// PolicyStore persists the engine's binding state: owner ceilings,
// renter overrides, frozen templates, and instance→template bindings.
// Plugin runtime state is not here; it lives in the statestore.
type PolicyStore interface {
	GetCeiling(ctx context.Context, entityID rentaltypes.EntityID) ([]types.PluginConfig, bool, error)
	SetCeiling(ctx context.Context, entityID rentaltypes.EntityID, entries []types.PluginConfig) error

	GetOverride(ctx context.Context, entityID rentaltypes.EntityID) ([]types.PluginConfig, bool, error)
	SetOverride(ctx context.Context, entityID rentaltypes.EntityID, entries []types.PluginConfig) error
	ClearOverride(ctx context.Context, entityID rentaltypes.EntityID) error

	// PutTemplate stores a frozen template; a second put of the same id
	// is a conflict.
	PutTemplate(ctx context.Context, templateID string, entries []types.PluginConfig) error
	GetTemplate(ctx context.Context, templateID string) ([]types.PluginConfig, bool, error)

	// BindInstance records an instance→template binding; a second bind
	// of the same instance is a conflict.
	BindInstance(ctx context.Context, instanceID rentaltypes.EntityID, templateID string) error
	GetInstanceTemplate(ctx context.Context, instanceID rentaltypes.EntityID) (string, bool, error)
}
