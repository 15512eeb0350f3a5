// Package services holds the policy engine: the component that owns
// the plugin registry and the two policy sets of every rentable entity
// (owner ceiling, renter override), and orchestrates check/commit
// across the active set.
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentlease/leaseguard/modules/policy/domain/ports"
	"github.com/agentlease/leaseguard/modules/policy/domain/types"
	rentaltypes "github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
)

// MaxPlugins caps the length of any policy list.
const MaxPlugins = 16

// ReasonNotBound is surfaced when an entity has no policy binding at
// all. Fail-closed: no binding never means no rules.
const ReasonNotBound = "not bound"

// CommitFailure is a non-fatal commit-phase diagnostic: the named
// plugin's commit hook failed after the action already executed.
type CommitFailure struct {
	Plugin string
	Err    error
}

// Engine owns the plugin approval registry and every entity's policy
// sets. Validate is a pure read; Commit is the only mutating step and
// is reachable only from the access router.
type Engine struct {
	store ports.PolicyStore

	mu       sync.RWMutex
	plugins  map[string]types.Plugin
	approved map[string]bool
}

func NewEngine(store ports.PolicyStore) *Engine {
	return &Engine{
		store:    store,
		plugins:  make(map[string]types.Plugin),
		approved: make(map[string]bool),
	}
}

// Register adds a plugin implementation to the registry. Registration
// does not approve it for use.
func (e *Engine) Register(p types.Plugin) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p.Type() == "" {
		return rentaltypes.NewConfiguration("plugin has empty type")
	}
	if _, exists := e.plugins[p.Type()]; exists {
		return rentaltypes.NewConfigurationf("plugin %q already registered", p.Type())
	}
	e.plugins[p.Type()] = p
	return nil
}

// Approve marks a registered plugin usable in policy lists.
func (e *Engine) Approve(pluginType string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.plugins[pluginType]; !ok {
		return rentaltypes.NewConfigurationf("plugin %q not registered", pluginType)
	}
	e.approved[pluginType] = true
	return nil
}

// Revoke removes a plugin from the approved set. Existing bindings that
// reference it keep rejecting until reconfigured.
func (e *Engine) Revoke(pluginType string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.approved[pluginType] {
		return rentaltypes.NewConfigurationf("plugin %q not approved", pluginType)
	}
	delete(e.approved, pluginType)
	return nil
}

// ApprovedPlugins lists the currently approved plugin types.
func (e *Engine) ApprovedPlugins() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.approved))
	for t := range e.approved {
		out = append(out, t)
	}
	return out
}

func (e *Engine) plugin(pluginType string) (types.Plugin, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.plugins[pluginType]
	return p, ok
}

func (e *Engine) approvedPlugin(pluginType string) (types.Plugin, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.plugins[pluginType]
	if !ok || !e.approved[pluginType] {
		return nil, rentaltypes.NewConfigurationf("plugin %q not approved", pluginType)
	}
	return p, nil
}

// SetCeiling replaces an entity's owner ceiling list.
func (e *Engine) SetCeiling(ctx context.Context, entityID rentaltypes.EntityID, entries []types.PluginConfig) error {
	if err := e.validateList(entries); err != nil {
		return err
	}
	return e.store.SetCeiling(ctx, entityID, entries)
}

// AppendCeiling appends one entry; duplicates and overflow are
// rejected.
func (e *Engine) AppendCeiling(ctx context.Context, entityID rentaltypes.EntityID, entry types.PluginConfig) error {
	if _, err := e.approvedPlugin(entry.Type); err != nil {
		return err
	}
	current, _, err := e.store.GetCeiling(ctx, entityID)
	if err != nil {
		return err
	}
	if len(current) >= MaxPlugins {
		return rentaltypes.NewConfigurationf("policy list cap of %d reached", MaxPlugins)
	}
	for _, c := range current {
		if c.Type == entry.Type {
			return rentaltypes.NewConfigurationf("plugin %q already in list", entry.Type)
		}
	}
	return e.store.SetCeiling(ctx, entityID, append(current, entry))
}

// RemoveCeiling removes one entry by swap-and-truncate; order of the
// remaining entries is not preserved past the removed slot.
func (e *Engine) RemoveCeiling(ctx context.Context, entityID rentaltypes.EntityID, pluginType string) error {
	current, ok, err := e.store.GetCeiling(ctx, entityID)
	if err != nil {
		return err
	}
	if !ok {
		return rentaltypes.NewConfigurationf("entity has no ceiling")
	}
	for i, c := range current {
		if c.Type == pluginType {
			current[i] = current[len(current)-1]
			return e.store.SetCeiling(ctx, entityID, current[:len(current)-1])
		}
	}
	return rentaltypes.NewConfigurationf("plugin %q not in list", pluginType)
}

// SetOverride installs a renter's narrower list. The override must stay
// inside the ceiling: only ceiling plugin types, every owner-only
// ceiling plugin retained, and every CapBounds plugin's bounds check
// passed.
func (e *Engine) SetOverride(ctx context.Context, entityID rentaltypes.EntityID, entries []types.PluginConfig) error {
	ceiling, err := e.ceilingFor(ctx, entityID)
	if err != nil {
		return err
	}
	if ceiling == nil {
		return rentaltypes.NewConfiguration("entity has no policy binding")
	}
	if err := e.validateList(entries); err != nil {
		return err
	}

	ceilingByType := make(map[string]types.PluginConfig, len(ceiling))
	for _, c := range ceiling {
		ceilingByType[c.Type] = c
	}
	normalized := make([]types.PluginConfig, len(entries))
	copy(normalized, entries)
	overrideTypes := make(map[string]bool, len(normalized))
	for i, o := range normalized {
		c, inCeiling := ceilingByType[o.Type]
		if !inCeiling {
			return rentaltypes.NewConfigurationf("plugin %q not in ceiling", o.Type)
		}
		overrideTypes[o.Type] = true
		p, ok := e.plugin(o.Type)
		if !ok {
			return rentaltypes.NewConfigurationf("plugin %q not registered", o.Type)
		}
		if !p.RenterConfigurable() {
			// An owner-only entry may be carried but never
			// reconfigured: the stored config is always the ceiling's.
			normalized[i].Config = c.Config
			continue
		}
		if p.Capabilities().Has(types.CapBounds) {
			if err := p.CheckBounds(c.Config, o.Config); err != nil {
				return err
			}
		}
	}
	for _, c := range ceiling {
		p, ok := e.plugin(c.Type)
		if !ok {
			return rentaltypes.NewConfigurationf("plugin %q not registered", c.Type)
		}
		if !p.RenterConfigurable() && !overrideTypes[c.Type] {
			return rentaltypes.NewConfigurationf("owner-only plugin %q cannot be dropped", c.Type)
		}
	}
	return e.store.SetOverride(ctx, entityID, normalized)
}

func (e *Engine) ClearOverride(ctx context.Context, entityID rentaltypes.EntityID) error {
	return e.store.ClearOverride(ctx, entityID)
}

// RegisterTemplate freezes an entity's ceiling into an immutable
// template.
func (e *Engine) RegisterTemplate(ctx context.Context, templateID string, fromEntity rentaltypes.EntityID) error {
	if templateID == "" {
		return rentaltypes.NewConfiguration("empty template id")
	}
	ceiling, ok, err := e.store.GetCeiling(ctx, fromEntity)
	if err != nil {
		return err
	}
	if !ok || len(ceiling) == 0 {
		return rentaltypes.NewConfiguration("entity has no ceiling to freeze")
	}
	return e.store.PutTemplate(ctx, templateID, ceiling)
}

// BindInstance binds a freshly minted instance to its template, exactly
// once, and seeds every CapBindHook plugin's per-instance state in the
// same step. Callable only by the component that mints instances.
func (e *Engine) BindInstance(ctx context.Context, instanceID rentaltypes.EntityID, templateID string) error {
	if templateID == "" {
		return rentaltypes.NewConfiguration("empty template reference")
	}
	entries, ok, err := e.store.GetTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	if !ok {
		return rentaltypes.NewConfigurationf("template %q not registered", templateID)
	}
	if len(entries) == 0 {
		return rentaltypes.NewConfigurationf("template %q has zero plugins", templateID)
	}
	if _, bound, err := e.store.GetInstanceTemplate(ctx, instanceID); err != nil {
		return err
	} else if bound {
		return rentaltypes.NewConfiguration("instance already bound")
	}
	// Seed state before recording the binding so no instance is ever
	// observable bound-but-uninitialized.
	for _, entry := range entries {
		p, ok := e.plugin(entry.Type)
		if !ok {
			return rentaltypes.NewConfigurationf("plugin %q not registered", entry.Type)
		}
		if !p.Capabilities().Has(types.CapBindHook) {
			continue
		}
		if err := p.OnBind(ctx, instanceID, entry.Config); err != nil {
			return fmt.Errorf("bind %s: init %s: %w", instanceID, entry.Type, err)
		}
	}
	return e.store.BindInstance(ctx, instanceID, templateID)
}

// ceilingFor resolves the entity's ceiling: the template snapshot for
// instances, the owner list otherwise. nil means not bound.
func (e *Engine) ceilingFor(ctx context.Context, entityID rentaltypes.EntityID) ([]types.PluginConfig, error) {
	if templateID, bound, err := e.store.GetInstanceTemplate(ctx, entityID); err != nil {
		return nil, err
	} else if bound {
		entries, ok, err := e.store.GetTemplate(ctx, templateID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, rentaltypes.NewConfigurationf("template %q not registered", templateID)
		}
		return entries, nil
	}
	entries, ok, err := e.store.GetCeiling(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !ok || len(entries) == 0 {
		return nil, nil
	}
	return entries, nil
}

// activeSet resolves the plugin list Validate and Commit run: the
// renter override when one is installed, else the ceiling.
func (e *Engine) activeSet(ctx context.Context, entityID rentaltypes.EntityID) ([]types.PluginConfig, error) {
	ceiling, err := e.ceilingFor(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if ceiling == nil {
		return nil, nil
	}
	override, ok, err := e.store.GetOverride(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if ok && len(override) > 0 {
		return override, nil
	}
	return ceiling, nil
}

// Validate evaluates the active plugin set against an action. It is a
// pure function of stored state: no counters move here. The first
// rejection short-circuits and its reason is surfaced verbatim.
func (e *Engine) Validate(ctx context.Context, entityID rentaltypes.EntityID, caller calldata.Address, action rentaltypes.Action, vaultAddr calldata.Address) error {
	entries, err := e.activeSet(ctx, entityID)
	if err != nil {
		return err
	}
	if entries == nil {
		return rentaltypes.NewPolicyViolation("", ReasonNotBound)
	}
	instr, err := calldata.Decode(action.Payload)
	if err != nil {
		return rentaltypes.NewPolicyViolation("", "undecodable instruction: "+err.Error())
	}
	for _, entry := range entries {
		p, ok := e.plugin(entry.Type)
		if !ok {
			return rentaltypes.NewConfigurationf("plugin %q not registered", entry.Type)
		}
		d, err := p.Check(ctx, types.CheckRequest{
			EntityID:     entityID,
			Caller:       caller,
			Destination:  action.Destination,
			Value:        action.Value,
			Instruction:  instr,
			VaultAddress: vaultAddr,
			Config:       entry.Config,
		})
		if err != nil {
			return rentaltypes.NewPolicyViolation(entry.Type, err.Error())
		}
		if !d.Allowed {
			return rentaltypes.NewPolicyViolation(entry.Type, d.Reason)
		}
	}
	return nil
}

// Commit runs every CapCommit plugin's commit hook after a successful
// execution. Each hook runs in its own fault boundary: one plugin's
// failure never blocks another's commit, and failures come back as
// diagnostics rather than errors.
func (e *Engine) Commit(ctx context.Context, entityID rentaltypes.EntityID, action rentaltypes.Action, vaultAddr calldata.Address) []CommitFailure {
	entries, err := e.activeSet(ctx, entityID)
	if err != nil {
		return []CommitFailure{{Err: fmt.Errorf("resolve active set: %w", err)}}
	}
	if entries == nil {
		return []CommitFailure{{Err: fmt.Errorf("no policy binding at commit time")}}
	}
	instr, err := calldata.Decode(action.Payload)
	if err != nil {
		return []CommitFailure{{Err: fmt.Errorf("decode: %w", err)}}
	}
	var failures []CommitFailure
	for _, entry := range entries {
		p, ok := e.plugin(entry.Type)
		if !ok {
			failures = append(failures, CommitFailure{Plugin: entry.Type, Err: fmt.Errorf("not registered")})
			continue
		}
		if !p.Capabilities().Has(types.CapCommit) {
			continue
		}
		if err := e.commitOne(ctx, p, types.CommitRequest{
			EntityID:     entityID,
			Destination:  action.Destination,
			Value:        action.Value,
			Instruction:  instr,
			VaultAddress: vaultAddr,
			Config:       entry.Config,
		}); err != nil {
			failures = append(failures, CommitFailure{Plugin: entry.Type, Err: err})
		}
	}
	return failures
}

func (e *Engine) commitOne(ctx context.Context, p types.Plugin, req types.CommitRequest) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("commit panicked: %v", rec)
		}
	}()
	return p.Commit(ctx, req)
}

func (e *Engine) validateList(entries []types.PluginConfig) error {
	if len(entries) > MaxPlugins {
		return rentaltypes.NewConfigurationf("policy list cap of %d exceeded", MaxPlugins)
	}
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if _, err := e.approvedPlugin(entry.Type); err != nil {
			return err
		}
		if seen[entry.Type] {
			return rentaltypes.NewConfigurationf("plugin %q duplicated in list", entry.Type)
		}
		seen[entry.Type] = true
	}
	return nil
}
