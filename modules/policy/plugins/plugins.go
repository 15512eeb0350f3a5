// Package plugins holds the canonical policy plugins. Each plugin is
// an independent rule evaluator with its own per-entity configuration;
// per-entity mutable state lives in the injected statestore under a
// namespace the plugin owns.
package plugins

import (
	"strings"
	"time"

	"github.com/agentlease/leaseguard/modules/policy/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
	"github.com/agentlease/leaseguard/pkg/statestore"
)

// Canonical returns one instance of every built-in plugin, stateful
// ones wired to the shared state store and clock.
func Canonical(store statestore.Store, now func() time.Time) []types.Plugin {
	return []types.Plugin{
		NewCounterparty(),
		NewDestination(),
		NewSpendLimit(store, now),
		NewCooldown(store, now),
		NewProceeds(),
		NewCELRule(),
		NewRegoRule(),
	}
}

// failClosed implements the default for an unconfigured plugin: a
// value-bearing or state-changing action is rejected, never silently
// allowed. Returns handled=false when the plugin has configuration.
func failClosed(req types.CheckRequest) (types.Decision, bool) {
	if req.Config != nil {
		return types.Decision{}, false
	}
	if (req.Value != nil && req.Value.Sign() > 0) || req.Instruction.Kind != calldata.KindNone {
		return types.Deny("no configuration for entity"), true
	}
	return types.Allow(), true
}

// actionFacts flattens a check request into the string map that the
// expression plugins (CEL, Rego) evaluate over.
func actionFacts(req types.CheckRequest) map[string]string {
	in := req.Instruction
	facts := map[string]string{
		"caller":      req.Caller.Hex(),
		"destination": req.Destination.Hex(),
		"vault":       req.VaultAddress.Hex(),
		"selector":    string(in.Selector),
		"kind":        string(in.Kind),
		"value":       "0",
	}
	if req.Value != nil {
		facts["value"] = req.Value.String()
	}
	if in.Amount != nil {
		facts["amount"] = in.Amount.String()
	}
	if in.AmountIn != nil {
		facts["amount_in"] = in.AmountIn.String()
	}
	if in.AmountInMax != nil {
		facts["amount_in_max"] = in.AmountInMax.String()
	}
	if !in.Spender.IsZero() {
		facts["spender"] = in.Spender.Hex()
	}
	if in.HasRecipient {
		facts["recipient"] = in.Recipient.Hex()
	}
	if len(in.Path) > 0 {
		hops := make([]string, len(in.Path))
		for i, a := range in.Path {
			hops[i] = a.Hex()
		}
		facts["path"] = strings.Join(hops, ",")
	}
	return facts
}

func parseAllowSet(raw []string) (map[calldata.Address]bool, error) {
	set := make(map[calldata.Address]bool, len(raw))
	for _, s := range raw {
		a, err := calldata.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		set[a] = true
	}
	return set, nil
}
