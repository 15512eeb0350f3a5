package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/agentlease/leaseguard/modules/policy/domain/types"
)

const TypeRegoRule = "regorule"

const regoQuery = "data.leaseguard.allow"

// RegoRuleConfig holds a Rego module defining `allow` under
// `package leaseguard`. Owner-only: the module text is part of the
// ceiling and a renter can never replace it.
type RegoRuleConfig struct {
	Module string `json:"module"`
}

// RegoRule evaluates an owner-supplied Rego policy against action
// facts. Prepared queries are cached per module text.
type RegoRule struct {
	types.NoHooks

	cache sync.Map // module text -> rego.PreparedEvalQuery
}

func NewRegoRule() *RegoRule { return &RegoRule{} }

func (*RegoRule) Type() string { return TypeRegoRule }

func (*RegoRule) RenterConfigurable() bool { return false }

func (*RegoRule) Capabilities() types.Capability { return 0 }

func (p *RegoRule) prepared(ctx context.Context, module string) (rego.PreparedEvalQuery, error) {
	if cached, ok := p.cache.Load(module); ok {
		return cached.(rego.PreparedEvalQuery), nil
	}
	pq, err := rego.New(
		rego.Query(regoQuery),
		rego.Module("policy.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, err
	}
	p.cache.Store(module, pq)
	return pq, nil
}

func (p *RegoRule) Check(ctx context.Context, req types.CheckRequest) (types.Decision, error) {
	if d, handled := failClosed(req); handled {
		return d, nil
	}
	var cfg RegoRuleConfig
	if err := json.Unmarshal(req.Config, &cfg); err != nil {
		return types.Decision{}, fmt.Errorf("regorule: bad config: %w", err)
	}
	if cfg.Module == "" {
		return types.Deny("empty rego module"), nil
	}
	pq, err := p.prepared(ctx, cfg.Module)
	if err != nil {
		return types.Deny("rego module does not compile: " + err.Error()), nil
	}
	rs, err := pq.Eval(ctx, rego.EvalInput(actionFacts(req)))
	if err != nil {
		return types.Deny("rego evaluation failed: " + err.Error()), nil
	}
	if rs.Allowed() {
		return types.Allow(), nil
	}
	return types.Deny("rego policy rejected the action"), nil
}
