package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/agentlease/leaseguard/modules/policy/domain/types"
)

const TypeCELRule = "celrule"

// CELRuleConfig holds a boolean CEL expression over the action facts
// map (`ctx`). The action is allowed only when the expression evaluates
// to true.
type CELRuleConfig struct {
	Expr string `json:"expr"`
}

// CELRule evaluates a renter-supplied CEL expression against decoded
// action facts. Compiled programs are cached per expression.
type CELRule struct {
	types.NoHooks

	envOnce sync.Once
	env     *cel.Env
	envErr  error
	cache   sync.Map // expr -> cel.Program
}

func NewCELRule() *CELRule { return &CELRule{} }

func (*CELRule) Type() string { return TypeCELRule }

func (*CELRule) RenterConfigurable() bool { return true }

func (*CELRule) Capabilities() types.Capability { return 0 }

func (p *CELRule) program(expr string) (cel.Program, error) {
	p.envOnce.Do(func() {
		p.env, p.envErr = cel.NewEnv(cel.Variable("ctx", cel.MapType(cel.StringType, cel.StringType)))
	})
	if p.envErr != nil {
		return nil, p.envErr
	}
	if cached, ok := p.cache.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	ast, issues := p.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := p.env.Program(ast)
	if err != nil {
		return nil, err
	}
	p.cache.Store(expr, prg)
	return prg, nil
}

func (p *CELRule) Check(_ context.Context, req types.CheckRequest) (types.Decision, error) {
	if d, handled := failClosed(req); handled {
		return d, nil
	}
	var cfg CELRuleConfig
	if err := json.Unmarshal(req.Config, &cfg); err != nil {
		return types.Decision{}, fmt.Errorf("celrule: bad config: %w", err)
	}
	if cfg.Expr == "" {
		return types.Deny("empty rule expression"), nil
	}
	prg, err := p.program(cfg.Expr)
	if err != nil {
		return types.Deny("rule expression does not compile: " + err.Error()), nil
	}
	out, _, err := prg.Eval(map[string]any{"ctx": actionFacts(req)})
	if err != nil {
		return types.Deny("rule expression failed: " + err.Error()), nil
	}
	if allowed, ok := out.Value().(bool); ok && allowed {
		return types.Allow(), nil
	}
	return types.Deny("rule expression rejected the action"), nil
}
